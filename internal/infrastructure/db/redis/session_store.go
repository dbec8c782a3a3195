package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/globalvalve/valve-record/internal/core/domain"
)

const scanBatch = 100

// KeyStore persists client-side keys (session tokens, consent flag) under a
// namespace so prefix deletes never touch unrelated data in a shared Redis.
// Key format: <namespace><key>
type KeyStore struct {
	client    redis.UniversalClient
	namespace string
}

// NewKeyStore wraps client. An empty namespace stores keys verbatim.
func NewKeyStore(client redis.UniversalClient, namespace string) *KeyStore {
	return &KeyStore{client: client, namespace: namespace}
}

func (s *KeyStore) Get(ctx context.Context, key string) (string, error) {
	v, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", domain.ErrKeyNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, nil
}

func (s *KeyStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *KeyStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// DeletePrefix removes every key starting with prefix. The whole keyspace is
// scanned before anything is deleted; deleting mid-scan shifts the cursor and
// skips keys.
func (s *KeyStore) DeletePrefix(ctx context.Context, prefix string) (int64, error) {
	match := escapeGlob(s.key(prefix)) + "*"

	seen := make(map[string]struct{})
	var matched []string
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, match, scanBatch).Result()
		if err != nil {
			return 0, fmt.Errorf("redis scan %s: %w", prefix, err)
		}
		for _, k := range keys {
			if _, dup := seen[k]; !dup {
				seen[k] = struct{}{}
				matched = append(matched, k)
			}
		}
		if next == 0 {
			break
		}
		cursor = next
	}

	var removed int64
	for start := 0; start < len(matched); start += scanBatch {
		end := min(start+scanBatch, len(matched))
		n, err := s.client.Del(ctx, matched[start:end]...).Result()
		if err != nil {
			return removed, fmt.Errorf("redis del %s*: %w", prefix, err)
		}
		removed += n
	}
	return removed, nil
}

// Ping reports whether Redis is reachable.
func (s *KeyStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *KeyStore) key(k string) string {
	return s.namespace + k
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}
