package ports

import (
	"context"
	"time"
)

// KeyValueStore holds client-side persisted state such as session tokens and
// the consent flag.
type KeyValueStore interface {
	// Get returns domain.ErrKeyNotFound for a missing key.
	Get(ctx context.Context, key string) (string, error)
	// Set stores value under key. A zero ttl keeps the key until deleted.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every key starting with prefix and reports the count.
	DeletePrefix(ctx context.Context, prefix string) (int64, error)
}

// Navigator moves the operator's shell to another entry point.
type Navigator interface {
	RedirectToLogin(reason string)
}
