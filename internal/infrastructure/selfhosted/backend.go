// Package selfhosted implements the backend contract on MongoDB, bcrypt and
// locally issued JWTs, for deployments without the hosted service.
package selfhosted

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"

	"github.com/globalvalve/valve-record/internal/core/domain"
	"github.com/globalvalve/valve-record/internal/core/ports"
	"github.com/globalvalve/valve-record/internal/infrastructure/notify"
)

const sessionKeySuffix = "selfhosted-auth-token"

// Config wires the self-hosted backend.
type Config struct {
	KeyPrefix string
	Retention time.Duration
	// Ping checks the underlying database.
	Ping func(ctx context.Context) error
}

// Backend is a ports.Backend backed by local repositories.
type Backend struct {
	auth     *Authenticator
	profiles ports.ProfileRepository
	audit    ports.AuditLogRepository
	store    ports.KeyValueStore
	bus      *notify.SessionBus
	cfg      Config
	now      func() time.Time
	log      zerolog.Logger
}

var _ ports.Backend = (*Backend)(nil)

func NewBackend(
	auth *Authenticator,
	profiles ports.ProfileRepository,
	audit ports.AuditLogRepository,
	store ports.KeyValueStore,
	bus *notify.SessionBus,
	cfg Config,
	log zerolog.Logger,
) *Backend {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "sb-"
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 90 * 24 * time.Hour
	}
	return &Backend{
		auth:     auth,
		profiles: profiles,
		audit:    audit,
		store:    store,
		bus:      bus,
		cfg:      cfg,
		now:      time.Now,
		log:      log,
	}
}

func (b *Backend) sessionKey() string {
	return b.cfg.KeyPrefix + sessionKeySuffix
}

// GetSession returns the persisted session if its token still verifies.
func (b *Backend) GetSession(ctx context.Context) (*domain.Session, error) {
	raw, err := b.store.Get(ctx, b.sessionKey())
	if errors.Is(err, domain.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read persisted session: %w", err)
	}

	var s domain.Session
	if err := sonic.UnmarshalString(raw, &s); err != nil {
		b.log.Warn().Err(err).Msg("discarding unreadable persisted session")
		_ = b.store.Delete(ctx, b.sessionKey())
		return nil, nil
	}
	if _, err := b.auth.Verify(s.AccessToken); err != nil || s.Expired(b.now()) {
		b.log.Info().Str("user_id", s.UserID).Msg("persisted session expired")
		_ = b.store.Delete(ctx, b.sessionKey())
		return nil, nil
	}
	return &s, nil
}

func (b *Backend) OnSessionChange(handler ports.SessionChangeHandler) func() {
	return b.bus.Subscribe(handler)
}

func (b *Backend) SignInWithPassword(ctx context.Context, email, password string) (*domain.Session, error) {
	session, err := b.auth.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if err := b.persist(ctx, session); err != nil {
		return nil, err
	}
	b.bus.Publish(domain.EventSignedIn, session)
	return session, nil
}

// SignUp registers the account and signs it in straight away; the local store
// has no e-mail confirmation step.
func (b *Backend) SignUp(ctx context.Context, email, password string) (*domain.Session, error) {
	if _, err := b.auth.Register(ctx, email, password); err != nil {
		return nil, err
	}
	return b.SignInWithPassword(ctx, email, password)
}

func (b *Backend) SignOut(ctx context.Context) error {
	err := b.store.Delete(ctx, b.sessionKey())
	b.bus.Publish(domain.EventSignedOut, nil)
	if err != nil {
		return fmt.Errorf("delete persisted session: %w", err)
	}
	return nil
}

func (b *Backend) persist(ctx context.Context, s *domain.Session) error {
	raw, err := sonic.MarshalString(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	ttl := time.Until(s.ExpiresAt)
	if ttl < 0 {
		ttl = 0
	}
	if err := b.store.Set(ctx, b.sessionKey(), raw, ttl); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}

// GetActiveUserRole reads the caller's profile. A missing profile is "no data".
func (b *Backend) GetActiveUserRole(ctx context.Context, userID string) (*domain.RoleGrant, error) {
	p, err := b.profiles.FindByID(ctx, userID)
	if errors.Is(err, domain.ErrProfileNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &domain.RoleGrant{Role: p.Role, AllowedCustomers: p.AllowedCustomers}, nil
}

func (b *Backend) FindProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	return b.profiles.FindByID(ctx, userID)
}

func (b *Backend) InsertProfile(ctx context.Context, profile domain.Profile) error {
	return b.profiles.Insert(ctx, &profile)
}

func (b *Backend) LogSecurityEvent(ctx context.Context, entry domain.AuditLogEntry) error {
	return b.audit.Insert(ctx, &entry)
}

func (b *Backend) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLogEntry, error) {
	return b.audit.ListRecent(ctx, limit)
}

// EnforceDataRetention purges audit entries older than the retention window.
func (b *Backend) EnforceDataRetention(ctx context.Context) (int64, error) {
	cutoff := b.now().Add(-b.cfg.Retention)
	n, err := b.audit.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	b.log.Info().Time("cutoff", cutoff).Int64("purged", n).Msg("audit retention applied")
	return n, nil
}

func (b *Backend) Ping(ctx context.Context) error {
	if b.cfg.Ping == nil {
		return nil
	}
	return b.cfg.Ping(ctx)
}
