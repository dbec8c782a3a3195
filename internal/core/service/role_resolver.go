package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/globalvalve/valve-record/internal/api/metrics"
	"github.com/globalvalve/valve-record/internal/core/domain"
	"github.com/globalvalve/valve-record/internal/core/ports"
)

// RoleBackend is the slice of the backend used to resolve roles.
type RoleBackend interface {
	GetActiveUserRole(ctx context.Context, userID string) (*domain.RoleGrant, error)
	FindProfile(ctx context.Context, userID string) (*domain.Profile, error)
	InsertProfile(ctx context.Context, profile domain.Profile) error
}

var _ RoleBackend = (ports.Backend)(nil)

// RoleResolverConfig bounds the retry loop.
type RoleResolverConfig struct {
	Retries          int
	RetryBackoff     time.Duration
	AbortBackoff     time.Duration
	ProvisionBackoff time.Duration
	// AdminOverrides always resolve to admin without any remote call.
	AdminOverrides []string
}

func (c RoleResolverConfig) withDefaults() RoleResolverConfig {
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = time.Second
	}
	if c.AbortBackoff <= 0 {
		c.AbortBackoff = 500 * time.Millisecond
	}
	if c.ProvisionBackoff <= 0 {
		c.ProvisionBackoff = 500 * time.Millisecond
	}
	return c
}

// RoleResolver settles a user's role. Resolution order: configured override,
// the get_active_user_role procedure, then a direct profiles lookup with a
// single auto-provisioning attempt. Every failure path ends in a valid grant.
type RoleResolver struct {
	backend   RoleBackend
	cfg       RoleResolverConfig
	overrides map[string]struct{}
	log       zerolog.Logger
}

func NewRoleResolver(backend RoleBackend, cfg RoleResolverConfig, log zerolog.Logger) *RoleResolver {
	cfg = cfg.withDefaults()
	overrides := make(map[string]struct{}, len(cfg.AdminOverrides))
	for _, id := range cfg.AdminOverrides {
		if id != "" {
			overrides[id] = struct{}{}
		}
	}
	return &RoleResolver{backend: backend, cfg: cfg, overrides: overrides, log: log}
}

// Resolve returns the role grant for userID. It performs at most Retries+1
// lookups and sleeps only for the configured backoffs.
func (r *RoleResolver) Resolve(ctx context.Context, userID string) domain.RoleGrant {
	log := r.log.With().Str("user_id", userID).Logger()

	if _, ok := r.overrides[userID]; ok {
		log.Warn().Msg("role override applied, remote checks skipped")
		return r.settle(log, domain.RoleGrant{Role: domain.RoleAdmin, Source: domain.SourceOverride})
	}

	retries := r.cfg.Retries
	provisioned := false
	for attempt := 1; ; attempt++ {
		log.Debug().Int("attempt", attempt).Int("retries_left", retries).Msg("resolving role")

		grant, err := r.lookup(ctx, log, userID)
		if err == nil {
			if provisioned && grant.Source == domain.SourceProfile {
				grant.Source = domain.SourceProvisioned
			}
			return r.settle(log, grant)
		}

		if ctx.Err() != nil || errors.Is(err, domain.ErrPermanent) {
			log.Error().Err(err).Msg("role lookup failed permanently, falling back to client")
			return r.settle(log, domain.FallbackGrant())
		}

		var backoff time.Duration
		var reason string
		switch {
		case errors.Is(err, domain.ErrProfileNotFound) && !provisioned:
			provisioned = true
			r.provision(ctx, log, userID)
			backoff, reason = r.cfg.ProvisionBackoff, "not_found"
		case errors.Is(err, domain.ErrAborted) || errors.Is(err, context.DeadlineExceeded):
			backoff, reason = r.cfg.AbortBackoff, "aborted"
		default:
			backoff, reason = r.cfg.RetryBackoff, "error"
		}

		if retries == 0 {
			log.Error().Err(err).Int("attempts", attempt).Msg("role lookup retries exhausted, falling back to client")
			return r.settle(log, domain.FallbackGrant())
		}
		retries--

		metrics.RoleLookupRetriesTotal.WithLabelValues(reason).Inc()
		log.Warn().Err(err).Str("reason", reason).Dur("backoff", backoff).Int("retries_left", retries).Msg("role lookup failed, retrying")

		if err := sleep(ctx, backoff); err != nil {
			log.Error().Err(err).Msg("role resolution cancelled, falling back to client")
			return r.settle(log, domain.FallbackGrant())
		}
	}
}

// lookup tries the privileged procedure first and the profiles table second.
func (r *RoleResolver) lookup(ctx context.Context, log zerolog.Logger, userID string) (domain.RoleGrant, error) {
	grant, err := r.backend.GetActiveUserRole(ctx, userID)
	switch {
	case err != nil:
		log.Warn().Err(err).Msg("get_active_user_role failed, falling back to profiles lookup")
	case grant == nil:
		log.Debug().Msg("get_active_user_role returned no data, falling back to profiles lookup")
	default:
		log.Debug().Str("role", string(grant.Role)).Msg("role resolved via rpc")
		return domain.RoleGrant{
			Role:             domain.ParseRole(string(grant.Role)),
			AllowedCustomers: grant.AllowedCustomers,
			Source:           domain.SourceRPC,
		}, nil
	}

	profile, err := r.backend.FindProfile(ctx, userID)
	if err != nil {
		return domain.RoleGrant{}, err
	}
	log.Debug().Str("role", string(profile.Role)).Msg("role resolved via profiles lookup")
	return domain.RoleGrant{
		Role:             domain.ParseRole(string(profile.Role)),
		AllowedCustomers: profile.AllowedCustomers,
		Source:           domain.SourceProfile,
	}, nil
}

func (r *RoleResolver) provision(ctx context.Context, log zerolog.Logger, userID string) {
	err := r.backend.InsertProfile(ctx, domain.Profile{
		ID:        userID,
		Role:      domain.RoleClient,
		CreatedAt: time.Now().UTC(),
	})
	switch {
	case err == nil:
		log.Info().Msg("default client profile provisioned")
	case errors.Is(err, domain.ErrProfileExists):
		log.Info().Msg("profile appeared concurrently, skipping provisioning")
	default:
		log.Warn().Err(err).Msg("profile provisioning failed")
	}
}

func (r *RoleResolver) settle(log zerolog.Logger, grant domain.RoleGrant) domain.RoleGrant {
	metrics.RoleResolutionsTotal.WithLabelValues(string(grant.Source)).Inc()
	log.Info().
		Str("role", string(grant.Role)).
		Str("source", string(grant.Source)).
		Msg("role settled")
	return grant
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
