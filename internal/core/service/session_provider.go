package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/globalvalve/valve-record/internal/api/metrics"
	"github.com/globalvalve/valve-record/internal/core/activity"
	"github.com/globalvalve/valve-record/internal/core/domain"
	"github.com/globalvalve/valve-record/internal/core/ports"
)

const (
	reasonUser       = "user"
	reasonInactivity = "inactivity"
)

// SessionProviderConfig holds the session-freshness timings.
type SessionProviderConfig struct {
	KeyPrefix        string
	BootstrapTimeout time.Duration
	ChangeTimeout    time.Duration
	IdleTimeout      time.Duration
}

func (c SessionProviderConfig) withDefaults() SessionProviderConfig {
	if c.KeyPrefix == "" {
		c.KeyPrefix = "sb-"
	}
	if c.BootstrapTimeout <= 0 {
		c.BootstrapTimeout = 3 * time.Second
	}
	if c.ChangeTimeout <= 0 {
		c.ChangeTimeout = 5 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = activity.DefaultThreshold
	}
	return c
}

// SessionProvider is the single owner of session and role state. Every
// transition bumps a generation counter; role results computed for an older
// generation are discarded.
type SessionProvider struct {
	auth      ports.AuthBackend
	roles     *RoleResolver
	store     ports.KeyValueStore
	monitor   *activity.Monitor
	navigator ports.Navigator
	cfg       SessionProviderConfig
	log       zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	state        domain.SessionState
	lastUserID   string
	generation   uint64
	safety       *time.Timer
	settled      chan struct{}
	bootstrapped bool
	unsubscribe  func()
}

func NewSessionProvider(
	auth ports.AuthBackend,
	roles *RoleResolver,
	store ports.KeyValueStore,
	monitor *activity.Monitor,
	navigator ports.Navigator,
	cfg SessionProviderConfig,
	log zerolog.Logger,
) *SessionProvider {
	ctx, cancel := context.WithCancel(context.Background())
	return &SessionProvider{
		auth:      auth,
		roles:     roles,
		store:     store,
		monitor:   monitor,
		navigator: navigator,
		cfg:       cfg.withDefaults(),
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// State returns a snapshot of the current state.
func (p *SessionProvider) State() domain.SessionState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Bootstrap subscribes to session changes and restores a persisted session.
// It returns once loading is cleared, or when the bootstrap timeout elapses.
// A session change racing the restore (a token refresh inside GetSession)
// takes over role resolution, and Bootstrap keeps waiting on it.
func (p *SessionProvider) Bootstrap(ctx context.Context) domain.SessionState {
	p.mu.Lock()
	if p.bootstrapped {
		p.mu.Unlock()
		return p.State()
	}
	p.bootstrapped = true
	p.state.Loading = true
	p.settled = make(chan struct{})
	settled := p.settled
	gen := p.generation
	p.mu.Unlock()

	unsubscribe := p.auth.OnSessionChange(p.HandleSessionChange)
	p.mu.Lock()
	p.unsubscribe = unsubscribe
	p.mu.Unlock()

	go p.restore(gen)

	timer := time.NewTimer(p.cfg.BootstrapTimeout)
	defer timer.Stop()

	select {
	case <-settled:
	case <-timer.C:
		p.forceReady(gen, "bootstrap")
	case <-ctx.Done():
		p.forceReady(gen, "bootstrap")
	}
	return p.State()
}

func (p *SessionProvider) restore(gen uint64) {
	session, err := p.auth.GetSession(p.ctx)
	if err != nil {
		p.log.Warn().Err(err).Msg("could not read persisted session")
	}

	p.mu.Lock()
	if p.generation != gen {
		// A session change arrived first and owns the state now.
		p.mu.Unlock()
		return
	}
	if session == nil {
		p.settleLocked()
		p.mu.Unlock()
		p.log.Info().Msg("no persisted session")
		return
	}
	p.generation++
	gen = p.generation
	p.lastUserID = session.UserID
	p.state.Session = session
	p.mu.Unlock()

	p.log.Info().Str("user_id", session.UserID).Msg("persisted session restored")
	p.armMonitor()
	p.applyGrant(gen, p.roles.Resolve(p.ctx, session.UserID))
}

// HandleSessionChange reacts to a session-change notification. Role
// resolution runs in the background so the notifier never blocks.
func (p *SessionProvider) HandleSessionChange(event domain.SessionEvent, session *domain.Session) {
	metrics.SessionEventsTotal.WithLabelValues(string(event)).Inc()
	log := p.log.With().Str("event", string(event)).Logger()

	if session == nil {
		p.mu.Lock()
		p.generation++
		p.state = domain.SessionState{}
		p.settleLocked()
		p.lastUserID = ""
		p.stopSafetyLocked()
		p.mu.Unlock()

		p.monitor.Disarm()
		log.Info().Msg("session cleared")
		return
	}

	p.mu.Lock()
	reload := event == domain.EventSignedIn || p.lastUserID == "" || p.lastUserID != session.UserID
	p.state.Session = session
	if !reload {
		p.mu.Unlock()
		p.armMonitor()
		log.Debug().Str("user_id", session.UserID).Msg("session credentials refreshed")
		return
	}

	p.lastUserID = session.UserID
	p.generation++
	gen := p.generation
	p.state.Loading = true
	p.state.Role = ""
	p.state.AllowedCustomers = ""
	p.stopSafetyLocked()
	p.safety = time.AfterFunc(p.cfg.ChangeTimeout, func() { p.forceReady(gen, "session_change") })
	p.mu.Unlock()

	log.Info().Str("user_id", session.UserID).Msg("session changed, resolving role")
	p.armMonitor()

	userID := session.UserID
	go func() {
		p.applyGrant(gen, p.roles.Resolve(p.ctx, userID))
	}()
}

// SignIn checks credentials with the backend. State follows from the
// resulting session-change notification.
func (p *SessionProvider) SignIn(ctx context.Context, email, password string) (*domain.Session, error) {
	session, err := p.auth.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, fmt.Errorf("sign in: %w", err)
	}
	return session, nil
}

// SignUp creates an account with the backend.
func (p *SessionProvider) SignUp(ctx context.Context, email, password string) (*domain.Session, error) {
	session, err := p.auth.SignUp(ctx, email, password)
	if err != nil {
		return nil, fmt.Errorf("sign up: %w", err)
	}
	return session, nil
}

// SignOut clears local state, wipes persisted session keys, informs the
// backend on a best-effort basis and always redirects to login.
func (p *SessionProvider) SignOut(ctx context.Context) {
	p.signOut(ctx, reasonUser)
}

func (p *SessionProvider) signOut(ctx context.Context, reason string) {
	log := p.log.With().Str("reason", reason).Logger()
	defer p.navigator.RedirectToLogin(reason)

	p.mu.Lock()
	userID := p.lastUserID
	p.generation++
	p.state = domain.SessionState{}
	p.settleLocked()
	p.lastUserID = ""
	p.stopSafetyLocked()
	p.mu.Unlock()

	p.monitor.Disarm()
	metrics.SignOutsTotal.WithLabelValues(reason).Inc()

	if n, err := p.store.DeletePrefix(ctx, p.cfg.KeyPrefix); err != nil {
		log.Warn().Err(err).Str("prefix", p.cfg.KeyPrefix).Msg("could not clear persisted session keys")
	} else {
		log.Debug().Int64("removed", n).Msg("persisted session keys cleared")
	}

	p.remoteSignOut(ctx, log)
	log.Info().Str("user_id", userID).Msg("signed out")
}

func (p *SessionProvider) remoteSignOut(ctx context.Context, log zerolog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("backend sign-out panicked")
		}
	}()
	if err := p.auth.SignOut(ctx); err != nil {
		log.Warn().Err(err).Msg("backend sign-out failed")
	}
}

// RecordActivity forwards an input event to the inactivity monitor.
func (p *SessionProvider) RecordActivity(kind activity.EventKind) bool {
	return p.monitor.Record(kind)
}

// Close releases subscriptions, timers and background work.
func (p *SessionProvider) Close() {
	p.cancel()

	p.mu.Lock()
	unsubscribe := p.unsubscribe
	p.unsubscribe = nil
	p.stopSafetyLocked()
	p.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	p.monitor.Disarm()
}

func (p *SessionProvider) armMonitor() {
	p.monitor.Arm(p.cfg.IdleTimeout, p.autoLogout)
}

func (p *SessionProvider) autoLogout() {
	p.log.Info().Dur("idle_timeout", p.cfg.IdleTimeout).Msg("signing out after inactivity")
	p.signOut(p.ctx, reasonInactivity)
}

func (p *SessionProvider) applyGrant(gen uint64, grant domain.RoleGrant) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if gen != p.generation {
		metrics.StaleResolutionsTotal.Inc()
		p.log.Debug().Str("role", string(grant.Role)).Msg("discarding stale role resolution")
		return
	}
	if p.state.Session == nil {
		return
	}
	p.state.Role = grant.Role
	p.state.AllowedCustomers = grant.AllowedCustomers
	p.settleLocked()
	p.stopSafetyLocked()
}

// forceReady clears loading when a safety timeout wins the race against
// in-flight work of the same generation.
func (p *SessionProvider) forceReady(gen uint64, phase string) {
	p.mu.Lock()
	if gen != p.generation && phase == "session_change" {
		p.mu.Unlock()
		return
	}
	wasLoading := p.state.Loading
	p.settleLocked()
	p.mu.Unlock()

	if wasLoading {
		metrics.SafetyTimeoutsTotal.WithLabelValues(phase).Inc()
		p.log.Warn().Str("phase", phase).Msg("safety timeout elapsed, forcing loading off")
	}
}

// settleLocked clears loading and releases a Bootstrap waiting on it.
func (p *SessionProvider) settleLocked() {
	p.state.Loading = false
	if p.settled != nil {
		close(p.settled)
		p.settled = nil
	}
}

func (p *SessionProvider) stopSafetyLocked() {
	if p.safety != nil {
		p.safety.Stop()
		p.safety = nil
	}
}
