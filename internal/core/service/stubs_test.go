package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/globalvalve/valve-record/internal/core/domain"
	"github.com/globalvalve/valve-record/internal/core/ports"
)

// ---------------------------------------------------------------------------
// Backend stub
// ---------------------------------------------------------------------------

type stubBackend struct {
	mu sync.Mutex

	// role lookups
	rpcGrant    *domain.RoleGrant
	rpcErr      error
	rpcCalls    int
	rpcDelay    time.Duration
	userDelays  map[string]time.Duration
	userGrants  map[string]*domain.RoleGrant
	profiles    map[string]*domain.Profile
	findErr     error
	findCalls   int
	insertErr   error
	insertCalls int

	// auth
	session      *domain.Session
	sessionErr   error
	sessionBlock chan struct{}
	refreshOnGet bool
	signInErr    error
	signOutErr   error
	signOutPanic bool
	signOutCalls int
	handlers     map[int]ports.SessionChangeHandler
	nextHandler  int

	// audit
	logged       []domain.AuditLogEntry
	logErr       error
	retentionN   int64
	retentionErr error
}

func newStubBackend() *stubBackend {
	return &stubBackend{
		profiles:   make(map[string]*domain.Profile),
		userDelays: make(map[string]time.Duration),
		userGrants: make(map[string]*domain.RoleGrant),
		handlers:   make(map[int]ports.SessionChangeHandler),
	}
}

func (b *stubBackend) GetActiveUserRole(ctx context.Context, userID string) (*domain.RoleGrant, error) {
	b.mu.Lock()
	b.rpcCalls++
	delay, grant, err := b.rpcDelay, b.rpcGrant, b.rpcErr
	if d, ok := b.userDelays[userID]; ok {
		delay = d
	}
	if g, ok := b.userGrants[userID]; ok {
		grant = g
	}
	b.mu.Unlock()

	if delay > 0 {
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	if grant != nil {
		clone := *grant
		return &clone, err
	}
	return nil, err
}

func (b *stubBackend) FindProfile(_ context.Context, userID string) (*domain.Profile, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.findCalls++
	if b.findErr != nil {
		return nil, b.findErr
	}
	p, ok := b.profiles[userID]
	if !ok {
		return nil, domain.ErrProfileNotFound
	}
	clone := *p
	return &clone, nil
}

func (b *stubBackend) InsertProfile(_ context.Context, profile domain.Profile) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.insertCalls++
	if b.insertErr != nil {
		return b.insertErr
	}
	if _, ok := b.profiles[profile.ID]; ok {
		return domain.ErrProfileExists
	}
	b.profiles[profile.ID] = &profile
	return nil
}

func (b *stubBackend) GetSession(ctx context.Context) (*domain.Session, error) {
	b.mu.Lock()
	block := b.sessionBlock
	b.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	b.mu.Lock()
	current, err, refresh := b.session, b.sessionErr, b.refreshOnGet
	b.mu.Unlock()
	if refresh && current != nil {
		b.emit(domain.EventTokenRefreshed, current)
	}
	return current, err
}

func (b *stubBackend) OnSessionChange(handler ports.SessionChangeHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextHandler
	b.nextHandler++
	b.handlers[id] = handler
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers, id)
	}
}

func (b *stubBackend) emit(event domain.SessionEvent, session *domain.Session) {
	b.mu.Lock()
	handlers := make([]ports.SessionChangeHandler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()
	for _, h := range handlers {
		h(event, session)
	}
}

func (b *stubBackend) subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers)
}

func (b *stubBackend) SignInWithPassword(_ context.Context, email, _ string) (*domain.Session, error) {
	if b.signInErr != nil {
		return nil, b.signInErr
	}
	return &domain.Session{UserID: "id-" + email, Email: email, AccessToken: "token"}, nil
}

func (b *stubBackend) SignUp(_ context.Context, email, _ string) (*domain.Session, error) {
	return &domain.Session{UserID: "id-" + email, Email: email, AccessToken: "token"}, nil
}

func (b *stubBackend) SignOut(_ context.Context) error {
	b.mu.Lock()
	b.signOutCalls++
	panics, err := b.signOutPanic, b.signOutErr
	b.mu.Unlock()
	if panics {
		panic("sign-out transport exploded")
	}
	return err
}

func (b *stubBackend) LogSecurityEvent(_ context.Context, entry domain.AuditLogEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.logErr != nil {
		return b.logErr
	}
	b.logged = append(b.logged, entry)
	return nil
}

func (b *stubBackend) EnforceDataRetention(_ context.Context) (int64, error) {
	return b.retentionN, b.retentionErr
}

func (b *stubBackend) ListAuditLogs(_ context.Context, limit int) ([]domain.AuditLogEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.AuditLogEntry, 0, limit)
	for i := len(b.logged) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, b.logged[i])
	}
	return out, nil
}

func (b *stubBackend) Ping(_ context.Context) error { return nil }

func (b *stubBackend) calls() (rpc, find, insert int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rpcCalls, b.findCalls, b.insertCalls
}

var _ ports.Backend = (*stubBackend)(nil)

// ---------------------------------------------------------------------------
// Key-value store and navigator stubs
// ---------------------------------------------------------------------------

type stubStore struct {
	mu        sync.Mutex
	data      map[string]string
	deleteErr error
}

func newStubStore() *stubStore {
	return &stubStore{data: make(map[string]string)}
}

func (s *stubStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return "", domain.ErrKeyNotFound
	}
	return v, nil
}

func (s *stubStore) Set(_ context.Context, key, value string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *stubStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *stubStore) DeletePrefix(_ context.Context, prefix string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return 0, s.deleteErr
	}
	var n int64
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			delete(s.data, k)
			n++
		}
	}
	return n, nil
}

func (s *stubStore) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[key]
	return ok
}

type stubNavigator struct {
	mu      sync.Mutex
	reasons []string
}

func (n *stubNavigator) RedirectToLogin(reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reasons = append(n.reasons, reason)
}

func (n *stubNavigator) redirects() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.reasons...)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
