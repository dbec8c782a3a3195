package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/globalvalve/valve-record/internal/core/activity"
	"github.com/globalvalve/valve-record/internal/core/domain"
)

type providerFixture struct {
	backend  *stubBackend
	store    *stubStore
	nav      *stubNavigator
	provider *SessionProvider
}

func newProviderFixture(t *testing.T, cfg SessionProviderConfig) *providerFixture {
	t.Helper()
	backend := newStubBackend()
	store := newStubStore()
	nav := &stubNavigator{}
	roles := NewRoleResolver(backend, fastResolverConfig(), zerolog.Nop())
	monitor := activity.NewMonitor(activity.WithThrottle(time.Millisecond))
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = time.Hour
	}
	p := NewSessionProvider(backend, roles, store, monitor, nav, cfg, zerolog.Nop())
	t.Cleanup(p.Close)
	return &providerFixture{backend: backend, store: store, nav: nav, provider: p}
}

func session(userID string) *domain.Session {
	return &domain.Session{UserID: userID, Email: userID + "@example.com", AccessToken: "tok-" + userID}
}

func TestSessionProvider_BootstrapWithoutSession(t *testing.T) {
	f := newProviderFixture(t, SessionProviderConfig{})

	state := f.provider.Bootstrap(context.Background())
	if state.Loading {
		t.Fatalf("expected loading cleared")
	}
	if state.Session != nil || state.Role != "" {
		t.Fatalf("expected empty state, got %+v", state)
	}
	if f.backend.subscribers() != 1 {
		t.Fatalf("expected one session-change subscription, got %d", f.backend.subscribers())
	}
}

func TestSessionProvider_BootstrapRestoresSessionAndRole(t *testing.T) {
	f := newProviderFixture(t, SessionProviderConfig{})
	f.backend.session = session("u1")
	f.backend.profiles["u1"] = &domain.Profile{ID: "u1", Role: domain.RoleInspector, AllowedCustomers: "acme"}

	state := f.provider.Bootstrap(context.Background())
	if !state.Ready() {
		t.Fatalf("expected ready state, got %+v", state)
	}
	if state.Role != domain.RoleInspector || state.AllowedCustomers != "acme" {
		t.Fatalf("unexpected grant: %+v", state)
	}
}

func TestSessionProvider_BootstrapIsIdempotent(t *testing.T) {
	f := newProviderFixture(t, SessionProviderConfig{})
	f.provider.Bootstrap(context.Background())
	f.provider.Bootstrap(context.Background())

	if f.backend.subscribers() != 1 {
		t.Fatalf("expected a single subscription, got %d", f.backend.subscribers())
	}
}

func TestSessionProvider_BootstrapTimeoutClearsLoading(t *testing.T) {
	f := newProviderFixture(t, SessionProviderConfig{BootstrapTimeout: 30 * time.Millisecond})
	f.backend.sessionBlock = make(chan struct{}) // never released

	start := time.Now()
	state := f.provider.Bootstrap(context.Background())
	elapsed := time.Since(start)

	if state.Loading {
		t.Fatalf("expected loading forced off after bootstrap timeout")
	}
	if elapsed < 30*time.Millisecond || elapsed > time.Second {
		t.Fatalf("bootstrap returned after %s, expected about 30ms", elapsed)
	}
}

func TestSessionProvider_BootstrapWaitsForRoleAfterTokenRefresh(t *testing.T) {
	f := newProviderFixture(t, SessionProviderConfig{
		BootstrapTimeout: time.Second,
		ChangeTimeout:    5 * time.Second,
	})
	f.backend.session = session("u1")
	f.backend.refreshOnGet = true
	f.backend.rpcDelay = 50 * time.Millisecond
	f.backend.rpcGrant = &domain.RoleGrant{Role: domain.RoleAdmin}

	state := f.provider.Bootstrap(context.Background())
	if !state.Ready() {
		t.Fatalf("expected ready state after refresh during restore, got %+v", state)
	}
	if state.Role != domain.RoleAdmin {
		t.Fatalf("expected admin role, got %q", state.Role)
	}
}

func TestSessionProvider_BootstrapTimeoutBoundsTokenRefreshRace(t *testing.T) {
	f := newProviderFixture(t, SessionProviderConfig{
		BootstrapTimeout: 50 * time.Millisecond,
		ChangeTimeout:    5 * time.Second,
	})
	f.backend.session = session("u1")
	f.backend.refreshOnGet = true
	f.backend.rpcDelay = time.Hour

	start := time.Now()
	state := f.provider.Bootstrap(context.Background())
	elapsed := time.Since(start)

	if state.Loading {
		t.Fatalf("expected loading forced off by the bootstrap timeout")
	}
	if elapsed < 50*time.Millisecond || elapsed > time.Second {
		t.Fatalf("bootstrap returned after %s, expected about 50ms", elapsed)
	}
	if state.Session == nil || state.Session.UserID != "u1" {
		t.Fatalf("expected the refreshed session to be kept, got %+v", state.Session)
	}
}

func TestSessionProvider_ChangeTimeoutClearsLoading(t *testing.T) {
	f := newProviderFixture(t, SessionProviderConfig{ChangeTimeout: 30 * time.Millisecond})
	f.backend.rpcDelay = time.Hour
	f.provider.Bootstrap(context.Background())

	f.backend.emit(domain.EventSignedIn, session("u1"))
	if !f.provider.State().Loading {
		t.Fatalf("expected loading while the role resolves")
	}

	ok := waitFor(time.Second, func() bool { return !f.provider.State().Loading })
	if !ok {
		t.Fatalf("expected change timeout to clear loading")
	}
	if got := f.provider.State().Role; got != "" {
		t.Fatalf("expected no role yet, got %s", got)
	}
}

func TestSessionProvider_SignedInResolvesRoleInBackground(t *testing.T) {
	f := newProviderFixture(t, SessionProviderConfig{})
	f.backend.rpcGrant = &domain.RoleGrant{Role: domain.RoleAdmin}
	f.provider.Bootstrap(context.Background())

	f.backend.emit(domain.EventSignedIn, session("u1"))

	ok := waitFor(time.Second, func() bool { return f.provider.State().Ready() })
	if !ok {
		t.Fatalf("expected role to settle")
	}
	if got := f.provider.State().Role; got != domain.RoleAdmin {
		t.Fatalf("expected admin, got %s", got)
	}
}

func TestSessionProvider_NewUserIsProvisionedAsClient(t *testing.T) {
	f := newProviderFixture(t, SessionProviderConfig{})
	f.provider.Bootstrap(context.Background())

	f.backend.emit(domain.EventSignedIn, session("fresh"))

	if !waitFor(time.Second, func() bool { return f.provider.State().Ready() }) {
		t.Fatalf("expected role to settle")
	}
	if got := f.provider.State().Role; got != domain.RoleClient {
		t.Fatalf("expected client, got %s", got)
	}
	if _, _, insert := f.backend.calls(); insert != 1 {
		t.Fatalf("expected one provisioning insert, got %d", insert)
	}
}

func TestSessionProvider_StaleRoleIsDiscarded(t *testing.T) {
	f := newProviderFixture(t, SessionProviderConfig{})
	f.backend.userGrants["slow"] = &domain.RoleGrant{Role: domain.RoleAdmin}
	f.backend.userDelays["slow"] = 80 * time.Millisecond
	f.backend.userGrants["fast"] = &domain.RoleGrant{Role: domain.RoleInspector}
	f.provider.Bootstrap(context.Background())

	f.backend.emit(domain.EventSignedIn, session("slow"))
	f.backend.emit(domain.EventSignedIn, session("fast"))

	if !waitFor(time.Second, func() bool { return f.provider.State().Ready() }) {
		t.Fatalf("expected role to settle")
	}
	// Give the slow resolution time to land and be rejected.
	time.Sleep(150 * time.Millisecond)

	state := f.provider.State()
	if state.Session.UserID != "fast" {
		t.Fatalf("expected latest session, got %s", state.Session.UserID)
	}
	if state.Role != domain.RoleInspector {
		t.Fatalf("stale admin role leaked into state: %s", state.Role)
	}
}

func TestSessionProvider_TokenRefreshKeepsRole(t *testing.T) {
	f := newProviderFixture(t, SessionProviderConfig{})
	f.backend.rpcGrant = &domain.RoleGrant{Role: domain.RoleInspector}
	f.provider.Bootstrap(context.Background())

	f.backend.emit(domain.EventSignedIn, session("u1"))
	if !waitFor(time.Second, func() bool { return f.provider.State().Ready() }) {
		t.Fatalf("expected role to settle")
	}
	rpcBefore, _, _ := f.backend.calls()

	refreshed := session("u1")
	refreshed.AccessToken = "rotated"
	f.backend.emit(domain.EventTokenRefreshed, refreshed)

	state := f.provider.State()
	if state.Loading || state.Role != domain.RoleInspector {
		t.Fatalf("expected role kept across refresh, got %+v", state)
	}
	if state.Session.AccessToken != "rotated" {
		t.Fatalf("expected refreshed token, got %s", state.Session.AccessToken)
	}
	if rpcAfter, _, _ := f.backend.calls(); rpcAfter != rpcBefore {
		t.Fatalf("token refresh must not re-resolve the role")
	}
}

func TestSessionProvider_SignedOutEventClearsState(t *testing.T) {
	f := newProviderFixture(t, SessionProviderConfig{})
	f.backend.rpcGrant = &domain.RoleGrant{Role: domain.RoleAdmin}
	f.provider.Bootstrap(context.Background())

	f.backend.emit(domain.EventSignedIn, session("u1"))
	waitFor(time.Second, func() bool { return f.provider.State().Ready() })

	f.backend.emit(domain.EventSignedOut, nil)

	state := f.provider.State()
	if state.Session != nil || state.Role != "" || state.Loading {
		t.Fatalf("expected cleared state, got %+v", state)
	}
}

func TestSessionProvider_SignOutClearsOnlySessionKeys(t *testing.T) {
	f := newProviderFixture(t, SessionProviderConfig{KeyPrefix: "sb-"})
	ctx := context.Background()
	_ = f.store.Set(ctx, "sb-project-auth-token", "{}", 0)
	_ = f.store.Set(ctx, "sb-project-code-verifier", "x", 0)
	_ = f.store.Set(ctx, "gvr-consent-accepted", "true", 0)
	_ = f.store.Set(ctx, "theme", "dark", 0)

	f.provider.SignOut(ctx)

	if f.store.has("sb-project-auth-token") || f.store.has("sb-project-code-verifier") {
		t.Fatalf("expected session keys removed")
	}
	if !f.store.has("gvr-consent-accepted") || !f.store.has("theme") {
		t.Fatalf("expected unrelated keys preserved")
	}
	if got := f.nav.redirects(); len(got) != 1 || got[0] != "user" {
		t.Fatalf("expected one user redirect, got %v", got)
	}
}

func TestSessionProvider_SignOutRedirectsWhenBackendFails(t *testing.T) {
	f := newProviderFixture(t, SessionProviderConfig{})
	f.backend.signOutErr = errors.New("network unreachable")
	f.store.deleteErr = errors.New("store offline")

	f.provider.SignOut(context.Background())

	if got := f.nav.redirects(); len(got) != 1 {
		t.Fatalf("expected redirect despite failures, got %v", got)
	}
}

func TestSessionProvider_SignOutRedirectsWhenBackendPanics(t *testing.T) {
	f := newProviderFixture(t, SessionProviderConfig{})
	f.backend.signOutPanic = true

	f.provider.SignOut(context.Background())

	if got := f.nav.redirects(); len(got) != 1 {
		t.Fatalf("expected redirect despite panic, got %v", got)
	}
}

func TestSessionProvider_InactivitySignsOut(t *testing.T) {
	f := newProviderFixture(t, SessionProviderConfig{IdleTimeout: 40 * time.Millisecond})
	f.backend.rpcGrant = &domain.RoleGrant{Role: domain.RoleClient}
	_ = f.store.Set(context.Background(), "sb-project-auth-token", "{}", 0)
	f.provider.Bootstrap(context.Background())

	f.backend.emit(domain.EventSignedIn, session("u1"))

	ok := waitFor(time.Second, func() bool { return len(f.nav.redirects()) == 1 })
	if !ok {
		t.Fatalf("expected inactivity sign-out")
	}
	if got := f.nav.redirects()[0]; got != "inactivity" {
		t.Fatalf("expected inactivity reason, got %s", got)
	}
	if f.provider.State().Session != nil {
		t.Fatalf("expected session cleared")
	}
	if f.store.has("sb-project-auth-token") {
		t.Fatalf("expected persisted session removed")
	}
}

func TestSessionProvider_ActivityPostponesSignOut(t *testing.T) {
	f := newProviderFixture(t, SessionProviderConfig{IdleTimeout: 80 * time.Millisecond})
	f.backend.rpcGrant = &domain.RoleGrant{Role: domain.RoleClient}
	f.provider.Bootstrap(context.Background())
	f.backend.emit(domain.EventSignedIn, session("u1"))

	for i := 0; i < 6; i++ {
		time.Sleep(30 * time.Millisecond)
		f.provider.RecordActivity(activity.EventKeyDown)
	}
	if got := f.nav.redirects(); len(got) != 0 {
		t.Fatalf("expected no sign-out while active, got %v", got)
	}
}

func TestSessionProvider_CloseUnsubscribes(t *testing.T) {
	f := newProviderFixture(t, SessionProviderConfig{})
	f.provider.Bootstrap(context.Background())

	f.provider.Close()

	if f.backend.subscribers() != 0 {
		t.Fatalf("expected subscription released")
	}
}
