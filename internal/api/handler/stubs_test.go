package handler

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/globalvalve/valve-record/internal/api/middleware"
	"github.com/globalvalve/valve-record/internal/core/activity"
	"github.com/globalvalve/valve-record/internal/core/domain"
)

type stubLoginService struct {
	loginFn    func(ctx context.Context, email, password string) (*domain.Session, error)
	signUpFn   func(ctx context.Context, email, password string) (*domain.Session, error)
	consent    bool
	consentErr error
	accepted   int
	loggedOut  int
}

func (s *stubLoginService) ConsentRequired(context.Context) (bool, error) {
	return !s.consent, s.consentErr
}

func (s *stubLoginService) AcceptConsent(context.Context) error {
	s.accepted++
	s.consent = true
	return nil
}

func (s *stubLoginService) Login(ctx context.Context, email, password string) (*domain.Session, error) {
	return s.loginFn(ctx, email, password)
}

func (s *stubLoginService) SignUp(ctx context.Context, email, password string) (*domain.Session, error) {
	return s.signUpFn(ctx, email, password)
}

func (s *stubLoginService) Logout(context.Context) { s.loggedOut++ }

func (s *stubLoginService) Banner() string { return "Authorized use only." }

type stubSessionService struct {
	state    domain.SessionState
	recorded []activity.EventKind
}

func (s *stubSessionService) State() domain.SessionState { return s.state }

func (s *stubSessionService) SignIn(context.Context, string, string) (*domain.Session, error) {
	return nil, nil
}

func (s *stubSessionService) SignUp(context.Context, string, string) (*domain.Session, error) {
	return nil, nil
}

func (s *stubSessionService) SignOut(context.Context) {}

func (s *stubSessionService) RecordActivity(kind activity.EventKind) bool {
	s.recorded = append(s.recorded, kind)
	return len(s.recorded) == 1
}

type stubAuditService struct {
	entries    []domain.AuditLogEntry
	limit      int
	csv        string
	err        error
	retentionN int64
}

func (s *stubAuditService) Write(context.Context, domain.AuditLogEntry) error { return s.err }

func (s *stubAuditService) Recent(_ context.Context, limit int) ([]domain.AuditLogEntry, error) {
	s.limit = limit
	return s.entries, s.err
}

func (s *stubAuditService) Export(_ context.Context, w io.Writer, limit int) (int, error) {
	s.limit = limit
	if s.err != nil {
		return 0, s.err
	}
	_, _ = io.WriteString(w, s.csv)
	return strings.Count(s.csv, "\n") - 1, nil
}

func (s *stubAuditService) EnforceRetention(context.Context) (int64, error) {
	return s.retentionN, s.err
}

type stubQueue struct {
	entries []domain.AuditLogEntry
}

func (q *stubQueue) Enqueue(entry domain.AuditLogEntry) bool {
	q.entries = append(q.entries, entry)
	return true
}

func newEcho() *echo.Echo {
	e := echo.New()
	e.Validator = NewValidator()
	return e
}

func newContext(e *echo.Echo, method, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func adminState() domain.SessionState {
	return domain.SessionState{
		Session: &domain.Session{UserID: "u1", Email: "admin@example.com", AccessToken: "secret-token"},
		Role:    domain.RoleAdmin,
	}
}

func withState(c echo.Context, state domain.SessionState) {
	c.Set(middleware.KeyState, state)
	c.Set(middleware.KeyRole, state.Role)
}
