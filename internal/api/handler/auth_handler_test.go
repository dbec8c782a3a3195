package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/globalvalve/valve-record/internal/core/domain"
)

func httpCode(t *testing.T, err error) int {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected echo.HTTPError, got %v", err)
	}
	return he.Code
}

func TestAuthHandler_Login_Success(t *testing.T) {
	e := newEcho()
	stub := &stubLoginService{
		loginFn: func(ctx context.Context, email, password string) (*domain.Session, error) {
			if email != "alice@example.com" || password != "secret" {
				t.Fatalf("unexpected args: %s %s", email, password)
			}
			return &domain.Session{UserID: "u1", Email: email, AccessToken: "token123"}, nil
		},
	}
	handler := NewAuthHandler(stub)

	c, rec := newContext(e, http.MethodPost, "/api/auth/login", `{"email":"alice@example.com","password":"secret"}`)
	if err := handler.Login(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "token123") {
		t.Fatalf("access token leaked: %s", rec.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	user, ok := resp["user"].(map[string]any)
	if !ok || user["id"] != "u1" || user["email"] != "alice@example.com" {
		t.Fatalf("unexpected user payload: %+v", resp)
	}
}

func TestAuthHandler_Login_PropagatesDomainErrors(t *testing.T) {
	for _, want := range []error{domain.ErrInvalidCredentials, domain.ErrConsentRequired} {
		e := newEcho()
		stub := &stubLoginService{
			loginFn: func(ctx context.Context, email, password string) (*domain.Session, error) {
				return nil, want
			},
		}
		handler := NewAuthHandler(stub)

		c, _ := newContext(e, http.MethodPost, "/api/auth/login", `{"email":"alice@example.com","password":"bad"}`)
		if err := handler.Login(c); !errors.Is(err, want) {
			t.Fatalf("expected %v, got %v", want, err)
		}
	}
}

func TestAuthHandler_Login_InvalidPayload(t *testing.T) {
	cases := []string{
		"{",
		`{"email":"not-an-email","password":"secret"}`,
		`{"email":"alice@example.com"}`,
	}
	for _, body := range cases {
		e := newEcho()
		stub := &stubLoginService{
			loginFn: func(ctx context.Context, email, password string) (*domain.Session, error) {
				t.Fatalf("should not be called")
				return nil, nil
			},
		}
		handler := NewAuthHandler(stub)

		c, _ := newContext(e, http.MethodPost, "/api/auth/login", body)
		if code := httpCode(t, handler.Login(c)); code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", body, code)
		}
	}
}

func TestAuthHandler_SignUp_AwaitingConfirmation(t *testing.T) {
	e := newEcho()
	stub := &stubLoginService{
		signUpFn: func(ctx context.Context, email, password string) (*domain.Session, error) {
			return nil, nil
		},
	}
	handler := NewAuthHandler(stub)

	c, rec := newContext(e, http.MethodPost, "/api/auth/signup", `{"email":"new@example.com","password":"pass12345"}`)
	if err := handler.SignUp(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"confirmation_required":true`) {
		t.Fatalf("expected confirmation flag: %s", rec.Body.String())
	}
}

func TestAuthHandler_SignUp_UserExists(t *testing.T) {
	e := newEcho()
	stub := &stubLoginService{
		signUpFn: func(ctx context.Context, email, password string) (*domain.Session, error) {
			return nil, domain.ErrUserExists
		},
	}
	handler := NewAuthHandler(stub)

	c, _ := newContext(e, http.MethodPost, "/api/auth/signup", `{"email":"bob@example.com","password":"pass12345"}`)
	if err := handler.SignUp(c); !errors.Is(err, domain.ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestAuthHandler_Logout(t *testing.T) {
	e := newEcho()
	stub := &stubLoginService{}
	handler := NewAuthHandler(stub)

	c, rec := newContext(e, http.MethodPost, "/api/auth/logout", "")
	if err := handler.Logout(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusNoContent || stub.loggedOut != 1 {
		t.Fatalf("expected 204 and one logout, got %d / %d", rec.Code, stub.loggedOut)
	}
}

func TestAuthHandler_Consent(t *testing.T) {
	e := newEcho()
	stub := &stubLoginService{}
	handler := NewAuthHandler(stub)

	c, rec := newContext(e, http.MethodGet, "/api/consent", "")
	if err := handler.Consent(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	var resp consentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if !resp.Required || resp.Banner == "" {
		t.Fatalf("unexpected consent payload: %+v", resp)
	}

	c, rec = newContext(e, http.MethodPost, "/api/consent", "")
	if err := handler.AcceptConsent(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusNoContent || stub.accepted != 1 {
		t.Fatalf("expected consent accepted once, got %d / %d", rec.Code, stub.accepted)
	}

	c, rec = newContext(e, http.MethodGet, "/api/consent", "")
	_ = handler.Consent(c)
	if !strings.Contains(rec.Body.String(), `"required":false`) {
		t.Fatalf("expected consent satisfied: %s", rec.Body.String())
	}
}
