package supabase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/globalvalve/valve-record/internal/core/domain"
	"github.com/globalvalve/valve-record/internal/core/ports"
	"github.com/globalvalve/valve-record/pkg/logger"
)

// refreshMargin renews tokens slightly before they expire.
const refreshMargin = 30 * time.Second

type authUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// tokenResponse is the GoTrue token payload. It is also the persisted
// session format.
type tokenResponse struct {
	AccessToken  string   `json:"access_token"`
	TokenType    string   `json:"token_type,omitempty"`
	ExpiresIn    int64    `json:"expires_in,omitempty"`
	ExpiresAt    int64    `json:"expires_at,omitempty"`
	RefreshToken string   `json:"refresh_token"`
	User         authUser `json:"user"`
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// normalize fills ExpiresAt and the user from the token claims when GoTrue
// omitted them.
func (c *Client) normalize(t *tokenResponse) error {
	if t.AccessToken == "" {
		return fmt.Errorf("token response without access token")
	}
	if t.ExpiresAt == 0 && t.ExpiresIn > 0 {
		t.ExpiresAt = c.now().Add(time.Duration(t.ExpiresIn) * time.Second).Unix()
	}
	if t.ExpiresAt != 0 && t.User.ID != "" {
		return nil
	}

	claims, err := c.claims(t.AccessToken)
	if err != nil {
		return err
	}
	if t.User.ID == "" {
		t.User.ID = claims.Subject
	}
	if t.User.Email == "" {
		t.User.Email = claims.Email
	}
	if t.ExpiresAt == 0 && claims.ExpiresAt != nil {
		t.ExpiresAt = claims.ExpiresAt.Unix()
	}
	return nil
}

type accessClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// claims reads the access token payload, verifying the signature only when a
// JWT secret is configured.
func (c *Client) claims(token string) (*accessClaims, error) {
	claims := &accessClaims{}
	if len(c.jwtSecret) == 0 {
		if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
			return nil, fmt.Errorf("parse access token: %w", err)
		}
		return claims, nil
	}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return c.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(c.now))
	if err != nil {
		return nil, fmt.Errorf("verify access token: %w", err)
	}
	return claims, nil
}

func (t *tokenResponse) session() *domain.Session {
	s := &domain.Session{
		UserID:       t.User.ID,
		Email:        t.User.Email,
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
	}
	if t.ExpiresAt > 0 {
		s.ExpiresAt = time.Unix(t.ExpiresAt, 0).UTC()
	}
	return s
}

// GetSession returns the in-memory session, falling back to the persisted one.
// Expired sessions are refreshed; when refreshing fails the persisted session
// is dropped and nil is returned.
func (c *Client) GetSession(ctx context.Context) (*domain.Session, error) {
	c.mu.Lock()
	current := c.current
	c.mu.Unlock()

	if current == nil {
		loaded, err := c.loadPersisted(ctx)
		if err != nil || loaded == nil {
			return nil, err
		}
		current = loaded
	}

	s := current.session()
	if !s.Expired(c.now().Add(refreshMargin)) {
		c.setCurrent(current)
		return s, nil
	}
	if current.RefreshToken == "" {
		c.forget(ctx)
		return nil, nil
	}

	refreshed, err := c.refresh(ctx, current.RefreshToken)
	if err != nil {
		c.log.Warn().Err(err).Str("user_id", s.UserID).Msg("session refresh failed, dropping persisted session")
		c.forget(ctx)
		return nil, nil
	}
	session := refreshed.session()
	c.bus.Publish(domain.EventTokenRefreshed, session)
	return session, nil
}

func (c *Client) loadPersisted(ctx context.Context) (*tokenResponse, error) {
	raw, err := c.store.Get(ctx, c.sessionKey)
	if errors.Is(err, domain.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read persisted session: %w", err)
	}

	var t tokenResponse
	if err := sonic.UnmarshalString(raw, &t); err != nil {
		c.log.Warn().Err(err).Msg("discarding unreadable persisted session")
		_ = c.store.Delete(ctx, c.sessionKey)
		return nil, nil
	}
	if err := c.normalize(&t); err != nil {
		c.log.Warn().Err(err).Msg("discarding invalid persisted session")
		_ = c.store.Delete(ctx, c.sessionKey)
		return nil, nil
	}
	return &t, nil
}

func (c *Client) refresh(ctx context.Context, refreshToken string) (*tokenResponse, error) {
	var out tokenResponse
	_, err := c.call(ctx, "token_refresh", func(r *resty.Request) (*resty.Response, error) {
		return r.SetQueryParam("grant_type", "refresh_token").
			SetBody(map[string]string{"refresh_token": refreshToken}).
			SetResult(&out).
			Post("/auth/v1/token")
	})
	if err != nil {
		return nil, err
	}
	if err := c.establish(ctx, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) OnSessionChange(handler ports.SessionChangeHandler) func() {
	return c.bus.Subscribe(handler)
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*domain.Session, error) {
	var out tokenResponse
	_, err := c.call(ctx, "sign_in", func(r *resty.Request) (*resty.Response, error) {
		return r.SetQueryParam("grant_type", "password").
			SetBody(credentials{Email: email, Password: password}).
			SetResult(&out).
			Post("/auth/v1/token")
	})
	if err != nil {
		return nil, err
	}
	if err := c.establish(ctx, &out); err != nil {
		return nil, err
	}

	session := out.session()
	c.bus.Publish(domain.EventSignedIn, session)
	return session, nil
}

// SignUp creates the account. GoTrue answers with a session when e-mail
// confirmation is disabled and with the bare user otherwise; the latter
// returns a nil session.
func (c *Client) SignUp(ctx context.Context, email, password string) (*domain.Session, error) {
	resp, err := c.call(ctx, "sign_up", func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(credentials{Email: email, Password: password}).Post("/auth/v1/signup")
	})
	if err != nil {
		return nil, err
	}

	var out tokenResponse
	if err := sonic.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("decode sign-up response: %w", err)
	}
	if out.AccessToken == "" {
		c.log.Info().Str("email", logger.MaskEmail(email)).Msg("sign-up awaiting e-mail confirmation")
		return nil, nil
	}
	if err := c.establish(ctx, &out); err != nil {
		return nil, err
	}

	session := out.session()
	c.bus.Publish(domain.EventSignedIn, session)
	return session, nil
}

// SignOut forgets the session locally, announces it and then revokes the
// token remotely. The remote error, if any, is returned after local cleanup.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	current := c.current
	c.mu.Unlock()

	c.forget(ctx)
	c.bus.Publish(domain.EventSignedOut, nil)

	if current == nil {
		return nil
	}
	_, err := c.call(ctx, "sign_out", func(r *resty.Request) (*resty.Response, error) {
		return r.SetAuthToken(current.AccessToken).Post("/auth/v1/logout")
	})
	return err
}

// establish normalises, persists and adopts a fresh token.
func (c *Client) establish(ctx context.Context, t *tokenResponse) error {
	if err := c.normalize(t); err != nil {
		return err
	}
	raw, err := sonic.MarshalString(t)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := c.store.Set(ctx, c.sessionKey, raw, 0); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	c.setCurrent(t)
	return nil
}

func (c *Client) setCurrent(t *tokenResponse) {
	c.mu.Lock()
	c.current = t
	c.mu.Unlock()
}

func (c *Client) forget(ctx context.Context) {
	c.setCurrent(nil)
	if err := c.store.Delete(ctx, c.sessionKey); err != nil {
		c.log.Warn().Err(err).Msg("could not delete persisted session")
	}
}
