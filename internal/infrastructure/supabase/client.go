// Package supabase talks to the hosted backend-as-a-service: GoTrue for
// authentication and PostgREST for tables and remote procedures.
package supabase

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/globalvalve/valve-record/internal/api/metrics"
	"github.com/globalvalve/valve-record/internal/core/ports"
	"github.com/globalvalve/valve-record/internal/infrastructure/notify"
)

const defaultTimeout = 10 * time.Second

// Config captures the settings for the hosted backend.
type Config struct {
	URL     string
	AnonKey string
	// JWTSecret, when set, is used to verify access tokens before trusting
	// their claims.
	JWTSecret string
	Timeout   time.Duration
	KeyPrefix string
}

// Client implements ports.Backend over HTTP.
type Client struct {
	http       *resty.Client
	breaker    *gobreaker.CircuitBreaker
	store      ports.KeyValueStore
	bus        *notify.SessionBus
	anonKey    string
	jwtSecret  []byte
	sessionKey string
	now        func() time.Time
	log        zerolog.Logger

	mu      sync.Mutex
	current *tokenResponse
}

var _ ports.Backend = (*Client)(nil)

func New(cfg Config, store ports.KeyValueStore, bus *notify.SessionBus, log zerolog.Logger) (*Client, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid backend url %q", cfg.URL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "sb-"
	}

	projectRef := strings.Split(u.Hostname(), ".")[0]

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.URL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("apikey", cfg.AnonKey).
		SetHeader("Content-Type", "application/json").
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal)

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "supabase",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			return err == nil || (errors.As(err, &apiErr) && apiErr.clientFault())
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})

	return &Client{
		http:       httpClient,
		breaker:    breaker,
		store:      store,
		bus:        bus,
		anonKey:    cfg.AnonKey,
		jwtSecret:  []byte(cfg.JWTSecret),
		sessionKey: cfg.KeyPrefix + projectRef + "-auth-token",
		now:        time.Now,
		log:        log,
	}, nil
}

// SessionKey is the persisted-session key, sb-<project-ref>-auth-token by default.
func (c *Client) SessionKey() string { return c.sessionKey }

// call runs one request through the circuit breaker and maps failures.
func (c *Client) call(ctx context.Context, op string, send func(r *resty.Request) (*resty.Response, error)) (*resty.Response, error) {
	start := time.Now()
	out, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := send(c.http.R().SetContext(ctx))
		if err != nil {
			return nil, transportError(op, err)
		}
		if resp.IsError() {
			return resp, newAPIError(op, resp)
		}
		return resp, nil
	})

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.BackendRequestDuration.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return nil, err
	}
	return out.(*resty.Response), nil
}

// bearer is the caller's access token, or the anon key when signed out.
func (c *Client) bearer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil && c.current.AccessToken != "" {
		return c.current.AccessToken
	}
	return c.anonKey
}

// Ping checks the auth service health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, "health", func(r *resty.Request) (*resty.Response, error) {
		return r.Get("/auth/v1/health")
	})
	return err
}
