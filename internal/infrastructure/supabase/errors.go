package supabase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"

	"github.com/globalvalve/valve-record/internal/core/domain"
)

// APIError is a non-2xx answer from GoTrue or PostgREST.
type APIError struct {
	Op      string
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: status %d code %q: %s", e.Op, e.Status, e.Code, e.Message)
}

// Unwrap maps well-known backend codes onto domain errors.
func (e *APIError) Unwrap() error {
	switch {
	case e.Code == "PGRST116":
		return domain.ErrProfileNotFound
	case e.Code == "23505" || e.Status == http.StatusConflict:
		return domain.ErrProfileExists
	case e.Code == "invalid_grant" || e.Code == "invalid_credentials":
		return domain.ErrInvalidCredentials
	case e.Code == "user_already_exists" || strings.Contains(strings.ToLower(e.Message), "already registered"):
		return domain.ErrUserExists
	case e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden:
		return domain.ErrPermanent
	}
	return nil
}

// clientFault reports whether the request itself was rejected. Those answers
// prove the backend is up and do not count against the circuit breaker.
func (e *APIError) clientFault() bool {
	return e.Status >= 400 && e.Status < 500 && e.Status != http.StatusTooManyRequests
}

func newAPIError(op string, resp *resty.Response) *APIError {
	apiErr := &APIError{Op: op, Status: resp.StatusCode(), Message: resp.Status()}

	var body map[string]any
	if err := sonic.Unmarshal(resp.Body(), &body); err != nil {
		return apiErr
	}
	apiErr.Code = firstString(body, "error_code", "code", "error")
	if msg := firstString(body, "msg", "message", "error_description"); msg != "" {
		apiErr.Message = msg
	}
	return apiErr
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// transportError marks cancelled or timed-out requests as aborted so callers
// retry them with the short backoff.
func transportError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %v", op, domain.ErrAborted, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
