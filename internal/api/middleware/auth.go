package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/globalvalve/valve-record/internal/core/domain"
)

// Context keys set by RequireSession.
const (
	KeyState  = "session_state"
	KeyRole   = "role"
	KeyUserID = "user_id"
)

// StateSource reports the operator's current session state.
type StateSource interface {
	State() domain.SessionState
}

// RequireSession admits requests only once a session exists and its role has
// resolved. A session still waiting for its role gets 503 so the shell retries
// instead of rendering with the wrong role.
func RequireSession(sessions StateSource) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			state := sessions.State()
			if state.Session == nil && !state.Loading {
				return echo.NewHTTPError(http.StatusUnauthorized, "no active session")
			}
			if !state.Ready() {
				c.Response().Header().Set("Retry-After", "1")
				return echo.NewHTTPError(http.StatusServiceUnavailable, "session is loading")
			}

			c.Set(KeyState, state)
			c.Set(KeyRole, state.Role)
			c.Set(KeyUserID, state.Session.UserID)

			return next(c)
		}
	}
}
