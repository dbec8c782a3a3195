package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/globalvalve/valve-record/internal/api/middleware"
	"github.com/globalvalve/valve-record/internal/core/domain"
)

// ctxState extracts the session state injected by RequireSession. Its absence
// means the route was registered without the middleware.
func ctxState(c echo.Context) (domain.SessionState, error) {
	state, ok := c.Get(middleware.KeyState).(domain.SessionState)
	if !ok || !state.Ready() {
		return domain.SessionState{}, echo.NewHTTPError(http.StatusUnauthorized, "missing session state")
	}
	return state, nil
}

// bindAndValidate decodes the body into req and runs the echo validator.
func bindAndValidate(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	if err := c.Validate(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}
