package handler

import (
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"

	"github.com/globalvalve/valve-record/internal/core/activity"
	"github.com/globalvalve/valve-record/internal/core/domain"
	"github.com/globalvalve/valve-record/internal/core/ports"
	"github.com/globalvalve/valve-record/internal/core/service"
)

const loginPath = "/login"

// LoginRedirects is the shell's ports.Navigator. The session provider records
// a redirect; the next session poll delivers it once.
type LoginRedirects struct {
	mu      sync.Mutex
	pending string
}

var _ ports.Navigator = (*LoginRedirects)(nil)

func (r *LoginRedirects) RedirectToLogin(reason string) {
	r.mu.Lock()
	r.pending = reason
	r.mu.Unlock()
}

// Take returns and clears the pending redirect reason.
func (r *LoginRedirects) Take() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reason := r.pending
	r.pending = ""
	return reason, reason != ""
}

type SessionHandler struct {
	sessions  ports.SessionService
	redirects *LoginRedirects
}

func NewSessionHandler(sessions ports.SessionService, redirects *LoginRedirects) *SessionHandler {
	return &SessionHandler{sessions: sessions, redirects: redirects}
}

type redirectResponse struct {
	To     string `json:"to"`
	Reason string `json:"reason"`
}

type sessionResponse struct {
	Authenticated    bool              `json:"authenticated"`
	Loading          bool              `json:"loading"`
	User             *userResponse     `json:"user,omitempty"`
	Role             domain.Role       `json:"role,omitempty"`
	AllowedCustomers string            `json:"allowed_customers,omitempty"`
	Redirect         *redirectResponse `json:"redirect,omitempty"`
}

// Get reports the current session. The role is only reported once it has
// resolved, never alongside a pending load.
//
// @Summary      Current session
// @Tags         session
// @Produce      json
// @Success      200  {object}  sessionResponse
// @Router       /session [get]
func (h *SessionHandler) Get(c echo.Context) error {
	state := h.sessions.State()
	resp := sessionResponse{
		Authenticated: state.Session != nil,
		Loading:       state.Loading,
		User:          toUser(state.Session),
	}
	if state.Ready() {
		resp.Role = state.Role
		resp.AllowedCustomers = state.AllowedCustomers
	}
	if reason, ok := h.redirects.Take(); ok {
		resp.Redirect = &redirectResponse{To: loginPath, Reason: reason}
	}
	return c.JSON(http.StatusOK, resp)
}

type activityRequest struct {
	Kind string `json:"kind" validate:"required,activity"`
}

type activityResponse struct {
	Reset bool `json:"reset"`
}

// RecordActivity forwards a shell input event to the idle monitor.
//
// @Summary      Record operator activity
// @Tags         session
// @Accept       json
// @Produce      json
// @Param        body  body      activityRequest  true  "Input event kind"
// @Success      200   {object}  activityResponse
// @Failure      400   {object}  map[string]string
// @Router       /activity [post]
func (h *SessionHandler) RecordActivity(c echo.Context) error {
	var req activityRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, activityResponse{Reset: h.sessions.RecordActivity(activity.EventKind(req.Kind))})
}

type navResponse struct {
	Role  domain.Role       `json:"role"`
	Items []service.NavItem `json:"items"`
}

// Nav lists the navigation entries the operator's role may see.
//
// @Summary      Navigation entries
// @Tags         session
// @Produce      json
// @Success      200  {object}  navResponse
// @Failure      401  {object}  map[string]string
// @Failure      503  {object}  map[string]string
// @Router       /nav [get]
func (h *SessionHandler) Nav(c echo.Context) error {
	state, err := ctxState(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, navResponse{Role: state.Role, Items: service.VisibleNav(state)})
}
