package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/globalvalve/valve-record/internal/core/domain"
	"github.com/globalvalve/valve-record/internal/core/ports"
)

type AuthHandler struct {
	login ports.LoginService
}

func NewAuthHandler(login ports.LoginService) *AuthHandler {
	return &AuthHandler{login: login}
}

type credentialsRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,max=72"`
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type authResponse struct {
	User *userResponse `json:"user,omitempty"`
	// ConfirmationRequired is set after sign-up when the account must be
	// confirmed before the first sign-in.
	ConfirmationRequired bool `json:"confirmation_required,omitempty"`
}

func toUser(s *domain.Session) *userResponse {
	if s == nil {
		return nil
	}
	return &userResponse{ID: s.UserID, Email: s.Email}
}

// Login signs the operator in. Tokens stay inside the process; the response
// only identifies the user.
//
// @Summary      Sign in
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      credentialsRequest  true  "Operator credentials"
// @Success      200   {object}  authResponse
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Failure      428   {object}  map[string]string
// @Failure      503   {object}  map[string]string
// @Router       /auth/login [post]
func (h *AuthHandler) Login(c echo.Context) error {
	var req credentialsRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	session, err := h.login.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, authResponse{User: toUser(session)})
}

// SignUp registers a new operator account.
//
// @Summary      Create an account
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      credentialsRequest  true  "New operator credentials"
// @Success      201   {object}  authResponse
// @Failure      400   {object}  map[string]string
// @Failure      409   {object}  map[string]string
// @Failure      428   {object}  map[string]string
// @Router       /auth/signup [post]
func (h *AuthHandler) SignUp(c echo.Context) error {
	var req credentialsRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	session, err := h.login.SignUp(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, authResponse{User: toUser(session), ConfirmationRequired: session == nil})
}

// Logout always succeeds; backend failures are absorbed by the session provider.
//
// @Summary      Sign out
// @Tags         auth
// @Success      204
// @Router       /auth/logout [post]
func (h *AuthHandler) Logout(c echo.Context) error {
	h.login.Logout(c.Request().Context())
	return c.NoContent(http.StatusNoContent)
}

type consentResponse struct {
	Required bool   `json:"required"`
	Banner   string `json:"banner"`
}

// Consent reports whether the usage banner still needs acknowledging.
//
// @Summary      Consent banner
// @Tags         consent
// @Produce      json
// @Success      200  {object}  consentResponse
// @Failure      500  {object}  map[string]string
// @Router       /consent [get]
func (h *AuthHandler) Consent(c echo.Context) error {
	required, err := h.login.ConsentRequired(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, consentResponse{Required: required, Banner: h.login.Banner()})
}

// AcceptConsent records that the operator acknowledged the banner.
//
// @Summary      Acknowledge the consent banner
// @Tags         consent
// @Success      204
// @Failure      500  {object}  map[string]string
// @Router       /consent [post]
func (h *AuthHandler) AcceptConsent(c echo.Context) error {
	if err := h.login.AcceptConsent(c.Request().Context()); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
