package api

import (
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/globalvalve/valve-record/internal/api/handler"
	"github.com/globalvalve/valve-record/internal/api/middleware"
	"github.com/globalvalve/valve-record/internal/core/domain"
	"github.com/globalvalve/valve-record/internal/core/ports"
)

// Dependencies are the services the HTTP API exposes.
type Dependencies struct {
	Login      ports.LoginService
	Sessions   ports.SessionService
	Redirects  *handler.LoginRedirects
	Audit      ports.AuditService
	AuditQueue ports.AuditQueue
	Checks     map[string]handler.Checker
	// Registry receives the HTTP metrics. Nil uses the default registry, which
	// also carries the console's own metrics.
	Registry *prometheus.Registry
}

// NewRouter builds and returns the Echo instance with all routes registered.
func NewRouter(deps Dependencies, log zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewValidator()
	e.HTTPErrorHandler = NewHTTPErrorHandler(log)

	var (
		registerer prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer   prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if deps.Registry != nil {
		registerer, gatherer = deps.Registry, deps.Registry
	}

	// --- Global middleware ---
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestID())
	e.Use(echomiddleware.Logger())
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Namespace:  "valve_record",
		Subsystem:  "http",
		Registerer: registerer,
	}))

	redirects := deps.Redirects
	if redirects == nil {
		redirects = &handler.LoginRedirects{}
	}
	authHandler := handler.NewAuthHandler(deps.Login)
	sessionHandler := handler.NewSessionHandler(deps.Sessions, redirects)
	auditHandler := handler.NewAuditHandler(deps.Audit, deps.AuditQueue)
	healthHandler := handler.NewHealthHandler(deps.Checks)

	// --- Probes and metrics (no session required) ---
	e.GET("/health", healthHandler.Liveness)
	e.GET("/health/ready", healthHandler.Readiness)
	e.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{Gatherer: gatherer}))

	api := e.Group("/api")

	// --- Login screen ---
	api.GET("/consent", authHandler.Consent)
	api.POST("/consent", authHandler.AcceptConsent)
	api.POST("/auth/login", authHandler.Login)
	api.POST("/auth/signup", authHandler.SignUp)
	api.POST("/auth/logout", authHandler.Logout)

	// --- Session ---
	api.GET("/session", sessionHandler.Get)
	api.POST("/activity", sessionHandler.RecordActivity)

	// --- Session and resolved role required ---
	requireSession := middleware.RequireSession(deps.Sessions)
	api.GET("/nav", sessionHandler.Nav, requireSession)

	audit := api.Group("/audit", requireSession, middleware.RBAC(domain.RoleAdmin))
	audit.GET("", auditHandler.List)
	audit.GET("/export", auditHandler.Export)
	audit.POST("/retention", auditHandler.Retention)

	return e
}
