// Command console runs the Global Valve Record operator console: session and
// role state, the login flow and the audit log behind a local HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/globalvalve/valve-record/internal/api"
	"github.com/globalvalve/valve-record/internal/api/handler"
	"github.com/globalvalve/valve-record/internal/core/activity"
	"github.com/globalvalve/valve-record/internal/core/ports"
	"github.com/globalvalve/valve-record/internal/core/service"
	"github.com/globalvalve/valve-record/internal/infrastructure/config"
	mongodb "github.com/globalvalve/valve-record/internal/infrastructure/db/mongo"
	redisdb "github.com/globalvalve/valve-record/internal/infrastructure/db/redis"
	"github.com/globalvalve/valve-record/internal/infrastructure/notify"
	"github.com/globalvalve/valve-record/internal/infrastructure/queue"
	"github.com/globalvalve/valve-record/internal/infrastructure/selfhosted"
	"github.com/globalvalve/valve-record/internal/infrastructure/supabase"
	"github.com/globalvalve/valve-record/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "console: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}

	log := logger.Init(logger.Options{
		Level:   cfg.LogLevel,
		Pretty:  !cfg.IsProduction(),
		Service: "valve-record-console",
	})

	rdb, err := redisdb.Connect(ctx, redisdb.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return err
	}
	defer rdb.Close()

	store := redisdb.NewKeyStore(rdb, cfg.Redis.Namespace)
	bus := notify.NewSessionBus(logger.For("session_bus"))

	backend, closeBackend, err := newBackend(ctx, cfg, store, bus)
	if err != nil {
		return err
	}
	defer closeBackend()

	roles := service.NewRoleResolver(backend, service.RoleResolverConfig{
		Retries:          cfg.Roles.Retries,
		RetryBackoff:     cfg.Roles.RetryBackoff,
		AbortBackoff:     cfg.Roles.AbortBackoff,
		ProvisionBackoff: cfg.Roles.ProvisionBackoff,
		AdminOverrides:   cfg.Roles.AdminOverrides,
	}, logger.For("role_resolver"))

	monitor := activity.NewMonitor(
		activity.WithThrottle(cfg.Session.ActivityThrottle),
		activity.WithLogger(logger.For("activity")),
	)
	redirects := &handler.LoginRedirects{}
	sessions := service.NewSessionProvider(backend, roles, store, monitor, redirects, service.SessionProviderConfig{
		KeyPrefix:        cfg.Session.KeyPrefix,
		BootstrapTimeout: cfg.Session.BootstrapTimeout,
		ChangeTimeout:    cfg.Session.ChangeTimeout,
		IdleTimeout:      cfg.Session.IdleTimeout,
	}, logger.For("session"))
	defer sessions.Close()

	audit := service.NewAuditService(backend, cfg.Audit.RecentLimit, cfg.Audit.ExportLimit, logger.For("audit"))
	dispatcher := queue.NewDispatcher(cfg.Audit.Workers, audit, logger.For("audit_dispatcher"))
	dispatcher.Start(ctx)
	defer dispatcher.Close()

	login := service.NewLoginFlow(sessions, store, dispatcher, logger.For("login"))

	state := sessions.Bootstrap(ctx)
	log.Info().
		Bool("signed_in", state.Session != nil).
		Str("role", string(state.Role)).
		Bool("loading", state.Loading).
		Msg("session bootstrapped")

	router := api.NewRouter(api.Dependencies{
		Login:      login,
		Sessions:   sessions,
		Redirects:  redirects,
		Audit:      audit,
		AuditQueue: dispatcher,
		Checks: map[string]handler.Checker{
			"redis":   store.Ping,
			"backend": backend.Ping,
		},
	}, logger.For("http"))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("driver", cfg.Backend.Driver).Msg("console listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newBackend builds the configured backend-as-a-service. The returned func
// releases its resources.
func newBackend(ctx context.Context, cfg *config.Config, store *redisdb.KeyStore, bus *notify.SessionBus) (ports.Backend, func(), error) {
	switch cfg.Backend.Driver {
	case config.DriverMongo:
		client, db, err := mongodb.Connect(ctx, mongodb.Config{URI: cfg.Mongo.URI, Database: cfg.Mongo.Database})
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() { _ = client.Disconnect(context.Background()) }
		if err := mongodb.EnsureIndexes(ctx, db); err != nil {
			closeFn()
			return nil, nil, err
		}

		auth := selfhosted.NewAuthenticator(mongodb.NewAuthRepository(db), cfg.Backend.JWTSecret, 24*time.Hour)
		backend := selfhosted.NewBackend(
			auth,
			mongodb.NewProfileRepository(db),
			mongodb.NewAuditLogRepository(db),
			store,
			bus,
			selfhosted.Config{
				KeyPrefix: cfg.Session.KeyPrefix,
				Retention: cfg.Audit.Retention,
				Ping:      func(ctx context.Context) error { return client.Ping(ctx, nil) },
			},
			logger.For("selfhosted"),
		)
		return backend, closeFn, nil

	default:
		client, err := supabase.New(supabase.Config{
			URL:       cfg.Backend.URL,
			AnonKey:   cfg.Backend.AnonKey,
			JWTSecret: cfg.Backend.JWTSecret,
			Timeout:   cfg.Backend.Timeout,
			KeyPrefix: cfg.Session.KeyPrefix,
		}, store, bus, logger.For("supabase"))
		if err != nil {
			return nil, nil, err
		}
		return client, func() {}, nil
	}
}
