package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"

	httpapi "github.com/aussiebroadwan/watchlist/internal/auth/http"
	"github.com/aussiebroadwan/watchlist/internal/auth/cache"
	"github.com/aussiebroadwan/watchlist/internal/auth/domain"
	"github.com/aussiebroadwan/watchlist/internal/auth/metrics"
	"github.com/aussiebroadwan/watchlist/internal/auth/provider"
	"github.com/aussiebroadwan/watchlist/internal/auth/service"
	"github.com/aussiebroadwan/watchlist/internal/auth/state"
	"github.com/aussiebroadwan/watchlist/internal/auth/store"
	"github.com/aussiebroadwan/watchlist/internal/auth/store/drivers/sqlite"
	"github.com/aussiebroadwan/watchlist/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags. Later problem
	BuildVersion = "v0.1.0"

	// providerStartupTimeout bounds discovery retries at boot.
	providerStartupTimeout = 30 * time.Second
)

// Application owns every long-lived instance: the stores, the provider, the
// housekeeping ticker and the HTTP server. Nothing is kept in package state.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db       store.Store
	provider provider.Provider
	cache    *cache.Cache
	states   *state.Store
	metrics  *metrics.Metrics

	sessionService      *service.SessionService
	userService         *service.UserService
	housekeepingService *service.HousekeepingService

	server *http.Server
	router *httpapi.Router
}

// New creates a new Application instance with all dependencies initialized
func New(cfg Config) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "watchlist-auth",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
			Output:  cfg.LogOutput,
		}),
	}

	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), providerStartupTimeout)
	defer cancel()
	if err := app.initProvider(ctx); err != nil {
		_ = app.db.Close()
		return nil, err
	}

	if err := app.initServices(); err != nil {
		_ = app.db.Close()
		return nil, err
	}
	app.initHTTP()

	return app, nil
}

// Handler is the fully wired HTTP handler, for embedding and tests.
func (app *Application) Handler() http.Handler { return app.router }

// Run starts the application and blocks until shutdown is requested
func (app *Application) Run() error {
	app.housekeepingService.Start()

	app.logger.Info("auth service starting",
		"port", app.cfg.Port,
		"version", BuildVersion,
		"provider", app.provider.Name(),
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		app.housekeepingService.Stop()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)
		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown stops the server, the housekeeping ticker and the database. The
// in-memory cache and state store are dropped with the process.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down auth service...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeepingService.Stop()

	stats := app.cache.Stats()
	app.logger.Info("cache released",
		"entries", stats.Size,
		"hit_rate", stats.HitRate,
		"pending_states", app.states.Len(),
	)

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("auth service stopped")
	return nil
}

// initDatabase opens the user directory and applies migrations
func (app *Application) initDatabase() error {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)", app.cfg.DatabaseFile)
	db, err := sqlite.NewStore(dsn)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully", "file", app.cfg.DatabaseFile)
	return nil
}

// initProvider builds the configured identity provider. Remote providers are
// discovered with backoff so the service can start alongside its IdP.
func (app *Application) initProvider(ctx context.Context) error {
	build := func(ctx context.Context) (provider.Provider, error) {
		switch app.cfg.Provider {
		case ProviderOIDC:
			return provider.NewOIDC(ctx, provider.OIDCConfig{
				Issuer:       app.cfg.OIDCIssuer,
				ClientID:     app.cfg.OIDCClientID,
				ClientSecret: app.cfg.OIDCClientSecret,
				AdminGroup:   app.cfg.OIDCAdminGroup,
			})
		case ProviderBarTab:
			return provider.NewBarTab(ctx, provider.BarTabConfig{
				BaseURL:  app.cfg.BarTabURL,
				ClientID: app.cfg.BarTabClientID,
			})
		default:
			return provider.NewMock(provider.MockConfig{
				Secret:  app.cfg.MockSecret,
				Subject: app.cfg.MockSubject,
				Email:   app.cfg.MockEmail,
				Admin:   app.cfg.MockAdmin,
			})
		}
	}

	p, err := backoff.Retry(ctx, func() (provider.Provider, error) {
		p, err := build(ctx)
		if err != nil && !errors.Is(err, domain.ErrProviderUnavailable) {
			return nil, backoff.Permanent(err)
		}
		return p, err
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithNotify(func(err error, next time.Duration) {
			app.logger.Warn("identity provider not reachable, retrying", "provider", app.cfg.Provider, "in", next, "err", err)
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize %s provider: %w", app.cfg.Provider, err)
	}

	app.provider = p
	app.logger.Info("identity provider ready", "provider", p.Name())
	return nil
}

// initServices builds the stores and the services on top of them
func (app *Application) initServices() error {
	var err error
	app.cache, err = cache.New(cache.Config{
		MaxSize:    app.cfg.CacheMaxSize,
		DefaultTTL: app.cfg.CacheTTL,
		Logger:     app.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create validation cache: %w", err)
	}

	app.states, err = state.New(state.Config{
		MaxSize:      app.cfg.StateMaxSize,
		TTL:          app.cfg.StateTTL,
		AllowedHosts: app.cfg.AllowedHosts,
	})
	if err != nil {
		return fmt.Errorf("failed to create state store: %w", err)
	}

	app.metrics, err = metrics.New(metrics.Config{
		Cache:        app.cache,
		States:       app.states,
		GoCollectors: true,
	})
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	retries := app.cfg.UpstreamRetries
	app.sessionService, err = service.NewSessionService(service.SessionConfig{
		Provider:        app.provider,
		Cache:           app.cache,
		States:          app.states,
		Store:           app.db,
		RedirectURI:     app.cfg.RedirectURI,
		ServerPKCE:      app.cfg.ServerPKCE,
		UpstreamTimeout: app.cfg.UpstreamTimeout,
		UpstreamRetries: &retries,
		Observer:        app.metrics,
	})
	if err != nil {
		return err
	}

	app.userService = &service.UserService{Store: app.db, Cache: app.cache}

	app.housekeepingService = service.NewHousekeepingService(
		map[string]service.Sweeper{"cache": app.cache, "states": app.states},
		app.logger,
		app.cfg.CleanupInterval,
	)
	return nil
}

// initHTTP initializes the HTTP router and server
func (app *Application) initHTTP() {
	router := httpapi.NewRouter(BuildVersion, app.db, app.metrics, app.logger)

	router.SessionService = app.sessionService
	router.UserService = app.userService
	router.Cache = app.cache
	router.States = app.states
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
