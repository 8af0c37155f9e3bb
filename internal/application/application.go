package application

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/eugenenazirov/trainconf/internal/api"
	"github.com/eugenenazirov/trainconf/internal/config"
	"github.com/eugenenazirov/trainconf/internal/storage"
	"github.com/eugenenazirov/trainconf/internal/watch"
)

// App encapsulates the application dependencies and HTTP server.
type App struct {
	storage storage.Storage
	handler *api.Handler
	router  http.Handler
	watcher *watch.Watcher
	logger  *zap.Logger
	server  *http.Server

	cancel context.CancelFunc
	done   chan struct{}
}

// New initializes the application with all dependencies from the provided configuration.
func New(cfg config.Config, logger *zap.Logger) (*App, error) {
	store, err := NewStorage(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	handler := api.NewHandler(store, api.WithStrict(cfg.Strict))
	router := api.NewRouter(handler, logger,
		api.WithLogging(cfg.EnableRequestLogging),
		api.WithMetrics(cfg.EnableMetrics),
		api.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
	)

	var watcher *watch.Watcher
	if cfg.ConfigDir != "" {
		watcher = watch.New(cfg.ConfigDir, store, logger.Named("watch"),
			watch.WithDebounce(cfg.WatchDebounce),
			watch.WithStrict(cfg.Strict),
		)
	}

	return &App{
		storage: store,
		handler: handler,
		router:  router,
		watcher: watcher,
		logger:  logger,
		server:  NewServer(cfg, router),
	}, nil
}

// NewStorage opens the SQLite store at cfg.StorePath, or an in-memory store
// when no path is configured.
func NewStorage(cfg config.Config) (storage.Storage, error) {
	if cfg.StorePath == "" {
		return storage.NewMemoryStorage(), nil
	}
	return storage.NewSQLiteStorage(cfg.StorePath)
}

// NewServer creates and configures an HTTP server from the provided configuration.
func NewServer(cfg config.Config, handler http.Handler) *http.Server {
	addr := cfg.Port
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}

	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
}

// Start launches the config watcher (when a config directory is configured)
// and the HTTP server in background goroutines. The watcher's initial scan
// completes before Start returns.
func (a *App) Start(ctx context.Context) error {
	if a.watcher != nil {
		if err := a.watcher.Scan(ctx); err != nil {
			return fmt.Errorf("initial config scan: %w", err)
		}

		watchCtx, cancel := context.WithCancel(ctx)
		a.cancel = cancel
		a.done = make(chan struct{})
		go func() {
			defer close(a.done)
			if err := a.watcher.Run(watchCtx); err != nil {
				a.logger.Error("config watcher failed", zap.Error(err))
			}
		}()
	}

	go func() {
		a.logger.Info("server listening", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Fatal("server error", zap.Error(err))
		}
	}()
	return nil
}

// Shutdown stops the HTTP server, then the watcher, then closes storage.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	if shutdownErr := a.server.Shutdown(ctx); shutdownErr != nil {
		a.logger.Warn("graceful shutdown failed", zap.Error(shutdownErr))
		err = multierr.Append(err, shutdownErr)
		if closeErr := a.server.Close(); closeErr != nil {
			err = multierr.Append(err, closeErr)
		}
	}

	if a.cancel != nil {
		a.cancel()
		select {
		case <-a.done:
		case <-ctx.Done():
			err = multierr.Append(err, fmt.Errorf("waiting for config watcher: %w", ctx.Err()))
		}
	}

	return multierr.Append(err, a.storage.Close())
}

// Server returns the HTTP server instance.
func (a *App) Server() *http.Server {
	return a.server
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler {
	return a.router
}

// Storage returns the configured store.
func (a *App) Storage() storage.Storage {
	return a.storage
}
