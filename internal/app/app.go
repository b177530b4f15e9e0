// Package app provides the top-level application lifecycle management for
// the matching engine daemon. It wires together storage, the matching
// engine, the height monitor, and the HTTP API, then runs them until the
// context is cancelled.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/clobx/clobd/internal/config"
)

// shutdownGrace bounds how long Run waits for in-flight requests and ticks
// to drain after the context is cancelled.
const shutdownGrace = 10 * time.Second

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, starts the matching engine, the height
// monitor, the WebSocket feed, and the HTTP server, and blocks until ctx is
// cancelled. It then shuts each of them down and returns the first error
// encountered, ignoring context.Canceled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application", slog.String("log_level", a.cfg.LogLevel))

	deps, cleanup, err := Wire(ctx, *a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	var wg sync.WaitGroup
	errs := make(chan error, 3)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := deps.Engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errs <- fmt.Errorf("app: matching engine: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := deps.Monitor.Run(ctx, a.cfg.Matching.TickInterval.Duration); err != nil && !errors.Is(err, context.Canceled) {
			errs <- fmt.Errorf("app: height monitor: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := deps.Hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errs <- fmt.Errorf("app: websocket hub: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := deps.Server.Start(); err != nil {
			errs <- fmt.Errorf("app: http server: %w", err)
		}
	}()

	<-ctx.Done()
	a.logger.InfoContext(ctx, "shutdown signal received, draining in-flight work")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := deps.Server.Shutdown(shutdownCtx); err != nil {
		a.logger.ErrorContext(ctx, "app: http server shutdown", slog.String("error", err.Error()))
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Close tears down all resources in reverse registration order. It is safe
// to call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
