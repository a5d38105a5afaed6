// Package app provides the top-level application lifecycle for moonbot. It
// wires together stores, caches, the exchange, the bots and notifications,
// then runs the scheduler next to the control API.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/moonbot/internal/config"
	"github.com/alanyoungcy/moonbot/internal/server"
	"github.com/alanyoungcy/moonbot/internal/server/handler"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
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

// Run wires all dependencies, starts the scheduler and the control API, and
// blocks until the context is cancelled or no bots are left.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("env", a.cfg.App.Env),
		slog.String("network", a.cfg.Exchange.Network),
		slog.String("log_level", a.cfg.App.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	runner := NewRunner(deps.Fleet, deps.LockManager, a.housekeeping(deps), deps.Notifier, RunnerConfig{
		WorkLoop:    a.cfg.Settings.WorkLoopDuration.Duration,
		AuditEvery:  a.cfg.Settings.AuditWalletFrequency,
		ErrorCutoff: a.cfg.Settings.ErrorCutoff,
		LeaseTTL:    a.cfg.Settings.LeaseTTL.Duration,
	}, a.logger)

	g, gctx := errgroup.WithContext(ctx)
	if a.cfg.Server.Enabled {
		srv := a.newServer(deps)
		g.Go(srv.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	g.Go(func() error {
		return runner.Run(gctx)
	})

	err = g.Wait()
	if errors.Is(err, ErrNoBots) {
		a.logger.Warn("all bots were shut off, exiting")
		return nil
	}
	return err
}

func (a *App) newServer(deps *Dependencies) *server.Server {
	return server.NewServer(server.Config{
		Addr:        a.cfg.Server.Addr,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
	}, server.Handlers{
		Health:  handler.NewHealthHandler(deps.Checks, a.logger),
		Status:  handler.NewStatusHandler(a.cfg.App.Env, time.Now(), deps.Bots, deps.Audits, deps.Audit, a.logger),
		Bots:    handler.NewBotHandler(deps.Bots, deps.Fills, a.logger),
		Catalog: handler.NewCatalogHandler(deps.Bots, a.logger),
	}, deps.RateLimiter, a.logger)
}

// housekeeping refreshes wallet balances, reports inventory, audits wallets
// against it and drops closed orders from the stream caches.
func (a *App) housekeeping(deps *Dependencies) func(ctx context.Context) {
	return func(ctx context.Context) {
		if err := deps.Wallets.RefreshAll(ctx, deps.Gateway); err != nil {
			a.logger.WarnContext(ctx, "wallet refresh incomplete", slog.String("error", err.Error()))
		}
		deps.Audits.InventoryReport(ctx)
		deps.Audits.Run(ctx)
		deps.MarketData.ClearClosedOrders()
	}
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
