// Package app wires stores, caches, blob storage, notifications and the
// trading engine for one process, and runs the configured operating mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/snipebot/internal/config"
)

// modeFunc runs one operating mode until ctx is done or the mode finishes.
type modeFunc func(a *App, ctx context.Context, deps *Dependencies) error

var modes = map[string]modeFunc{
	"trade":    (*App).TradeMode,
	"monitor":  (*App).MonitorMode,
	"backtest": (*App).BacktestMode,
	"full":     (*App).FullMode,
}

// App owns the configuration, the component logger and the cleanup stack.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates an App. Nothing is connected until Run.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires dependencies and blocks in the configured mode. Backends opened
// here are released by Close, not by Run.
func (a *App) Run(ctx context.Context) error {
	mode := strings.ToLower(a.cfg.Mode)
	run, ok := modes[mode]
	if !ok {
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
	a.logger.InfoContext(ctx, "app: starting", slog.String("mode", mode))

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)
	return run(a, ctx, deps)
}

// Close runs cleanups newest first. Later calls do nothing.
func (a *App) Close() {
	if len(a.closers) == 0 {
		return
	}
	a.logger.Info("app: shutting down")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
