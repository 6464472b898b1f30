package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/snipebot/internal/backtest"
	"github.com/alanyoungcy/snipebot/internal/command"
	"github.com/alanyoungcy/snipebot/internal/domain"
	"github.com/alanyoungcy/snipebot/internal/server"
	"github.com/alanyoungcy/snipebot/internal/server/handler"
	"github.com/alanyoungcy/snipebot/internal/server/ws"
)

// TradeMode runs the scanner and the position monitors, plus the HTTP server
// when enabled.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "app: starting trade mode")
	return a.runEngine(ctx, deps, false)
}

// FullMode runs everything TradeMode does plus the HTTP server, the daily
// trade archiver and the Telegram command bot.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "app: starting full mode")
	return a.runEngine(ctx, deps, true)
}

// MonitorMode serves the read-only API from the stores. No positions are
// opened or monitored.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "app: starting monitor mode")
	deps.announceDisabled(ctx)

	controller := newController(ctx, a.cfg, deps, a.logger)
	registry, err := newCommandRegistry(commandDeps{
		Mode:          a.cfg.Mode,
		Executor:      "none",
		Posture:       controller,
		Backtest:      a.backtestFunc(deps),
		DefaultSource: a.cfg.Backtest.Source,
		Audit:         deps.AuditStore,
		Logger:        a.logger,
	})
	if err != nil {
		return fmt.Errorf("app: commands: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	a.startServer(gctx, g, deps, serverParts{
		executor: "none",
		posture:  controller,
		commands: registry,
	})
	return g.Wait()
}

// BacktestMode replays the configured source once and logs the summary.
func (a *App) BacktestMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "app: starting backtest mode", slog.String("source", a.cfg.Backtest.Source))

	sum, err := a.backtestFunc(deps)(ctx, a.cfg.Backtest.Source)
	if err != nil {
		return fmt.Errorf("app: backtest: %w", err)
	}
	rejections := make([]any, 0, len(sum.Rejections))
	for reason, n := range sum.Rejections {
		rejections = append(rejections, slog.Int(string(reason), n))
	}
	a.logger.InfoContext(ctx, "app: backtest complete",
		slog.Int("trades", sum.Trades),
		slog.Int("wins", sum.Wins),
		slog.Float64("win_rate", sum.WinRate),
		slog.Float64("average_profit_usd", sum.AverageProfitUSD),
		slog.Float64("total_profit_usd", sum.TotalProfitUSD),
		slog.Group("rejections", rejections...),
	)
	return nil
}

// backtestFunc loads a source through the S3 reader when one is wired and
// replays it with the engine settings.
func (a *App) backtestFunc(deps *Dependencies) BacktestFunc {
	var opener backtest.Opener
	if deps.BlobReader != nil {
		opener = deps.BlobReader
	}
	return func(ctx context.Context, source string) (backtest.Summary, error) {
		snaps, err := backtest.Load(ctx, source, opener)
		if err != nil {
			return backtest.Summary{}, err
		}
		return backtest.NewRunner(backtestConfig(a.cfg), a.logger).Run(ctx, snaps)
	}
}

// runEngine builds the live engine, re-adopts positions left open by a
// previous run and supervises every goroutine with one errgroup. It returns
// after all monitors have stopped.
func (a *App) runEngine(ctx context.Context, deps *Dependencies, full bool) error {
	eng := a.buildEngine(ctx, deps)

	registry, err := newCommandRegistry(commandDeps{
		Mode:          a.cfg.Mode,
		Executor:      eng.Executor.Name(),
		Active:        eng.Manager,
		Posture:       eng.Controller,
		Scanner:       eng.Scheduler,
		Backtest:      a.backtestFunc(deps),
		DefaultSource: a.cfg.Backtest.Source,
		Audit:         deps.AuditStore,
		Logger:        a.logger,
	})
	if err != nil {
		return fmt.Errorf("app: commands: %w", err)
	}

	var bot *command.TelegramBot
	if full && a.cfg.Commands.TelegramEnabled {
		bot = a.newCommandBot(ctx, deps, registry)
	}
	if full && deps.Archiver == nil && deps.BlobWriter != nil {
		deps.disable(ctx, a.logger, "s3 archive", "postgres trade journal is not configured")
	}
	deps.announceDisabled(ctx)

	g, gctx := errgroup.WithContext(ctx)

	n, err := eng.Manager.Resume(gctx)
	if err != nil {
		a.logger.ErrorContext(ctx, "app: resume open positions failed", slog.String("error", err.Error()))
	} else if n > 0 {
		a.logger.InfoContext(ctx, "app: resumed open positions", slog.Int("count", n))
	}

	g.Go(func() error { return eng.Scheduler.Run(gctx) })

	if full || a.cfg.Server.Enabled {
		a.startServer(gctx, g, deps, serverParts{
			executor: eng.Executor.Name(),
			active:   eng.Manager,
			scanner:  eng.Scheduler,
			posture:  eng.Controller,
			commands: registry,
		})
	}

	if full && deps.Archiver != nil {
		retention := time.Duration(a.cfg.S3.ArchiveRetentionDays) * 24 * time.Hour
		g.Go(func() error {
			if err := deps.Archiver.RunDaily(gctx, retention, a.cfg.S3.ArchiveHourUTC); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	if bot != nil {
		g.Go(func() error { return bot.Run(gctx) })
	}

	err = g.Wait()
	eng.Manager.Wait()
	a.logger.InfoContext(ctx, "app: engine stopped", slog.Int("open_positions", len(eng.Manager.Active())))
	return err
}

// newCommandBot returns the Telegram command transport, or nil with the
// feature disabled when the bot token or chat id is missing.
func (a *App) newCommandBot(ctx context.Context, deps *Dependencies, registry *command.Registry) *command.TelegramBot {
	token := a.cfg.Notify.TelegramToken
	chatID, err := strconv.ParseInt(a.cfg.Notify.TelegramChatID, 10, 64)
	if token == "" || err != nil {
		deps.disable(ctx, a.logger, "command bot", "notify.telegram_token and a numeric notify.telegram_chat_id are required")
		return nil
	}
	return command.NewTelegramBot(a.cfg.Notify.TelegramAPIURL, token, chatID, registry, a.logger).
		WithPollTimeout(a.cfg.Commands.PollTimeout.Duration)
}

// serverParts are the engine pieces exposed over HTTP. active and scanner are
// nil in monitor mode.
type serverParts struct {
	executor string
	active   handler.ActivePositions
	scanner  handler.PauseState
	posture  handler.PostureSource
	commands handler.Dispatcher
}

// startServer adds the websocket hub and the HTTP server to g.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, p serverParts) {
	hub := ws.NewHub(deps.SignalBus, func() map[string]any {
		open := 0
		if p.active != nil {
			open = len(p.active.Active())
		}
		return map[string]any{
			"mode":           a.cfg.Mode,
			"executor":       p.executor,
			"open_positions": open,
		}
	}, a.logger)
	g.Go(func() error { return hub.Run(ctx) })

	var trades domain.TradeStore
	if deps.TradeStore != nil {
		trades = deps.TradeStore
	}
	rc := riskConfig(a.cfg.Engine)

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, server.Handlers{
		Health:    handler.NewHealthHandler(deps.HealthChecks, a.logger),
		Status:    handler.NewStatusHandler(a.cfg.Mode, p.executor, p.active, p.scanner),
		Positions: handler.NewPositionHandler(p.active, deps.PositionStore, a.logger),
		Trades:    handler.NewTradeHandler(trades, a.logger),
		Risk: handler.NewRiskHandler(p.posture, handler.RiskLimits{
			MaxTradesPerDay:     rc.MaxTradesPerDay,
			BaseSizeCeiling:     rc.BaseSizeCeiling,
			MaxSize:             rc.MaxSize(),
			LossStreakThreshold: a.cfg.Engine.LossStreakThreshold,
		}),
		Commands: handler.NewCommandHandler(p.commands, a.logger),
	}, hub, deps.RateLimiter, a.logger)

	g.Go(func() error { return srv.Run(ctx) })
}
