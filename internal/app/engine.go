package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alanyoungcy/snipebot/internal/backtest"
	"github.com/alanyoungcy/snipebot/internal/config"
	"github.com/alanyoungcy/snipebot/internal/crypto"
	"github.com/alanyoungcy/snipebot/internal/domain"
	"github.com/alanyoungcy/snipebot/internal/executor"
	"github.com/alanyoungcy/snipebot/internal/marketdata"
	"github.com/alanyoungcy/snipebot/internal/platform/dexscreener"
	"github.com/alanyoungcy/snipebot/internal/platform/solanafm"
	"github.com/alanyoungcy/snipebot/internal/platform/verdict"
	"github.com/alanyoungcy/snipebot/internal/position"
	"github.com/alanyoungcy/snipebot/internal/qualify"
	"github.com/alanyoungcy/snipebot/internal/rate"
	"github.com/alanyoungcy/snipebot/internal/retry"
	"github.com/alanyoungcy/snipebot/internal/risk"
	"github.com/alanyoungcy/snipebot/internal/safety"
	"github.com/alanyoungcy/snipebot/internal/scanner"
	"github.com/alanyoungcy/snipebot/internal/volatility"
)

// Engine is the live decision-and-risk pipeline: scanner, filter, risk
// controller and position manager around one executor.
type Engine struct {
	Gateway    *marketdata.Gateway
	Oracle     safety.Oracle
	Filter     *qualify.Filter
	Controller *risk.Controller
	Executor   domain.TradeExecutor
	Manager    *position.Manager
	Scheduler  *scanner.Scheduler
}

func thresholds(e config.EngineConfig) qualify.Thresholds {
	return qualify.Thresholds{
		MinMarketCap:              e.MinMarketCap,
		MaxMarketCap:              e.MaxMarketCap,
		MinLiquidityUSD:           e.MinLiquidityUSD,
		MinLiquidityToCapRatio:    e.MinLiquidityToCapRatio,
		MinVolume1h:               e.MinVolume1h,
		MinAcceleration:           e.MinAcceleration,
		MaxShortTermVolatilityPct: e.MaxShortTermVolatilityPct,
		MaxPriceImpact:            e.MaxPriceImpact,
		MinPoolAge:                time.Duration(e.MinPoolAgeSeconds) * time.Second,
		MaxPoolAge:                time.Duration(e.MaxPoolAgeSeconds) * time.Second,
		LossStreakThreshold:       e.LossStreakThreshold,
	}
}

func riskConfig(e config.EngineConfig) risk.Config {
	return risk.Config{
		BaseSizeMin:     e.BaseSizeMin,
		BaseSizeCeiling: e.BaseSizeCeiling,
		ReinvestRatio:   e.ReinvestRatio,
		MaxTradesPerDay: e.MaxTradesPerDay,
	}
}

func positionConfig(e config.EngineConfig) position.Config {
	return position.Config{
		PollInterval:   time.Duration(e.PollIntervalSeconds) * time.Second,
		MaxHolding:     time.Duration(e.MaxHoldingSeconds) * time.Second,
		StopMultiplier: e.TrailingStopMultiplier,
	}
}

func backtestConfig(cfg *config.Config) backtest.Config {
	return backtest.Config{
		Thresholds: thresholds(cfg.Engine),
		Risk:       riskConfig(cfg.Engine),
		Position:   positionConfig(cfg.Engine),
		ATRWindow:  cfg.Engine.ATRWindow,
		Slippage:   cfg.Executor.Slippage,
		BaseUSD:    cfg.Engine.FallbackBaseUSD,
	}
}

// newController builds the risk controller and restores the persisted
// posture. A missing or unreadable posture starts fresh.
func newController(ctx context.Context, cfg *config.Config, deps *Dependencies, logger *slog.Logger) *risk.Controller {
	var opts []risk.Option
	if deps.RiskState != nil {
		opts = append(opts, risk.WithStore(deps.RiskState))
	}
	c := risk.NewController(riskConfig(cfg.Engine), logger, opts...)
	if err := c.Restore(ctx); err != nil && !errors.Is(err, domain.ErrNotFound) {
		logger.WarnContext(ctx, "app: risk posture not restored", slog.String("error", err.Error()))
	}
	return c
}

// newOracle composes the configured safety sources behind a verdict cache.
func newOracle(cfg config.SafetyConfig, policy retry.Policy, logger *slog.Logger) safety.Oracle {
	var sources []safety.Named
	if cfg.SolanaFMURL != "" {
		sources = append(sources, safety.Named{
			Name: "solanafm",
			Oracle: safety.NewEventLogOracle(
				solanafm.NewClient(cfg.SolanaFMURL, cfg.SolanaFMAPIKey),
				cfg.EventThresholds, cfg.Lookback.Duration, policy),
		})
	}
	if cfg.VerdictURLTemplate != "" {
		sources = append(sources, safety.Named{
			Name: "verdict",
			Oracle: safety.NewVerdictOracle(verdict.NewClient(verdict.Config{
				URLTemplate:  cfg.VerdictURLTemplate,
				Field:        cfg.VerdictField,
				APIKeyHeader: cfg.VerdictAPIKeyHeader,
				APIKey:       cfg.VerdictAPIKey,
			}), policy),
		})
	}
	var oracle safety.Oracle = safety.NewComposite(logger, sources...)
	if cfg.CacheTTL.Duration > 0 {
		oracle = safety.NewCached(oracle, cfg.CacheTTL.Duration)
	}
	return oracle
}

// newExecutor returns the relay executor when its credentials are present and
// the paper executor otherwise. Either is wrapped with bounded retries.
func (a *App) newExecutor(ctx context.Context, deps *Dependencies, prices executor.PriceSource) domain.TradeExecutor {
	policy := retry.Policy{
		MaxAttempts: a.cfg.Executor.RetryAttempts,
		BaseDelay:   a.cfg.Executor.RetryDelay.Duration,
		MaxDelay:    30 * time.Second,
	}

	var inner domain.TradeExecutor
	switch a.cfg.Executor.Kind {
	case "relay":
		rc := a.cfg.Relay
		if rc.BaseURL == "" || rc.APIKey == "" {
			deps.disable(ctx, a.logger, "relay executor", "relay.base_url and relay.api_key are required")
			break
		}
		secret, err := crypto.LoadSecret(crypto.SecretConfig{
			Raw:           rc.APISecret,
			EncryptedPath: rc.EncryptedSecretPath,
			Password:      rc.SecretPassword,
		})
		if err != nil {
			deps.disable(ctx, a.logger, "relay executor", err.Error())
			break
		}
		inner = executor.NewRelay(executor.RelayConfig{
			BaseURL:        rc.BaseURL,
			Auth:           crypto.HMACAuth{Key: rc.APIKey, Secret: secret},
			Slippage:       a.cfg.Executor.Slippage,
			MinBaseBalance: rc.MinBaseBalance,
			Timeout:        rc.Timeout.Duration,
		}, a.logger)
	}
	if inner == nil {
		if a.cfg.Executor.Kind != "paper" {
			a.logger.WarnContext(ctx, "app: falling back to paper executor")
		}
		inner = executor.NewPaper(prices, a.cfg.Executor.Slippage)
	}
	return executor.NewRetrying(inner, policy, a.logger)
}

// buildEngine assembles the live pipeline from cfg and deps.
func (a *App) buildEngine(ctx context.Context, deps *Dependencies) *Engine {
	cfg := a.cfg
	md := cfg.MarketData
	policy := retry.Policy{MaxAttempts: md.RetryAttempts, BaseDelay: md.RetryBaseDelay.Duration, MaxDelay: 30 * time.Second}

	dex := dexscreener.NewClient(md.BaseURL, md.Chain)

	var gwOpts []marketdata.Option
	if deps.SnapshotCache != nil {
		gwOpts = append(gwOpts, marketdata.WithSharedCache(deps.SnapshotCache))
	}
	if deps.RateLimiter != nil && md.RateLimit > 0 {
		gwOpts = append(gwOpts, marketdata.WithRateLimiter(deps.RateLimiter))
	}
	gateway := marketdata.NewGateway(dex, marketdata.Config{
		Freshness:  md.Freshness.Duration,
		Retry:      policy,
		RateLimit:  md.RateLimit,
		RateWindow: md.RateWindow.Duration,
		MaxEntries: md.MaxEntries,
	}, a.logger, gwOpts...)

	oracle := newOracle(cfg.Safety, policy, a.logger)
	filter := qualify.NewFilter(thresholds(cfg.Engine), oracle, a.logger)
	controller := newController(ctx, cfg, deps, a.logger)

	var rates domain.RateLookup = rate.Fixed(cfg.Engine.FallbackBaseUSD)
	if cfg.Engine.BaseUSDPair != "" {
		rates = rate.NewLookup(dex, cfg.Engine.BaseUSDPair, cfg.Engine.FallbackBaseUSD,
			cfg.Engine.RateCacheTTL.Duration, policy, a.logger)
	}

	exec := a.newExecutor(ctx, deps, gateway)

	mgrOpts := []position.Option{position.WithNotifier(deps.Notifier)}
	if deps.PositionStore != nil {
		mgrOpts = append(mgrOpts, position.WithPositionStore(deps.PositionStore))
	}
	if deps.TradeStore != nil {
		mgrOpts = append(mgrOpts, position.WithTradeStore(deps.TradeStore))
	}
	if deps.SignalBus != nil {
		mgrOpts = append(mgrOpts, position.WithSignalBus(deps.SignalBus))
	}
	manager := position.NewManager(positionConfig(cfg.Engine), gateway,
		volatility.NewTracker(cfg.Engine.ATRWindow), oracle, exec, rates, controller, a.logger, mgrOpts...)

	var schedOpts []scanner.Option
	if deps.LockManager != nil {
		schedOpts = append(schedOpts, scanner.WithLockManager(deps.LockManager))
	}
	scheduler := scanner.NewScheduler(scanner.Config{
		Interval:         cfg.Scanner.Interval.Duration,
		Fallback:         cfg.Scanner.Fallback,
		DedupResetCycles: cfg.Scanner.DedupResetCycles,
		LockKey:          cfg.Scanner.LockKey,
		LockTTL:          cfg.Scanner.LockTTL.Duration,
		Retry:            policy,
	}, dex, gateway, filter, controller, manager, a.logger, schedOpts...)

	return &Engine{
		Gateway:    gateway,
		Oracle:     oracle,
		Filter:     filter,
		Controller: controller,
		Executor:   exec,
		Manager:    manager,
		Scheduler:  scheduler,
	}
}
