// Package risk owns the process-wide trading posture: the daily trade quota,
// the loss streak and the reinvested position size.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/snipebot/internal/domain"
	"github.com/alanyoungcy/snipebot/internal/metrics"
)

// Config holds the sizing and quota parameters.
type Config struct {
	BaseSizeMin     float64
	BaseSizeCeiling float64
	ReinvestRatio   float64
	MaxTradesPerDay int
}

// DefaultConfig mirrors the engine defaults.
func DefaultConfig() Config {
	return Config{
		BaseSizeMin:     0.048387,
		BaseSizeCeiling: 0.048387,
		ReinvestRatio:   0.5,
		MaxTradesPerDay: 4,
	}
}

// MaxSize is the reinvestment cap.
func (c Config) MaxSize() float64 { return 2 * c.BaseSizeCeiling }

// Controller serializes every posture mutation behind one mutex. Posture
// snapshots are persisted after the lock is released.
type Controller struct {
	mu      sync.Mutex
	cfg     Config
	posture domain.RiskPosture

	store  domain.RiskStateStore
	logger *slog.Logger
	now    func() time.Time
}

// Option customises a Controller.
type Option func(*Controller)

// WithStore persists the posture after every change.
func WithStore(s domain.RiskStateStore) Option { return func(c *Controller) { c.store = s } }

// WithClock replaces time.Now for day rollover.
func WithClock(now func() time.Time) Option { return func(c *Controller) { c.now = now } }

// NewController creates a controller with a fresh posture.
func NewController(cfg Config, logger *slog.Logger, opts ...Option) *Controller {
	c := &Controller{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "risk")),
		now:    time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	c.posture = domain.RiskPosture{
		CurrentPositionSize: cfg.BaseSizeMin,
		LastTradeDate:       day(c.now()),
	}
	return c
}

// Restore loads a persisted posture. In-flight slots are not restored; see Adopt.
func (c *Controller) Restore(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	p, err := c.store.LoadPosture(ctx)
	if err != nil {
		return fmt.Errorf("risk: restore: %w", err)
	}
	c.mu.Lock()
	p.OpenPositions = 0
	if p.CurrentPositionSize <= 0 {
		p.CurrentPositionSize = c.cfg.BaseSizeMin
	}
	c.posture = p
	c.rollLocked()
	snap := c.posture
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "risk: posture restored",
		slog.Int("trades_today", snap.TradesToday),
		slog.Int("consecutive_losses", snap.ConsecutiveLosses),
		slog.Float64("position_size", snap.CurrentPositionSize),
	)
	c.publish(snap)
	return nil
}

// CanEnter reports whether a new entry fits in today's quota.
func (c *Controller) CanEnter() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollLocked()
	return c.hasRoomLocked()
}

// Reserve atomically checks the quota and claims a slot.
func (c *Controller) Reserve(ctx context.Context) bool {
	c.mu.Lock()
	c.rollLocked()
	if !c.hasRoomLocked() {
		c.mu.Unlock()
		return false
	}
	c.posture.OpenPositions++
	snap := c.posture
	c.mu.Unlock()

	c.persist(ctx, snap)
	return true
}

// Adopt claims n slots unconditionally for positions resumed after a restart.
func (c *Controller) Adopt(ctx context.Context, n int) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	c.rollLocked()
	c.posture.OpenPositions += n
	snap := c.posture
	c.mu.Unlock()
	c.persist(ctx, snap)
}

// Release returns a slot after a failed entry.
func (c *Controller) Release(ctx context.Context) {
	c.mu.Lock()
	if c.posture.OpenPositions > 0 {
		c.posture.OpenPositions--
	}
	snap := c.posture
	c.mu.Unlock()
	c.persist(ctx, snap)
}

// RecordOutcome closes a slot and applies the realized result. baseAssetUSD
// converts reinvested profit into base units.
func (c *Controller) RecordOutcome(ctx context.Context, profitUSD, baseAssetUSD float64) domain.RiskPosture {
	c.mu.Lock()
	c.rollLocked()
	if c.posture.OpenPositions > 0 {
		c.posture.OpenPositions--
	}
	c.posture.TradesToday++
	c.posture.LastTradeDate = day(c.now())
	if profitUSD > 0 {
		c.posture.ConsecutiveLosses = 0
		if baseAssetUSD > 0 {
			size := c.posture.CurrentPositionSize + profitUSD*c.cfg.ReinvestRatio/baseAssetUSD
			c.posture.CurrentPositionSize = min(size, c.cfg.MaxSize())
		}
	} else {
		c.posture.ConsecutiveLosses++
	}
	snap := c.posture
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "risk: outcome recorded",
		slog.Float64("profit_usd", profitUSD),
		slog.Int("trades_today", snap.TradesToday),
		slog.Int("consecutive_losses", snap.ConsecutiveLosses),
		slog.Float64("position_size", snap.CurrentPositionSize),
	)
	c.persist(ctx, snap)
	return snap
}

// Posture returns a copy of the current posture.
func (c *Controller) Posture() domain.RiskPosture {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollLocked()
	return c.posture
}

// CurrentSize returns the size for the next entry in base units.
func (c *Controller) CurrentSize() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.posture.CurrentPositionSize
}

func (c *Controller) hasRoomLocked() bool {
	return c.posture.TradesToday+c.posture.OpenPositions < c.cfg.MaxTradesPerDay
}

func (c *Controller) rollLocked() {
	now := c.now()
	today := day(now)
	if !today.Equal(day(c.posture.LastTradeDate.In(now.Location()))) {
		c.posture.TradesToday = 0
		c.posture.LastTradeDate = today
	}
}

func (c *Controller) persist(ctx context.Context, snap domain.RiskPosture) {
	c.publish(snap)
	if c.store == nil {
		return
	}
	if err := c.store.SavePosture(context.WithoutCancel(ctx), snap); err != nil {
		c.logger.WarnContext(ctx, "risk: persist posture failed", slog.String("error", err.Error()))
	}
}

func (c *Controller) publish(snap domain.RiskPosture) {
	metrics.TradesToday.Set(float64(snap.TradesToday))
	metrics.PositionSizeBase.Set(snap.CurrentPositionSize)
}

func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
