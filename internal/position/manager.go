// Package position runs the per-position lifecycle: entry through the trade
// executor, a monitor loop evaluating exits on every poll, and the exit that
// feeds the realized result back into the risk controller.
package position

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/snipebot/internal/domain"
	"github.com/alanyoungcy/snipebot/internal/metrics"
	"github.com/alanyoungcy/snipebot/internal/qualify"
	"github.com/alanyoungcy/snipebot/internal/risk"
	"github.com/alanyoungcy/snipebot/internal/safety"
	"github.com/alanyoungcy/snipebot/internal/volatility"
	"github.com/google/uuid"
)

// Fetcher returns the latest snapshot for an asset. Failures wrap
// domain.ErrUnavailable.
type Fetcher interface {
	Fetch(ctx context.Context, assetID string) (domain.AssetSnapshot, error)
}

// Notifier delivers operator notifications without blocking the caller.
type Notifier interface {
	Notify(ctx context.Context, kind domain.EventKind, title, message string)
}

// Config holds the monitor parameters.
type Config struct {
	PollInterval   time.Duration
	MaxHolding     time.Duration
	StopMultiplier float64
}

// Manager owns every open position. Each position is monitored by exactly one
// goroutine started through Launch or Resume.
type Manager struct {
	cfg      Config
	market   Fetcher
	tracker  *volatility.Tracker
	oracle   safety.Oracle
	exec     domain.TradeExecutor
	rates    domain.RateLookup
	risk     *risk.Controller
	logger   *slog.Logger
	now      func() time.Time
	notifier Notifier

	positions domain.PositionStore
	trades    domain.TradeStore
	bus       domain.SignalBus

	wg       sync.WaitGroup
	mu       sync.RWMutex
	open     map[string]domain.Position
	entering map[string]int // asset ID -> launches not yet through Open
}

// Option customises a Manager.
type Option func(*Manager)

// WithPositionStore persists every state change.
func WithPositionStore(s domain.PositionStore) Option { return func(m *Manager) { m.positions = s } }

// WithTradeStore journals closed trades.
func WithTradeStore(s domain.TradeStore) Option { return func(m *Manager) { m.trades = s } }

// WithSignalBus publishes lifecycle events on domain.PositionsChannel.
func WithSignalBus(b domain.SignalBus) Option { return func(m *Manager) { m.bus = b } }

// WithNotifier sends operator notifications.
func WithNotifier(n Notifier) Option { return func(m *Manager) { m.notifier = n } }

// WithClock replaces time.Now for entry, exit and holding times.
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// NewManager creates a Manager.
func NewManager(
	cfg Config,
	market Fetcher,
	tracker *volatility.Tracker,
	oracle safety.Oracle,
	exec domain.TradeExecutor,
	rates domain.RateLookup,
	controller *risk.Controller,
	logger *slog.Logger,
	opts ...Option,
) *Manager {
	m := &Manager{
		cfg:      cfg,
		market:   market,
		tracker:  tracker,
		oracle:   oracle,
		exec:     exec,
		rates:    rates,
		risk:     controller,
		logger:   logger.With(slog.String("component", "position")),
		now:      time.Now,
		open:     make(map[string]domain.Position),
		entering: make(map[string]int),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Launch enters a qualified candidate and monitors it in a new goroutine. The
// caller must already hold a quota reservation; it is released if the entry
// fails.
func (m *Manager) Launch(ctx context.Context, d qualify.Decision) {
	asset := d.Snapshot.AssetID
	m.mu.Lock()
	m.entering[asset]++
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		pos, err := m.Open(ctx, d)
		m.mu.Lock()
		if m.entering[asset]--; m.entering[asset] <= 0 {
			delete(m.entering, asset)
		}
		m.mu.Unlock()
		if err != nil {
			return
		}
		m.Monitor(ctx, pos)
	}()
}

// Wait blocks until every monitor goroutine has returned.
func (m *Manager) Wait() { m.wg.Wait() }

// Resume restarts monitors for positions left open by a previous run.
func (m *Manager) Resume(ctx context.Context) (int, error) {
	if m.positions == nil {
		return 0, nil
	}
	open, err := m.positions.ListOpen(ctx)
	if err != nil {
		return 0, fmt.Errorf("position: resume: %w", err)
	}
	m.risk.Adopt(ctx, len(open))
	for _, p := range open {
		m.tracker.Observe(p.AssetID, p.LastPrice)
		m.track(p)
		m.logger.InfoContext(ctx, "position: resumed",
			slog.String("position_id", p.ID),
			slog.String("asset", p.AssetID),
			slog.Float64("entry_price", p.EntryPrice),
		)
		m.wg.Add(1)
		go func(p domain.Position) {
			defer m.wg.Done()
			m.Monitor(ctx, p)
		}(p)
	}
	return len(open), nil
}

// Active returns copies of the positions currently monitored, oldest first.
func (m *Manager) Active() []domain.Position {
	m.mu.RLock()
	out := make([]domain.Position, 0, len(m.open))
	for _, p := range m.open {
		out = append(out, p)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].EntryTime.Before(out[j].EntryTime) })
	return out
}

// Holding reports whether a position in assetID is entering, open or
// exiting.
func (m *Manager) Holding(assetID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.entering[assetID] > 0 {
		return true
	}
	for _, p := range m.open {
		if p.AssetID == assetID {
			return true
		}
	}
	return false
}

// Open buys the current position size of the decision's asset. On any
// failure the reservation is released and the error is returned.
func (m *Manager) Open(ctx context.Context, d qualify.Decision) (domain.Position, error) {
	size := m.risk.CurrentSize()
	pos := domain.Position{
		ID:            uuid.New().String(),
		AssetID:       d.Snapshot.AssetID,
		EntrySizeBase: size,
		State:         domain.StateEntering,
		Executor:      m.exec.Name(),
	}

	start := time.Now()
	fill, err := m.exec.Buy(ctx, pos.AssetID, size)
	metrics.Since(metrics.ExecutorLatency.WithLabelValues(m.exec.Name(), "buy"), start)
	if err == nil && !fill.Filled {
		err = domain.ErrNotFilled
	}
	if err != nil {
		metrics.ExecutorFailures.WithLabelValues(m.exec.Name(), "buy").Inc()
		m.risk.Release(ctx)
		pos.State = domain.StateClosed
		kind := domain.EventEntryFailed
		if errors.Is(err, domain.ErrInsufficientFunds) {
			kind = domain.EventLowBalance
		}
		m.logger.WarnContext(ctx, "position: entry failed",
			slog.String("asset", pos.AssetID),
			slog.Float64("size", size),
			slog.String("error", err.Error()),
		)
		m.notify(ctx, kind, "Entry failed", fmt.Sprintf("%s: %v", pos.AssetID, err))
		return domain.Position{}, fmt.Errorf("position: buy %s: %w", pos.AssetID, err)
	}

	now := m.now()
	pos.EntryPrice = fill.Price
	if pos.EntryPrice <= 0 {
		pos.EntryPrice = d.Snapshot.PriceUSD
	}
	if fill.SizeBase > 0 {
		pos.EntrySizeBase = fill.SizeBase
	}
	pos.EntryTime = now
	pos.PeakPrice = pos.EntryPrice
	pos.LastPrice = pos.EntryPrice
	pos.GainMultiple = 1
	pos.State = domain.StateOpen
	pos.UpdatedAt = now
	m.tracker.Observe(pos.AssetID, pos.EntryPrice)

	m.track(pos)
	m.persist(ctx, pos)
	m.publish(ctx, domain.EventPositionOpened, pos)
	m.logger.InfoContext(ctx, "position: opened",
		slog.String("position_id", pos.ID),
		slog.String("asset", pos.AssetID),
		slog.Float64("entry_price", pos.EntryPrice),
		slog.Float64("size", pos.EntrySizeBase),
		slog.String("tx", fill.TxID),
	)
	m.notify(ctx, domain.EventPositionOpened, "Position opened",
		fmt.Sprintf("%s at %.8g, size %.6f", pos.AssetID, pos.EntryPrice, pos.EntrySizeBase))
	return pos, nil
}

// Monitor polls pos until an exit fires or ctx is cancelled. On cancellation
// the position is left open in the store. A position already Exiting only has
// its pending sell retried.
func (m *Manager) Monitor(ctx context.Context, pos domain.Position) {
	if pos.State == domain.StateExiting {
		reason := pos.ExitReason
		if reason == domain.ExitNone {
			reason = domain.ExitMonitoringLost
		}
		m.exit(ctx, &pos, reason, pos.LastPrice)
		return
	}

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	remaining := m.cfg.MaxHolding - pos.HoldingTime(m.now())
	if remaining < 0 {
		remaining = 0
	}
	deadline := time.NewTimer(remaining)
	defer deadline.Stop()

	degradedNotified := false
	for {
		var atDeadline bool
		select {
		case <-ctx.Done():
			m.suspend(ctx, pos)
			return
		case <-ticker.C:
		case <-deadline.C:
			atDeadline = true
		}

		snap, err := m.market.Fetch(ctx, pos.AssetID)
		if err != nil {
			if ctx.Err() != nil {
				m.suspend(ctx, pos)
				return
			}
			reason := domain.ExitMonitoringLost
			if atDeadline {
				reason = domain.ExitTimeout
			}
			m.logger.WarnContext(ctx, "position: monitoring lost",
				slog.String("position_id", pos.ID),
				slog.String("asset", pos.AssetID),
				slog.String("error", err.Error()),
			)
			if reason == domain.ExitMonitoringLost {
				m.notify(ctx, domain.EventMonitoringLost, "Monitoring lost", pos.AssetID)
			}
			m.exit(ctx, &pos, reason, pos.LastPrice)
			return
		}

		unsafe, err := m.oracle.IsUnsafe(ctx, pos.AssetID)
		if err != nil {
			m.logger.WarnContext(ctx, "position: safety degraded while monitoring",
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()),
			)
			if !degradedNotified {
				m.notify(ctx, domain.EventSafetyDegraded, "Safety degraded", pos.AssetID)
				degradedNotified = true
			}
		}

		reason := m.Observe(&pos, snap.PriceUSD, unsafe, m.now())
		if atDeadline && reason == domain.ExitNone {
			reason = domain.ExitTimeout
		}
		if reason != domain.ExitNone {
			m.exit(ctx, &pos, reason, pos.LastPrice)
			return
		}
		m.track(pos)
		m.persist(ctx, pos)
	}
}

// Observe applies one price tick to pos and returns the exit trigger, if any.
func (m *Manager) Observe(pos *domain.Position, price float64, unsafe bool, now time.Time) domain.ExitReason {
	vol := m.tracker.Observe(pos.AssetID, price)
	Apply(pos, price, vol, m.cfg.StopMultiplier)
	pos.UpdatedAt = now
	return EvaluateExit(unsafe, price, pos.TrailingStop, pos.HoldingTime(now), m.cfg.MaxHolding)
}

// Close sells pos at the given reason and reference price and reports the
// outcome. It panics when reason is ExitNone. When the sell is not confirmed
// the position is stored as Exiting, still holds its quota slot, and nothing
// is recorded against the risk controller; calling Close again retries it.
func (m *Manager) Close(ctx context.Context, pos *domain.Position, reason domain.ExitReason, price float64) (domain.TradeRecord, error) {
	if reason == domain.ExitNone {
		panic("position: close without an exit reason")
	}
	pos.State = domain.StateExiting
	pos.ExitReason = reason
	m.track(*pos)

	start := time.Now()
	fill, err := m.exec.Sell(ctx, pos.AssetID, pos.EntrySizeBase)
	metrics.Since(metrics.ExecutorLatency.WithLabelValues(m.exec.Name(), "sell"), start)
	if err == nil && !fill.Filled {
		err = domain.ErrNotFilled
	}
	if err != nil {
		metrics.ExecutorFailures.WithLabelValues(m.exec.Name(), "sell").Inc()
		pos.UpdatedAt = m.now()
		m.persist(ctx, *pos)
		return domain.TradeRecord{}, fmt.Errorf("position: sell %s: %w", pos.AssetID, err)
	}
	exitPrice := price
	if fill.Price > 0 {
		exitPrice = fill.Price
	}

	baseUSD, rerr := m.rates.BaseAssetUSD(ctx)
	if rerr != nil {
		m.logger.WarnContext(ctx, "position: rate lookup failed", slog.String("error", rerr.Error()))
	}
	now := m.now()
	pos.ExitPrice = exitPrice
	pos.ExitTime = &now
	pos.UpdatedAt = now
	pos.ProfitBase, pos.ProfitUSD = RealizedProfit(pos.EntryPrice, exitPrice, pos.EntrySizeBase, baseUSD)

	m.risk.RecordOutcome(ctx, pos.ProfitUSD, baseUSD)
	m.tracker.Forget(pos.AssetID)
	m.untrack(pos.ID)

	pos.State = domain.StateClosed
	m.persist(ctx, *pos)

	rec := domain.TradeRecord{
		ID:         uuid.New().String(),
		PositionID: pos.ID,
		AssetID:    pos.AssetID,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  exitPrice,
		SizeBase:   pos.EntrySizeBase,
		ProfitBase: pos.ProfitBase,
		ProfitUSD:  pos.ProfitUSD,
		BaseUSD:    baseUSD,
		ExitReason: reason,
		Executor:   pos.Executor,
		OpenedAt:   pos.EntryTime,
		ClosedAt:   now,
	}
	if m.trades != nil {
		if err := m.trades.Insert(context.WithoutCancel(ctx), rec); err != nil {
			m.logger.ErrorContext(ctx, "position: journal trade failed",
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	metrics.Exits.WithLabelValues(string(reason)).Inc()
	metrics.ObservePnL(pos.ProfitUSD)
	return rec, nil
}

// exit closes pos and keeps retrying an unconfirmed sell every poll interval
// until it fills or ctx is done. On cancellation the position stays Exiting
// in the store and Resume picks the retry up again.
func (m *Manager) exit(ctx context.Context, pos *domain.Position, reason domain.ExitReason, price float64) {
	// The sell must complete even while the process is shutting down.
	sellCtx := context.WithoutCancel(ctx)
	rec, err := m.Close(sellCtx, pos, reason, price)
	if err != nil {
		m.logger.ErrorContext(ctx, "position: exit not confirmed",
			slog.String("position_id", pos.ID),
			slog.String("asset", pos.AssetID),
			slog.String("reason", string(reason)),
			slog.String("error", err.Error()),
		)
		m.notify(sellCtx, domain.EventError, "Exit not confirmed", fmt.Sprintf("%s (%s): %v", pos.AssetID, reason, err))
		m.publish(sellCtx, domain.EventError, *pos)

		ticker := time.NewTicker(m.cfg.PollInterval)
		defer ticker.Stop()
		for err != nil {
			select {
			case <-ctx.Done():
				m.suspend(ctx, *pos)
				return
			case <-ticker.C:
			}
			if snap, ferr := m.market.Fetch(ctx, pos.AssetID); ferr == nil && snap.PriceUSD > 0 {
				price = snap.PriceUSD
				pos.LastPrice = price
			}
			if rec, err = m.Close(sellCtx, pos, reason, price); err != nil {
				m.logger.WarnContext(ctx, "position: exit retry failed",
					slog.String("position_id", pos.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	m.logger.InfoContext(ctx, "position: closed",
		slog.String("position_id", pos.ID),
		slog.String("asset", pos.AssetID),
		slog.String("reason", string(reason)),
		slog.Float64("exit_price", rec.ExitPrice),
		slog.Float64("gain_multiple", pos.GainMultiple),
		slog.Float64("profit_usd", rec.ProfitUSD),
	)
	kind := domain.EventPositionClosed
	if reason == domain.ExitRug {
		kind = domain.EventRugExit
	}
	m.publish(sellCtx, kind, *pos)
	m.notify(sellCtx, kind, "Position closed",
		fmt.Sprintf("%s %s at %.8g, profit %.2f USD", pos.AssetID, reason, rec.ExitPrice, rec.ProfitUSD))
}

// suspend leaves pos in the store, open or exiting, on shutdown.
func (m *Manager) suspend(ctx context.Context, pos domain.Position) {
	m.persist(ctx, pos)
	m.untrack(pos.ID)
	m.logger.InfoContext(ctx, "position: monitor stopped, position left open",
		slog.String("position_id", pos.ID),
		slog.String("asset", pos.AssetID),
		slog.Float64("last_price", pos.LastPrice),
	)
}

func (m *Manager) track(p domain.Position) {
	m.mu.Lock()
	m.open[p.ID] = p
	n := len(m.open)
	m.mu.Unlock()
	metrics.OpenPositions.Set(float64(n))
}

func (m *Manager) untrack(id string) {
	m.mu.Lock()
	delete(m.open, id)
	n := len(m.open)
	m.mu.Unlock()
	metrics.OpenPositions.Set(float64(n))
}

func (m *Manager) persist(ctx context.Context, p domain.Position) {
	if m.positions == nil {
		return
	}
	if err := m.positions.Upsert(context.WithoutCancel(ctx), p); err != nil {
		m.logger.WarnContext(ctx, "position: persist failed",
			slog.String("position_id", p.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (m *Manager) publish(ctx context.Context, kind domain.EventKind, p domain.Position) {
	if m.bus == nil {
		return
	}
	evt, err := json.Marshal(domain.PositionEvent{Kind: kind, Position: p})
	if err != nil {
		return
	}
	if err := m.bus.Publish(context.WithoutCancel(ctx), domain.PositionsChannel, evt); err != nil {
		m.logger.WarnContext(ctx, "position: publish event failed",
			slog.String("position_id", p.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (m *Manager) notify(ctx context.Context, kind domain.EventKind, title, message string) {
	if m.notifier != nil {
		m.notifier.Notify(ctx, kind, title, message)
	}
}
