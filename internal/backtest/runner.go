// Package backtest replays historical snapshots through the live filter,
// risk controller and position manager with a paper executor and a clock
// driven by the data.
package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/snipebot/internal/domain"
	"github.com/alanyoungcy/snipebot/internal/executor"
	"github.com/alanyoungcy/snipebot/internal/position"
	"github.com/alanyoungcy/snipebot/internal/qualify"
	"github.com/alanyoungcy/snipebot/internal/rate"
	"github.com/alanyoungcy/snipebot/internal/risk"
	"github.com/alanyoungcy/snipebot/internal/volatility"
)

// Config holds the replay parameters. They mirror the live engine settings.
type Config struct {
	Thresholds qualify.Thresholds
	Risk       risk.Config
	Position   position.Config
	ATRWindow  int
	Slippage   float64
	BaseUSD    float64
}

// Summary aggregates the closed trades of one replay.
type Summary struct {
	Trades           int                    `json:"trades"`
	Wins             int                    `json:"wins"`
	WinRate          float64                `json:"win_rate"`
	AverageProfitUSD float64                `json:"average_profit_usd"`
	TotalProfitUSD   float64                `json:"total_profit_usd"`
	Rejections       map[qualify.Reason]int `json:"rejections"`
	Records          []domain.TradeRecord   `json:"-"`
}

func (s Summary) String() string {
	return fmt.Sprintf("trades %d, wins %d (%.1f%%), avg $%.2f, total $%.2f",
		s.Trades, s.Wins, s.WinRate*100, s.AverageProfitUSD, s.TotalProfitUSD)
}

// Runner replays snapshots. Each Run starts from a fresh posture.
type Runner struct {
	cfg    Config
	logger *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(cfg Config, logger *slog.Logger) *Runner {
	return &Runner{cfg: cfg, logger: logger.With(slog.String("component", "backtest"))}
}

// Run replays snaps in order. Rows of an asset are evaluated until it is
// entered once; later rows only feed its monitor. Positions
// still open when the data ends are closed as timeouts at their last price.
func (r *Runner) Run(ctx context.Context, snaps []domain.AssetSnapshot) (Summary, error) {
	clk := &replayClock{}
	market := newReplayMarket()
	paper := executor.NewPaper(market, r.cfg.Slippage)
	controller := risk.NewController(r.cfg.Risk, r.logger, risk.WithClock(clk.Now))
	filter := qualify.NewFilter(r.cfg.Thresholds, safeOracle{}, r.logger, qualify.WithClock(clk.Now))
	manager := position.NewManager(r.cfg.Position, market, volatility.NewTracker(r.cfg.ATRWindow),
		safeOracle{}, paper, rate.Fixed(r.cfg.BaseUSD), controller, r.logger, position.WithClock(clk.Now))
	open := make(map[string]*domain.Position)
	entered := make(map[string]bool)
	sum := Summary{Rejections: make(map[qualify.Reason]int)}
	closePos := func(p *domain.Position, reason domain.ExitReason) error {
		rec, err := manager.Close(ctx, p, reason, p.LastPrice)
		if err != nil {
			return err
		}
		delete(open, p.AssetID)
		sum.Records = append(sum.Records, rec)
		return nil
	}

	for _, snap := range snaps {
		if err := ctx.Err(); err != nil {
			return Summary{}, err
		}
		clk.Set(snap.FetchedAt)
		market.Set(snap)

		if p, ok := open[snap.AssetID]; ok {
			if reason := manager.Observe(p, snap.PriceUSD, false, snap.FetchedAt); reason != domain.ExitNone {
				if err := closePos(p, reason); err != nil {
					return Summary{}, fmt.Errorf("backtest: close %s: %w", p.AssetID, err)
				}
			}
		} else if !entered[snap.AssetID] {
			if r.consider(ctx, snap, filter, controller, manager, open, &sum) {
				entered[snap.AssetID] = true
			}
		}

		for _, p := range sortedOpen(open) {
			if p.HoldingTime(snap.FetchedAt) >= r.cfg.Position.MaxHolding && r.cfg.Position.MaxHolding > 0 {
				if err := closePos(p, domain.ExitTimeout); err != nil {
					return Summary{}, fmt.Errorf("backtest: timeout %s: %w", p.AssetID, err)
				}
			}
		}
	}
	for _, p := range sortedOpen(open) {
		if err := closePos(p, domain.ExitTimeout); err != nil {
			return Summary{}, fmt.Errorf("backtest: final close %s: %w", p.AssetID, err)
		}
	}

	summarize(&sum)
	r.logger.InfoContext(ctx, "backtest: complete",
		slog.Int("rows", len(snaps)),
		slog.Int("trades", sum.Trades),
		slog.Float64("win_rate", sum.WinRate),
		slog.Float64("total_profit_usd", sum.TotalProfitUSD),
	)
	return sum, nil
}

// consider runs the entry path for one row and reports whether a position
// was opened.
func (r *Runner) consider(ctx context.Context, snap domain.AssetSnapshot, filter *qualify.Filter,
	controller *risk.Controller, manager *position.Manager, open map[string]*domain.Position, sum *Summary) bool {
	if !controller.CanEnter() {
		return false
	}
	d := filter.Evaluate(ctx, snap, controller.Posture())
	if !d.Pass {
		sum.Rejections[d.Reason]++
		return false
	}
	if !controller.Reserve(ctx) {
		return false
	}
	pos, err := manager.Open(ctx, d)
	if err != nil {
		r.logger.WarnContext(ctx, "backtest: entry failed", slog.String("asset", snap.AssetID), slog.String("error", err.Error()))
		return false
	}
	open[pos.AssetID] = &pos
	return true
}

func summarize(s *Summary) {
	total := decimal.Zero
	for _, rec := range s.Records {
		total = total.Add(decimal.NewFromFloat(rec.ProfitUSD))
		if rec.Win() {
			s.Wins++
		}
	}
	s.Trades = len(s.Records)
	s.TotalProfitUSD = total.Round(6).InexactFloat64()
	if s.Trades > 0 {
		n := decimal.NewFromInt(int64(s.Trades))
		s.AverageProfitUSD = total.Div(n).Round(6).InexactFloat64()
		s.WinRate = decimal.NewFromInt(int64(s.Wins)).Div(n).InexactFloat64()
	}
}

// sortedOpen returns open positions oldest first so closes are deterministic.
func sortedOpen(open map[string]*domain.Position) []*domain.Position {
	out := make([]*domain.Position, 0, len(open))
	for _, p := range open {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryTime.Before(out[j].EntryTime) })
	return out
}

type replayClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *replayClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *replayClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// replayMarket serves the most recent row seen for each asset.
type replayMarket struct {
	mu     sync.RWMutex
	latest map[string]domain.AssetSnapshot
}

func newReplayMarket() *replayMarket {
	return &replayMarket{latest: make(map[string]domain.AssetSnapshot)}
}

func (m *replayMarket) Set(s domain.AssetSnapshot) {
	m.mu.Lock()
	m.latest[s.AssetID] = s
	m.mu.Unlock()
}

func (m *replayMarket) Fetch(_ context.Context, assetID string) (domain.AssetSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.latest[assetID]
	if !ok {
		return domain.AssetSnapshot{}, fmt.Errorf("backtest: no row for %s: %w", assetID, domain.ErrUnavailable)
	}
	return s, nil
}

// safeOracle reports every asset safe; historical rows carry no safety data.
type safeOracle struct{}

func (safeOracle) IsUnsafe(context.Context, string) (bool, error) { return false, nil }
