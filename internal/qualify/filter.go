// Package qualify decides whether a snapshot meets the entry profile. Gates
// run in a fixed order and the first failure is reported.
package qualify

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/alanyoungcy/snipebot/internal/domain"
	"github.com/alanyoungcy/snipebot/internal/metrics"
	"github.com/alanyoungcy/snipebot/internal/safety"
)

// Reason names the gate that rejected a snapshot.
type Reason string

const (
	ReasonPass           Reason = "pass"
	ReasonMarketCap      Reason = "market_cap"
	ReasonLiquidity      Reason = "liquidity"
	ReasonLiquidityRatio Reason = "liquidity_ratio"
	ReasonVolume         Reason = "volume"
	ReasonAcceleration   Reason = "acceleration"
	ReasonVolatility     Reason = "short_term_volatility"
	ReasonPriceImpact    Reason = "price_impact"
	ReasonPoolAge        Reason = "pool_age"
	ReasonUnsafe         Reason = "unsafe"
	ReasonSafetyDegraded Reason = "safety_degraded"
)

// Thresholds configures the gates.
type Thresholds struct {
	MinMarketCap              float64
	MaxMarketCap              float64
	MinLiquidityUSD           float64
	MinLiquidityToCapRatio    float64
	MinVolume1h               float64
	MinAcceleration           float64
	MaxShortTermVolatilityPct float64
	MaxPriceImpact            float64
	MinPoolAge                time.Duration
	MaxPoolAge                time.Duration
	// LossStreakThreshold halves MaxMarketCap once reached. Zero disables it.
	LossStreakThreshold int
}

// DefaultThresholds mirrors the engine defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinMarketCap:              10_000,
		MaxMarketCap:              200_000,
		MinLiquidityUSD:           50_000,
		MinLiquidityToCapRatio:    0.1,
		MinVolume1h:               10_000,
		MinAcceleration:           0,
		MaxShortTermVolatilityPct: 15,
		MaxPriceImpact:            0.05,
		MinPoolAge:                60 * time.Second,
		MaxPoolAge:                6 * time.Hour,
		LossStreakThreshold:       3,
	}
}

// EffectiveMaxCap returns the market cap ceiling given the current loss streak.
func (t Thresholds) EffectiveMaxCap(consecutiveLosses int) float64 {
	if t.LossStreakThreshold > 0 && consecutiveLosses >= t.LossStreakThreshold {
		return t.MaxMarketCap / 2
	}
	return t.MaxMarketCap
}

// Decision is the outcome of Evaluate. Snapshot is carried forward on a pass.
type Decision struct {
	Pass     bool
	Reason   Reason
	Detail   string
	Snapshot domain.AssetSnapshot
}

// CheckMetrics runs the market gates (everything but safety) in order.
func CheckMetrics(s domain.AssetSnapshot, t Thresholds, consecutiveLosses int, now time.Time) (Reason, string) {
	maxCap := t.EffectiveMaxCap(consecutiveLosses)
	switch {
	case s.MarketCapUSD < t.MinMarketCap || s.MarketCapUSD > maxCap:
		return ReasonMarketCap, fmt.Sprintf("cap %.0f outside [%.0f, %.0f]", s.MarketCapUSD, t.MinMarketCap, maxCap)
	case s.LiquidityUSD < t.MinLiquidityUSD:
		return ReasonLiquidity, fmt.Sprintf("liquidity %.0f < %.0f", s.LiquidityUSD, t.MinLiquidityUSD)
	case s.LiquidityToCapRatio() < t.MinLiquidityToCapRatio:
		return ReasonLiquidityRatio, fmt.Sprintf("ratio %.3f < %.3f", s.LiquidityToCapRatio(), t.MinLiquidityToCapRatio)
	case s.Volume1hUSD < t.MinVolume1h:
		return ReasonVolume, fmt.Sprintf("volume %.0f < %.0f", s.Volume1hUSD, t.MinVolume1h)
	case s.AccelerationPerMin() < t.MinAcceleration:
		return ReasonAcceleration, fmt.Sprintf("acceleration %.4f < %.4f", s.AccelerationPerMin(), t.MinAcceleration)
	case math.Abs(s.PriceChange5mPct) > t.MaxShortTermVolatilityPct:
		return ReasonVolatility, fmt.Sprintf("|m5| %.2f%% > %.2f%%", s.PriceChange5mPct, t.MaxShortTermVolatilityPct)
	case math.Abs(s.PriceChange5mPct)/100 > t.MaxPriceImpact:
		return ReasonPriceImpact, fmt.Sprintf("impact %.4f > %.4f", math.Abs(s.PriceChange5mPct)/100, t.MaxPriceImpact)
	}
	if age, ok := s.Age(now); ok && (age < t.MinPoolAge || age > t.MaxPoolAge) {
		return ReasonPoolAge, fmt.Sprintf("age %s outside [%s, %s]", age.Truncate(time.Second), t.MinPoolAge, t.MaxPoolAge)
	}
	return ReasonPass, ""
}

// Filter applies the market gates and then the safety oracle.
type Filter struct {
	thresholds Thresholds
	oracle     safety.Oracle
	logger     *slog.Logger
	now        func() time.Time
}

// Option customises a Filter.
type Option func(*Filter)

// WithClock replaces time.Now for pool age checks.
func WithClock(now func() time.Time) Option { return func(f *Filter) { f.now = now } }

// NewFilter creates a filter.
func NewFilter(t Thresholds, oracle safety.Oracle, logger *slog.Logger, opts ...Option) *Filter {
	f := &Filter{
		thresholds: t,
		oracle:     oracle,
		logger:     logger.With(slog.String("component", "qualify")),
		now:        time.Now,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Thresholds returns the configured thresholds.
func (f *Filter) Thresholds() Thresholds { return f.thresholds }

// Evaluate runs every gate against s. The safety oracle is only consulted
// once the market gates pass; a degraded oracle rejects.
func (f *Filter) Evaluate(ctx context.Context, s domain.AssetSnapshot, posture domain.RiskPosture) Decision {
	d := Decision{Snapshot: s}
	d.Reason, d.Detail = CheckMetrics(s, f.thresholds, posture.ConsecutiveLosses, f.now())
	if d.Reason == ReasonPass {
		unsafe, err := f.oracle.IsUnsafe(ctx, s.AssetID)
		switch {
		case err != nil:
			d.Reason, d.Detail = ReasonSafetyDegraded, err.Error()
		case unsafe:
			d.Reason = ReasonUnsafe
		default:
			d.Pass = true
		}
	}
	metrics.FilterDecisions.WithLabelValues(string(d.Reason)).Inc()
	f.logger.DebugContext(ctx, "qualify: decision",
		slog.String("asset", s.AssetID),
		slog.String("reason", string(d.Reason)),
		slog.String("detail", d.Detail),
	)
	return d
}
