// Package safety answers "is this asset unsafe" from one or more external
// risk signals. An unreachable source is reported as
// domain.ErrSafetyDegraded, never as a safe verdict.
package safety

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/snipebot/internal/cache/memory"
	"github.com/alanyoungcy/snipebot/internal/domain"
	"github.com/alanyoungcy/snipebot/internal/metrics"
	"github.com/alanyoungcy/snipebot/internal/platform/solanafm"
	"github.com/alanyoungcy/snipebot/internal/retry"
)

// Oracle reports whether an asset is unsafe. A returned error wraps
// domain.ErrSafetyDegraded.
type Oracle interface {
	IsUnsafe(ctx context.Context, assetID string) (bool, error)
}

// EventSource lists recent on-chain events for an asset.
type EventSource interface {
	Events(ctx context.Context, address string) ([]solanafm.Event, error)
}

// DefaultEventThresholds flags large liquidity pulls, burns and transfers.
func DefaultEventThresholds() map[string]float64 {
	return map[string]float64{
		"LIQUIDITY_WITHDRAWAL": 8000,
		"TOKEN_BURN":           8000,
		"TRANSFER":             800000,
	}
}

// EventLogOracle flags an asset when an event of a watched type exceeds its
// absolute amount threshold inside the lookback window.
type EventLogOracle struct {
	source     EventSource
	thresholds map[string]float64
	lookback   time.Duration
	policy     retry.Policy
	now        func() time.Time
}

// NewEventLogOracle creates an event-log oracle. A zero lookback considers
// every returned event; events without a timestamp are always considered.
func NewEventLogOracle(source EventSource, thresholds map[string]float64, lookback time.Duration, policy retry.Policy) *EventLogOracle {
	norm := make(map[string]float64, len(thresholds))
	for k, v := range thresholds {
		norm[strings.ToUpper(k)] = v
	}
	return &EventLogOracle{source: source, thresholds: norm, lookback: lookback, policy: policy, now: time.Now}
}

// IsUnsafe implements Oracle.
func (o *EventLogOracle) IsUnsafe(ctx context.Context, assetID string) (bool, error) {
	events, err := retry.Do(ctx, o.policy, func(ctx context.Context) ([]solanafm.Event, error) {
		start := time.Now()
		ev, err := o.source.Events(ctx, assetID)
		metrics.Since(metrics.UpstreamLatency.WithLabelValues("safety_events"), start)
		return ev, err
	})
	if err != nil {
		return false, fmt.Errorf("safety: events %s: %w: %w", assetID, domain.ErrSafetyDegraded, err)
	}
	cutoff := time.Time{}
	if o.lookback > 0 {
		cutoff = o.now().Add(-o.lookback)
	}
	for _, e := range events {
		limit, watched := o.thresholds[e.Type]
		if !watched {
			continue
		}
		if e.Timestamp != nil && !cutoff.IsZero() && e.Timestamp.Before(cutoff) {
			continue
		}
		if e.Amount > limit {
			return true, nil
		}
	}
	return false, nil
}

// VerdictSource answers a boolean-like verdict for an asset.
type VerdictSource interface {
	Unsafe(ctx context.Context, address string) (bool, error)
}

// VerdictOracle adapts a VerdictSource with retries.
type VerdictOracle struct {
	source VerdictSource
	policy retry.Policy
}

// NewVerdictOracle creates a verdict oracle.
func NewVerdictOracle(source VerdictSource, policy retry.Policy) *VerdictOracle {
	return &VerdictOracle{source: source, policy: policy}
}

// IsUnsafe implements Oracle.
func (o *VerdictOracle) IsUnsafe(ctx context.Context, assetID string) (bool, error) {
	unsafe, err := retry.Do(ctx, o.policy, func(ctx context.Context) (bool, error) {
		start := time.Now()
		v, err := o.source.Unsafe(ctx, assetID)
		metrics.Since(metrics.UpstreamLatency.WithLabelValues("safety_verdict"), start)
		return v, err
	})
	if err != nil {
		return false, fmt.Errorf("safety: verdict %s: %w: %w", assetID, domain.ErrSafetyDegraded, err)
	}
	return unsafe, nil
}

// Named pairs an oracle with a label for logs.
type Named struct {
	Name   string
	Oracle Oracle
}

// Composite combines independent sources: any unsafe answer wins, and the
// result is degraded only when no source answered.
type Composite struct {
	sources []Named
	logger  *slog.Logger
}

// NewComposite creates a composite oracle.
func NewComposite(logger *slog.Logger, sources ...Named) *Composite {
	return &Composite{sources: sources, logger: logger.With(slog.String("component", "safety"))}
}

// IsUnsafe implements Oracle.
func (c *Composite) IsUnsafe(ctx context.Context, assetID string) (bool, error) {
	if len(c.sources) == 0 {
		return false, fmt.Errorf("safety: no sources configured: %w", domain.ErrSafetyDegraded)
	}
	var (
		answered int
		errs     []error
	)
	for _, s := range c.sources {
		unsafe, err := s.Oracle.IsUnsafe(ctx, assetID)
		if err != nil {
			c.logger.WarnContext(ctx, "safety: source unreachable",
				slog.String("source", s.Name),
				slog.String("asset", assetID),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
			continue
		}
		answered++
		if unsafe {
			c.logger.InfoContext(ctx, "safety: asset flagged",
				slog.String("source", s.Name),
				slog.String("asset", assetID),
			)
			metrics.SafetyChecks.WithLabelValues("unsafe").Inc()
			return true, nil
		}
	}
	if answered == 0 {
		metrics.SafetyChecks.WithLabelValues("degraded").Inc()
		return false, fmt.Errorf("safety: %s: %w: %w", assetID, domain.ErrSafetyDegraded, errors.Join(errs...))
	}
	metrics.SafetyChecks.WithLabelValues("safe").Inc()
	return false, nil
}

// MaxCacheTTL bounds how long a verdict may be reused.
const MaxCacheTTL = 60 * time.Second

// Cached reuses verdicts for a short window. Errors are never cached.
type Cached struct {
	inner Oracle
	cache *memory.TTLCache[bool]
}

// NewCached wraps inner with a verdict cache; ttl is clamped to MaxCacheTTL.
func NewCached(inner Oracle, ttl time.Duration, opts ...memory.Option) *Cached {
	if ttl <= 0 || ttl > MaxCacheTTL {
		ttl = MaxCacheTTL
	}
	return &Cached{inner: inner, cache: memory.NewTTLCache[bool](ttl, opts...)}
}

// IsUnsafe implements Oracle.
func (c *Cached) IsUnsafe(ctx context.Context, assetID string) (bool, error) {
	if v, ok := c.cache.Get(assetID); ok {
		return v, nil
	}
	v, err := c.inner.IsUnsafe(ctx, assetID)
	if err != nil {
		return false, err
	}
	c.cache.Set(assetID, v)
	return v, nil
}
