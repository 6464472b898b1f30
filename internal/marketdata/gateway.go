// Package marketdata is the cached, retrying accessor for asset snapshots.
// Every failure leaves the package as domain.ErrUnavailable.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/alanyoungcy/snipebot/internal/cache/memory"
	"github.com/alanyoungcy/snipebot/internal/domain"
	"github.com/alanyoungcy/snipebot/internal/metrics"
	"github.com/alanyoungcy/snipebot/internal/retry"
)

// Upstream issues a single snapshot query.
type Upstream interface {
	Snapshot(ctx context.Context, assetID string) (domain.AssetSnapshot, error)
}

// Config tunes the gateway.
type Config struct {
	// Freshness is how long a snapshot is served from cache.
	Freshness time.Duration
	Retry     retry.Policy
	// RateLimit caps upstream calls per RateWindow when a limiter is attached.
	RateLimit  int
	RateWindow time.Duration
	MaxEntries int
}

// Gateway serves snapshots from a local cache, then an optional shared
// cache, then the upstream.
type Gateway struct {
	upstream Upstream
	cfg      Config
	local    *memory.TTLCache[domain.AssetSnapshot]
	shared   domain.SnapshotCache
	limiter  domain.RateLimiter
	group    singleflight.Group
	now      func() time.Time
	logger   *slog.Logger
}

// Option customises a Gateway.
type Option func(*Gateway)

// WithSharedCache adds a second-tier cache shared across processes.
func WithSharedCache(c domain.SnapshotCache) Option { return func(g *Gateway) { g.shared = c } }

// WithRateLimiter bounds upstream calls; denial counts as a rate-limit error.
func WithRateLimiter(l domain.RateLimiter) Option { return func(g *Gateway) { g.limiter = l } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(g *Gateway) { g.now = now } }

// NewGateway creates a Gateway over upstream.
func NewGateway(upstream Upstream, cfg Config, logger *slog.Logger, opts ...Option) *Gateway {
	if cfg.Freshness <= 0 {
		cfg.Freshness = 45 * time.Second
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Minute
	}
	g := &Gateway{
		upstream: upstream,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "marketdata")),
	}
	for _, o := range opts {
		o(g)
	}
	cacheOpts := []memory.Option{memory.WithClock(g.now)}
	if cfg.MaxEntries > 0 {
		cacheOpts = append(cacheOpts, memory.WithMaxEntries(cfg.MaxEntries))
	}
	g.local = memory.NewTTLCache[domain.AssetSnapshot](cfg.Freshness, cacheOpts...)
	return g
}

// Fetch returns a fresh snapshot for assetID or an error wrapping
// domain.ErrUnavailable.
func (g *Gateway) Fetch(ctx context.Context, assetID string) (domain.AssetSnapshot, error) {
	if snap, ok := g.local.Get(assetID); ok {
		metrics.SnapshotFetches.WithLabelValues("hit").Inc()
		return snap, nil
	}

	// The flight is shared, so it must not die with whichever caller started
	// it; each caller still stops waiting when its own ctx is done.
	flightCtx := context.WithoutCancel(ctx)
	ch := g.group.DoChan(assetID, func() (any, error) {
		// Another caller may have filled the cache while we waited.
		if snap, ok := g.local.Get(assetID); ok {
			return snap, nil
		}
		if snap, ok := g.fromShared(flightCtx, assetID); ok {
			metrics.SnapshotFetches.WithLabelValues("shared_hit").Inc()
			g.local.Set(assetID, snap)
			return snap, nil
		}
		return g.fetchUpstream(flightCtx, assetID)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		res.Err = ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		metrics.SnapshotFetches.WithLabelValues("unavailable").Inc()
		g.logger.WarnContext(ctx, "marketdata: snapshot unavailable",
			slog.String("asset", assetID),
			slog.String("error", res.Err.Error()),
		)
		return domain.AssetSnapshot{}, fmt.Errorf("marketdata: fetch %s: %w: %w", assetID, domain.ErrUnavailable, res.Err)
	}
	return res.Val.(domain.AssetSnapshot), nil
}

// Invalidate drops a cached snapshot.
func (g *Gateway) Invalidate(assetID string) {
	g.local.Delete(assetID)
}

func (g *Gateway) fetchUpstream(ctx context.Context, assetID string) (domain.AssetSnapshot, error) {
	metrics.SnapshotFetches.WithLabelValues("miss").Inc()
	snap, err := retry.Do(ctx, g.cfg.Retry, func(ctx context.Context) (domain.AssetSnapshot, error) {
		if err := g.allow(ctx); err != nil {
			return domain.AssetSnapshot{}, err
		}
		start := time.Now()
		s, err := g.upstream.Snapshot(ctx, assetID)
		metrics.Since(metrics.UpstreamLatency.WithLabelValues("market_data"), start)
		if err != nil {
			return s, err
		}
		if err := validate(s); err != nil {
			return domain.AssetSnapshot{}, err
		}
		return s, nil
	})
	if err != nil {
		return domain.AssetSnapshot{}, err
	}

	if snap.AssetID == "" {
		snap.AssetID = assetID
	}
	if snap.FetchedAt.IsZero() {
		snap.FetchedAt = g.now()
	}
	g.local.Set(assetID, snap)
	if g.shared != nil {
		if err := g.shared.SetSnapshot(ctx, snap, g.cfg.Freshness); err != nil {
			g.logger.DebugContext(ctx, "marketdata: shared cache write failed",
				slog.String("asset", assetID),
				slog.String("error", err.Error()),
			)
		}
	}
	return snap, nil
}

// fromShared returns a shared-cache snapshot that is still inside the
// freshness window.
func (g *Gateway) fromShared(ctx context.Context, assetID string) (domain.AssetSnapshot, bool) {
	if g.shared == nil {
		return domain.AssetSnapshot{}, false
	}
	snap, err := g.shared.GetSnapshot(ctx, assetID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			g.logger.DebugContext(ctx, "marketdata: shared cache read failed",
				slog.String("asset", assetID),
				slog.String("error", err.Error()),
			)
		}
		return domain.AssetSnapshot{}, false
	}
	if g.now().Sub(snap.FetchedAt) >= g.cfg.Freshness || validate(snap) != nil {
		return domain.AssetSnapshot{}, false
	}
	return snap, true
}

func (g *Gateway) allow(ctx context.Context) error {
	if g.limiter == nil || g.cfg.RateLimit <= 0 {
		return nil
	}
	ok, err := g.limiter.Allow(ctx, "upstream:market_data", g.cfg.RateLimit, g.cfg.RateWindow)
	if err != nil {
		// Limiter errors fail open.
		return nil
	}
	if !ok {
		return fmt.Errorf("marketdata: local budget: %w", domain.ErrRateLimited)
	}
	return nil
}

// validate rejects snapshots with non-finite or out-of-range required fields.
func validate(s domain.AssetSnapshot) error {
	fields := []struct {
		name string
		v    float64
	}{
		{"market_cap", s.MarketCapUSD},
		{"liquidity", s.LiquidityUSD},
		{"price", s.PriceUSD},
		{"volume_1h", s.Volume1hUSD},
		{"price_change_5m", s.PriceChange5mPct},
		{"price_change_1h", s.PriceChange1hPct},
	}
	for _, f := range fields {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return fmt.Errorf("%w: %s is not finite", domain.ErrMalformed, f.name)
		}
	}
	switch {
	case s.PriceUSD <= 0:
		return fmt.Errorf("%w: price must be positive", domain.ErrMalformed)
	case s.MarketCapUSD < 0, s.LiquidityUSD < 0, s.Volume1hUSD < 0:
		return fmt.Errorf("%w: negative market figure", domain.ErrMalformed)
	}
	return nil
}
