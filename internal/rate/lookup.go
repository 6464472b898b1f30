// Package rate converts base-asset amounts to USD.
package rate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/snipebot/internal/cache/memory"
	"github.com/alanyoungcy/snipebot/internal/domain"
	"github.com/alanyoungcy/snipebot/internal/retry"
)

// PriceSource quotes a pair in USD.
type PriceSource interface {
	PriceUSD(ctx context.Context, pairAddress string) (float64, error)
}

// Lookup quotes the configured base/USD pair, caches the quote and falls back
// to a fixed rate when the source is unreachable.
type Lookup struct {
	src      PriceSource
	pair     string
	fallback float64
	policy   retry.Policy
	cache    *memory.TTLCache[float64]
	logger   *slog.Logger
}

// NewLookup creates a Lookup. A zero fallback makes source failures errors.
func NewLookup(src PriceSource, pair string, fallback float64, ttl time.Duration, policy retry.Policy, logger *slog.Logger, opts ...memory.Option) *Lookup {
	return &Lookup{
		src:      src,
		pair:     pair,
		fallback: fallback,
		policy:   policy,
		cache:    memory.NewTTLCache[float64](ttl, opts...),
		logger:   logger.With(slog.String("component", "rate")),
	}
}

// BaseAssetUSD implements domain.RateLookup.
func (l *Lookup) BaseAssetUSD(ctx context.Context) (float64, error) {
	if v, ok := l.cache.Get(l.pair); ok {
		return v, nil
	}
	if l.src != nil && l.pair != "" {
		v, err := retry.Do(ctx, l.policy, func(ctx context.Context) (float64, error) {
			return l.src.PriceUSD(ctx, l.pair)
		})
		if err == nil && v > 0 {
			l.cache.Set(l.pair, v)
			return v, nil
		}
		if err == nil {
			err = fmt.Errorf("non-positive quote %v: %w", v, domain.ErrMalformed)
		}
		if l.fallback <= 0 {
			return 0, fmt.Errorf("rate: %s: %w: %w", l.pair, domain.ErrUnavailable, err)
		}
		l.logger.WarnContext(ctx, "rate: using fallback",
			slog.String("pair", l.pair),
			slog.Float64("fallback", l.fallback),
			slog.String("error", err.Error()),
		)
	}
	if l.fallback <= 0 {
		return 0, fmt.Errorf("rate: no source or fallback: %w", domain.ErrUnavailable)
	}
	return l.fallback, nil
}

// Fixed is a constant rate, used by backtests.
type Fixed float64

// BaseAssetUSD implements domain.RateLookup.
func (f Fixed) BaseAssetUSD(context.Context) (float64, error) { return float64(f), nil }
