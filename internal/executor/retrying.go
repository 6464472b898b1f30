package executor

import (
	"context"
	"errors"
	"log/slog"

	"github.com/alanyoungcy/snipebot/internal/domain"
	"github.com/alanyoungcy/snipebot/internal/retry"
	"github.com/google/uuid"
)

// Retrying retries transient executor failures. Every attempt of one call
// carries the same idempotency key. Unfilled sells are retried too; unfilled
// buys are not.
type Retrying struct {
	inner  domain.TradeExecutor
	policy retry.Policy
	logger *slog.Logger
}

// NewRetrying wraps inner.
func NewRetrying(inner domain.TradeExecutor, policy retry.Policy, logger *slog.Logger) *Retrying {
	return &Retrying{inner: inner, policy: policy, logger: logger.With(slog.String("component", "executor"))}
}

// Name implements domain.TradeExecutor.
func (r *Retrying) Name() string { return r.inner.Name() }

// Buy implements domain.TradeExecutor.
func (r *Retrying) Buy(ctx context.Context, assetID string, sizeBase float64) (domain.Fill, error) {
	return r.call(ctx, "buy", assetID, retry.IsTransient, func(ctx context.Context) (domain.Fill, error) {
		return r.inner.Buy(ctx, assetID, sizeBase)
	})
}

// Sell implements domain.TradeExecutor.
func (r *Retrying) Sell(ctx context.Context, assetID string, sizeBase float64) (domain.Fill, error) {
	retryable := func(err error) bool {
		return retry.IsTransient(err) || errors.Is(err, domain.ErrNotFilled)
	}
	return r.call(ctx, "sell", assetID, retryable, func(ctx context.Context) (domain.Fill, error) {
		f, err := r.inner.Sell(ctx, assetID, sizeBase)
		if err == nil && !f.Filled {
			return f, domain.ErrNotFilled
		}
		return f, err
	})
}

func (r *Retrying) call(ctx context.Context, side, assetID string, retryable func(error) bool, fn func(context.Context) (domain.Fill, error)) (domain.Fill, error) {
	p := r.policy
	p.Retryable = retryable
	ctx = WithIdempotencyKey(ctx, uuid.New().String())
	attempt := 0
	return retry.Do(ctx, p, func(ctx context.Context) (domain.Fill, error) {
		attempt++
		f, err := fn(ctx)
		if err != nil {
			r.logger.WarnContext(ctx, "executor: attempt failed",
				slog.String("executor", r.inner.Name()),
				slog.String("side", side),
				slog.String("asset", assetID),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
		}
		return f, err
	})
}
