// Package retry provides the single retry-with-backoff combinator used by every
// upstream client: market data, safety oracles, the candidate feed and trade
// executors.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

// Policy parameterises Do.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Retryable decides whether an error is worth another attempt. Nil means
	// IsTransient.
	Retryable func(error) bool
	// Sleep waits for d or until ctx is done. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Default is three attempts with exponential backoff starting at two seconds.
func Default() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: 2 * time.Second, MaxDelay: 30 * time.Second}
}

// IsTransient reports whether err is a rate limit, a server-side failure, a
// timeout or a malformed payload.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, domain.ErrRateLimited) ||
		errors.Is(err, domain.ErrTransient) ||
		errors.Is(err, domain.ErrMalformed) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

// Do calls fn until it succeeds, returns a non-retryable error, the attempt
// budget is spent, or ctx is done. The delay doubles after every failure.
// The last error from fn is returned.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTransient
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	var (
		zero T
		err  error
	)
	delay := p.BaseDelay
	for attempt := 1; attempt <= attempts; attempt++ {
		var v T
		v, err = fn(ctx)
		if err == nil {
			return v, nil
		}
		if attempt == attempts || !retryable(err) || ctx.Err() != nil {
			break
		}
		if serr := sleep(ctx, delay); serr != nil {
			return zero, serr
		}
		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return zero, err
}

// Sleep blocks for d or until ctx is cancelled.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
