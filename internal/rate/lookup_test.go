package rate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alanyoungcy/snipebot/internal/domain"
	"github.com/alanyoungcy/snipebot/internal/retry"
)

type quote struct {
	v     float64
	err   error
	calls int
}

func (q *quote) PriceUSD(context.Context, string) (float64, error) {
	q.calls++
	return q.v, q.err
}

var policy = retry.Policy{MaxAttempts: 2, Sleep: func(context.Context, time.Duration) error { return nil }}

func logger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestLookupCachesQuote(t *testing.T) {
	q := &quote{v: 150}
	l := NewLookup(q, "pair", 310, time.Minute, policy, logger())
	for i := 0; i < 3; i++ {
		v, err := l.BaseAssetUSD(context.Background())
		if err != nil || v != 150 {
			t.Fatalf("BaseAssetUSD = %v, %v", v, err)
		}
	}
	if q.calls != 1 {
		t.Errorf("calls = %d, want 1", q.calls)
	}
}

func TestLookupFallsBack(t *testing.T) {
	q := &quote{err: domain.ErrTransient}
	l := NewLookup(q, "pair", 310, time.Minute, policy, logger())
	v, err := l.BaseAssetUSD(context.Background())
	if err != nil || v != 310 {
		t.Fatalf("BaseAssetUSD = %v, %v", v, err)
	}
	if q.calls != 2 {
		t.Errorf("calls = %d, want 2", q.calls)
	}
	// Fallbacks are not cached.
	_, _ = l.BaseAssetUSD(context.Background())
	if q.calls != 4 {
		t.Errorf("calls = %d, want 4", q.calls)
	}
}

func TestLookupWithoutFallbackFails(t *testing.T) {
	l := NewLookup(&quote{v: 0}, "pair", 0, time.Minute, policy, logger())
	if _, err := l.BaseAssetUSD(context.Background()); !errors.Is(err, domain.ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}
