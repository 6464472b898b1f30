package safety

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alanyoungcy/snipebot/internal/cache/memory"
	"github.com/alanyoungcy/snipebot/internal/domain"
	"github.com/alanyoungcy/snipebot/internal/platform/solanafm"
	"github.com/alanyoungcy/snipebot/internal/retry"
)

type eventsFunc func(ctx context.Context, address string) ([]solanafm.Event, error)

func (f eventsFunc) Events(ctx context.Context, address string) ([]solanafm.Event, error) {
	return f(ctx, address)
}

type staticOracle struct {
	unsafe bool
	err    error
	calls  int
}

func (s *staticOracle) IsUnsafe(context.Context, string) (bool, error) {
	s.calls++
	return s.unsafe, s.err
}

func quickPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 2, Sleep: func(context.Context, time.Duration) error { return nil }}
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestEventLogOracleThresholds(t *testing.T) {
	cases := []struct {
		name   string
		events []solanafm.Event
		want   bool
	}{
		{"withdrawal above", []solanafm.Event{{Type: "LIQUIDITY_WITHDRAWAL", Amount: 8001}}, true},
		{"withdrawal at limit", []solanafm.Event{{Type: "LIQUIDITY_WITHDRAWAL", Amount: 8000}}, false},
		{"burn above", []solanafm.Event{{Type: "TOKEN_BURN", Amount: 9000}}, true},
		{"small transfer", []solanafm.Event{{Type: "TRANSFER", Amount: 9000}}, false},
		{"large transfer", []solanafm.Event{{Type: "TRANSFER", Amount: 800001}}, true},
		{"unwatched", []solanafm.Event{{Type: "SWAP", Amount: 1e9}}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			src := eventsFunc(func(context.Context, string) ([]solanafm.Event, error) { return c.events, nil })
			o := NewEventLogOracle(src, DefaultEventThresholds(), 0, quickPolicy())
			got, err := o.IsUnsafe(context.Background(), "Tok")
			if err != nil {
				t.Fatalf("IsUnsafe: %v", err)
			}
			if got != c.want {
				t.Errorf("IsUnsafe = %v, want %v", got, c.want)
			}
		})
	}
}

func TestEventLogOracleLookbackIgnoresOldEvents(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	old := now.Add(-2 * time.Hour)
	src := eventsFunc(func(context.Context, string) ([]solanafm.Event, error) {
		return []solanafm.Event{{Type: "TOKEN_BURN", Amount: 1e6, Timestamp: &old}}, nil
	})
	o := NewEventLogOracle(src, DefaultEventThresholds(), time.Hour, quickPolicy())
	o.now = func() time.Time { return now }

	if unsafe, err := o.IsUnsafe(context.Background(), "Tok"); err != nil || unsafe {
		t.Errorf("IsUnsafe = %v, %v; want false, nil", unsafe, err)
	}
}

func TestEventLogOracleUnreachableIsDegraded(t *testing.T) {
	calls := 0
	src := eventsFunc(func(context.Context, string) ([]solanafm.Event, error) {
		calls++
		return nil, domain.ErrTransient
	})
	o := NewEventLogOracle(src, DefaultEventThresholds(), 0, quickPolicy())

	unsafe, err := o.IsUnsafe(context.Background(), "Tok")
	if !errors.Is(err, domain.ErrSafetyDegraded) {
		t.Fatalf("err = %v, want ErrSafetyDegraded", err)
	}
	if unsafe {
		t.Error("degraded result must not claim unsafe")
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2 (retried)", calls)
	}
}

func TestCompositeSemantics(t *testing.T) {
	down := &staticOracle{err: domain.ErrSafetyDegraded}
	safe := &staticOracle{}
	flagged := &staticOracle{unsafe: true}

	t.Run("any unsafe wins", func(t *testing.T) {
		c := NewComposite(discard(), Named{"a", down}, Named{"b", flagged})
		if got, err := c.IsUnsafe(context.Background(), "x"); err != nil || !got {
			t.Errorf("got %v, %v", got, err)
		}
	})
	t.Run("one answer suffices", func(t *testing.T) {
		c := NewComposite(discard(), Named{"a", down}, Named{"b", safe})
		if got, err := c.IsUnsafe(context.Background(), "x"); err != nil || got {
			t.Errorf("got %v, %v", got, err)
		}
	})
	t.Run("sole source down is degraded", func(t *testing.T) {
		c := NewComposite(discard(), Named{"a", down})
		if _, err := c.IsUnsafe(context.Background(), "x"); !errors.Is(err, domain.ErrSafetyDegraded) {
			t.Errorf("err = %v, want ErrSafetyDegraded", err)
		}
	})
	t.Run("no sources is degraded", func(t *testing.T) {
		c := NewComposite(discard())
		if _, err := c.IsUnsafe(context.Background(), "x"); !errors.Is(err, domain.ErrSafetyDegraded) {
			t.Errorf("err = %v, want ErrSafetyDegraded", err)
		}
	})
}

func TestCachedReusesVerdictButNotErrors(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	inner := &staticOracle{unsafe: true}
	c := NewCached(inner, 10*time.Minute, memory.WithClock(clock))
	for i := 0; i < 3; i++ {
		if got, _ := c.IsUnsafe(context.Background(), "x"); !got {
			t.Fatal("expected cached unsafe verdict")
		}
	}
	if inner.calls != 1 {
		t.Errorf("calls = %d, want 1", inner.calls)
	}
	now = now.Add(MaxCacheTTL)
	_, _ = c.IsUnsafe(context.Background(), "x")
	if inner.calls != 2 {
		t.Errorf("ttl must be clamped to %v; calls = %d", MaxCacheTTL, inner.calls)
	}

	failing := &staticOracle{err: domain.ErrSafetyDegraded}
	fc := NewCached(failing, time.Second)
	_, _ = fc.IsUnsafe(context.Background(), "x")
	_, _ = fc.IsUnsafe(context.Background(), "x")
	if failing.calls != 2 {
		t.Errorf("errors must not be cached; calls = %d", failing.calls)
	}
}
