package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

func recordingPolicy(delays *[]time.Duration) Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Sleep: func(_ context.Context, d time.Duration) error {
			*delays = append(*delays, d)
			return nil
		},
	}
}

func TestDoRetriesTransientWithExponentialBackoff(t *testing.T) {
	var delays []time.Duration
	calls := 0
	got, err := Do(context.Background(), recordingPolicy(&delays), func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, fmt.Errorf("upstream: %w", domain.ErrRateLimited)
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42 || calls != 3 {
		t.Errorf("got %d after %d calls, want 42 after 3", got, calls)
	}
	if len(delays) != 2 || delays[0] != time.Second || delays[1] != 2*time.Second {
		t.Errorf("delays = %v, want [1s 2s]", delays)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	var delays []time.Duration
	calls := 0
	_, err := Do(context.Background(), recordingPolicy(&delays), func(context.Context) (int, error) {
		calls++
		return 0, domain.ErrNotFound
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	var delays []time.Duration
	calls := 0
	_, err := Do(context.Background(), recordingPolicy(&delays), func(context.Context) (string, error) {
		calls++
		return "", domain.ErrTransient
	})
	if !errors.Is(err, domain.ErrTransient) {
		t.Fatalf("err = %v, want ErrTransient", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := Policy{MaxAttempts: 5, BaseDelay: time.Hour}
	calls := 0
	_, err := Do(ctx, p, func(context.Context) (int, error) {
		calls++
		return 0, domain.ErrTransient
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{domain.ErrRateLimited, true},
		{fmt.Errorf("x: %w", domain.ErrMalformed), true},
		{context.DeadlineExceeded, true},
		{domain.ErrNotFound, false},
		{domain.ErrUnauthorized, false},
	}
	for _, c := range cases {
		if got := IsTransient(c.err); got != c.want {
			t.Errorf("IsTransient(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}
