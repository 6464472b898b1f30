package marketdata

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/snipebot/internal/domain"
	"github.com/alanyoungcy/snipebot/internal/retry"
)

type fakeUpstream struct {
	mu    sync.Mutex
	calls int
	errs  []error
	price float64
}

func (f *fakeUpstream) Snapshot(_ context.Context, assetID string) (domain.AssetSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return domain.AssetSnapshot{}, err
		}
	}
	return domain.AssetSnapshot{
		AssetID:      assetID,
		MarketCapUSD: 100000,
		LiquidityUSD: 60000,
		PriceUSD:     f.price,
		Volume1hUSD:  80000,
	}, nil
}

func (f *fakeUpstream) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func noSleepPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Sleep:       func(context.Context, time.Duration) error { return nil },
	}
}

func newTestGateway(up Upstream, clk *clock) *Gateway {
	return NewGateway(up, Config{Freshness: 30 * time.Second, Retry: noSleepPolicy()}, testLogger(), WithClock(clk.Now))
}

func TestFetchWithinFreshnessWindowHitsCache(t *testing.T) {
	up := &fakeUpstream{price: 1}
	clk := &clock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	g := newTestGateway(up, clk)

	first, err := g.Fetch(context.Background(), "Tok")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	clk.t = clk.t.Add(29 * time.Second)
	second, err := g.Fetch(context.Background(), "Tok")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("snapshots differ:\n%+v\n%+v", first, second)
	}
	if up.Calls() != 1 {
		t.Fatalf("upstream calls = %d, want 1", up.Calls())
	}

	clk.t = clk.t.Add(2 * time.Second)
	if _, err := g.Fetch(context.Background(), "Tok"); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if up.Calls() != 2 {
		t.Errorf("upstream calls after window = %d, want 2", up.Calls())
	}
}

func TestFetchRetriesTransientErrors(t *testing.T) {
	up := &fakeUpstream{price: 1, errs: []error{domain.ErrRateLimited, domain.ErrTransient}}
	g := newTestGateway(up, &clock{t: time.Now()})

	if _, err := g.Fetch(context.Background(), "Tok"); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if up.Calls() != 3 {
		t.Errorf("calls = %d, want 3", up.Calls())
	}
}

func TestFetchExhaustedRetriesIsUnavailable(t *testing.T) {
	up := &fakeUpstream{price: 1, errs: []error{domain.ErrTransient, domain.ErrTransient, domain.ErrTransient}}
	g := newTestGateway(up, &clock{t: time.Now()})

	_, err := g.Fetch(context.Background(), "Tok")
	if !errors.Is(err, domain.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if up.Calls() != 3 {
		t.Errorf("calls = %d, want 3", up.Calls())
	}
}

func TestFetchPermanentErrorNotRetried(t *testing.T) {
	up := &fakeUpstream{price: 1, errs: []error{domain.ErrNotFound}}
	g := newTestGateway(up, &clock{t: time.Now()})

	_, err := g.Fetch(context.Background(), "Tok")
	if !errors.Is(err, domain.ErrUnavailable) || !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
	if up.Calls() != 1 {
		t.Errorf("calls = %d, want 1", up.Calls())
	}
}

func TestFetchInvalidSnapshotIsUnavailable(t *testing.T) {
	up := &fakeUpstream{price: 0}
	g := newTestGateway(up, &clock{t: time.Now()})

	if _, err := g.Fetch(context.Background(), "Tok"); !errors.Is(err, domain.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

type memShared struct {
	mu sync.Mutex
	m  map[string]domain.AssetSnapshot
}

func (s *memShared) SetSnapshot(_ context.Context, snap domain.AssetSnapshot, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[snap.AssetID] = snap
	return nil
}

func (s *memShared) GetSnapshot(_ context.Context, id string) (domain.AssetSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.m[id]
	if !ok {
		return snap, domain.ErrNotFound
	}
	return snap, nil
}

func TestFetchUsesFreshSharedCache(t *testing.T) {
	clk := &clock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	shared := &memShared{m: map[string]domain.AssetSnapshot{
		"Tok": {AssetID: "Tok", PriceUSD: 2, MarketCapUSD: 1, LiquidityUSD: 1, FetchedAt: clk.t.Add(-10 * time.Second)},
		"Old": {AssetID: "Old", PriceUSD: 2, MarketCapUSD: 1, LiquidityUSD: 1, FetchedAt: clk.t.Add(-time.Minute)},
	}}
	up := &fakeUpstream{price: 1}
	g := NewGateway(up, Config{Freshness: 30 * time.Second, Retry: noSleepPolicy()}, testLogger(),
		WithClock(clk.Now), WithSharedCache(shared))

	snap, err := g.Fetch(context.Background(), "Tok")
	if err != nil || snap.PriceUSD != 2 {
		t.Fatalf("Fetch = %+v, %v", snap, err)
	}
	if up.Calls() != 0 {
		t.Fatalf("fresh shared entry should not hit upstream")
	}

	snap, err = g.Fetch(context.Background(), "Old")
	if err != nil || snap.PriceUSD != 1 {
		t.Fatalf("stale shared entry should be refetched, got %+v, %v", snap, err)
	}
	if got := shared.m["Old"].PriceUSD; got != 1 {
		t.Errorf("shared cache not refreshed, price = %v", got)
	}
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return false, nil
}

func TestFetchRateLimiterDenialIsUnavailable(t *testing.T) {
	up := &fakeUpstream{price: 1}
	g := NewGateway(up, Config{Freshness: time.Second, Retry: noSleepPolicy(), RateLimit: 1}, testLogger(),
		WithRateLimiter(denyLimiter{}))

	if _, err := g.Fetch(context.Background(), "Tok"); !errors.Is(err, domain.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if up.Calls() != 0 {
		t.Errorf("upstream called despite denied budget")
	}
}

// gatedUpstream blocks every call until gate is closed or the call's ctx ends.
type gatedUpstream struct {
	fakeUpstream
	entered chan struct{}
	gate    chan struct{}
}

func (g *gatedUpstream) Snapshot(ctx context.Context, assetID string) (domain.AssetSnapshot, error) {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	select {
	case <-g.gate:
	case <-ctx.Done():
		return domain.AssetSnapshot{}, ctx.Err()
	}
	return g.fakeUpstream.Snapshot(ctx, assetID)
}

func TestCancelledCallerDoesNotFailSharedFetch(t *testing.T) {
	up := &gatedUpstream{fakeUpstream: fakeUpstream{price: 2}, entered: make(chan struct{}, 1), gate: make(chan struct{})}
	g := newTestGateway(up, &clock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)})

	type result struct {
		snap domain.AssetSnapshot
		err  error
	}
	fetch := func(ctx context.Context) <-chan result {
		out := make(chan result, 1)
		go func() {
			snap, err := g.Fetch(ctx, "Tok")
			out <- result{snap, err}
		}()
		return out
	}

	ctx, cancel := context.WithCancel(context.Background())
	first := fetch(ctx)
	<-up.entered
	second := fetch(context.Background())

	cancel()
	r1 := <-first
	if !errors.Is(r1.err, domain.ErrUnavailable) || !errors.Is(r1.err, context.Canceled) {
		t.Fatalf("cancelled caller err = %v", r1.err)
	}

	close(up.gate)
	r2 := <-second
	if r2.err != nil {
		t.Fatalf("second caller err = %v", r2.err)
	}
	if r2.snap.PriceUSD != 2 {
		t.Errorf("snapshot = %+v", r2.snap)
	}
	if up.Calls() != 1 {
		t.Errorf("upstream calls = %d, want 1", up.Calls())
	}
}
