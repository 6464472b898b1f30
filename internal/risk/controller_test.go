package risk

import (
	"context"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

type memStore struct {
	mu    sync.Mutex
	saved []domain.RiskPosture
	load  domain.RiskPosture
}

func (m *memStore) SavePosture(_ context.Context, p domain.RiskPosture) error {
	m.mu.Lock()
	m.saved = append(m.saved, p)
	m.mu.Unlock()
	return nil
}

func (m *memStore) LoadPosture(context.Context) (domain.RiskPosture, error) { return m.load, nil }

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newController(cfg Config, opts ...Option) (*Controller, *clock) {
	clk := &clock{t: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clk.now)}, opts...)
	return NewController(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), opts...), clk
}

func TestDailyLimitAndRollover(t *testing.T) {
	ctx := context.Background()
	c, clk := newController(DefaultConfig())

	for i := 0; i < 4; i++ {
		if !c.Reserve(ctx) {
			t.Fatalf("reserve %d refused", i)
		}
		c.RecordOutcome(ctx, -1, 100)
	}
	if c.CanEnter() {
		t.Fatal("fifth entry allowed on the same day")
	}
	if c.Reserve(ctx) {
		t.Fatal("fifth reservation granted")
	}

	clk.t = clk.t.Add(24 * time.Hour)
	if !c.CanEnter() {
		t.Fatal("entry refused after day rollover")
	}
	if got := c.Posture().TradesToday; got != 0 {
		t.Errorf("TradesToday = %d, want 0", got)
	}
}

func TestOpenPositionsCountAgainstQuota(t *testing.T) {
	ctx := context.Background()
	c, _ := newController(DefaultConfig())
	for i := 0; i < 4; i++ {
		if !c.Reserve(ctx) {
			t.Fatalf("reserve %d refused", i)
		}
	}
	if c.CanEnter() {
		t.Fatal("CanEnter with all slots in flight")
	}
	c.Release(ctx)
	if !c.CanEnter() {
		t.Fatal("released slot not returned")
	}
	if p := c.Posture(); p.OpenPositions != 3 || p.TradesToday != 0 {
		t.Errorf("posture = %+v", p)
	}
}

func TestReserveIsAtomic(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.MaxTradesPerDay = 5
	c, _ := newController(cfg)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.Reserve(ctx) {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if granted != 5 {
		t.Errorf("granted = %d, want 5", granted)
	}
}

func TestReinvestmentCap(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	c, _ := newController(cfg)

	c.Reserve(ctx)
	p := c.RecordOutcome(ctx, 3.1, 310) // +0.005 base
	if want := cfg.BaseSizeMin + 0.005; math.Abs(p.CurrentPositionSize-want) > 1e-12 {
		t.Errorf("size = %v, want %v", p.CurrentPositionSize, want)
	}

	c.Reserve(ctx)
	p = c.RecordOutcome(ctx, 1_000_000, 310)
	if p.CurrentPositionSize != cfg.MaxSize() {
		t.Errorf("size = %v, want cap %v", p.CurrentPositionSize, cfg.MaxSize())
	}
}

func TestLossStreak(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.MaxTradesPerDay = 10
	c, _ := newController(cfg)

	for i := 0; i < 3; i++ {
		c.Reserve(ctx)
		c.RecordOutcome(ctx, 0, 310)
	}
	if got := c.Posture().ConsecutiveLosses; got != 3 {
		t.Fatalf("ConsecutiveLosses = %d, want 3", got)
	}
	if got := c.CurrentSize(); got != cfg.BaseSizeMin {
		t.Errorf("size changed on losses: %v", got)
	}
	c.Reserve(ctx)
	if got := c.RecordOutcome(ctx, 5, 310).ConsecutiveLosses; got != 0 {
		t.Errorf("streak not reset on a win: %d", got)
	}
}

func TestPersistAndRestore(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	c, clk := newController(DefaultConfig(), WithStore(store))
	c.Reserve(ctx)
	c.RecordOutcome(ctx, -2, 310)

	if len(store.saved) != 2 {
		t.Fatalf("saved %d snapshots, want 2", len(store.saved))
	}
	last := store.saved[len(store.saved)-1]
	if last.TradesToday != 1 || last.ConsecutiveLosses != 1 || last.OpenPositions != 0 {
		t.Errorf("saved = %+v", last)
	}

	store.load = domain.RiskPosture{
		ConsecutiveLosses:   2,
		TradesToday:         3,
		LastTradeDate:       clk.t,
		CurrentPositionSize: 0.07,
		OpenPositions:       2,
	}
	r, _ := newController(DefaultConfig(), WithStore(store))
	if err := r.Restore(ctx); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	p := r.Posture()
	if p.TradesToday != 3 || p.ConsecutiveLosses != 2 || p.CurrentPositionSize != 0.07 || p.OpenPositions != 0 {
		t.Errorf("restored = %+v", p)
	}
	r.Adopt(ctx, 1)
	if r.CanEnter() {
		t.Error("adopted slot must count against the quota")
	}
}
