package scanner

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/snipebot/internal/domain"
	"github.com/alanyoungcy/snipebot/internal/qualify"
	"github.com/alanyoungcy/snipebot/internal/retry"
)

type feed struct {
	list  []domain.Candidate
	err   error
	calls int
}

func (f *feed) LatestProfiles(context.Context) ([]domain.Candidate, error) {
	f.calls++
	return f.list, f.err
}

type market struct{ fetched []string }

func (m *market) Fetch(_ context.Context, id string) (domain.AssetSnapshot, error) {
	m.fetched = append(m.fetched, id)
	return domain.AssetSnapshot{AssetID: id, PriceUSD: 1}, nil
}

type passAll struct{ reject map[string]bool }

func (p passAll) Evaluate(_ context.Context, s domain.AssetSnapshot, _ domain.RiskPosture) qualify.Decision {
	if p.reject[s.AssetID] {
		return qualify.Decision{Reason: qualify.ReasonVolume, Snapshot: s}
	}
	return qualify.Decision{Pass: true, Reason: qualify.ReasonPass, Snapshot: s}
}

type quota struct {
	max      int
	reserved int
}

func (q *quota) CanEnter() bool              { return q.reserved < q.max }
func (q *quota) Posture() domain.RiskPosture { return domain.RiskPosture{OpenPositions: q.reserved} }
func (q *quota) Reserve(context.Context) bool {
	if q.reserved >= q.max {
		return false
	}
	q.reserved++
	return true
}

// launches behaves like the position manager: a launched asset stays held
// until release is called.
type launches struct {
	mu   sync.Mutex
	ids  []string
	held map[string]bool
}

func (l *launches) Launch(_ context.Context, d qualify.Decision) {
	l.mu.Lock()
	l.ids = append(l.ids, d.Snapshot.AssetID)
	if l.held == nil {
		l.held = make(map[string]bool)
	}
	l.held[d.Snapshot.AssetID] = true
	l.mu.Unlock()
}

func (l *launches) Holding(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[id]
}

func (l *launches) release(id string) {
	l.mu.Lock()
	delete(l.held, id)
	l.mu.Unlock()
}

type lockStub struct {
	held     bool
	acquired int
	released int
}

func (l *lockStub) Acquire(context.Context, string, time.Duration) (func(), error) {
	if l.held {
		return nil, domain.ErrLockHeld
	}
	l.acquired++
	return func() { l.released++ }, nil
}

func candidates(ids ...string) []domain.Candidate {
	out := make([]domain.Candidate, len(ids))
	for i, id := range ids {
		out[i] = domain.Candidate{AssetID: id, Source: "test"}
	}
	return out
}

type fixture struct {
	s      *Scheduler
	feed   *feed
	market *market
	quota  *quota
	launch *launches
	clock  *time.Time
}

func newFixture(cfg Config, f *feed, reject map[string]bool, max int, opts ...Option) *fixture {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	fx := &fixture{feed: f, market: &market{}, quota: &quota{max: max}, launch: &launches{}, clock: &now}
	cfg.Retry = retry.Policy{MaxAttempts: 2, Sleep: func(context.Context, time.Duration) error { return nil }}
	if cfg.Interval == 0 {
		cfg.Interval = time.Second
	}
	opts = append([]Option{WithClock(func() time.Time { return *fx.clock })}, opts...)
	fx.s = NewScheduler(cfg, f, fx.market, passAll{reject: reject}, fx.quota, fx.launch,
		slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
	return fx
}

func TestCycleLaunchesQualifiedAndDedups(t *testing.T) {
	fx := newFixture(Config{}, &feed{list: candidates("A", "B", "C")}, map[string]bool{"B": true}, 4)

	res := fx.s.RunCycle(context.Background())
	if res.Outcome != OutcomeOK || res.Candidates != 3 || res.Evaluated != 3 || res.Entered != 2 {
		t.Fatalf("result = %+v", res)
	}
	if got := fx.launch.ids; len(got) != 2 || got[0] != "A" || got[1] != "C" {
		t.Errorf("launched = %v", got)
	}

	res = fx.s.RunCycle(context.Background())
	if res.Evaluated != 0 || res.Entered != 0 {
		t.Errorf("second cycle re-evaluated processed candidates: %+v", res)
	}
}

func TestProcessedClearedOnRolloverAndCycles(t *testing.T) {
	fx := newFixture(Config{DedupResetCycles: 3}, &feed{list: candidates("A")}, map[string]bool{"A": true}, 4)
	ctx := context.Background()

	fx.s.RunCycle(ctx) // cycle 1: evaluated
	if res := fx.s.RunCycle(ctx); res.Evaluated != 0 {
		t.Fatalf("cycle 2 evaluated %d", res.Evaluated)
	}
	if res := fx.s.RunCycle(ctx); res.Evaluated != 1 {
		t.Fatalf("cycle 3 must reset the processed set, evaluated %d", res.Evaluated)
	}

	*fx.clock = fx.clock.Add(24 * time.Hour)
	if res := fx.s.RunCycle(ctx); res.Evaluated != 1 {
		t.Errorf("day rollover must reset the processed set, evaluated %d", res.Evaluated)
	}
}

func TestHeldAssetNotReenteredAfterDedupReset(t *testing.T) {
	fx := newFixture(Config{DedupResetCycles: 2}, &feed{list: candidates("A")}, nil, 4)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		fx.s.RunCycle(ctx)
	}
	if got := fx.launch.ids; len(got) != 1 {
		t.Fatalf("launched = %v, want a single entry while A is held", got)
	}
	if fx.quota.reserved != 1 {
		t.Errorf("reserved = %d, want 1", fx.quota.reserved)
	}

	fx.launch.release("A")
	fx.s.RunCycle(ctx) // cycle 5: A still in the processed set
	fx.s.RunCycle(ctx) // cycle 6: reset
	if got := fx.launch.ids; len(got) != 2 {
		t.Errorf("launched = %v, want re-entry once A was closed", got)
	}
}

func TestFallbackWhenFeedEmptyOrFailing(t *testing.T) {
	f := &feed{err: domain.ErrTransient}
	fx := newFixture(Config{Fallback: []string{"F1", "F2"}}, f, nil, 4)

	res := fx.s.RunCycle(context.Background())
	if res.Candidates != 2 || res.Entered != 2 {
		t.Fatalf("result = %+v", res)
	}
	if f.calls != 2 {
		t.Errorf("feed calls = %d, want 2 (retried)", f.calls)
	}

	empty := newFixture(Config{}, &feed{}, nil, 4)
	if res := empty.s.RunCycle(context.Background()); res.Outcome != OutcomeEmpty {
		t.Errorf("outcome = %s, want %s", res.Outcome, OutcomeEmpty)
	}
}

func TestQuotaStopsCycle(t *testing.T) {
	fx := newFixture(Config{}, &feed{list: candidates("A", "B", "C")}, nil, 1)
	res := fx.s.RunCycle(context.Background())
	if res.Entered != 1 {
		t.Fatalf("entered = %d, want 1", res.Entered)
	}
	if res := fx.s.RunCycle(context.Background()); res.Outcome != OutcomeQuotaFull {
		t.Errorf("outcome = %s, want %s", res.Outcome, OutcomeQuotaFull)
	}
}

func TestPauseResume(t *testing.T) {
	fx := newFixture(Config{}, &feed{list: candidates("A")}, nil, 4)
	fx.s.Pause()
	if res := fx.s.RunCycle(context.Background()); res.Outcome != OutcomePaused || fx.feed.calls != 0 {
		t.Fatalf("paused cycle = %+v, feed calls %d", res, fx.feed.calls)
	}
	fx.s.Resume()
	if res := fx.s.RunCycle(context.Background()); res.Entered != 1 {
		t.Errorf("resumed cycle = %+v", res)
	}
}

func TestLeaderLock(t *testing.T) {
	lock := &lockStub{held: true}
	fx := newFixture(Config{}, &feed{list: candidates("A")}, nil, 4, WithLockManager(lock))

	if res := fx.s.RunCycle(context.Background()); res.Outcome != OutcomeNotLeader {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	lock.held = false
	if res := fx.s.RunCycle(context.Background()); res.Entered != 1 {
		t.Fatalf("leader cycle = %+v", res)
	}
	if lock.acquired != 1 || lock.released != 1 {
		t.Errorf("acquired %d released %d", lock.acquired, lock.released)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	fx := newFixture(Config{Interval: time.Millisecond}, &feed{}, nil, 4)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := fx.s.Run(ctx); err != nil {
		t.Errorf("Run = %v", err)
	}
	if fx.feed.calls < 2 {
		t.Errorf("feed calls = %d, want several cycles", fx.feed.calls)
	}
}

func TestProcessedTTL(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	p := NewProcessed(time.Minute, func() time.Time { return now })
	if p.Seen("A") {
		t.Fatal("first sighting reported as seen")
	}
	if !p.Seen("A") {
		t.Fatal("second sighting not seen")
	}
	now = now.Add(time.Minute)
	if p.Seen("A") {
		t.Error("expired entry reported as seen")
	}
}
