// Package scanner polls the candidate feed, filters new candidates and hands
// qualified ones to the position manager.
package scanner

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/snipebot/internal/domain"
	"github.com/alanyoungcy/snipebot/internal/metrics"
	"github.com/alanyoungcy/snipebot/internal/qualify"
	"github.com/alanyoungcy/snipebot/internal/retry"
)

// CandidateSource lists newly surfaced assets.
type CandidateSource interface {
	LatestProfiles(ctx context.Context) ([]domain.Candidate, error)
}

// Fetcher returns a snapshot for an asset.
type Fetcher interface {
	Fetch(ctx context.Context, assetID string) (domain.AssetSnapshot, error)
}

// Evaluator decides whether a snapshot qualifies.
type Evaluator interface {
	Evaluate(ctx context.Context, s domain.AssetSnapshot, posture domain.RiskPosture) qualify.Decision
}

// Quota is the subset of the risk controller the scheduler needs.
type Quota interface {
	CanEnter() bool
	Reserve(ctx context.Context) bool
	Posture() domain.RiskPosture
}

// Launcher starts monitoring a qualified candidate. Holding reports an asset
// that already has a live position, which must not be entered twice.
type Launcher interface {
	Launch(ctx context.Context, d qualify.Decision)
	Holding(assetID string) bool
}

// Config holds the scheduler parameters.
type Config struct {
	Interval time.Duration
	// Fallback candidates are used when the feed returns nothing.
	Fallback []string
	// DedupResetCycles clears the processed set every n cycles. Zero disables.
	DedupResetCycles int
	LockKey          string
	LockTTL          time.Duration
	Retry            retry.Policy
}

// Outcome labels a finished cycle.
type Outcome string

const (
	OutcomeOK        Outcome = "ok"
	OutcomeEmpty     Outcome = "empty"
	OutcomePaused    Outcome = "paused"
	OutcomeQuotaFull Outcome = "quota_full"
	OutcomeNotLeader Outcome = "not_leader"
)

// CycleResult summarises one scan cycle.
type CycleResult struct {
	Outcome    Outcome
	Candidates int
	Evaluated  int
	Entered    int
}

// Scheduler runs the scan loop. Only one cycle runs at a time.
type Scheduler struct {
	cfg       Config
	source    CandidateSource
	market    Fetcher
	filter    Evaluator
	quota     Quota
	launcher  Launcher
	locks     domain.LockManager
	processed *Processed
	logger    *slog.Logger
	now       func() time.Time

	paused  atomic.Bool
	cycles  int
	lastDay time.Time
}

// Option customises a Scheduler.
type Option func(*Scheduler)

// WithLockManager restricts scanning to the holder of cfg.LockKey.
func WithLockManager(l domain.LockManager) Option { return func(s *Scheduler) { s.locks = l } }

// WithClock replaces time.Now for day rollover.
func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

// NewScheduler creates a Scheduler.
func NewScheduler(cfg Config, source CandidateSource, market Fetcher, filter Evaluator, quota Quota, launcher Launcher, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		cfg:      cfg,
		source:   source,
		market:   market,
		filter:   filter,
		quota:    quota,
		launcher: launcher,
		logger:   logger.With(slog.String("component", "scanner")),
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.cfg.LockKey == "" {
		s.cfg.LockKey = "snipebot:scanner"
	}
	if s.cfg.LockTTL <= 0 {
		s.cfg.LockTTL = 2 * s.cfg.Interval
	}
	s.processed = NewProcessed(0, s.now)
	s.lastDay = day(s.now())
	return s
}

// Pause stops new entries until Resume. Open positions keep being monitored.
func (s *Scheduler) Pause() { s.paused.Store(true) }

// Resume re-enables scanning.
func (s *Scheduler) Resume() { s.paused.Store(false) }

// Paused reports whether scanning is paused.
func (s *Scheduler) Paused() bool { return s.paused.Load() }

// Run scans immediately and then every cfg.Interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "scanner: started", slog.Duration("interval", s.cfg.Interval))
	defer s.logger.InfoContext(ctx, "scanner: stopped")

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		res := s.RunCycle(ctx)
		s.logger.DebugContext(ctx, "scanner: cycle complete",
			slog.String("outcome", string(res.Outcome)),
			slog.Int("candidates", res.Candidates),
			slog.Int("evaluated", res.Evaluated),
			slog.Int("entered", res.Entered),
		)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunCycle performs one scan.
func (s *Scheduler) RunCycle(ctx context.Context) CycleResult {
	res := s.cycle(ctx)
	metrics.ScanCycles.WithLabelValues(string(res.Outcome)).Inc()
	return res
}

func (s *Scheduler) cycle(ctx context.Context) CycleResult {
	s.cycles++
	if today := day(s.now()); !today.Equal(s.lastDay) {
		s.lastDay = today
		s.processed.Reset()
	} else if s.cfg.DedupResetCycles > 0 && s.cycles%s.cfg.DedupResetCycles == 0 {
		s.processed.Reset()
	}

	if s.Paused() {
		return CycleResult{Outcome: OutcomePaused}
	}
	if !s.quota.CanEnter() {
		return CycleResult{Outcome: OutcomeQuotaFull}
	}

	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, s.cfg.LockKey, s.cfg.LockTTL)
		if err != nil {
			if !errors.Is(err, domain.ErrLockHeld) {
				s.logger.WarnContext(ctx, "scanner: leader lock failed", slog.String("error", err.Error()))
			}
			return CycleResult{Outcome: OutcomeNotLeader}
		}
		defer unlock()
	}

	candidates := s.candidates(ctx)
	res := CycleResult{Outcome: OutcomeOK, Candidates: len(candidates)}
	if len(candidates) == 0 {
		res.Outcome = OutcomeEmpty
		return res
	}

	for _, c := range candidates {
		if ctx.Err() != nil {
			break
		}
		if s.processed.Seen(c.AssetID) || s.launcher.Holding(c.AssetID) {
			continue
		}
		res.Evaluated++
		snap, err := s.market.Fetch(ctx, c.AssetID)
		if err != nil {
			s.logger.DebugContext(ctx, "scanner: snapshot unavailable",
				slog.String("asset", c.AssetID),
				slog.String("error", err.Error()),
			)
			continue
		}
		d := s.filter.Evaluate(ctx, snap, s.quota.Posture())
		if !d.Pass {
			continue
		}
		if !s.quota.Reserve(ctx) {
			s.logger.InfoContext(ctx, "scanner: quota reached", slog.String("asset", c.AssetID))
			break
		}
		s.logger.InfoContext(ctx, "scanner: candidate qualified",
			slog.String("asset", c.AssetID),
			slog.String("source", c.Source),
			slog.Float64("price", snap.PriceUSD),
			slog.Float64("market_cap", snap.MarketCapUSD),
			slog.Float64("liquidity", snap.LiquidityUSD),
		)
		s.launcher.Launch(ctx, d)
		res.Entered++
	}
	return res
}

func (s *Scheduler) candidates(ctx context.Context) []domain.Candidate {
	list, err := retry.Do(ctx, s.cfg.Retry, s.source.LatestProfiles)
	if err != nil {
		s.logger.WarnContext(ctx, "scanner: candidate feed failed", slog.String("error", err.Error()))
	}
	if len(list) > 0 {
		return list
	}
	out := make([]domain.Candidate, 0, len(s.cfg.Fallback))
	for _, id := range s.cfg.Fallback {
		out = append(out, domain.Candidate{AssetID: id, Source: "fallback"})
	}
	return out
}

func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
