package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/snipebot/internal/backtest"
	"github.com/alanyoungcy/snipebot/internal/command"
	"github.com/alanyoungcy/snipebot/internal/config"
	"github.com/alanyoungcy/snipebot/internal/domain"
	"github.com/alanyoungcy/snipebot/internal/qualify"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeActive struct{ positions []domain.Position }

func (f fakeActive) Active() []domain.Position { return f.positions }

type fakePosture struct{ p domain.RiskPosture }

func (f fakePosture) Posture() domain.RiskPosture { return f.p }

type fakeAudit struct{ events []string }

func (f *fakeAudit) Log(_ context.Context, event string, _ map[string]any) error {
	f.events = append(f.events, event)
	return nil
}

func (f *fakeAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

type fakeScanner struct{ paused bool }

func (f *fakeScanner) Pause()       { f.paused = true }
func (f *fakeScanner) Resume()      { f.paused = false }
func (f *fakeScanner) Paused() bool { return f.paused }

func TestCommandRegistryCoversVocabulary(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sc := &fakeScanner{}
	audit := &fakeAudit{}
	var gotSource string
	reg, err := newCommandRegistry(commandDeps{
		Mode:     "trade",
		Executor: "paper",
		Active: fakeActive{positions: []domain.Position{{
			AssetID: "Tok", EntryPrice: 1, LastPrice: 1.2, TrailingStop: 1.1, GainMultiple: 1.2,
			EntryTime: now.Add(-90 * time.Second),
		}}},
		Posture: fakePosture{p: domain.RiskPosture{TradesToday: 2, OpenPositions: 1, CurrentPositionSize: 0.05}},
		Scanner: sc,
		Backtest: func(_ context.Context, src string) (backtest.Summary, error) {
			gotSource = src
			return backtest.Summary{Trades: 2, Wins: 1, WinRate: 0.5, Rejections: map[qualify.Reason]int{}}, nil
		},
		DefaultSource: "data/history.csv",
		Audit:         audit,
		Now:           func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("newCommandRegistry: %v", err)
	}
	ctx := context.Background()

	reply, err := reg.Dispatch(ctx, "/status", nil)
	if err != nil || !strings.Contains(reply, "scanner running") || !strings.Contains(reply, "open positions 1") {
		t.Errorf("status = %q, %v", reply, err)
	}

	reply, _ = reg.Dispatch(ctx, "positions", nil)
	if !strings.Contains(reply, "Tok") || !strings.Contains(reply, "1m30s") {
		t.Errorf("positions = %q", reply)
	}

	if _, err := reg.Dispatch(ctx, "pause", nil); err != nil || !sc.paused {
		t.Fatalf("pause: %v paused=%v", err, sc.paused)
	}
	reply, _ = reg.Dispatch(ctx, "status", nil)
	if !strings.Contains(reply, "scanner paused") {
		t.Errorf("status after pause = %q", reply)
	}
	if _, err := reg.Dispatch(ctx, "resume", nil); err != nil || sc.paused {
		t.Fatalf("resume: %v paused=%v", err, sc.paused)
	}

	reply, _ = reg.Dispatch(ctx, "risk", nil)
	if !strings.Contains(reply, "trades today 2") {
		t.Errorf("risk = %q", reply)
	}

	if _, err := reg.Dispatch(ctx, "backtest", nil); err != nil || gotSource != "data/history.csv" {
		t.Errorf("backtest default source: %v %q", err, gotSource)
	}
	if _, err := reg.Dispatch(ctx, "backtest", []string{"s3://b/k.csv"}); err != nil || gotSource != "s3://b/k.csv" {
		t.Errorf("backtest arg source: %v %q", err, gotSource)
	}

	wantAudit := []string{"command.pause", "command.resume", "command.backtest", "command.backtest"}
	if !slices.Equal(audit.events, wantAudit) {
		t.Errorf("audit = %v, want %v", audit.events, wantAudit)
	}

	reply, _ = reg.Dispatch(ctx, "help", nil)
	for _, n := range command.Vocabulary {
		if !strings.Contains(reply, string(n)) {
			t.Errorf("help missing %s: %q", n, reply)
		}
	}

	if _, err := reg.Dispatch(ctx, "buy", nil); !errors.Is(err, domain.ErrUnknownCommand) {
		t.Errorf("unknown command err = %v", err)
	}
}

func TestCommandRegistryReadOnly(t *testing.T) {
	reg, err := newCommandRegistry(commandDeps{
		Mode:     "monitor",
		Executor: "none",
		Posture:  fakePosture{},
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if _, err := reg.Dispatch(ctx, "pause", nil); !errors.Is(err, errNoScanner) {
		t.Errorf("pause err = %v", err)
	}
	reply, err := reg.Dispatch(ctx, "status", nil)
	if err != nil || !strings.Contains(reply, "scanner disabled") {
		t.Errorf("status = %q, %v", reply, err)
	}
	if _, err := reg.Dispatch(ctx, "backtest", nil); !errors.Is(err, domain.ErrMalformed) {
		t.Errorf("backtest without source err = %v", err)
	}
}

func TestWireDisablesMissingCredentials(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = "trade"

	deps, cleanup, err := Wire(context.Background(), &cfg, discard())
	if err != nil {
		t.Fatalf("Wire: %v", err)
	}
	defer cleanup()

	for _, f := range []string{"postgres", "redis", "s3 archive", "notifications"} {
		if !slices.Contains(deps.Disabled, f) {
			t.Errorf("%s not disabled: %v", f, deps.Disabled)
		}
	}
	if deps.PositionStore != nil || deps.SignalBus != nil || deps.BlobReader != nil {
		t.Error("disabled backends should be nil")
	}
	if len(deps.HealthChecks) != 0 {
		t.Errorf("health checks = %v", deps.HealthChecks)
	}
}

func TestBuildEngineFallsBackToPaper(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = "trade"
	cfg.Executor.Kind = "relay"
	a := New(&cfg, discard())

	deps, cleanup, err := Wire(context.Background(), &cfg, discard())
	if err != nil {
		t.Fatal(err)
	}
	defer cleanup()

	eng := a.buildEngine(context.Background(), deps)
	if eng.Executor.Name() != "paper" {
		t.Errorf("executor = %s, want paper", eng.Executor.Name())
	}
	if !slices.Contains(deps.Disabled, "relay executor") {
		t.Errorf("relay executor not disabled: %v", deps.Disabled)
	}
	if eng.Scheduler.Paused() {
		t.Error("scheduler should start unpaused")
	}
}

func TestBacktestModeFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.csv")
	csv := "token,price,market_cap,liquidity,volume_1h,timestamp\n" +
		"AAA,1.0,5000000,10,10,1700000000\n"
	if err := os.WriteFile(path, []byte(csv), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := config.Defaults()
	cfg.Mode = "backtest"
	cfg.Backtest.Source = path
	a := New(&cfg, discard())

	sum, err := a.backtestFunc(&Dependencies{})(context.Background(), path)
	if err != nil {
		t.Fatalf("backtest: %v", err)
	}
	if sum.Trades != 0 || sum.Rejections[qualify.ReasonMarketCap] != 1 {
		t.Errorf("summary = %+v", sum)
	}
	if err := a.BacktestMode(context.Background(), &Dependencies{}); err != nil {
		t.Errorf("BacktestMode: %v", err)
	}
}
