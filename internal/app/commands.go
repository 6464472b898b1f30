package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/snipebot/internal/backtest"
	"github.com/alanyoungcy/snipebot/internal/command"
	"github.com/alanyoungcy/snipebot/internal/domain"
	"github.com/alanyoungcy/snipebot/internal/server/handler"
)

// Pauser gates the scanner.
type Pauser interface {
	Pause()
	Resume()
	Paused() bool
}

// BacktestFunc replays a CSV source.
type BacktestFunc func(ctx context.Context, source string) (backtest.Summary, error)

// commandDeps is what the operator commands read and control. Active and
// Scanner are nil in read-only modes.
type commandDeps struct {
	Mode          string
	Executor      string
	Active        handler.ActivePositions
	Posture       handler.PostureSource
	Scanner       Pauser
	Backtest      BacktestFunc
	DefaultSource string
	Audit         domain.AuditStore
	Logger        *slog.Logger
	Now           func() time.Time
}

// record writes a state-changing command to the audit log when one is wired.
func (d commandDeps) record(ctx context.Context, name command.Name, detail map[string]any) {
	if d.Audit == nil {
		return
	}
	if err := d.Audit.Log(ctx, "command."+string(name), detail); err != nil {
		d.Logger.WarnContext(ctx, "app: audit command failed",
			slog.String("command", string(name)),
			slog.String("error", err.Error()),
		)
	}
}

var errNoScanner = errors.New("scanner is not running in this mode")

// newCommandRegistry binds the full vocabulary and validates it.
func newCommandRegistry(d commandDeps) (*command.Registry, error) {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	reg := command.NewRegistry()

	reg.MustRegister(command.Status, "engine mode, scanner state and posture", func(ctx context.Context, _ []string) (string, error) {
		scanner := "disabled"
		if d.Scanner != nil {
			scanner = "running"
			if d.Scanner.Paused() {
				scanner = "paused"
			}
		}
		open := 0
		if d.Active != nil {
			open = len(d.Active.Active())
		}
		p := d.Posture.Posture()
		return fmt.Sprintf("mode %s, executor %s, scanner %s\nopen positions %d, trades today %d, size %.6f",
			d.Mode, d.Executor, scanner, open, p.TradesToday, p.CurrentPositionSize), nil
	})

	reg.MustRegister(command.Positions, "open positions", func(ctx context.Context, _ []string) (string, error) {
		if d.Active == nil {
			return "", errNoScanner
		}
		return formatPositions(d.Active.Active(), d.Now()), nil
	})

	reg.MustRegister(command.Risk, "risk posture", func(ctx context.Context, _ []string) (string, error) {
		p := d.Posture.Posture()
		return fmt.Sprintf("trades today %d, open %d, loss streak %d, size %.6f",
			p.TradesToday, p.OpenPositions, p.ConsecutiveLosses, p.CurrentPositionSize), nil
	})

	reg.MustRegister(command.Pause, "stop opening new positions", func(ctx context.Context, _ []string) (string, error) {
		if d.Scanner == nil {
			return "", errNoScanner
		}
		d.Scanner.Pause()
		d.record(ctx, command.Pause, map[string]any{"mode": d.Mode})
		return "scanner paused; open positions are still monitored", nil
	})

	reg.MustRegister(command.Resume, "resume scanning", func(ctx context.Context, _ []string) (string, error) {
		if d.Scanner == nil {
			return "", errNoScanner
		}
		d.Scanner.Resume()
		d.record(ctx, command.Resume, map[string]any{"mode": d.Mode})
		return "scanner resumed", nil
	})

	reg.MustRegister(command.Backtest, "replay a CSV file or s3:// object: backtest [source]", func(ctx context.Context, args []string) (string, error) {
		src := d.DefaultSource
		if len(args) > 0 {
			src = args[0]
		}
		if src == "" {
			return "", fmt.Errorf("backtest: no source given: %w", domain.ErrMalformed)
		}
		if d.Backtest == nil {
			return "", errors.New("backtest is not available")
		}
		sum, err := d.Backtest(ctx, src)
		if err != nil {
			return "", err
		}
		d.record(ctx, command.Backtest, map[string]any{"source": src, "trades": sum.Trades, "win_rate": sum.WinRate})
		return "backtest " + src + ": " + sum.String(), nil
	})

	if err := reg.Validate(); err != nil {
		return nil, err
	}
	return reg, nil
}

func formatPositions(ps []domain.Position, now time.Time) string {
	if len(ps) == 0 {
		return "no open positions"
	}
	var b strings.Builder
	for i, p := range ps {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s entry %.8g last %.8g stop %.8g (x%.2f, %s)",
			p.AssetID, p.EntryPrice, p.LastPrice, p.TrailingStop, p.GainMultiple,
			p.HoldingTime(now).Truncate(time.Second))
	}
	return b.String()
}
