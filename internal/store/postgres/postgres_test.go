package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

func TestAppendListOpts(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	query, args := appendListOpts("SELECT id FROM trades WHERE 1=1", nil, "closed_at",
		domain.ListOpts{Since: &since, Limit: 10, Offset: 20})

	want := "SELECT id FROM trades WHERE 1=1 AND closed_at >= $1 ORDER BY closed_at DESC LIMIT $2 OFFSET $3"
	if query != want {
		t.Errorf("query = %q\nwant    %q", query, want)
	}
	if len(args) != 3 || args[1] != 10 || args[2] != 20 {
		t.Errorf("args = %v", args)
	}
}

func TestDSNEscapesCredentials(t *testing.T) {
	got := DSN(ClientConfig{Host: "db", User: "bot", Password: "p@ss/word", Database: "snipebot"})
	want := "postgres://bot:p%40ss%2Fword@db:5432/snipebot?sslmode=disable"
	if got != want {
		t.Errorf("DSN = %q, want %q", got, want)
	}
	if got := DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}); got != "postgres://x" {
		t.Errorf("explicit DSN = %q", got)
	}
}

func TestMigrationNamesSorted(t *testing.T) {
	names, err := migrationNames()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) == 0 || names[0] != "001_init.sql" {
		t.Errorf("names = %v", names)
	}
}

// newTestClient connects to SNIPEBOT_TEST_POSTGRES_DSN and migrates, or skips.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	dsn := os.Getenv("SNIPEBOT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SNIPEBOT_TEST_POSTGRES_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c, err := New(ctx, ClientConfig{DSN: dsn})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(c.Close)
	if err := c.RunMigrations(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return c
}

func TestPositionStoreLifecycle(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	s := NewPositionStore(c.Pool())

	entry := time.Now().UTC().Truncate(time.Microsecond)
	p := domain.Position{
		ID: uuid.NewString(), AssetID: "Tok", EntryPrice: 1, EntrySizeBase: 0.05,
		EntryTime: entry, PeakPrice: 1, LastPrice: 1, State: domain.StateOpen, Executor: "paper",
	}
	if err := s.Upsert(ctx, p); err != nil {
		t.Fatal(err)
	}
	open, err := s.ListOpen(ctx)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, o := range open {
		found = found || o.ID == p.ID
	}
	if !found {
		t.Fatalf("position %s not listed as open", p.ID)
	}

	exit := entry.Add(time.Minute)
	p.State, p.ExitReason, p.ExitPrice, p.ExitTime = domain.StateClosed, domain.ExitTrailingStop, 1.2, &exit
	if err := s.Upsert(ctx, p); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetByID(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != domain.StateClosed || got.ExitReason != domain.ExitTrailingStop || got.ExitTime == nil {
		t.Errorf("got %+v", got)
	}
	if _, err := s.GetByID(ctx, uuid.NewString()); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestTradeStoreArchiveWindow(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	s := NewTradeStore(c.Pool())

	old := time.Date(2001, 3, 4, 5, 6, 7, 0, time.UTC)
	rec := domain.TradeRecord{
		ID: uuid.NewString(), PositionID: uuid.NewString(), AssetID: "Tok",
		EntryPrice: 1, ExitPrice: 1.25, SizeBase: 0.05, ProfitBase: 0.0125, ProfitUSD: 3.875,
		BaseUSD: 310, ExitReason: domain.ExitTrailingStop, Executor: "paper",
		OpenedAt: old.Add(-time.Hour), ClosedAt: old,
	}
	if err := s.Insert(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if err := s.Insert(ctx, rec); err != nil {
		t.Fatalf("duplicate insert: %v", err)
	}
	cutoff := old.Add(time.Second)
	before, err := s.ListBefore(ctx, cutoff, 0)
	if err != nil || len(before) == 0 {
		t.Fatalf("ListBefore = %v, %v", before, err)
	}
	n, err := s.DeleteBefore(ctx, cutoff)
	if err != nil || n < 1 {
		t.Fatalf("DeleteBefore = %d, %v", n, err)
	}
}

func TestAuditStore(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	s := NewAuditStore(c.Pool())
	if err := s.Log(ctx, "pause", map[string]any{"source": "test"}); err != nil {
		t.Fatal(err)
	}
	entries, err := s.List(ctx, domain.ListOpts{Limit: 1})
	if err != nil || len(entries) != 1 {
		t.Fatalf("List = %v, %v", entries, err)
	}
}
