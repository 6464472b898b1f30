package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, position_id, asset_id, entry_price, exit_price, size_base,
	profit_base, profit_usd, base_usd, exit_reason, executor, opened_at, closed_at`

func collectTrades(rows pgx.Rows) ([]domain.TradeRecord, error) {
	defer rows.Close()
	var trades []domain.TradeRecord
	for rows.Next() {
		var t domain.TradeRecord
		var reason string
		if err := rows.Scan(
			&t.ID, &t.PositionID, &t.AssetID, &t.EntryPrice, &t.ExitPrice, &t.SizeBase,
			&t.ProfitBase, &t.ProfitUSD, &t.BaseUSD, &reason, &t.Executor, &t.OpenedAt, &t.ClosedAt,
		); err != nil {
			return nil, err
		}
		t.ExitReason = domain.ExitReason(reason)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Insert journals one closed trade. Re-inserting the same id is a no-op.
func (s *TradeStore) Insert(ctx context.Context, t domain.TradeRecord) error {
	const query = `
		INSERT INTO trades (
			id, position_id, asset_id, entry_price, exit_price, size_base,
			profit_base, profit_usd, base_usd, exit_reason, executor, opened_at, closed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		t.ID, t.PositionID, t.AssetID, t.EntryPrice, t.ExitPrice, t.SizeBase,
		t.ProfitBase, t.ProfitUSD, t.BaseUSD, string(t.ExitReason), t.Executor, t.OpenedAt, t.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", t.ID, err)
	}
	return nil
}

// List returns journaled trades, most recently closed first.
func (s *TradeStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	query, args := appendListOpts(`SELECT `+tradeSelectCols+` FROM trades WHERE 1=1`, nil, "closed_at", opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	trades, err := collectTrades(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return trades, nil
}

// ListBefore returns up to limit trades closed before the cutoff, oldest
// first, for archiving.
func (s *TradeStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.TradeRecord, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE closed_at < $1 ORDER BY closed_at ASC`
	args := []any{before}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before %s: %w", before.Format(time.RFC3339), err)
	}
	trades, err := collectTrades(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades before: %w", err)
	}
	return trades, nil
}

// DeleteBefore removes trades closed before the cutoff and returns the count.
func (s *TradeStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM trades WHERE closed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete trades before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

var _ domain.TradeStore = (*TradeStore)(nil)
