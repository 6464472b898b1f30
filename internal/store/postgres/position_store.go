package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, asset_id, entry_price, entry_size_base, entry_time,
	peak_price, last_price, gain_multiple, volatility, trailing_stop,
	state, exit_reason, exit_price, exit_time, profit_base, profit_usd,
	executor, updated_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var state, reason string
	err := row.Scan(
		&p.ID, &p.AssetID, &p.EntryPrice, &p.EntrySizeBase, &p.EntryTime,
		&p.PeakPrice, &p.LastPrice, &p.GainMultiple, &p.Volatility, &p.TrailingStop,
		&state, &reason, &p.ExitPrice, &p.ExitTime, &p.ProfitBase, &p.ProfitUSD,
		&p.Executor, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.State = domain.PositionState(state)
	p.ExitReason = domain.ExitReason(reason)
	return p, nil
}

func collectPositions(rows pgx.Rows) ([]domain.Position, error) {
	defer rows.Close()
	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Upsert inserts the position or replaces every mutable column of an
// existing row with the same id.
func (s *PositionStore) Upsert(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, asset_id, entry_price, entry_size_base, entry_time,
			peak_price, last_price, gain_multiple, volatility, trailing_stop,
			state, exit_reason, exit_price, exit_time, profit_base, profit_usd,
			executor, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16,
			$17, NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			peak_price    = EXCLUDED.peak_price,
			last_price    = EXCLUDED.last_price,
			gain_multiple = EXCLUDED.gain_multiple,
			volatility    = EXCLUDED.volatility,
			trailing_stop = EXCLUDED.trailing_stop,
			state         = EXCLUDED.state,
			exit_reason   = EXCLUDED.exit_reason,
			exit_price    = EXCLUDED.exit_price,
			exit_time     = EXCLUDED.exit_time,
			profit_base   = EXCLUDED.profit_base,
			profit_usd    = EXCLUDED.profit_usd,
			updated_at    = NOW()`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.AssetID, p.EntryPrice, p.EntrySizeBase, p.EntryTime,
		p.PeakPrice, p.LastPrice, p.GainMultiple, p.Volatility, p.TrailingStop,
		string(p.State), string(p.ExitReason), p.ExitPrice, p.ExitTime, p.ProfitBase, p.ProfitUSD,
		p.Executor,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s: %w", p.ID, err)
	}
	return nil
}

// GetByID retrieves a single position by its ID.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)
	p, err := scanPosition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Position{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// ListOpen returns positions not yet closed, oldest entry first. Positions
// left in the exiting state by a failed sell are included.
func (s *PositionStore) ListOpen(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE state IN ('open', 'exiting')
		 ORDER BY entry_time ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	positions, err := collectPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open positions: %w", err)
	}
	return positions, nil
}

// ListClosed returns closed positions, most recent exit first.
func (s *PositionStore) ListClosed(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	query, args := appendListOpts(
		`SELECT `+positionSelectCols+` FROM positions WHERE state = 'closed'`,
		nil, "exit_time", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions: %w", err)
	}
	positions, err := collectPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed positions: %w", err)
	}
	return positions, nil
}

var _ domain.PositionStore = (*PositionStore)(nil)
