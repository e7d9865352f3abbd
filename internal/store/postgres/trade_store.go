package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/flowbot/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, symbol, side, size, entry_price, exit_price,
	pnl, reason, opened_at, closed_at`

func scanTradeRows(rows pgx.Rows) ([]domain.Trade, error) {
	defer rows.Close()
	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var side string
		if err := rows.Scan(
			&t.ID, &t.Symbol, &side,
			&t.Size, &t.EntryPrice, &t.ExitPrice,
			&t.PnL, &t.Reason, &t.OpenedAt, &t.ClosedAt,
		); err != nil {
			return nil, err
		}
		t.Side = domain.OrderSide(side)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Insert stores a completed trade. Re-inserting the same ID is a no-op so a
// retried close does not duplicate the record.
func (s *TradeStore) Insert(ctx context.Context, t domain.Trade) error {
	const query = `
		INSERT INTO trades (
			id, symbol, side, size, entry_price, exit_price,
			pnl, reason, opened_at, closed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		t.ID, t.Symbol, string(t.Side),
		t.Size, t.EntryPrice, t.ExitPrice,
		t.PnL, t.Reason, t.OpenedAt, t.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", t.ID, err)
	}
	return nil
}

// ListBefore returns trades closed strictly before the cutoff, oldest first,
// for archiving.
func (s *TradeStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE closed_at < $1 ORDER BY closed_at ASC`
	args := []any{cutoff}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before: %w", err)
	}

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades before: %w", err)
	}
	return trades, nil
}

// DeleteBefore deletes trades closed before the cutoff. Returns the number
// deleted.
func (s *TradeStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM trades WHERE closed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete trades before: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ domain.TradeStore = (*TradeStore)(nil)
