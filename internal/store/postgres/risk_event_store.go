package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/flowbot/internal/domain"
)

// RiskEventStore implements domain.RiskEventStore using PostgreSQL. The table
// is append-only; rows leave it only through archival.
type RiskEventStore struct {
	pool *pgxpool.Pool
}

// NewRiskEventStore creates a RiskEventStore backed by the given pool.
func NewRiskEventStore(pool *pgxpool.Pool) *RiskEventStore {
	return &RiskEventStore{pool: pool}
}

const riskEventSelectCols = `id, symbol, kind, reason, daily_pnl, drawdown, created_at`

func scanRiskEventRows(rows pgx.Rows) ([]domain.RiskEvent, error) {
	defer rows.Close()
	var events []domain.RiskEvent
	for rows.Next() {
		var ev domain.RiskEvent
		if err := rows.Scan(
			&ev.ID, &ev.Symbol, &ev.Kind, &ev.Reason,
			&ev.DailyPnL, &ev.Drawdown, &ev.CreatedAt,
		); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Insert appends a risk event.
func (s *RiskEventStore) Insert(ctx context.Context, ev domain.RiskEvent) error {
	const query = `
		INSERT INTO risk_events (id, symbol, kind, reason, daily_pnl, drawdown, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.pool.Exec(ctx, query,
		ev.ID, ev.Symbol, ev.Kind, ev.Reason,
		ev.DailyPnL, ev.Drawdown, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert risk event %s: %w", ev.ID, err)
	}
	return nil
}

// ListRecent returns the newest events first.
func (s *RiskEventStore) ListRecent(ctx context.Context, limit int) ([]domain.RiskEvent, error) {
	query := `SELECT ` + riskEventSelectCols + ` FROM risk_events ORDER BY created_at DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent risk events: %w", err)
	}

	events, err := scanRiskEventRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan recent risk events: %w", err)
	}
	return events, nil
}

// ListBefore returns events created strictly before the cutoff, oldest first,
// for archiving.
func (s *RiskEventStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.RiskEvent, error) {
	query := `SELECT ` + riskEventSelectCols + ` FROM risk_events WHERE created_at < $1 ORDER BY created_at ASC`
	args := []any{cutoff}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list risk events before: %w", err)
	}

	events, err := scanRiskEventRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan risk events before: %w", err)
	}
	return events, nil
}

// DeleteBefore deletes events created before the cutoff. Returns the number
// deleted.
func (s *RiskEventStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM risk_events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete risk events before: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ domain.RiskEventStore = (*RiskEventStore)(nil)
