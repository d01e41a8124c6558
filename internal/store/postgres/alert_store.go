package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arbwatch/internal/domain"
)

// AlertStore implements domain.AlertStore using PostgreSQL.
type AlertStore struct {
	pool *pgxpool.Pool
}

// NewAlertStore creates a new AlertStore backed by the given connection pool.
func NewAlertStore(pool *pgxpool.Pool) *AlertStore {
	return &AlertStore{pool: pool}
}

const alertCols = `id, rule, market_id, severity, probability,
	prev_probability, delta, reason, message, fired_at`

// Insert stores a fired alert event. Re-inserting an existing ID is a no-op.
func (s *AlertStore) Insert(ctx context.Context, event domain.AlertEvent) error {
	const query = `
		INSERT INTO alert_events (` + alertCols + `
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10
		)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		event.ID, event.Rule, event.MarketID, string(event.Severity), event.Probability,
		event.PrevProbability, event.Delta, event.Reason, event.Message, event.FiredAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert alert event %s: %w", event.ID, err)
	}
	return nil
}

// scanAlertEvent scans a single alert event row.
func scanAlertEvent(row pgx.Row) (domain.AlertEvent, error) {
	var e domain.AlertEvent
	var severity string

	err := row.Scan(
		&e.ID, &e.Rule, &e.MarketID, &severity, &e.Probability,
		&e.PrevProbability, &e.Delta, &e.Reason, &e.Message, &e.FiredAt,
	)
	if err != nil {
		return domain.AlertEvent{}, err
	}
	e.Severity = domain.Severity(severity)
	return e, nil
}

// ListRecent returns fired alerts, newest first, with pagination and optional
// time filtering.
func (s *AlertStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.AlertEvent, error) {
	query, args := appendListOpts(
		`SELECT `+alertCols+` FROM alert_events WHERE 1=1`,
		nil, "fired_at", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list alert events: %w", err)
	}
	defer rows.Close()

	var events []domain.AlertEvent
	for rows.Next() {
		e, err := scanAlertEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan alert event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list alert events rows: %w", err)
	}
	return events, nil
}

// ListBefore returns alert events fired strictly before the cutoff in
// chronological order, oldest first, for archiving.
func (s *AlertStore) ListBefore(ctx context.Context, before time.Time) ([]domain.AlertEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+alertCols+` FROM alert_events WHERE fired_at < $1 ORDER BY fired_at ASC`,
		before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list alert events before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()

	var events []domain.AlertEvent
	for rows.Next() {
		e, err := scanAlertEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan alert event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list alert events before rows: %w", err)
	}
	return events, nil
}

// DeleteBefore removes alert events fired strictly before the cutoff and
// returns the number of rows deleted.
func (s *AlertStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM alert_events WHERE fired_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete alert events before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.AlertStore = (*AlertStore)(nil)
