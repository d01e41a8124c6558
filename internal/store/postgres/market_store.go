package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arbwatch/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL. One row holds
// the latest snapshot of a market, keyed by (source, market_id) and replaced
// on every polling cycle.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const upsertMarketQuery = `
	INSERT INTO market_snapshots (
		source, market_id, title, description, url,
		active, created_time, end_time, updated_at
	) VALUES (
		$1, $2, $3, $4, $5,
		$6, $7, $8, NOW()
	)
	ON CONFLICT (source, market_id) DO UPDATE SET
		title        = EXCLUDED.title,
		description  = EXCLUDED.description,
		url          = EXCLUDED.url,
		active       = EXCLUDED.active,
		created_time = EXCLUDED.created_time,
		end_time     = EXCLUDED.end_time,
		updated_at   = NOW()`

// Upsert inserts or refreshes a single market snapshot.
func (s *MarketStore) Upsert(ctx context.Context, m domain.Market) error {
	_, err := s.pool.Exec(ctx, upsertMarketQuery,
		m.Source, m.MarketID, m.Title, m.Description, m.URL,
		m.Active, m.CreatedTime, m.EndTime,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert market %s: %w", m.Key(), err)
	}
	return nil
}

// UpsertBatch inserts or refreshes multiple market snapshots in a single
// batch operation.
func (s *MarketStore) UpsertBatch(ctx context.Context, markets []domain.Market) error {
	if len(markets) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, m := range markets {
		batch.Queue(upsertMarketQuery,
			m.Source, m.MarketID, m.Title, m.Description, m.URL,
			m.Active, m.CreatedTime, m.EndTime,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range markets {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert market batch item %d: %w", i, err)
		}
	}
	return nil
}

const marketCols = `source, market_id, title, description, url,
	active, created_time, end_time`

// scanMarket scans a single market row into a domain.Market.
func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	err := row.Scan(
		&m.Source, &m.MarketID, &m.Title, &m.Description, &m.URL,
		&m.Active, &m.CreatedTime, &m.EndTime,
	)
	if err != nil {
		return domain.Market{}, err
	}
	return m, nil
}

// Get retrieves a market snapshot by source and market ID.
func (s *MarketStore) Get(ctx context.Context, source, marketID string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM market_snapshots WHERE source = $1 AND market_id = $2`,
		source, marketID)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s:%s: %w", source, marketID, err)
	}
	return m, nil
}

// ListBySource returns one source's snapshots, most recently refreshed first,
// with pagination and optional time filtering on the refresh time.
func (s *MarketStore) ListBySource(ctx context.Context, source string, opts domain.ListOpts) ([]domain.Market, error) {
	query, args := appendListOpts(
		`SELECT `+marketCols+` FROM market_snapshots WHERE source = $1`,
		[]any{source}, "updated_at", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets for %s: %w", source, err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}
	return markets, nil
}

// Count returns the total number of market snapshots in the database.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM market_snapshots").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return count, nil
}

// Compile-time interface check.
var _ domain.MarketStore = (*MarketStore)(nil)
