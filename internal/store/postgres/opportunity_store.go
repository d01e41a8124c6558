package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arbwatch/internal/domain"
)

// OpportunityStore implements domain.OpportunityStore using PostgreSQL. Each
// detected opportunity is one history row; the action guidance and the market
// legs are stored as JSONB.
type OpportunityStore struct {
	pool *pgxpool.Pool
}

// NewOpportunityStore creates a new OpportunityStore backed by the given
// connection pool.
func NewOpportunityStore(pool *pgxpool.Pool) *OpportunityStore {
	return &OpportunityStore{pool: pool}
}

const oppCols = `id, title, normalized_title, category, source_a, source_b,
	mid_a, mid_b, spread, spread_pct, tier, tier_priority,
	quality_score, priority, action, markets, detected_at`

// Insert stores a detected opportunity. Re-inserting an existing ID is a
// no-op so a replayed cycle cannot duplicate history.
func (s *OpportunityStore) Insert(ctx context.Context, opp domain.Opportunity) error {
	actionJSON, err := json.Marshal(opp.Action)
	if err != nil {
		return fmt.Errorf("postgres: marshal opportunity action: %w", err)
	}
	marketsJSON, err := json.Marshal(opp.Markets)
	if err != nil {
		return fmt.Errorf("postgres: marshal opportunity markets: %w", err)
	}

	const query = `
		INSERT INTO opportunities (` + oppCols + `
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17
		)
		ON CONFLICT (id) DO NOTHING`

	_, err = s.pool.Exec(ctx, query,
		opp.ID, opp.Title, opp.NormalizedTitle, string(opp.Category), opp.SourceA, opp.SourceB,
		opp.MidA, opp.MidB, opp.Spread, opp.SpreadPct, string(opp.Tier), opp.TierPriority,
		opp.QualityScore, string(opp.Priority), actionJSON, marketsJSON, opp.DetectedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert opportunity %s: %w", opp.ID, err)
	}
	return nil
}

// scanOpportunity scans a single opportunity row.
func scanOpportunity(row pgx.Row) (domain.Opportunity, error) {
	var opp domain.Opportunity
	var category, tier, priority string
	var actionJSON, marketsJSON []byte

	err := row.Scan(
		&opp.ID, &opp.Title, &opp.NormalizedTitle, &category, &opp.SourceA, &opp.SourceB,
		&opp.MidA, &opp.MidB, &opp.Spread, &opp.SpreadPct, &tier, &opp.TierPriority,
		&opp.QualityScore, &priority, &actionJSON, &marketsJSON, &opp.DetectedAt,
	)
	if err != nil {
		return domain.Opportunity{}, err
	}

	opp.Category = domain.Category(category)
	opp.Tier = domain.Tier(tier)
	opp.Priority = domain.Priority(priority)

	if len(actionJSON) > 0 {
		if err := json.Unmarshal(actionJSON, &opp.Action); err != nil {
			return domain.Opportunity{}, fmt.Errorf("unmarshal action: %w", err)
		}
	}
	if len(marketsJSON) > 0 {
		if err := json.Unmarshal(marketsJSON, &opp.Markets); err != nil {
			return domain.Opportunity{}, fmt.Errorf("unmarshal markets: %w", err)
		}
	}
	return opp, nil
}

// ListRecent returns the most recent opportunities ordered by detection time.
func (s *OpportunityStore) ListRecent(ctx context.Context, limit int) ([]domain.Opportunity, error) {
	query := `SELECT ` + oppCols + ` FROM opportunities ORDER BY detected_at DESC`
	args := []any{}

	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent opportunities: %w", err)
	}
	defer rows.Close()

	var opps []domain.Opportunity
	for rows.Next() {
		opp, err := scanOpportunity(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan opportunity: %w", err)
		}
		opps = append(opps, opp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list recent opportunities rows: %w", err)
	}
	return opps, nil
}

// ListBefore returns opportunities detected strictly before the cutoff in
// chronological order, oldest first, for archiving.
func (s *OpportunityStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Opportunity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+oppCols+` FROM opportunities WHERE detected_at < $1 ORDER BY detected_at ASC`,
		before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list opportunities before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()

	var opps []domain.Opportunity
	for rows.Next() {
		opp, err := scanOpportunity(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan opportunity: %w", err)
		}
		opps = append(opps, opp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list opportunities before rows: %w", err)
	}
	return opps, nil
}

// DeleteBefore removes opportunities detected strictly before the cutoff and
// returns the number of rows deleted.
func (s *OpportunityStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM opportunities WHERE detected_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete opportunities before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.OpportunityStore = (*OpportunityStore)(nil)
