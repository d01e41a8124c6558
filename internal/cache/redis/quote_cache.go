package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/arbwatch/internal/domain"
	"github.com/redis/go-redis/v9"
)

// defaultQuoteTTL bounds how long a quote survives without a refresh, so a
// source that stops answering cannot keep feeding stale mids into scoring.
const defaultQuoteTTL = 5 * time.Minute

// QuoteCache implements domain.QuoteCache using Redis hashes.
// Each market's latest mid is stored at key "quote:{source}:{marketID}" with
// fields "mid" and "ts" (Unix nanosecond timestamp).
type QuoteCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewQuoteCache creates a QuoteCache backed by the given Client. A ttl of
// zero or less falls back to the default.
func NewQuoteCache(c *Client, ttl time.Duration) *QuoteCache {
	if ttl <= 0 {
		ttl = defaultQuoteTTL
	}
	return &QuoteCache{rdb: c.rdb, ttl: ttl}
}

func quoteKey(source, marketID string) string {
	return "quote:" + source + ":" + marketID
}

// SetMid stores the latest mid price and observation time for a market.
func (qc *QuoteCache) SetMid(ctx context.Context, source, marketID string, mid float64, ts time.Time) error {
	key := quoteKey(source, marketID)
	fields := map[string]interface{}{
		"mid": strconv.FormatFloat(mid, 'f', -1, 64),
		"ts":  strconv.FormatInt(ts.UnixNano(), 10),
	}

	pipe := qc.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, qc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s/%s: %w", source, marketID, err)
	}
	return nil
}

// GetMid retrieves the latest mid price and observation time for a market.
// It returns domain.ErrNotFound when the key does not exist.
func (qc *QuoteCache) GetMid(ctx context.Context, source, marketID string) (float64, time.Time, error) {
	key := quoteKey(source, marketID)
	vals, err := qc.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get quote %s/%s: %w", source, marketID, err)
	}
	if len(vals) == 0 {
		return 0, time.Time{}, domain.ErrNotFound
	}

	midStr, ok := vals["mid"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	mid, err := strconv.ParseFloat(midStr, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse mid %s/%s: %w", source, marketID, err)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse ts %s/%s: %w", source, marketID, err)
	}

	return mid, time.Unix(0, tsNano), nil
}

// GetMids retrieves the latest mids for multiple markets of one source using
// a pipeline. Markets whose keys do not exist are silently omitted from the
// result map.
func (qc *QuoteCache) GetMids(ctx context.Context, source string, marketIDs []string) (map[string]float64, error) {
	if len(marketIDs) == 0 {
		return map[string]float64{}, nil
	}

	pipe := qc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(marketIDs))
	for _, id := range marketIDs {
		cmds[id] = pipe.HGetAll(ctx, quoteKey(source, id))
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get quotes pipeline: %w", err)
	}

	result := make(map[string]float64, len(marketIDs))
	for id, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil {
			continue
		}
		midStr, ok := vals["mid"]
		if !ok {
			continue
		}
		mid, err := strconv.ParseFloat(midStr, 64)
		if err != nil {
			continue
		}
		result[id] = mid
	}

	return result, nil
}

// Compile-time interface check.
var _ domain.QuoteCache = (*QuoteCache)(nil)
