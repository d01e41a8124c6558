package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/arbwatch/internal/domain"
	"github.com/redis/go-redis/v9"
)

// defaultMatchTTL keeps a match's confidence record around long enough to
// suppress repeat announcements across many polling cycles.
const defaultMatchTTL = 24 * time.Hour

// MatchCache implements domain.MatchCache using Redis hashes with
// JSON-serialized EventMatch data.
//
// Key schema:
//
//	match:{normalizedTitle} - hash with field "data" containing JSON
type MatchCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewMatchCache creates a MatchCache backed by the given Client. A ttl of
// zero or less falls back to the default.
func NewMatchCache(c *Client, ttl time.Duration) *MatchCache {
	if ttl <= 0 {
		ttl = defaultMatchTTL
	}
	return &MatchCache{rdb: c.rdb, ttl: ttl}
}

func matchKey(normalizedTitle string) string {
	return "match:" + normalizedTitle
}

// Put stores an EventMatch under its normalized title, refreshing the TTL.
func (mc *MatchCache) Put(ctx context.Context, match domain.EventMatch) error {
	data, err := json.Marshal(match)
	if err != nil {
		return fmt.Errorf("redis: marshal match %s: %w", match.NormalizedTitle, err)
	}

	key := matchKey(match.NormalizedTitle)

	pipe := mc.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, mc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: put match %s: %w", match.NormalizedTitle, err)
	}
	return nil
}

// Get retrieves an EventMatch by its normalized title.
// It returns domain.ErrNotFound when the key does not exist.
func (mc *MatchCache) Get(ctx context.Context, normalizedTitle string) (domain.EventMatch, error) {
	data, err := mc.rdb.HGet(ctx, matchKey(normalizedTitle), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.EventMatch{}, domain.ErrNotFound
		}
		return domain.EventMatch{}, fmt.Errorf("redis: get match %s: %w", normalizedTitle, err)
	}

	var match domain.EventMatch
	if err := json.Unmarshal(data, &match); err != nil {
		return domain.EventMatch{}, fmt.Errorf("redis: unmarshal match %s: %w", normalizedTitle, err)
	}
	return match, nil
}

// Seen reports whether a match for the normalized title is already recorded.
func (mc *MatchCache) Seen(ctx context.Context, normalizedTitle string) (bool, error) {
	n, err := mc.rdb.Exists(ctx, matchKey(normalizedTitle)).Result()
	if err != nil {
		return false, fmt.Errorf("redis: match exists %s: %w", normalizedTitle, err)
	}
	return n > 0, nil
}

// Compile-time interface check.
var _ domain.MatchCache = (*MatchCache)(nil)
