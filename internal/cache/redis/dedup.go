package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/arbwatch/internal/domain"
	"github.com/redis/go-redis/v9"
)

// DedupStore implements domain.DedupStore using SETNX with a TTL. A key
// that sets successfully was not delivered before; a key that already exists
// means the same logical alert went out within the TTL.
type DedupStore struct {
	rdb *redis.Client
}

// NewDedupStore creates a DedupStore backed by the given Client.
func NewDedupStore(c *Client) *DedupStore {
	return &DedupStore{rdb: c.rdb}
}

func dedupKey(key string) string {
	return "dedup:" + key
}

// MarkDelivered records the idempotency key and reports whether it was newly
// set. A false return means the key was already delivered within the TTL.
func (ds *DedupStore) MarkDelivered(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := ds.rdb.SetNX(ctx, dedupKey(key), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: mark delivered %s: %w", key, err)
	}
	return ok, nil
}

// Compile-time interface check.
var _ domain.DedupStore = (*DedupStore)(nil)
