package domain

import (
	"context"
	"time"
)

// QuoteCache holds the freshest mid quote per market, keyed by source and
// market ID. Evaluation reads from here instead of hitting Postgres.
type QuoteCache interface {
	SetMid(ctx context.Context, source, marketID string, mid float64, ts time.Time) error
	GetMid(ctx context.Context, source, marketID string) (float64, time.Time, error)
	GetMids(ctx context.Context, source string, marketIDs []string) (map[string]float64, error)
}

// MatchCache is the long-lived confidence cache of previously seen matches.
type MatchCache interface {
	Put(ctx context.Context, match EventMatch) error
	Get(ctx context.Context, normalizedTitle string) (EventMatch, error)
	Seen(ctx context.Context, normalizedTitle string) (bool, error)
}

// DedupStore remembers delivered idempotency keys so a retried dispatch of
// the same logical alert can be skipped within the TTL.
type DedupStore interface {
	// MarkDelivered records the key and reports whether it was newly set.
	// A false return means the key was already delivered.
	MarkDelivered(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// RateLimiter answers whether one more request under the key fits inside
// the sliding window. Allowed requests are counted.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager hands out TTL-guarded locks shared across instances.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage is one entry read back from a durable stream: the
// broker-assigned ID plus the raw payload.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus carries events between the pipeline and the API layer. Publish
// and Subscribe are live fan-out with no memory; StreamAppend and StreamRead
// add a bounded, replayable history on top.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
