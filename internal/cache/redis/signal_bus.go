package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/alanyoungcy/arbwatch/internal/domain"
	"github.com/redis/go-redis/v9"
)

// maxStreamLen bounds each durable stream, trimmed approximately on XADD.
const maxStreamLen int64 = 10000

// SignalBus carries evaluation output from the monitor to its consumers.
// Pub/Sub covers the live path into the websocket hub; streams of the same
// name keep a bounded backlog so reconnecting clients can replay what they
// missed.
type SignalBus struct {
	rdb *redis.Client
}

// NewSignalBus creates a SignalBus backed by the given Client.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{rdb: c.rdb}
}

// Publish fans payload out to the channel's live subscribers.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe opens a Pub/Sub subscription and returns a channel of raw
// payloads. Cancelling ctx tears the subscription down and closes the
// returned channel. Channel names with glob characters subscribe by
// pattern.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	var pubsub *redis.PubSub
	if strings.ContainsAny(channel, "*?[") {
		pubsub = sb.rdb.PSubscribe(ctx, channel)
	} else {
		pubsub = sb.rdb.Subscribe(ctx, channel)
	}

	// The first Receive is the subscription confirmation; a failure here
	// means the caller would otherwise wait on a channel that never fires.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	go func() {
		<-ctx.Done()
		_ = pubsub.Close()
	}()

	out := make(chan []byte, 128)
	go func() {
		defer close(out)
		// Closing the PubSub ends this range.
		for msg := range pubsub.Channel() {
			select {
			case out <- []byte(msg.Payload):
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// StreamAppend records payload in the channel's durable stream, keeping
// roughly the newest maxStreamLen entries.
func (sb *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	err := sb.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: maxStreamLen,
		Approx: true,
		Values: map[string]interface{}{"payload": payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// StreamRead returns up to count entries recorded after lastID, oldest
// first. "0" reads from the start; an empty stream yields a nil slice.
func (sb *SignalBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	results, err := sb.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, lastID},
		Count:   int64(count),
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: stream read %s: %w", stream, err)
	}

	var messages []domain.StreamMessage
	for _, res := range results {
		for _, msg := range res.Messages {
			payload, ok := payloadBytes(msg.Values)
			if !ok {
				continue
			}
			messages = append(messages, domain.StreamMessage{
				ID:      msg.ID,
				Payload: payload,
			})
		}
	}
	return messages, nil
}

// payloadBytes pulls the payload field out of a stream entry. go-redis
// hands values back as strings after a round trip.
func payloadBytes(values map[string]interface{}) ([]byte, bool) {
	switch v := values["payload"].(type) {
	case string:
		return []byte(v), true
	case []byte:
		return v, true
	default:
		return nil, false
	}
}

var _ domain.SignalBus = (*SignalBus)(nil)
