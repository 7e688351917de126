package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/storeledger/internal/domain"
)

const (
	// DefaultStreamMaxLen bounds the stream when no length is configured.
	DefaultStreamMaxLen int64 = 10000

	subscriberBuffer = 128
	payloadField     = "payload"
)

var _ domain.SignalBus = (*SignalBus)(nil)

// SignalBus pairs Pub/Sub for live fan-out with one capped Redis stream
// that late WebSocket clients replay from.
type SignalBus struct {
	rdb    *redis.Client
	stream string
	maxLen int64
}

// NewSignalBus appends to stream, trimmed to roughly maxLen entries.
// maxLen <= 0 selects DefaultStreamMaxLen.
func NewSignalBus(c *Client, stream string, maxLen int64) *SignalBus {
	if maxLen <= 0 {
		maxLen = DefaultStreamMaxLen
	}
	return &SignalBus{rdb: c.Underlying(), stream: stream, maxLen: maxLen}
}

// Emit runs PUBLISH and XADD MAXLEN ~ inside MULTI/EXEC.
func (sb *SignalBus) Emit(ctx context.Context, channel string, payload []byte) (string, error) {
	var id *redis.StringCmd
	_, err := sb.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Publish(ctx, channel, payload)
		id = p.XAdd(ctx, &redis.XAddArgs{
			Stream: sb.stream,
			MaxLen: sb.maxLen,
			Approx: true,
			Values: map[string]any{payloadField: payload},
		})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("redis: emit %s: %w", channel, err)
	}
	return id.Val(), nil
}

// Subscribe uses PSUBSCRIBE for glob patterns. The returned channel closes
// when ctx ends or the connection drops.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	pubsub := sb.rdb.Subscribe(ctx)
	subscribe := pubsub.Subscribe
	if hasPattern(channel) {
		subscribe = pubsub.PSubscribe
	}
	if err := subscribe(ctx, channel); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}
	// Block until Redis confirms so no publish after return is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, subscriberBuffer)
	go forward(ctx, pubsub, out)
	return out, nil
}

func forward(ctx context.Context, pubsub *redis.PubSub, out chan<- []byte) {
	defer close(out)
	defer pubsub.Close()
	in := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case out <- []byte(msg.Payload):
			case <-ctx.Done():
				return
			}
		}
	}
}

// hasPattern reports whether channel needs PSUBSCRIBE.
func hasPattern(channel string) bool {
	return strings.ContainsAny(channel, "*?[")
}

// rangeStart turns a cursor into an XRANGE start bound.
func rangeStart(afterID string) string {
	if afterID == "" || afterID == "0" {
		return "-"
	}
	return "(" + afterID
}

// ReadAfter pages the stream with XRANGE. It never blocks.
func (sb *SignalBus) ReadAfter(ctx context.Context, afterID string, count int) ([]domain.StreamMessage, error) {
	entries, err := sb.rdb.XRangeN(ctx, sb.stream, rangeStart(afterID), "+", int64(count)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: read %s after %q: %w", sb.stream, afterID, err)
	}
	msgs := make([]domain.StreamMessage, 0, len(entries))
	for _, e := range entries {
		if data, ok := streamPayload(e.Values); ok {
			msgs = append(msgs, domain.StreamMessage{ID: e.ID, Payload: data})
		}
	}
	return msgs, nil
}

func streamPayload(values map[string]any) ([]byte, bool) {
	switch v := values[payloadField].(type) {
	case string:
		return []byte(v), true
	case []byte:
		return v, true
	default:
		return nil, false
	}
}
