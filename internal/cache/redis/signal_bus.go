package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/reconbot/internal/domain"
)

const (
	// streamMaxLen caps the event stream via XADD MAXLEN ~.
	streamMaxLen int64 = 10000
	// subscribeBuffer is the go-redis receive buffer per subscription.
	subscribeBuffer = 256
	payloadField    = "payload"
)

// SignalBus carries reconciler events between replicas: Pub/Sub for live
// delivery to the websocket hub, and a capped Stream as the replayable
// EventLog. Names are namespaced by the client's key prefix.
type SignalBus struct {
	c *Client
}

func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{c: c}
}

// Publish sends payload to a Pub/Sub channel.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.c.rdb.Publish(ctx, sb.c.Key(channel), payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe returns payloads published to channel after the subscription is
// confirmed. The returned channel closes when ctx is done.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	pubsub := sb.c.rdb.Subscribe(ctx, sb.c.Key(channel))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	in := pubsub.Channel(redis.WithChannelSize(subscribeBuffer))
	out := make(chan []byte)
	go func() {
		defer close(out)
		defer pubsub.Close()
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
	}()
	return out, nil
}

// StreamAppend appends payload, trimming the stream to about streamMaxLen.
func (sb *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	err := sb.c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: sb.c.Key(stream),
		MaxLen: streamMaxLen,
		Approx: true,
		Values: []any{payloadField, payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// StreamRead returns up to count entries strictly after lastID, oldest
// first. "" and "0" read from the start. It never blocks.
func (sb *SignalBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	start := "-"
	if lastID != "" && lastID != "0" {
		start = "(" + lastID
	}
	msgs, err := sb.c.rdb.XRangeN(ctx, sb.c.Key(stream), start, "+", int64(count)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: stream read %s after %s: %w", stream, lastID, err)
	}

	out := make([]domain.StreamMessage, 0, len(msgs))
	for _, m := range msgs {
		if v, ok := m.Values[payloadField].(string); ok {
			out = append(out, domain.StreamMessage{ID: m.ID, Payload: []byte(v)})
		}
	}
	return out, nil
}

var (
	_ domain.SignalBus = (*SignalBus)(nil)
	_ domain.EventLog  = (*SignalBus)(nil)
)
