package domain

import (
	"context"
	"time"
)

// HoldingsCache keeps exchange holdings for a short time so repeated passes
// do not hammer the exchange. Get returns ErrCacheMiss when nothing is cached.
type HoldingsCache interface {
	SetHolding(ctx context.Context, key string, qty float64, ttl time.Duration) error
	GetHolding(ctx context.Context, key string) (float64, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub messaging.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// StreamMessage is one entry of a durable event stream.
type StreamMessage struct {
	ID      string `json:"id"`
	Payload []byte `json:"payload"`
}

// EventLog is a bounded, durable, ordered log of published events.
type EventLog interface {
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
