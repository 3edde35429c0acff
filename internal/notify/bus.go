package notify

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// Event is one published occurrence.
type Event struct {
	Name    string    `json:"event"`
	Payload any       `json:"payload"`
	At      time.Time `json:"at"`
}

// Subscriber receives events from a Bus on the dispatcher goroutine.
type Subscriber interface {
	Name() string
	Handle(ctx context.Context, ev Event) error
}

// Bus is a bounded in-process event queue. Publish never blocks: when the
// queue is full the event is dropped and counted. A single dispatcher hands
// events to subscribers in publish order.
type Bus struct {
	queue          chan Event
	handlerTimeout time.Duration
	now            func() time.Time
	logger         *slog.Logger

	mu   sync.RWMutex
	subs []Subscriber

	dropped atomic.Int64
}

// NewBus creates a Bus holding up to capacity undelivered events.
func NewBus(capacity int, handlerTimeout time.Duration, logger *slog.Logger) *Bus {
	if capacity <= 0 {
		capacity = 1
	}
	if handlerTimeout <= 0 {
		handlerTimeout = 10 * time.Second
	}
	return &Bus{
		queue:          make(chan Event, capacity),
		handlerTimeout: handlerTimeout,
		now:            time.Now,
		logger:         logger.With(slog.String("component", "event_bus")),
	}
}

// Subscribe adds s to the delivery list.
func (b *Bus) Subscribe(s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, s)
}

// Publish implements domain.EventPublisher.
func (b *Bus) Publish(event string, payload any) {
	select {
	case b.queue <- Event{Name: event, Payload: payload, At: b.now().UTC()}:
	default:
		n := b.dropped.Add(1)
		b.logger.Warn("event dropped, queue full",
			slog.String("event", event),
			slog.Int64("dropped_total", n),
		)
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Run dispatches events until ctx is cancelled, then delivers whatever is
// still queued using a fresh context.
func (b *Bus) Run(ctx context.Context) error {
	b.logger.InfoContext(ctx, "event bus started", slog.Int("capacity", cap(b.queue)))
	for {
		select {
		case ev := <-b.queue:
			b.deliver(ctx, ev)
		case <-ctx.Done():
			b.drain()
			b.logger.Info("event bus stopped", slog.Int64("dropped_total", b.Dropped()))
			return nil
		}
	}
}

func (b *Bus) drain() {
	ctx := context.Background()
	for {
		select {
		case ev := <-b.queue:
			b.deliver(ctx, ev)
		default:
			return
		}
	}
}

func (b *Bus) deliver(ctx context.Context, ev Event) {
	b.mu.RLock()
	subs := append([]Subscriber(nil), b.subs...)
	b.mu.RUnlock()

	for _, s := range subs {
		if err := b.handle(ctx, s, ev); err != nil {
			b.logger.WarnContext(ctx, "subscriber failed",
				slog.String("subscriber", s.Name()),
				slog.String("event", ev.Name),
				slog.String("error", err.Error()),
			)
		}
	}
}

// handle runs one subscriber, turning a panic into an error.
func (b *Bus) handle(ctx context.Context, s Subscriber, ev Event) (err error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.handlerTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			b.logger.Error("subscriber panicked",
				slog.String("subscriber", s.Name()),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	return s.Handle(ctx, ev)
}
