package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/alanyoungcy/reconbot/internal/domain"
)

// Default channel and stream names on the shared bus.
const (
	DefaultChannel = "reconcile"
	DefaultStream  = "reconcile:events"
)

// Forwarder republishes events on a SignalBus channel for live consumers and
// appends them to an EventLog stream for replay. Either side may be nil.
type Forwarder struct {
	bus     domain.SignalBus
	log     domain.EventLog
	channel string
	stream  string
}

// NewForwarder creates a Forwarder using the default channel and stream.
func NewForwarder(bus domain.SignalBus, log domain.EventLog) *Forwarder {
	return &Forwarder{bus: bus, log: log, channel: DefaultChannel, stream: DefaultStream}
}

// Name implements Subscriber.
func (f *Forwarder) Name() string { return "redis_forwarder" }

// Handle implements Subscriber.
func (f *Forwarder) Handle(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("notify: marshal %s: %w", ev.Name, err)
	}

	var errs []error
	if f.bus != nil {
		if err := f.bus.Publish(ctx, f.channel, payload); err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", f.channel, err))
		}
	}
	if f.log != nil {
		if err := f.log.StreamAppend(ctx, f.stream, payload); err != nil {
			errs = append(errs, fmt.Errorf("append %s: %w", f.stream, err))
		}
	}
	return errors.Join(errs...)
}
