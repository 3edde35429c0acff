// Package notify delivers reconciler events. A Bus fans events out to
// subscribers off the caller's goroutine; the Notifier subscriber renders them
// for chat senders (Telegram, Discord) filtered by event name.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/reconbot/internal/domain"
)

// Sender is one chat channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier renders events and delivers them to every Sender. Only events in
// the allow list pass (all events when the list is empty). Repeated
// reconcile-failed alerts for one account are held back for the failure
// cooldown.
type Notifier struct {
	senders  []Sender
	events   map[string]struct{}
	cooldown time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu       sync.Mutex
	lastSent map[string]time.Time
}

func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]struct{}, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = struct{}{}
		}
	}
	return &Notifier{
		senders:  senders,
		events:   allowed,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "notifier")),
		lastSent: make(map[string]time.Time),
	}
}

// WithFailureCooldown sets how long a reconcile-failed alert for an account
// suppresses the next one. Zero disables suppression.
func (n *Notifier) WithFailureCooldown(d time.Duration) *Notifier {
	n.cooldown = d
	return n
}

// Name implements Subscriber.
func (n *Notifier) Name() string { return "notifier" }

// Handle implements Subscriber.
func (n *Notifier) Handle(ctx context.Context, ev Event) error {
	if len(n.events) > 0 {
		if _, ok := n.events[ev.Name]; !ok {
			return nil
		}
	}
	if n.coolingDown(ev) {
		n.logger.DebugContext(ctx, "alert suppressed by cooldown", slog.String("event", ev.Name))
		return nil
	}
	title, message := Format(ev)
	return n.Send(ctx, title, message)
}

// coolingDown records ev and reports whether an identical failure alert
// went out within the cooldown.
func (n *Notifier) coolingDown(ev Event) bool {
	if n.cooldown <= 0 || ev.Name != domain.EventReconcileFailed {
		return false
	}
	f := fields(ev.Payload)
	key := fmt.Sprintf("%s|%v|%v", ev.Name, f["wallet_id"], f["mode"])

	n.mu.Lock()
	defer n.mu.Unlock()
	now := n.now()
	if last, ok := n.lastSent[key]; ok && now.Sub(last) < n.cooldown {
		return true
	}
	n.lastSent[key] = now
	return false
}

// Send delivers to every sender concurrently. A failing sender does not stop
// the others; failures are joined into the returned error.
func (n *Notifier) Send(ctx context.Context, title, message string) error {
	errs := make([]error, len(n.senders))
	var g errgroup.Group
	for i, s := range n.senders {
		g.Go(func() error {
			if err := s.Send(ctx, title, message); err != nil {
				n.logger.ErrorContext(ctx, "sender failed",
					slog.String("sender", s.Name()),
					slog.String("title", title),
					slog.String("error", err.Error()),
				)
				errs[i] = fmt.Errorf("%s: %w", s.Name(), err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}
