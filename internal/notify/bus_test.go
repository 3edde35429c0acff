package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/reconbot/internal/domain"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type recorder struct {
	mu     sync.Mutex
	name   string
	events []Event
	panics bool
	got    chan struct{}
}

func newRecorder(name string) *recorder {
	return &recorder{name: name, got: make(chan struct{}, 64)}
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) Handle(_ context.Context, ev Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	r.got <- struct{}{}
	if r.panics {
		panic("subscriber bug")
	}
	return nil
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		out = append(out, ev.Name)
	}
	return out
}

func waitFor(t *testing.T, ch <-chan struct{}, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d of %d deliveries", i, n)
		}
	}
}

func TestBus_DeliversInOrderAndContainsPanics(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bad := newRecorder("bad")
	bad.panics = true
	good := newRecorder("good")

	bus := NewBus(8, time.Second, discardLogger())
	bus.Subscribe(bad)
	bus.Subscribe(good)
	go bus.Run(ctx)

	bus.Publish("a", nil)
	bus.Publish("b", nil)
	waitFor(t, good.got, 2)

	if got := good.names(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("good received %v, want [a b]", got)
	}
	if got := bad.names(); len(got) != 2 {
		t.Errorf("panicking subscriber received %v, want both events", got)
	}
}

func TestBus_PublishNeverBlocks(t *testing.T) {
	bus := NewBus(2, time.Second, discardLogger())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			bus.Publish("x", i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked with no dispatcher running")
	}
	if got := bus.Dropped(); got != 3 {
		t.Errorf("dropped = %d, want 3", got)
	}

	rec := newRecorder("r")
	bus.Subscribe(rec)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	bus.Run(ctx)
	if got := rec.names(); len(got) != 2 {
		t.Errorf("drained %v, want the 2 queued events", got)
	}
}

type fakeSignalBus struct {
	mu       sync.Mutex
	channels map[string][][]byte
	err      error
}

func (f *fakeSignalBus) Publish(_ context.Context, channel string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.channels == nil {
		f.channels = map[string][][]byte{}
	}
	f.channels[channel] = append(f.channels[channel], payload)
	return nil
}

func (f *fakeSignalBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not implemented")
}

type fakeEventLog struct {
	streams map[string][][]byte
}

func (f *fakeEventLog) StreamAppend(_ context.Context, stream string, payload []byte) error {
	if f.streams == nil {
		f.streams = map[string][][]byte{}
	}
	f.streams[stream] = append(f.streams[stream], payload)
	return nil
}

func (f *fakeEventLog) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func TestForwarder(t *testing.T) {
	sig := &fakeSignalBus{}
	log := &fakeEventLog{}
	f := NewForwarder(sig, log)

	ev := Event{Name: domain.EventGhostsCleaned, Payload: map[string]any{"wallet_id": "W1"}, At: time.Unix(0, 0).UTC()}
	if err := f.Handle(context.Background(), ev); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	msgs := sig.channels[DefaultChannel]
	if len(msgs) != 1 || len(log.streams[DefaultStream]) != 1 {
		t.Fatalf("channel=%d stream=%d, want 1/1", len(msgs), len(log.streams[DefaultStream]))
	}
	var decoded struct {
		Event   string         `json:"event"`
		Payload map[string]any `json:"payload"`
	}
	if err := json.Unmarshal(msgs[0], &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Event != domain.EventGhostsCleaned || decoded.Payload["wallet_id"] != "W1" {
		t.Errorf("decoded = %+v", decoded)
	}

	sig.err = errors.New("redis down")
	if err := f.Handle(context.Background(), ev); err == nil {
		t.Error("expected publish error")
	}
	if len(log.streams[DefaultStream]) != 2 {
		t.Error("stream append should still happen when publish fails")
	}
}
