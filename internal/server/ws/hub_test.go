package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/reconbot/internal/domain"
)

type chanBus struct {
	ch chan []byte
}

func (b *chanBus) Publish(_ context.Context, _ string, payload []byte) error {
	b.ch <- payload
	return nil
}

func (b *chanBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	if channel != "reconcile" {
		return nil, errors.New("unexpected channel " + channel)
	}
	return b.ch, nil
}

type fakeLog struct {
	after string
	msgs  []domain.StreamMessage
}

func (l *fakeLog) StreamAppend(context.Context, string, []byte) error { return nil }

func (l *fakeLog) StreamRead(_ context.Context, _ string, after string, _ int) ([]domain.StreamMessage, error) {
	l.after = after
	return l.msgs, nil
}

func startHub(t *testing.T, bus *chanBus, log domain.EventLog, cfg Config) (string, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(bus, log, slog.New(slog.NewTextHandler(io.Discard, nil)), cfg)
	go hub.Run(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", hub.HandleWS)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws", cancel
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	return conn
}

func TestHub_RelaysEvents(t *testing.T) {
	bus := &chanBus{ch: make(chan []byte, 4)}
	url, cancel := startHub(t, bus, nil, Config{Mode: "FULL", Wallets: []string{"W1:live"}})
	defer cancel()
	conn := dial(t, url)

	var status envelope
	if err := conn.ReadJSON(&status); err != nil {
		t.Fatalf("read status: %v", err)
	}
	if status.Type != "status" || !strings.Contains(string(status.Payload), `"mode":"full"`) {
		t.Errorf("status = %s %s", status.Type, status.Payload)
	}

	bus.Publish(context.Background(), "reconcile", []byte(`{"event":"ghosts-cleaned","payload":{"wallet_id":"W1","mode":"live"}}`))

	var ev envelope
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.Type != "event" || ev.Event != "ghosts-cleaned" {
		t.Errorf("event = %+v", ev)
	}
	var payload map[string]any
	_ = json.Unmarshal(ev.Payload, &payload)
	if payload["event"] != "ghosts-cleaned" {
		t.Errorf("payload = %s", ev.Payload)
	}
}

func TestHub_ReplaysAfterID(t *testing.T) {
	bus := &chanBus{ch: make(chan []byte, 1)}
	log := &fakeLog{msgs: []domain.StreamMessage{
		{ID: "1-0", Payload: []byte(`{"event":"reconcile-failed","payload":{"wallet_id":"W1","mode":"live"}}`)},
		{ID: "2-0", Payload: []byte(`{"event":"attempts-reset","payload":{"wallet_id":"W1","mode":"live"}}`)},
	}}
	url, cancel := startHub(t, bus, log, Config{Stream: "reconcile:events"})
	defer cancel()
	conn := dial(t, url+"?after=0-0")

	var status envelope
	if err := conn.ReadJSON(&status); err != nil || status.Type != "status" {
		t.Fatalf("status = %+v, %v", status, err)
	}
	for _, want := range []string{"1-0", "2-0"} {
		var ev envelope
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read replay: %v", err)
		}
		if ev.Type != "replay" || ev.ID != want {
			t.Errorf("replay = %+v, want id %s", ev, want)
		}
	}
	if log.after != "0-0" {
		t.Errorf("after = %q", log.after)
	}
}

func TestHub_RejectsUnknownOrigin(t *testing.T) {
	bus := &chanBus{ch: make(chan []byte, 1)}
	url, cancel := startHub(t, bus, nil, Config{AllowedOrigins: []string{"https://dash.example"}})
	defer cancel()

	hdr := http.Header{"Origin": []string{"https://evil.example"}}
	if _, resp, err := websocket.DefaultDialer.Dial(url, hdr); err == nil {
		t.Fatal("dial from unknown origin succeeded")
	} else if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("resp = %v", resp)
	}

	hdr.Set("Origin", "https://dash.example")
	conn, _, err := websocket.DefaultDialer.Dial(url, hdr)
	if err != nil {
		t.Fatalf("dial from allowed origin: %v", err)
	}
	conn.Close()
}

func TestFilter_Match(t *testing.T) {
	ev := decodeEvent("", []byte(`{"event":"ghosts-cleaned","payload":{"wallet_id":"W1","mode":"live"}}`))
	tests := []struct {
		name string
		f    filter
		want bool
	}{
		{"empty", filter{}, true},
		{"wallet", filter{Wallets: []string{"W2", "W1"}}, true},
		{"other wallet", filter{Wallets: []string{"W2"}}, false},
		{"mode and event", filter{Modes: []string{"live"}, Events: []string{"ghosts-cleaned"}}, true},
		{"other event", filter{Events: []string{"attempts-reset"}}, false},
	}
	for _, tt := range tests {
		if got := tt.f.match(ev); got != tt.want {
			t.Errorf("%s: match = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestDecodeEvent_NonJSON(t *testing.T) {
	ev := decodeEvent("", []byte("plain"))
	if ev.Event != "" || string(ev.raw) != `"plain"` {
		t.Errorf("ev = %+v raw=%s", ev, ev.raw)
	}
	if got := string(rawJSON([]byte(`{"a":1}`))); got != `{"a":1}` {
		t.Errorf("valid json = %s", got)
	}
}
