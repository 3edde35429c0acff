// Package ws streams reconciler events to dashboard clients over WebSocket.
//
// A client receives every event by default and may narrow the feed with a
// watch message:
//
//	{"action":"watch","wallets":["W1"],"modes":["live"],"events":["ghosts-cleaned"]}
//	{"action":"unwatch"}
//
// Connecting with ?after=<stream id> first replays missed events from the
// durable event log.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/reconbot/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
	replayLimit    = 500
)

// Config captures the hub's sources and what it reports on connect.
type Config struct {
	Mode    string
	Wallets []string
	// Channel is the SignalBus channel relayed live.
	Channel string
	// Stream is the EventLog stream used for ?after= replay.
	Stream string
	// AllowedOrigins restricts browser origins; empty allows any.
	AllowedOrigins []string
	StartedAt      time.Time
}

// Hub relays reconciler events from a SignalBus to WebSocket clients.
type Hub struct {
	bus      domain.SignalBus
	events   domain.EventLog
	cfg      Config
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	done    chan struct{}
}

// NewHub creates a Hub. events may be nil, which disables replay.
func NewHub(bus domain.SignalBus, events domain.EventLog, logger *slog.Logger, cfg Config) *Hub {
	cfg.Mode = strings.TrimSpace(strings.ToLower(cfg.Mode))
	if cfg.Mode == "" {
		cfg.Mode = "unknown"
	}
	if cfg.Channel == "" {
		cfg.Channel = "reconcile"
	}
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now().UTC()
	}

	h := &Hub{
		bus:     bus,
		events:  events,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "ws_hub")),
		clients: make(map[*client]struct{}),
		done:    make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return h
}

// Run relays the configured channel until ctx is cancelled, then closes
// every client.
func (h *Hub) Run(ctx context.Context) error {
	defer h.shutdown()

	msgs, err := h.bus.Subscribe(ctx, h.cfg.Channel)
	if err != nil {
		h.logger.ErrorContext(ctx, "ws: subscribe failed",
			slog.String("channel", h.cfg.Channel),
			slog.String("error", err.Error()),
		)
		<-ctx.Done()
		return ctx.Err()
	}
	h.logger.InfoContext(ctx, "ws: relaying channel", slog.String("channel", h.cfg.Channel))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-msgs:
			if !ok {
				h.logger.WarnContext(ctx, "ws: subscription closed", slog.String("channel", h.cfg.Channel))
				<-ctx.Done()
				return ctx.Err()
			}
			h.broadcast(decodeEvent("", data))
		}
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	close(h.done)
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// broadcast queues ev for every client whose filter matches. Slow clients
// lose the message rather than stall the relay.
func (h *Hub) broadcast(ev relayed) {
	frame, err := ev.frame("event")
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(ev) {
			continue
		}
		select {
		case c.send <- frame:
		default:
			h.logger.Warn("ws: dropping event for slow client",
				slog.String("event", ev.Event),
				slog.String("remote_addr", c.remote),
			)
		}
	}
}

// HandleWS upgrades the request, replays from ?after= when the event log is
// available, and then streams live events.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WarnContext(r.Context(), "ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		remote: r.RemoteAddr,
	}
	c.queue(h.statusFrame())
	if after := r.URL.Query().Get("after"); after != "" {
		h.replay(r.Context(), c, after)
	}

	h.mu.Lock()
	select {
	case <-h.done:
		h.mu.Unlock()
		conn.Close()
		return
	default:
	}
	h.clients[c] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()
	h.logger.InfoContext(r.Context(), "ws: client connected",
		slog.String("remote_addr", c.remote),
		slog.Int("clients", total),
	)

	go c.writePump()
	go c.readPump()
}

// replay queues up to replayLimit stream entries after id. Entries that do
// not fit the client buffer are dropped.
func (h *Hub) replay(ctx context.Context, c *client, after string) {
	if h.events == nil || h.cfg.Stream == "" {
		return
	}
	msgs, err := h.events.StreamRead(ctx, h.cfg.Stream, after, replayLimit)
	if err != nil {
		h.logger.WarnContext(ctx, "ws: replay failed",
			slog.String("after", after),
			slog.String("error", err.Error()),
		)
		return
	}
	for _, m := range msgs {
		if frame, err := decodeEvent(m.ID, m.Payload).frame("replay"); err == nil {
			c.queue(frame)
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	total := len(h.clients)
	h.mu.Unlock()
	if ok {
		h.logger.Info("ws: client disconnected",
			slog.String("remote_addr", c.remote),
			slog.Int("clients", total),
		)
	}
}

// statusFrame tells a new client which accounts this instance reconciles.
func (h *Hub) statusFrame() []byte {
	uptime := max(0, int64(time.Since(h.cfg.StartedAt).Seconds()))
	payload, _ := json.Marshal(map[string]any{
		"mode":           h.cfg.Mode,
		"wallets":        h.cfg.Wallets,
		"replay":         h.events != nil && h.cfg.Stream != "",
		"uptime_seconds": uptime,
	})
	frame, _ := json.Marshal(envelope{Type: "status", Payload: payload})
	return frame
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		o = strings.ToLower(strings.TrimRight(strings.TrimSpace(o), "/"))
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.ToLower(origin)]
		return ok
	}
}
