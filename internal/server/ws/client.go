package ws

import (
	"encoding/json"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// envelope is every frame sent to a client.
type envelope struct {
	Type    string          `json:"type"` // status, event or replay
	ID      string          `json:"id,omitempty"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// relayed is a bus message with the fields client filters match on.
type relayed struct {
	ID       string
	Event    string
	WalletID string
	Mode     string
	raw      json.RawMessage
}

// decodeEvent reads the event name and account out of a forwarded event.
// Undecodable payloads are relayed as a JSON string with no account.
func decodeEvent(id string, data []byte) relayed {
	ev := relayed{ID: id, raw: rawJSON(data)}
	var head struct {
		Event   string `json:"event"`
		Payload struct {
			WalletID string `json:"wallet_id"`
			Mode     string `json:"mode"`
		} `json:"payload"`
	}
	if json.Unmarshal(data, &head) == nil {
		ev.Event = head.Event
		ev.WalletID = head.Payload.WalletID
		ev.Mode = head.Payload.Mode
	}
	return ev
}

func (ev relayed) frame(typ string) ([]byte, error) {
	return json.Marshal(envelope{Type: typ, ID: ev.ID, Event: ev.Event, Payload: ev.raw})
}

// filter narrows a client's feed. Empty lists match everything.
type filter struct {
	Wallets []string `json:"wallets"`
	Modes   []string `json:"modes"`
	Events  []string `json:"events"`
}

func (f filter) match(ev relayed) bool {
	return matchAny(f.Wallets, ev.WalletID) && matchAny(f.Modes, ev.Mode) && matchAny(f.Events, ev.Event)
}

func matchAny(list []string, v string) bool {
	return len(list) == 0 || slices.Contains(list, v)
}

type controlMsg struct {
	Action string `json:"action"` // watch or unwatch
	filter
}

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	remote string

	mu     sync.RWMutex
	filter filter
}

func (c *client) wants(ev relayed) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filter.match(ev)
}

// queue enqueues a frame before the client is registered.
func (c *client) queue(frame []byte) {
	if frame == nil {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close",
					slog.String("remote_addr", c.remote),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var msg controlMsg
		if json.Unmarshal(data, &msg) != nil {
			continue
		}
		switch msg.Action {
		case "watch":
			c.mu.Lock()
			c.filter = msg.filter
			c.mu.Unlock()
		case "unwatch":
			c.mu.Lock()
			c.filter = filter{}
			c.mu.Unlock()
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// rawJSON passes valid JSON through and quotes anything else.
func rawJSON(data []byte) json.RawMessage {
	if json.Valid(data) {
		return data
	}
	quoted, _ := json.Marshal(string(data))
	return quoted
}
