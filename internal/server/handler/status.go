package handler

import (
	"net/http"
	"time"
)

// StatusHandler reports how this instance is configured.
type StatusHandler struct {
	Mode      string
	Store     string
	Wallets   []string
	StartedAt time.Time
	Dropped   func() int64
}

// GetStatus responds with the run mode, store backend and wallet list.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"mode":           h.Mode,
		"store":          h.Store,
		"wallets":        h.Wallets,
		"uptime_seconds": int64(time.Since(h.StartedAt).Seconds()),
	}
	if h.Dropped != nil {
		body["events_dropped"] = h.Dropped()
	}
	writeJSON(w, http.StatusOK, body)
}
