package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/reconbot/internal/domain"
	"github.com/alanyoungcy/reconbot/internal/reconcile"
)

// ReconcileService is the part of reconcile.Service the API drives.
type ReconcileService interface {
	Reconcile(ctx context.Context, walletID string, mode domain.TradingMode) reconcile.Report
	Status(ctx context.Context, walletID string, mode domain.TradingMode) (reconcile.AccountStatus, error)
	ResetAttempts(ctx context.Context, walletID string, mode domain.TradingMode) error
}

// ReconcileHandler exposes manual reconciliation and its bookkeeping.
type ReconcileHandler struct {
	svc    ReconcileService
	events domain.EventLog
	stream string
	logger *slog.Logger
}

// NewReconcileHandler creates a ReconcileHandler. events may be nil, in which
// case the event history endpoint answers 404.
func NewReconcileHandler(svc ReconcileService, events domain.EventLog, stream string, logger *slog.Logger) *ReconcileHandler {
	return &ReconcileHandler{
		svc:    svc,
		events: events,
		stream: stream,
		logger: logHandler(logger, "reconcile"),
	}
}

// Trigger runs one pass for an account. Throttled and suppressed passes are
// normal answers and return 200 with the report; a failed pass returns 502.
// POST /api/reconcile
func (h *ReconcileHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	wallet, mode, err := parseAccount(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rep := h.svc.Reconcile(r.Context(), wallet, mode)
	code := http.StatusOK
	if rep.Status == reconcile.StatusFailed {
		code = http.StatusBadGateway
	}
	writeJSON(w, code, rep)
}

// Status returns the attempt state and remaining throttle for an account.
// GET /api/reconcile/status?wallet=W&mode=live
func (h *ReconcileHandler) Status(w http.ResponseWriter, r *http.Request) {
	wallet, mode, err := parseAccount(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	st, err := h.svc.Status(r.Context(), wallet, mode)
	if errors.Is(err, domain.ErrInvalidAccount) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "status failed",
			slog.String("wallet", wallet),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load status")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Reset clears the attempt counter so a suppressed account is retried.
// POST /api/reconcile/reset
func (h *ReconcileHandler) Reset(w http.ResponseWriter, r *http.Request) {
	wallet, mode, err := parseAccount(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.svc.ResetAttempts(r.Context(), wallet, mode); err != nil {
		if errors.Is(err, domain.ErrInvalidAccount) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "reset failed",
			slog.String("wallet", wallet),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to reset attempts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Events pages through the durable event stream.
// GET /api/reconcile/events?after=<id>&count=<n>
func (h *ReconcileHandler) Events(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeError(w, http.StatusNotFound, "event history not enabled")
		return
	}
	q := r.URL.Query()
	after := q.Get("after")
	if after == "" {
		after = "0"
	}
	count := 100
	if n, err := strconv.Atoi(q.Get("count")); err == nil && n > 0 && n <= 1000 {
		count = n
	}

	msgs, err := h.events.StreamRead(r.Context(), h.stream, after, count)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "read events failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to read events")
		return
	}
	if msgs == nil {
		msgs = []domain.StreamMessage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": msgs})
}
