package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/reconbot/internal/domain"
)

// AuditReader queries the audit trail.
type AuditReader interface {
	Query(ctx context.Context, f domain.AuditFilter, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// AuditHandler serves the audit trail of cleanups and resets.
type AuditHandler struct {
	audit  AuditReader
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(audit AuditReader, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, logger: logHandler(logger, "audit")}
}

// ListAudit returns audit entries, newest first. Every filter is optional.
// GET /api/audit?event=position_ghost_cleaned&wallet=W1&mode=live
func (h *AuditHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.AuditFilter{
		Event:    q.Get("event"),
		WalletID: q.Get("wallet"),
	}
	if m := q.Get("mode"); m != "" {
		mode, err := domain.ParseTradingMode(m)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Mode = mode
	}

	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := h.audit.Query(r.Context(), filter, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list audit failed",
			slog.String("event", filter.Event),
			slog.String("wallet_id", filter.WalletID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list audit entries")
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
