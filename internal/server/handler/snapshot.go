package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/reconbot/internal/domain"
)

// SnapshotReader loads pre-cleanup snapshots by label.
type SnapshotReader interface {
	Load(ctx context.Context, label string) ([]domain.Position, error)
}

// SnapshotLister lists stored snapshots for a wallet.
type SnapshotLister interface {
	List(ctx context.Context, walletID string) ([]domain.BlobInfo, error)
}

// SnapshotHandler serves the records captured before ghost cleanups.
type SnapshotHandler struct {
	reader SnapshotReader
	lister SnapshotLister
	logger *slog.Logger
}

// NewSnapshotHandler creates a SnapshotHandler. lister may be nil.
func NewSnapshotHandler(reader SnapshotReader, lister SnapshotLister, logger *slog.Logger) *SnapshotHandler {
	return &SnapshotHandler{reader: reader, lister: lister, logger: logHandler(logger, "snapshots")}
}

// ListSnapshots lists the snapshots of one wallet.
// GET /api/snapshots?wallet=W
func (h *SnapshotHandler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	if h.lister == nil {
		writeError(w, http.StatusNotFound, "snapshot listing not available")
		return
	}
	wallet := r.URL.Query().Get("wallet")
	if wallet == "" {
		writeError(w, http.StatusBadRequest, "wallet query parameter required")
		return
	}
	infos, err := h.lister.List(r.Context(), wallet)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list snapshots failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list snapshots")
		return
	}
	if infos == nil {
		infos = []domain.BlobInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": infos})
}

// GetSnapshot returns the records stored under a label.
// GET /api/snapshots/{label...}
func (h *SnapshotHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	label := r.PathValue("label")
	records, err := h.reader.Load(r.Context(), label)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "snapshot not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "load snapshot failed",
			slog.String("label", label),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load snapshot")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"label": label, "records": records})
}
