package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/reconbot/internal/domain"
)

// PositionReader defines the methods that the position handler requires.
type PositionReader interface {
	List(ctx context.Context, walletID string, mode domain.TradingMode, opts domain.ListOpts) ([]domain.Position, error)
	GetByID(ctx context.Context, id string) (domain.Position, error)
}

// PositionHandler serves read-only position endpoints.
type PositionHandler struct {
	positions PositionReader
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(positions PositionReader, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		logger:    logHandler(logger, "positions"),
	}
}

type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
}

// ListPositions returns positions for one account, newest first.
// GET /api/positions?wallet=W&mode=live
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	wallet, mode, err := parseAccount(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	positions, err := h.positions.List(r.Context(), wallet, mode, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list positions failed",
			slog.String("wallet", wallet),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

// GetPosition returns one position.
// GET /api/positions/{id}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	p, err := h.positions.GetByID(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "position not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "get position failed",
			slog.String("position_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get position")
		return
	}
	writeJSON(w, http.StatusOK, p)
}
