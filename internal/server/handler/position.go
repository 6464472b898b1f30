package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

// PositionHandler serves open and closed positions.
type PositionHandler struct {
	active ActivePositions
	store  domain.PositionStore
	logger *slog.Logger
}

// NewPositionHandler creates a PositionHandler. Either source may be nil:
// open positions come from active when set, otherwise from the store.
func NewPositionHandler(active ActivePositions, store domain.PositionStore, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{active: active, store: store, logger: logger}
}

type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
}

// ListPositions returns positions in the requested state (open by default).
// GET /api/positions?state=open|closed&limit=&offset=&since=
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	var (
		positions []domain.Position
		err       error
	)
	switch state := r.URL.Query().Get("state"); state {
	case "", "open":
		switch {
		case h.active != nil:
			positions = h.active.Active()
		case h.store != nil:
			positions, err = h.store.ListOpen(r.Context())
		default:
			writeError(w, http.StatusServiceUnavailable, "no position source configured")
			return
		}
	case "closed":
		if h.store == nil {
			writeError(w, http.StatusServiceUnavailable, "position store disabled")
			return
		}
		positions, err = h.store.ListClosed(r.Context(), parseListOpts(r))
	default:
		writeError(w, http.StatusBadRequest, "state must be open or closed")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list positions failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}
