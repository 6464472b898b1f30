package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

// TradeHandler serves the trade journal.
type TradeHandler struct {
	store  domain.TradeStore
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler. store may be nil when Postgres is
// disabled.
func NewTradeHandler(store domain.TradeStore, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{store: store, logger: logger}
}

type listTradesResponse struct {
	Trades []domain.TradeRecord `json:"trades"`
}

// ListTrades returns journaled trades, newest first.
// GET /api/trades?limit=&offset=&since=
func (h *TradeHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "trade journal disabled")
		return
	}
	trades, err := h.store.List(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list trades failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}
	if trades == nil {
		trades = []domain.TradeRecord{}
	}
	writeJSON(w, http.StatusOK, listTradesResponse{Trades: trades})
}
