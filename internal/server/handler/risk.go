package handler

import (
	"net/http"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

// PostureSource exposes the current risk posture.
type PostureSource interface {
	Posture() domain.RiskPosture
}

// RiskLimits are the static limits shown next to the posture.
type RiskLimits struct {
	MaxTradesPerDay     int     `json:"max_trades_per_day"`
	BaseSizeCeiling     float64 `json:"base_size_ceiling"`
	MaxSize             float64 `json:"max_size"`
	LossStreakThreshold int     `json:"loss_streak_threshold"`
}

// RiskHandler serves the risk posture.
type RiskHandler struct {
	source PostureSource
	limits RiskLimits
}

// NewRiskHandler creates a RiskHandler.
func NewRiskHandler(source PostureSource, limits RiskLimits) *RiskHandler {
	return &RiskHandler{source: source, limits: limits}
}

// GetRisk responds with the posture and limits.
// GET /api/risk
func (h *RiskHandler) GetRisk(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"posture": h.source.Posture(),
		"limits":  h.limits,
	})
}
