package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

// ActivePositions lists the positions currently monitored in this process.
type ActivePositions interface {
	Active() []domain.Position
}

// PauseState reports whether the scanner is paused.
type PauseState interface {
	Paused() bool
}

// StatusHandler serves the engine status for the dashboard.
type StatusHandler struct {
	mode     string
	executor string
	started  time.Time
	active   ActivePositions
	pause    PauseState
}

// NewStatusHandler creates a StatusHandler. active and pause are nil in
// read-only modes.
func NewStatusHandler(mode, executor string, active ActivePositions, pause PauseState) *StatusHandler {
	return &StatusHandler{mode: mode, executor: executor, started: time.Now(), active: active, pause: pause}
}

// GetStatus responds with mode, executor, scanner state and open positions.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	scanner := "disabled"
	if h.pause != nil {
		scanner = "running"
		if h.pause.Paused() {
			scanner = "paused"
		}
	}
	open := 0
	if h.active != nil {
		open = len(h.active.Active())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.mode,
		"executor":       h.executor,
		"scanner":        scanner,
		"open_positions": open,
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
	})
}
