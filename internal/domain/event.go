package domain

// EventKind names a notification / bus event.
type EventKind string

const (
	EventPositionOpened  EventKind = "position_opened"
	EventPositionClosed  EventKind = "position_closed"
	EventRugExit         EventKind = "rug_exit"
	EventEntryFailed     EventKind = "entry_failed"
	EventLowBalance      EventKind = "low_balance"
	EventSafetyDegraded  EventKind = "safety_degraded"
	EventFeatureDisabled EventKind = "feature_disabled"
	EventMonitoringLost  EventKind = "monitoring_lost"
	EventError           EventKind = "error"
)

// PositionsChannel is the bus channel lifecycle events are published on.
const PositionsChannel = "positions"

// PositionEvent is the payload published on PositionsChannel.
type PositionEvent struct {
	Kind     EventKind `json:"kind"`
	Position Position  `json:"position"`
}
