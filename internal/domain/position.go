package domain

import "time"

// PositionState is the lifecycle state of a position.
type PositionState string

const (
	StateCandidate PositionState = "candidate"
	StateEntering  PositionState = "entering"
	StateOpen      PositionState = "open"
	StateExiting   PositionState = "exiting"
	StateClosed    PositionState = "closed"
)

// ExitReason records which exit trigger closed a position.
type ExitReason string

const (
	ExitNone           ExitReason = ""
	ExitRug            ExitReason = "rug"
	ExitTrailingStop   ExitReason = "trailing_stop"
	ExitTimeout        ExitReason = "timeout"
	ExitMonitoringLost ExitReason = "monitoring_lost"
)

// Position is a single asset holding supervised by one lifecycle manager.
type Position struct {
	ID            string        `json:"id"`
	AssetID       string        `json:"asset_id"`
	EntryPrice    float64       `json:"entry_price"`
	EntrySizeBase float64       `json:"entry_size_base"`
	EntryTime     time.Time     `json:"entry_time"`
	PeakPrice     float64       `json:"peak_price"`
	LastPrice     float64       `json:"last_price"`
	GainMultiple  float64       `json:"gain_multiple"`
	Volatility    float64       `json:"volatility"`
	TrailingStop  float64       `json:"trailing_stop"`
	State         PositionState `json:"state"`
	ExitReason    ExitReason    `json:"exit_reason,omitempty"`
	ExitPrice     float64       `json:"exit_price,omitempty"`
	ExitTime      *time.Time    `json:"exit_time,omitempty"`
	ProfitBase    float64       `json:"profit_base,omitempty"`
	ProfitUSD     float64       `json:"profit_usd,omitempty"`
	Executor      string        `json:"executor"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// HoldingTime returns how long the position has been held at now.
func (p Position) HoldingTime(now time.Time) time.Duration {
	return now.Sub(p.EntryTime)
}
