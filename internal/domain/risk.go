package domain

import "time"

// RiskPosture is a point-in-time copy of the process-wide trading posture.
type RiskPosture struct {
	ConsecutiveLosses   int       `json:"consecutive_losses"`
	TradesToday         int       `json:"trades_today"`
	LastTradeDate       time.Time `json:"last_trade_date"`
	CurrentPositionSize float64   `json:"current_position_size"`
	OpenPositions       int       `json:"open_positions"`
}
