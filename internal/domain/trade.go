package domain

import "time"

// TradeRecord is the journal entry written when a position closes.
type TradeRecord struct {
	ID         string     `json:"id"`
	PositionID string     `json:"position_id"`
	AssetID    string     `json:"asset_id"`
	EntryPrice float64    `json:"entry_price"`
	ExitPrice  float64    `json:"exit_price"`
	SizeBase   float64    `json:"size_base"`
	ProfitBase float64    `json:"profit_base"`
	ProfitUSD  float64    `json:"profit_usd"`
	BaseUSD    float64    `json:"base_usd"`
	ExitReason ExitReason `json:"exit_reason"`
	Executor   string     `json:"executor"`
	OpenedAt   time.Time  `json:"opened_at"`
	ClosedAt   time.Time  `json:"closed_at"`
}

// Win reports whether the trade realized a positive profit.
func (t TradeRecord) Win() bool { return t.ProfitUSD > 0 }

// Fill is an executor's answer to a buy or sell request.
type Fill struct {
	Filled   bool    `json:"filled"`
	Price    float64 `json:"price"`
	SizeBase float64 `json:"size_base"`
	TxID     string  `json:"tx_id"`
}
