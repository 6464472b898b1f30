package domain

import "time"

// AssetSnapshot is one immutable market-data observation for an asset.
type AssetSnapshot struct {
	AssetID          string     `json:"asset_id"`
	MarketCapUSD     float64    `json:"market_cap_usd"`
	LiquidityUSD     float64    `json:"liquidity_usd"`
	PriceUSD         float64    `json:"price_usd"`
	PriceChange5mPct float64    `json:"price_change_5m_pct"`
	PriceChange1hPct float64    `json:"price_change_1h_pct"`
	Volume1hUSD      float64    `json:"volume_1h_usd"`
	CreatedAt        *time.Time `json:"created_at,omitempty"`
	FetchedAt        time.Time  `json:"fetched_at"`
}

// LiquidityToCapRatio returns liquidity / market cap, or 0 when the cap is not positive.
func (s AssetSnapshot) LiquidityToCapRatio() float64 {
	if s.MarketCapUSD <= 0 {
		return 0
	}
	return s.LiquidityUSD / s.MarketCapUSD
}

// AccelerationPerMin is the hourly price change spread per minute. Non-positive
// hourly change yields 0.
func (s AssetSnapshot) AccelerationPerMin() float64 {
	if s.PriceChange1hPct <= 0 {
		return 0
	}
	return s.PriceChange1hPct / 60
}

// Age returns how old the pool is at now. ok is false when no creation time is known.
func (s AssetSnapshot) Age(now time.Time) (age time.Duration, ok bool) {
	if s.CreatedAt == nil || s.CreatedAt.IsZero() {
		return 0, false
	}
	return now.Sub(*s.CreatedAt), true
}

// PriceSample is a synthetic high/low/close triple derived from consecutive prices.
type PriceSample struct {
	High  float64
	Low   float64
	Close float64
}

// Candidate is an asset address surfaced by a candidate source.
type Candidate struct {
	AssetID string
	Chain   string
	Source  string
}
