package domain

import "context"

// TradeExecutor buys and sells base-asset sized quantities of an asset.
// Implementations must be safe to retry after a transient failure.
type TradeExecutor interface {
	Buy(ctx context.Context, assetID string, sizeBase float64) (Fill, error)
	Sell(ctx context.Context, assetID string, sizeBase float64) (Fill, error)
	Name() string
}

// RateLookup converts base-asset amounts to USD.
type RateLookup interface {
	BaseAssetUSD(ctx context.Context) (float64, error)
}
