// Package executor holds the TradeExecutor implementations: a simulated
// paper executor, an HTTP client for the external swap relay, and a retrying
// wrapper for either.
package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/alanyoungcy/snipebot/internal/domain"
	"github.com/google/uuid"
)

// PriceSource returns the latest snapshot for an asset.
type PriceSource interface {
	Fetch(ctx context.Context, assetID string) (domain.AssetSnapshot, error)
}

// Paper fills every order at the current snapshot price adjusted by slippage
// against the trader. It tracks simulated holdings per asset. A sell whose
// price fetch fails fills at the last price seen for the asset.
type Paper struct {
	prices   PriceSource
	slippage float64

	mu       sync.Mutex
	holdings map[string]float64
	last     map[string]float64
}

// NewPaper creates a paper executor. slippage is a fraction, e.g. 0.03.
func NewPaper(prices PriceSource, slippage float64) *Paper {
	return &Paper{prices: prices, slippage: slippage, holdings: make(map[string]float64), last: make(map[string]float64)}
}

// Name implements domain.TradeExecutor.
func (p *Paper) Name() string { return "paper" }

// Buy implements domain.TradeExecutor.
func (p *Paper) Buy(ctx context.Context, assetID string, sizeBase float64) (domain.Fill, error) {
	if sizeBase <= 0 {
		return domain.Fill{}, fmt.Errorf("executor: paper buy size %v: %w", sizeBase, domain.ErrExecutionRejected)
	}
	snap, err := p.prices.Fetch(ctx, assetID)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("executor: paper buy %s: %w", assetID, err)
	}
	p.mu.Lock()
	p.holdings[assetID] += sizeBase
	p.last[assetID] = snap.PriceUSD
	p.mu.Unlock()
	return domain.Fill{
		Filled:   true,
		Price:    snap.PriceUSD * (1 + p.slippage),
		SizeBase: sizeBase,
		TxID:     uuid.New().String(),
	}, nil
}

// Sell implements domain.TradeExecutor.
func (p *Paper) Sell(ctx context.Context, assetID string, sizeBase float64) (domain.Fill, error) {
	price := 0.0
	snap, err := p.prices.Fetch(ctx, assetID)
	p.mu.Lock()
	if err == nil {
		price = snap.PriceUSD
	} else if last, ok := p.last[assetID]; ok {
		price = last
	}
	if price > 0 {
		p.holdings[assetID] -= sizeBase
		if p.holdings[assetID] <= 0 {
			delete(p.holdings, assetID)
			delete(p.last, assetID)
		}
	}
	p.mu.Unlock()
	if price <= 0 {
		if err == nil {
			err = domain.ErrUnavailable
		}
		return domain.Fill{}, fmt.Errorf("executor: paper sell %s: %w", assetID, err)
	}
	return domain.Fill{
		Filled:   true,
		Price:    price * (1 - p.slippage),
		SizeBase: sizeBase,
		TxID:     uuid.New().String(),
	}, nil
}

// Holdings returns the simulated base-size exposure per asset.
func (p *Paper) Holdings() map[string]float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]float64, len(p.holdings))
	for k, v := range p.holdings {
		out[k] = v
	}
	return out
}
