package position

import (
	"math"
	"time"

	"github.com/alanyoungcy/snipebot/internal/domain"
	"github.com/shopspring/decimal"
)

// TrailingStop ratchets the stop up to peak - volatility*multiplier. It never
// falls, and stays at prev until a volatility estimate exists.
func TrailingStop(prev, peak, volatility, multiplier float64) float64 {
	if volatility <= 0 {
		return prev
	}
	return math.Max(prev, peak-volatility*multiplier)
}

// EvaluateExit picks the exit trigger by precedence: rug, then trailing stop
// (inclusive), then timeout. ExitNone means keep holding.
func EvaluateExit(unsafe bool, price, stop float64, held, maxHolding time.Duration) domain.ExitReason {
	switch {
	case unsafe:
		return domain.ExitRug
	case stop > 0 && price <= stop:
		return domain.ExitTrailingStop
	case maxHolding > 0 && held >= maxHolding:
		return domain.ExitTimeout
	}
	return domain.ExitNone
}

// Apply folds an observed price into p: last price, peak, gain multiple,
// volatility and stop.
func Apply(p *domain.Position, price, volatility, multiplier float64) {
	p.LastPrice = price
	p.PeakPrice = math.Max(p.PeakPrice, price)
	if p.EntryPrice > 0 {
		p.GainMultiple = price / p.EntryPrice
	}
	p.Volatility = volatility
	p.TrailingStop = TrailingStop(p.TrailingStop, p.PeakPrice, volatility, multiplier)
}

// RealizedProfit returns the base-unit profit of selling sizeBase bought at
// entry for exit, and its USD value at baseUSD per base unit.
func RealizedProfit(entry, exit, sizeBase, baseUSD float64) (profitBase, profitUSD float64) {
	if entry <= 0 {
		return 0, 0
	}
	e := decimal.NewFromFloat(entry)
	pb := decimal.NewFromFloat(exit).Sub(e).Div(e).Mul(decimal.NewFromFloat(sizeBase))
	pu := pb.Mul(decimal.NewFromFloat(baseUSD))
	return pb.InexactFloat64(), pu.Round(6).InexactFloat64()
}
