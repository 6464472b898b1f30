// Package volatility keeps a bounded price window per asset and derives an
// average-true-range estimate from it.
package volatility

import (
	"math"
	"sync"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

// DefaultWindow is the number of samples kept per asset.
const DefaultWindow = 14

// Tracker is safe for concurrent use. Each asset's window is written by the
// one monitor that owns the position, but Forget and Estimate may be called
// from elsewhere.
type Tracker struct {
	mu      sync.Mutex
	window  int
	samples map[string][]domain.PriceSample
}

// NewTracker creates a tracker keeping window samples per asset.
func NewTracker(window int) *Tracker {
	if window < 2 {
		window = DefaultWindow
	}
	return &Tracker{window: window, samples: make(map[string][]domain.PriceSample)}
}

// Observe appends a sample built from price and the previous close, and
// returns the updated estimate.
func (t *Tracker) Observe(assetID string, price float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	buf := t.samples[assetID]
	s := domain.PriceSample{High: price, Low: price, Close: price}
	if n := len(buf); n > 0 {
		prev := buf[n-1].Close
		s.High = math.Max(price, prev)
		s.Low = math.Min(price, prev)
	}
	buf = append(buf, s)
	if len(buf) > t.window {
		buf = append(buf[:0], buf[len(buf)-t.window:]...)
	}
	t.samples[assetID] = buf
	return averageTrueRange(buf)
}

// Estimate returns the current estimate without adding a sample.
func (t *Tracker) Estimate(assetID string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return averageTrueRange(t.samples[assetID])
}

// Forget drops the window for a closed asset.
func (t *Tracker) Forget(assetID string) {
	t.mu.Lock()
	delete(t.samples, assetID)
	t.mu.Unlock()
}

// Len returns how many assets are tracked.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.samples)
}

func averageTrueRange(buf []domain.PriceSample) float64 {
	if len(buf) < 2 {
		return 0
	}
	var sum float64
	for i := 1; i < len(buf); i++ {
		prevClose := buf[i-1].Close
		cur := buf[i]
		tr := math.Max(cur.High-cur.Low, math.Max(math.Abs(cur.High-prevClose), math.Abs(cur.Low-prevClose)))
		sum += tr
	}
	return sum / float64(len(buf)-1)
}
