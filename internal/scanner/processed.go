package scanner

import (
	"sync"
	"time"
)

// Processed remembers which candidates were already evaluated so each one is
// looked at once per window. It is safe for concurrent use.
type Processed struct {
	seen map[string]time.Time // assetID -> first seen
	ttl  time.Duration
	now  func() time.Time
	mu   sync.Mutex
}

// NewProcessed creates a set whose entries expire after ttl. A zero ttl keeps
// entries until Reset.
func NewProcessed(ttl time.Duration, now func() time.Time) *Processed {
	if now == nil {
		now = time.Now
	}
	return &Processed{seen: make(map[string]time.Time), ttl: ttl, now: now}
}

// Seen reports whether assetID was already processed. If not (or if its entry
// expired), it is recorded and false is returned.
func (p *Processed) Seen(assetID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if at, ok := p.seen[assetID]; ok {
		if p.ttl <= 0 || now.Sub(at) < p.ttl {
			return true
		}
	}
	p.seen[assetID] = now
	return false
}

// Reset forgets every entry.
func (p *Processed) Reset() {
	p.mu.Lock()
	p.seen = make(map[string]time.Time)
	p.mu.Unlock()
}

// Len returns the number of remembered candidates.
func (p *Processed) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.seen)
}
