// Package memory holds the in-process caches shared by the market data
// gateway, the safety oracle and the rate lookup.
package memory

import (
	"sync"
	"time"
)

type entry[V any] struct {
	v        V
	storedAt time.Time
	exp      time.Time
}

// TTLCache is a bounded map whose entries expire by timestamp. Reads are
// concurrent; writes are last-write-wins.
type TTLCache[V any] struct {
	mu         sync.RWMutex
	m          map[string]entry[V]
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

// Option customises a TTLCache.
type Option func(*options)

type options struct {
	maxEntries int
	now        func() time.Time
}

// WithMaxEntries bounds the cache; the oldest entry is evicted on overflow.
func WithMaxEntries(n int) Option { return func(o *options) { o.maxEntries = n } }

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// NewTTLCache creates a cache whose entries live for ttl.
func NewTTLCache[V any](ttl time.Duration, opts ...Option) *TTLCache[V] {
	o := options{maxEntries: 4096, now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	return &TTLCache[V]{
		m:          make(map[string]entry[V]),
		ttl:        ttl,
		maxEntries: o.maxEntries,
		now:        o.now,
	}
}

// Get returns the value for key if present and not expired.
func (c *TTLCache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	e, ok := c.m[key]
	c.mu.RUnlock()
	var zero V
	if !ok {
		return zero, false
	}
	if !c.now().Before(e.exp) {
		c.mu.Lock()
		if cur, ok := c.m[key]; ok && cur.exp.Equal(e.exp) {
			delete(c.m, key)
		}
		c.mu.Unlock()
		return zero, false
	}
	return e.v, true
}

// Set stores v under key for the cache TTL.
func (c *TTLCache[V]) Set(key string, v V) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.m[key]; !exists && c.maxEntries > 0 && len(c.m) >= c.maxEntries {
		c.evictLocked(now)
	}
	c.m[key] = entry[V]{v: v, storedAt: now, exp: now.Add(c.ttl)}
}

// Delete removes key.
func (c *TTLCache[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.m, key)
	c.mu.Unlock()
}

// Len returns the number of stored entries, expired ones included.
func (c *TTLCache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}

// evictLocked drops expired entries, and the oldest one if none expired.
func (c *TTLCache[V]) evictLocked(now time.Time) {
	var (
		oldestKey string
		oldestAt  time.Time
		dropped   bool
	)
	for k, e := range c.m {
		if !now.Before(e.exp) {
			delete(c.m, k)
			dropped = true
			continue
		}
		if oldestKey == "" || e.storedAt.Before(oldestAt) {
			oldestKey, oldestAt = k, e.storedAt
		}
	}
	if !dropped && oldestKey != "" {
		delete(c.m, oldestKey)
	}
}
