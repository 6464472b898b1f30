package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

// RateLimiter implements domain.RateLimiter as a fixed window: one counter
// per key and window start, expiring with the window. The gateway uses it to
// share an upstream request budget across processes.
type RateLimiter struct {
	c   *Client
	now func() time.Time
}

// NewRateLimiter creates a RateLimiter backed by the given Client.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{c: c, now: time.Now}
}

// Allow counts one request against key and reports whether it fits in limit
// for the current window.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if window < time.Millisecond || limit <= 0 {
		return true, nil
	}
	slot := rl.now().UnixMilli() / window.Milliseconds()
	k := rl.c.Key("ratelimit", key, strconv.FormatInt(slot, 10))

	pipe := rl.c.rdb.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.PExpire(ctx, k, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	return incr.Val() <= int64(limit), nil
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
