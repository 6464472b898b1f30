package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/snipebot/internal/domain"
	"github.com/redis/go-redis/v9"
)

// SnapshotCache implements domain.SnapshotCache. Each snapshot is stored as
// JSON at "snapshot:{assetID}" and expires with the given TTL.
type SnapshotCache struct {
	c *Client
}

// NewSnapshotCache creates a SnapshotCache backed by the given Client.
func NewSnapshotCache(c *Client) *SnapshotCache {
	return &SnapshotCache{c: c}
}

// SetSnapshot stores snap for ttl.
func (sc *SnapshotCache) SetSnapshot(ctx context.Context, snap domain.AssetSnapshot, ttl time.Duration) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal snapshot %s: %w", snap.AssetID, err)
	}
	if err := sc.c.rdb.Set(ctx, sc.c.Key("snapshot", snap.AssetID), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set snapshot %s: %w", snap.AssetID, err)
	}
	return nil
}

// GetSnapshot returns the cached snapshot or domain.ErrNotFound.
func (sc *SnapshotCache) GetSnapshot(ctx context.Context, assetID string) (domain.AssetSnapshot, error) {
	data, err := sc.c.rdb.Get(ctx, sc.c.Key("snapshot", assetID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.AssetSnapshot{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.AssetSnapshot{}, fmt.Errorf("redis: get snapshot %s: %w", assetID, err)
	}
	var snap domain.AssetSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.AssetSnapshot{}, fmt.Errorf("redis: decode snapshot %s: %w", assetID, err)
	}
	return snap, nil
}

var _ domain.SnapshotCache = (*SnapshotCache)(nil)
