package domain

import (
	"context"
	"time"
)

// SnapshotCache is a shared, process-external cache of asset snapshots.
type SnapshotCache interface {
	SetSnapshot(ctx context.Context, snap AssetSnapshot, ttl time.Duration) error
	GetSnapshot(ctx context.Context, assetID string) (AssetSnapshot, error)
}

// RiskStateStore persists the risk posture across restarts.
type RiskStateStore interface {
	SavePosture(ctx context.Context, p RiskPosture) error
	LoadPosture(ctx context.Context) (RiskPosture, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub for lifecycle events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
