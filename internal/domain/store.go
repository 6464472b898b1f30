package domain

import (
	"context"
	"time"
)

// ListOpts pages a newest-first listing. Since and Until are inclusive.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionStore persists positions so open ones survive a restart.
type PositionStore interface {
	Upsert(ctx context.Context, pos Position) error
	GetByID(ctx context.Context, id string) (Position, error)
	ListOpen(ctx context.Context) ([]Position, error)
	ListClosed(ctx context.Context, opts ListOpts) ([]Position, error)
}

// TradeStore persists the closed-trade journal.
type TradeStore interface {
	Insert(ctx context.Context, t TradeRecord) error
	List(ctx context.Context, opts ListOpts) ([]TradeRecord, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]TradeRecord, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// AuditEntry is one audit row. Field order matches the audit_log columns.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore records operator commands and archive runs.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
