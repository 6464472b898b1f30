package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads trade archives and backtest inputs to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobReader fetches one object. A missing object yields ErrNotFound.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
}

// Archiver moves closed trades older than a cutoff out of the journal and
// returns how many rows were moved.
type Archiver interface {
	ArchiveTrades(ctx context.Context, before time.Time) (int64, error)
}
