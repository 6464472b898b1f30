package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

// TradeSource is the slice of the trade journal the archiver needs.
type TradeSource interface {
	ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.TradeRecord, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// ArchiverOption configures an Archiver.
type ArchiverOption func(*Archiver)

// WithAudit records each archive run in the audit log.
func WithAudit(a domain.AuditStore) ArchiverOption {
	return func(ar *Archiver) { ar.audit = a }
}

// WithArchiveClock replaces time.Now for scheduling.
func WithArchiveClock(now func() time.Time) ArchiverOption {
	return func(ar *Archiver) { ar.now = now }
}

// Archiver implements domain.Archiver. Trades are grouped by the month they
// closed in and appended to archive/trades/YYYY-MM.jsonl; journal rows are
// deleted only after every month uploaded.
type Archiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	trades TradeSource
	audit  domain.AuditStore
	logger *slog.Logger
	now    func() time.Time
}

// NewArchiver creates an Archiver. reader may be nil, in which case existing
// month files are overwritten instead of merged.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, trades TradeSource, logger *slog.Logger, opts ...ArchiverOption) *Archiver {
	a := &Archiver{
		writer: writer,
		reader: reader,
		trades: trades,
		logger: logger.With(slog.String("component", "archiver")),
		now:    time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// ArchiveTrades moves every trade closed before the cutoff to object storage
// and returns how many were archived.
func (a *Archiver) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	trades, err := a.trades.ListBefore(ctx, before, 0)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	byMonth := make(map[string][]domain.TradeRecord)
	for _, t := range trades {
		m := t.ClosedAt.UTC().Format("2006-01")
		byMonth[m] = append(byMonth[m], t)
	}
	months := make([]string, 0, len(byMonth))
	for m := range byMonth {
		months = append(months, m)
	}
	sort.Strings(months)

	for _, m := range months {
		if err := a.appendMonth(ctx, archivePath("trades", m), byMonth[m]); err != nil {
			return 0, err
		}
	}

	deleted, err := a.trades.DeleteBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades delete: %w", err)
	}
	count := int64(len(trades))
	a.logger.InfoContext(ctx, "s3blob: trades archived",
		slog.Int64("count", count),
		slog.Int64("deleted", deleted),
		slog.Int("months", len(months)),
		slog.Time("before", before),
	)

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.trades", map[string]any{
			"count":  count,
			"months": months,
			"before": before.Format(time.RFC3339),
		}); err != nil {
			a.logger.WarnContext(ctx, "s3blob: audit log failed", slog.String("error", err.Error()))
		}
	}
	return count, nil
}

// appendMonth merges records into the object at path, skipping ids already
// present so a rerun after a failed delete does not duplicate lines.
func (a *Archiver) appendMonth(ctx context.Context, path string, records []domain.TradeRecord) error {
	existing, err := a.readExisting(ctx, path)
	if err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(existing))
	for _, t := range existing {
		seen[t.ID] = struct{}{}
	}
	merged := existing
	for _, t := range records {
		if _, dup := seen[t.ID]; dup {
			continue
		}
		seen[t.ID] = struct{}{}
		merged = append(merged, t)
	}

	buf, err := marshalJSONL(merged)
	if err != nil {
		return fmt.Errorf("s3blob: archive marshal %s: %w", path, err)
	}
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return fmt.Errorf("s3blob: archive upload: %w", err)
	}
	return nil
}

func (a *Archiver) readExisting(ctx context.Context, path string) ([]domain.TradeRecord, error) {
	if a.reader == nil {
		return nil, nil
	}
	body, err := a.reader.Get(ctx, path)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("s3blob: archive read %s: %w", path, err)
	}
	defer body.Close()
	records, err := unmarshalJSONL(body)
	if err != nil {
		return nil, fmt.Errorf("s3blob: archive decode %s: %w", path, err)
	}
	return records, nil
}

// RunDaily archives trades older than retention once a day at hourUTC until
// ctx is cancelled. Failed runs are logged and retried the next day.
func (a *Archiver) RunDaily(ctx context.Context, retention time.Duration, hourUTC int) error {
	for {
		next := nextDaily(a.now().UTC(), hourUTC)
		a.logger.DebugContext(ctx, "s3blob: next archive run", slog.Time("at", next))

		timer := time.NewTimer(next.Sub(a.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		cutoff := a.now().UTC().Add(-retention)
		if _, err := a.ArchiveTrades(ctx, cutoff); err != nil {
			a.logger.ErrorContext(ctx, "s3blob: archive run failed", slog.String("error", err.Error()))
		}
	}
}

// nextDaily returns the first hourUTC:00 strictly after t.
func nextDaily(t time.Time, hourUTC int) time.Time {
	next := time.Date(t.Year(), t.Month(), t.Day(), hourUTC, 0, 0, 0, time.UTC)
	if !next.After(t) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// archivePath builds the key for one month of one record kind, for example
// archive/trades/2026-01.jsonl.
func archivePath(kind, month string) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, month)
}

func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

func unmarshalJSONL(r io.Reader) ([]domain.TradeRecord, error) {
	var out []domain.TradeRecord
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var t domain.TradeRecord
		if err := json.Unmarshal(line, &t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, sc.Err()
}

var _ domain.Archiver = (*Archiver)(nil)
