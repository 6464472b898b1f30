package backtest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

// requiredColumns must be present in every input header.
var requiredColumns = []string{"token", "price", "market_cap", "timestamp"}

// Opener reads objects named by s3:// URIs.
type Opener interface {
	Open(ctx context.Context, uri string) (io.ReadCloser, error)
}

// Load reads snapshots from a local path or, when src starts with s3:// and
// opener is set, from object storage.
func Load(ctx context.Context, src string, opener Opener) ([]domain.AssetSnapshot, error) {
	var rc io.ReadCloser
	var err error
	if strings.HasPrefix(src, "s3://") {
		if opener == nil {
			return nil, fmt.Errorf("backtest: load %s: %w", src, domain.ErrUnavailable)
		}
		rc, err = opener.Open(ctx, src)
	} else {
		rc, err = os.Open(src)
	}
	if err != nil {
		return nil, fmt.Errorf("backtest: load %s: %w", src, err)
	}
	defer rc.Close()

	snaps, err := ParseCSV(rc)
	if err != nil {
		return nil, fmt.Errorf("backtest: parse %s: %w", src, err)
	}
	return snaps, nil
}

// ParseCSV decodes rows of token, price, market_cap and timestamp, plus the
// optional liquidity, volume_1h, price_change_5m, price_change_1h and
// created_at columns. Headers are case-insensitive and column order is free.
// Timestamps are RFC3339 or unix seconds. The result is sorted by time with
// input order kept for equal timestamps.
func ParseCSV(r io.Reader) ([]domain.AssetSnapshot, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("empty input: %w", domain.ErrMalformed)
	}
	if err != nil {
		return nil, err
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, c := range requiredColumns {
		if _, ok := cols[c]; !ok {
			return nil, fmt.Errorf("missing column %q: %w", c, domain.ErrMalformed)
		}
	}

	var out []domain.AssetSnapshot
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		snap, err := parseRow(rec, cols)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, snap)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].FetchedAt.Before(out[j].FetchedAt) })
	return out, nil
}

func parseRow(rec []string, cols map[string]int) (domain.AssetSnapshot, error) {
	field := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}
	num := func(name string, required bool) (float64, error) {
		v := field(name)
		if v == "" {
			if required {
				return 0, fmt.Errorf("empty %s: %w", name, domain.ErrMalformed)
			}
			return 0, nil
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("%s %q: %w", name, v, domain.ErrMalformed)
		}
		return f, nil
	}

	var s domain.AssetSnapshot
	s.AssetID = field("token")
	if s.AssetID == "" {
		return s, fmt.Errorf("empty token: %w", domain.ErrMalformed)
	}
	var err error
	if s.PriceUSD, err = num("price", true); err != nil {
		return s, err
	}
	if s.MarketCapUSD, err = num("market_cap", true); err != nil {
		return s, err
	}
	if s.LiquidityUSD, err = num("liquidity", false); err != nil {
		return s, err
	}
	if s.Volume1hUSD, err = num("volume_1h", false); err != nil {
		return s, err
	}
	if s.PriceChange5mPct, err = num("price_change_5m", false); err != nil {
		return s, err
	}
	if s.PriceChange1hPct, err = num("price_change_1h", false); err != nil {
		return s, err
	}
	if s.FetchedAt, err = parseTime(field("timestamp")); err != nil {
		return s, fmt.Errorf("timestamp: %w", err)
	}
	if v := field("created_at"); v != "" {
		created, err := parseTime(v)
		if err != nil {
			return s, fmt.Errorf("created_at: %w", err)
		}
		s.CreatedAt = &created
	}
	return s, nil
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, fmt.Errorf("empty: %w", domain.ErrMalformed)
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q: %w", v, domain.ErrMalformed)
	}
	return t.UTC(), nil
}
