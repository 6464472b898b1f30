package dexscreener

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

func newTestServer(t *testing.T, status int, body string) (*Client, *int) {
	t.Helper()
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "solana"), &calls
}

func TestSnapshotParsesPair(t *testing.T) {
	body := `{"pair":{"chainId":"solana","priceUsd":"0.0012","marketCap":100000,
		"liquidity":{"usd":60000},"priceChange":{"m5":1.5,"h1":60},
		"volume":{"h1":80000},"pairCreatedAt":1700000000000}}`
	c, _ := newTestServer(t, http.StatusOK, body)

	snap, err := c.Snapshot(context.Background(), "Tok1")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.AssetID != "Tok1" || snap.PriceUSD != 0.0012 || snap.MarketCapUSD != 100000 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
	if snap.LiquidityUSD != 60000 || snap.Volume1hUSD != 80000 || snap.PriceChange1hPct != 60 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
	if snap.CreatedAt == nil || snap.CreatedAt.UnixMilli() != 1700000000000 {
		t.Errorf("CreatedAt = %v", snap.CreatedAt)
	}
	if got := snap.AccelerationPerMin(); got != 1.0 {
		t.Errorf("AccelerationPerMin = %v, want 1", got)
	}
}

func TestSnapshotFallsBackToPairsArray(t *testing.T) {
	body := `{"pairs":[{"priceUsd":"2","marketCap":"5000","liquidity":{"usd":100},
		"priceChange":{"m5":"0","h1":-3},"volume":{"h1":1}}]}`
	c, _ := newTestServer(t, http.StatusOK, body)

	snap, err := c.Snapshot(context.Background(), "Tok2")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.PriceUSD != 2 || snap.MarketCapUSD != 5000 || snap.CreatedAt != nil {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
}

func TestSnapshotMissingFieldIsMalformed(t *testing.T) {
	cases := map[string]string{
		"no pair":        `{"pair":null}`,
		"no liquidity":   `{"pair":{"priceUsd":"1","marketCap":1,"priceChange":{"m5":1,"h1":1},"volume":{"h1":1}}}`,
		"bad price":      `{"pair":{"priceUsd":"abc","marketCap":1,"liquidity":{"usd":1},"priceChange":{"m5":1,"h1":1},"volume":{"h1":1}}}`,
		"empty change":   `{"pair":{"priceUsd":"1","marketCap":1,"liquidity":{"usd":1},"priceChange":{},"volume":{"h1":1}}}`,
		"no 1h change":   `{"pair":{"priceUsd":"1","marketCap":1,"liquidity":{"usd":1},"priceChange":{"m5":2},"volume":{"h1":1}}}`,
		"null 5m change": `{"pair":{"priceUsd":"1","marketCap":1,"liquidity":{"usd":1},"priceChange":{"m5":null,"h1":2},"volume":{"h1":1}}}`,
		"not json":       `<html>`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			c, _ := newTestServer(t, http.StatusOK, body)
			_, err := c.Snapshot(context.Background(), "x")
			if !errors.Is(err, domain.ErrMalformed) {
				t.Errorf("err = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestStatusClassification(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, domain.ErrRateLimited},
		{http.StatusBadGateway, domain.ErrTransient},
		{http.StatusNotFound, domain.ErrNotFound},
		{http.StatusForbidden, domain.ErrUnauthorized},
	}
	for _, c := range cases {
		cl, _ := newTestServer(t, c.status, "nope")
		_, err := cl.Snapshot(context.Background(), "x")
		if !errors.Is(err, c.want) {
			t.Errorf("status %d: err = %v, want %v", c.status, err, c.want)
		}
	}
}

func TestLatestProfilesFiltersChain(t *testing.T) {
	body := `[{"chainId":"solana","tokenAddress":"A"},{"chainId":"base","tokenAddress":"B"},
		{"chainId":"solana","tokenAddress":"A"},{"chainId":"solana","tokenAddress":"C"}]`
	c, _ := newTestServer(t, http.StatusOK, body)

	got, err := c.LatestProfiles(context.Background())
	if err != nil {
		t.Fatalf("LatestProfiles: %v", err)
	}
	if len(got) != 2 || got[0].AssetID != "A" || got[1].AssetID != "C" {
		t.Errorf("candidates = %+v", got)
	}
}
