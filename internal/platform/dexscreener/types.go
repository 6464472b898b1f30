package dexscreener

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

// number accepts both JSON numbers and numeric strings; DexScreener sends
// priceUsd as a string and most other figures as numbers.
type number struct {
	v     float64
	valid bool
}

func (n *number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	s := string(b)
	if b[0] == '"' {
		var err error
		if s, err = strconv.Unquote(s); err != nil {
			return err
		}
		if s == "" {
			return nil
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid number %q", s)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("non-finite number %q", s)
	}
	n.v, n.valid = f, true
	return nil
}

type pairsResponse struct {
	Pair  *apiPair  `json:"pair"`
	Pairs []apiPair `json:"pairs"`
}

func (r pairsResponse) first() *apiPair {
	if r.Pair != nil {
		return r.Pair
	}
	if len(r.Pairs) > 0 {
		return &r.Pairs[0]
	}
	return nil
}

type apiPair struct {
	ChainID     string `json:"chainId"`
	PairAddress string `json:"pairAddress"`
	PriceUSD    number `json:"priceUsd"`
	MarketCap   number `json:"marketCap"`
	FDV         number `json:"fdv"`
	Liquidity   *struct {
		USD number `json:"usd"`
	} `json:"liquidity"`
	PriceChange *struct {
		M5 number `json:"m5"`
		H1 number `json:"h1"`
	} `json:"priceChange"`
	Volume *struct {
		H1 number `json:"h1"`
	} `json:"volume"`
	PairCreatedAt number `json:"pairCreatedAt"`
	CreatedAt     number `json:"createdAt"`
}

type tokenProfile struct {
	URL          string `json:"url"`
	ChainID      string `json:"chainId"`
	TokenAddress string `json:"tokenAddress"`
}

// toSnapshot converts the wire pair into a snapshot. Market cap, liquidity,
// price, both price-change horizons and hourly volume are required. A missing
// horizon would otherwise read as a flat 0% and feed the acceleration rule.
func (p *apiPair) toSnapshot(assetID string, now time.Time) (domain.AssetSnapshot, error) {
	marketCap := p.MarketCap
	if !marketCap.valid {
		marketCap = p.FDV
	}
	switch {
	case !marketCap.valid:
		return domain.AssetSnapshot{}, fmt.Errorf("%w: missing marketCap", domain.ErrMalformed)
	case p.Liquidity == nil || !p.Liquidity.USD.valid:
		return domain.AssetSnapshot{}, fmt.Errorf("%w: missing liquidity.usd", domain.ErrMalformed)
	case !p.PriceUSD.valid:
		return domain.AssetSnapshot{}, fmt.Errorf("%w: missing priceUsd", domain.ErrMalformed)
	case p.PriceChange == nil:
		return domain.AssetSnapshot{}, fmt.Errorf("%w: missing priceChange", domain.ErrMalformed)
	case !p.PriceChange.M5.valid:
		return domain.AssetSnapshot{}, fmt.Errorf("%w: missing priceChange.m5", domain.ErrMalformed)
	case !p.PriceChange.H1.valid:
		return domain.AssetSnapshot{}, fmt.Errorf("%w: missing priceChange.h1", domain.ErrMalformed)
	case p.Volume == nil || !p.Volume.H1.valid:
		return domain.AssetSnapshot{}, fmt.Errorf("%w: missing volume.h1", domain.ErrMalformed)
	}

	snap := domain.AssetSnapshot{
		AssetID:          assetID,
		MarketCapUSD:     marketCap.v,
		LiquidityUSD:     p.Liquidity.USD.v,
		PriceUSD:         p.PriceUSD.v,
		PriceChange5mPct: p.PriceChange.M5.v,
		PriceChange1hPct: p.PriceChange.H1.v,
		Volume1hUSD:      p.Volume.H1.v,
		FetchedAt:        now,
	}

	created := p.PairCreatedAt
	if !created.valid {
		created = p.CreatedAt
	}
	if created.valid && created.v > 0 {
		t := time.UnixMilli(int64(created.v)).UTC()
		snap.CreatedAt = &t
	}
	return snap, nil
}

// decode unmarshals body and reports any failure as a malformed payload.
func decode(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrMalformed, err)
	}
	return nil
}
