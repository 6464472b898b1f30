// Package dexscreener is the REST client for the DexScreener public API. It
// provides pair snapshots for the market data gateway, the latest token
// profiles used as scan candidates, and the base-asset USD rate.
package dexscreener

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

// DefaultBaseURL is the public API root.
const DefaultBaseURL = "https://api.dexscreener.com"

// Client talks to the DexScreener API. Every method issues exactly one HTTP
// request; retries belong to the caller.
type Client struct {
	baseURL    string
	chain      string
	httpClient *http.Client
	now        func() time.Time
}

// NewClient creates a client for the given chain id (e.g. "solana").
func NewClient(baseURL, chain string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		chain:   chain,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		now: time.Now,
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// Snapshot fetches the pair for address and converts it to an AssetSnapshot.
// Missing required fields yield domain.ErrMalformed.
func (c *Client) Snapshot(ctx context.Context, address string) (domain.AssetSnapshot, error) {
	path := fmt.Sprintf("/latest/dex/pairs/%s/%s", url.PathEscape(c.chain), url.PathEscape(address))
	body, err := c.doGet(ctx, path)
	if err != nil {
		return domain.AssetSnapshot{}, fmt.Errorf("dexscreener: pair %s: %w", address, err)
	}

	var resp pairsResponse
	if err := decode(body, &resp); err != nil {
		return domain.AssetSnapshot{}, fmt.Errorf("dexscreener: pair %s: %w", address, err)
	}
	p := resp.first()
	if p == nil {
		return domain.AssetSnapshot{}, fmt.Errorf("dexscreener: pair %s: %w: no pair in response", address, domain.ErrMalformed)
	}

	snap, err := p.toSnapshot(address, c.now())
	if err != nil {
		return domain.AssetSnapshot{}, fmt.Errorf("dexscreener: pair %s: %w", address, err)
	}
	return snap, nil
}

// LatestProfiles returns the newest token profiles on the client's chain.
func (c *Client) LatestProfiles(ctx context.Context) ([]domain.Candidate, error) {
	body, err := c.doGet(ctx, "/token-profiles/latest/v1")
	if err != nil {
		return nil, fmt.Errorf("dexscreener: latest profiles: %w", err)
	}

	var profiles []tokenProfile
	if err := decode(body, &profiles); err != nil {
		return nil, fmt.Errorf("dexscreener: latest profiles: %w", err)
	}

	out := make([]domain.Candidate, 0, len(profiles))
	seen := make(map[string]bool, len(profiles))
	for _, p := range profiles {
		if p.TokenAddress == "" || !strings.EqualFold(p.ChainID, c.chain) || seen[p.TokenAddress] {
			continue
		}
		seen[p.TokenAddress] = true
		out = append(out, domain.Candidate{
			AssetID: p.TokenAddress,
			Chain:   p.ChainID,
			Source:  "dexscreener",
		})
	}
	return out, nil
}

// PriceUSD returns the USD price of a pair, used for the base-asset rate.
func (c *Client) PriceUSD(ctx context.Context, pairAddress string) (float64, error) {
	snap, err := c.Snapshot(ctx, pairAddress)
	if err != nil {
		return 0, err
	}
	return snap.PriceUSD, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doGet sends an unauthenticated GET request and classifies failures into
// domain errors the retry combinator understands.
func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w: %w", domain.ErrTransient, err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := truncate(string(body), 256)
	switch {
	case statusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	case statusCode >= 500:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrTransient, statusCode, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}

func classifyTransport(err error) error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return fmt.Errorf("http request: %w: %w", domain.ErrTransient, err)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("http request: %w", err)
	}
	return fmt.Errorf("http request: %w: %w", domain.ErrTransient, err)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
