// Package solanafm reads recent on-chain events for an address from the
// SolanaFM transactions API.
package solanafm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

// DefaultBaseURL is the public API root.
const DefaultBaseURL = "https://api.solana.fm"

// Event is one typed on-chain event with an amount.
type Event struct {
	Type      string
	Amount    float64
	Timestamp *time.Time
}

// Client is the SolanaFM REST client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a SolanaFM client. apiKey may be empty.
func NewClient(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type eventsResponse struct {
	Events []struct {
		Type      string          `json:"type"`
		Amount    json.Number     `json:"amount"`
		Timestamp json.RawMessage `json:"timestamp"`
	} `json:"events"`
}

// Events returns the recent events recorded for address.
func (c *Client) Events(ctx context.Context, address string) ([]Event, error) {
	u := c.baseURL + "/v1/transactions?address=" + url.QueryEscape(address)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("solanafm: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("ApiKey", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("solanafm: events %s: %w", address, err)
		}
		return nil, fmt.Errorf("solanafm: events %s: %w: %w", address, domain.ErrTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("solanafm: read response: %w: %w", domain.ErrTransient, err)
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, fmt.Errorf("solanafm: events %s: %w", address, err)
	}

	var r eventsResponse
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&r); err != nil {
		return nil, fmt.Errorf("solanafm: events %s: %w: %w", address, domain.ErrMalformed, err)
	}

	out := make([]Event, 0, len(r.Events))
	for _, e := range r.Events {
		ev := Event{Type: strings.ToUpper(strings.TrimSpace(e.Type))}
		if e.Amount != "" {
			amt, err := e.Amount.Float64()
			if err != nil {
				return nil, fmt.Errorf("solanafm: events %s: %w: amount %q", address, domain.ErrMalformed, e.Amount)
			}
			ev.Amount = amt
		}
		ev.Timestamp = parseTimestamp(e.Timestamp)
		out = append(out, ev)
	}
	return out, nil
}

// parseTimestamp accepts unix seconds, unix milliseconds or RFC 3339.
func parseTimestamp(raw json.RawMessage) *time.Time {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return &t
		}
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil
	}
	v, err := n.Int64()
	if err != nil || v <= 0 {
		return nil
	}
	var t time.Time
	if v > 1e12 {
		t = time.UnixMilli(v).UTC()
	} else {
		t = time.Unix(v, 0).UTC()
	}
	return &t
}

// checkHTTPStatus maps non-2xx status codes to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	bodyStr := string(body)
	if len(bodyStr) > 256 {
		bodyStr = bodyStr[:256]
	}
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
