// Package verdict queries an HTTP risk service that answers with a
// boolean-like "is this asset unsafe" verdict keyed by address.
package verdict

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

// Config describes the verdict endpoint.
type Config struct {
	// URLTemplate contains "{address}", e.g. "https://risk.example/v1/tokens/{address}".
	URLTemplate string
	// Field is a dot-separated path to the verdict inside the JSON body.
	Field string
	// APIKeyHeader and APIKey are sent when both are set.
	APIKeyHeader string
	APIKey       string
}

// Client fetches verdicts.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a verdict client.
func NewClient(cfg Config) *Client {
	if cfg.Field == "" {
		cfg.Field = "unsafe"
	}
	return &Client{cfg: cfg, httpClient: &http.Client{Timeout: 10 * time.Second}}
}

// Unsafe returns the verdict for address.
func (c *Client) Unsafe(ctx context.Context, address string) (bool, error) {
	u := strings.ReplaceAll(c.cfg.URLTemplate, "{address}", url.PathEscape(address))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, fmt.Errorf("verdict: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKeyHeader != "" && c.cfg.APIKey != "" {
		req.Header.Set(c.cfg.APIKeyHeader, c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return false, fmt.Errorf("verdict: %s: %w", address, err)
		}
		return false, fmt.Errorf("verdict: %s: %w: %w", address, domain.ErrTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return false, fmt.Errorf("verdict: read response: %w: %w", domain.ErrTransient, err)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return false, fmt.Errorf("verdict: %s: %w", address, domain.ErrRateLimited)
	case resp.StatusCode >= 500:
		return false, fmt.Errorf("verdict: %s: %w: HTTP %d", address, domain.ErrTransient, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return false, fmt.Errorf("verdict: %s: HTTP %d", address, resp.StatusCode)
	}

	var doc any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return false, fmt.Errorf("verdict: %s: %w: %w", address, domain.ErrMalformed, err)
	}
	v, ok := lookup(doc, c.cfg.Field)
	if !ok {
		return false, fmt.Errorf("verdict: %s: %w: field %q missing", address, domain.ErrMalformed, c.cfg.Field)
	}
	unsafe, err := ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("verdict: %s: %w: %w", address, domain.ErrMalformed, err)
	}
	return unsafe, nil
}

func lookup(doc any, path string) (any, bool) {
	cur := doc
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// ParseBool interprets JSON booleans, "true"/"false"-like strings and 0/1
// numbers as a verdict.
func ParseBool(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return false, fmt.Errorf("not a boolean: %q", t)
		}
		return b, nil
	case json.Number:
		f, err := t.Float64()
		if err != nil || (f != 0 && f != 1) {
			return false, fmt.Errorf("not a boolean: %s", t)
		}
		return f == 1, nil
	default:
		return false, fmt.Errorf("not a boolean: %v", v)
	}
}
