package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/snipebot/internal/crypto"
	"github.com/alanyoungcy/snipebot/internal/domain"
	"github.com/google/uuid"
)

// HeaderIdempotencyKey carries the per-order key the relay dedups on.
const HeaderIdempotencyKey = "Idempotency-Key"

type idempotencyKey struct{}

// WithIdempotencyKey attaches key to ctx so every attempt of one logical order
// is sent with the same key.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKey{}, key)
}

func idempotencyKeyFrom(ctx context.Context) string {
	if k, ok := ctx.Value(idempotencyKey{}).(string); ok && k != "" {
		return k
	}
	return uuid.New().String()
}

// RelayConfig configures the swap relay client.
type RelayConfig struct {
	BaseURL        string
	Auth           crypto.HMACAuth
	Slippage       float64
	MinBaseBalance float64
	Timeout        time.Duration
}

// Relay submits swaps to an external relay service that routes and signs
// them. Buys are preceded by a wallet balance check.
type Relay struct {
	cfg    RelayConfig
	http   *http.Client
	logger *slog.Logger
}

// NewRelay creates a relay executor.
func NewRelay(cfg RelayConfig, logger *slog.Logger) *Relay {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Relay{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger.With(slog.String("component", "relay")),
	}
}

// WithHTTPClient replaces the HTTP client, mainly for tests.
func (r *Relay) WithHTTPClient(hc *http.Client) *Relay {
	r.http = hc
	return r
}

// Name implements domain.TradeExecutor.
func (r *Relay) Name() string { return "relay" }

type swapRequest struct {
	Asset    string  `json:"asset"`
	SizeBase float64 `json:"size_base"`
	Slippage float64 `json:"slippage"`
}

type swapResponse struct {
	Filled   bool    `json:"filled"`
	Price    float64 `json:"price"`
	SizeBase float64 `json:"size_base"`
	TxID     string  `json:"tx_id"`
}

type balanceResponse struct {
	Balance float64 `json:"balance"`
}

// Balance returns the wallet's base-asset balance.
func (r *Relay) Balance(ctx context.Context) (float64, error) {
	var out balanceResponse
	if err := r.do(ctx, http.MethodGet, "/v1/balance", nil, "", &out); err != nil {
		return 0, fmt.Errorf("executor: relay balance: %w", err)
	}
	return out.Balance, nil
}

// Buy implements domain.TradeExecutor.
func (r *Relay) Buy(ctx context.Context, assetID string, sizeBase float64) (domain.Fill, error) {
	bal, err := r.Balance(ctx)
	if err != nil {
		return domain.Fill{}, err
	}
	if bal < r.cfg.MinBaseBalance || bal < sizeBase {
		r.logger.WarnContext(ctx, "relay: balance too low",
			slog.Float64("balance", bal),
			slog.Float64("min", r.cfg.MinBaseBalance),
			slog.Float64("size", sizeBase),
		)
		return domain.Fill{}, fmt.Errorf("executor: relay balance %.6f: %w", bal, domain.ErrInsufficientFunds)
	}
	return r.swap(ctx, "/v1/swap/buy", assetID, sizeBase)
}

// Sell implements domain.TradeExecutor.
func (r *Relay) Sell(ctx context.Context, assetID string, sizeBase float64) (domain.Fill, error) {
	return r.swap(ctx, "/v1/swap/sell", assetID, sizeBase)
}

func (r *Relay) swap(ctx context.Context, path, assetID string, sizeBase float64) (domain.Fill, error) {
	body, err := json.Marshal(swapRequest{Asset: assetID, SizeBase: sizeBase, Slippage: r.cfg.Slippage})
	if err != nil {
		return domain.Fill{}, fmt.Errorf("executor: relay marshal: %w", err)
	}
	key := idempotencyKeyFrom(ctx)
	var out swapResponse
	if err := r.do(ctx, http.MethodPost, path, body, key, &out); err != nil {
		return domain.Fill{}, fmt.Errorf("executor: relay %s %s: %w", path, assetID, err)
	}
	r.logger.InfoContext(ctx, "relay: swap answered",
		slog.String("path", path),
		slog.String("asset", assetID),
		slog.Bool("filled", out.Filled),
		slog.String("tx", out.TxID),
		slog.String("idempotency_key", key),
	)
	return domain.Fill{Filled: out.Filled, Price: out.Price, SizeBase: out.SizeBase, TxID: out.TxID}, nil
}

func (r *Relay) do(ctx context.Context, method, path string, body []byte, key string, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, rd)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		req.Header.Set(HeaderIdempotencyKey, key)
	}
	for k, v := range r.cfg.Auth.Headers(method, path, string(body)) {
		req.Header.Set(k, v)
	}

	resp, err := r.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return fmt.Errorf("%w: %w", domain.ErrTransient, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w: %w", domain.ErrTransient, err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return err
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w: %w", domain.ErrMalformed, err)
	}
	return nil
}

// checkHTTPStatus maps relay status codes to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d: %s", domain.ErrUnauthorized, statusCode, msg)
	case statusCode == http.StatusPaymentRequired:
		return fmt.Errorf("%w: status %d: %s", domain.ErrInsufficientFunds, statusCode, msg)
	case statusCode == http.StatusConflict || statusCode == http.StatusUnprocessableEntity || statusCode == http.StatusBadRequest:
		return fmt.Errorf("%w: status %d: %s", domain.ErrExecutionRejected, statusCode, msg)
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", domain.ErrRateLimited, statusCode)
	case statusCode >= 500:
		return fmt.Errorf("%w: status %d: %s", domain.ErrTransient, statusCode, msg)
	default:
		return fmt.Errorf("unexpected status %d: %s", statusCode, msg)
	}
}
