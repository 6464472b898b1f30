package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/alanyoungcy/snipebot/internal/domain"
	"github.com/alanyoungcy/snipebot/internal/retry"
)

// deliveryPolicy is three attempts one second apart, doubling.
func deliveryPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 5 * time.Second}
}

// poster POSTs JSON payloads to a chat webhook and retries rate limits and
// server errors.
type poster struct {
	service string
	client  *http.Client
	policy  retry.Policy
}

func newPoster(service string) poster {
	return poster{
		service: service,
		client:  &http.Client{Timeout: 10 * time.Second},
		policy:  deliveryPolicy(),
	}
}

func (p poster) post(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: marshal payload: %w", p.service, err)
	}
	_, err = retry.Do(ctx, p.policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, p.once(ctx, url, body)
	})
	return err
}

func (p poster) once(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: create request: %w", p.service, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: send request: %w: %w", p.service, domain.ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%s: status 429: %w", p.service, domain.ErrRateLimited)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%s: status %d: %w", p.service, resp.StatusCode, domain.ErrTransient)
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return fmt.Errorf("%s: unexpected status %d: %s", p.service, resp.StatusCode, snippet)
}
