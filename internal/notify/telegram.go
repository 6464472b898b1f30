package notify

import (
	"context"
	"strings"

	"github.com/alanyoungcy/snipebot/internal/retry"
)

// TelegramAPI is the public Bot API endpoint.
const TelegramAPI = "https://api.telegram.org"

// TelegramSender delivers notifications through the Bot API sendMessage call.
type TelegramSender struct {
	endpoint string
	chatID   string
	poster   poster
}

// NewTelegramSender creates a sender for one chat. An empty baseURL uses
// TelegramAPI.
func NewTelegramSender(baseURL, token, chatID string) *TelegramSender {
	if baseURL == "" {
		baseURL = TelegramAPI
	}
	return &TelegramSender{
		endpoint: strings.TrimRight(baseURL, "/") + "/bot" + token + "/sendMessage",
		chatID:   chatID,
		poster:   newPoster("telegram"),
	}
}

// WithRetry replaces the delivery retry policy.
func (t *TelegramSender) WithRetry(p retry.Policy) *TelegramSender {
	t.poster.policy = p
	return t
}

// Send posts plain text. Asset addresses often contain markdown
// metacharacters, so no parse mode is set.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	return t.poster.post(ctx, t.endpoint, map[string]any{
		"chat_id":                  t.chatID,
		"text":                     title + "\n" + message,
		"disable_web_page_preview": true,
	})
}

func (t *TelegramSender) Name() string { return "telegram" }
