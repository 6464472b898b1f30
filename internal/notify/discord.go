package notify

import (
	"context"
	"time"

	"github.com/alanyoungcy/snipebot/internal/retry"
)

// DiscordSender posts each notification as one webhook embed.
type DiscordSender struct {
	webhookURL string
	poster     poster
	now        func() time.Time
}

// NewDiscordSender creates a DiscordSender for the given webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{webhookURL: webhookURL, poster: newPoster("discord"), now: time.Now}
}

// WithRetry replaces the delivery retry policy.
func (d *DiscordSender) WithRetry(p retry.Policy) *DiscordSender {
	d.poster.policy = p
	return d
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Timestamp   string `json:"timestamp"`
}

type discordPayload struct {
	Username string         `json:"username"`
	Embeds   []discordEmbed `json:"embeds"`
}

// Send delivers title and message as an embed.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	return d.poster.post(ctx, d.webhookURL, discordPayload{
		Username: "snipebot",
		Embeds: []discordEmbed{{
			Title:       title,
			Description: message,
			Timestamp:   d.now().UTC().Format(time.RFC3339),
		}},
	})
}

func (d *DiscordSender) Name() string { return "discord" }
