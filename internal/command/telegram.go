package command

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/snipebot/internal/domain"
	"github.com/alanyoungcy/snipebot/internal/retry"
)

// TelegramBot long-polls getUpdates and answers commands from one authorized
// chat. Messages from other chats are ignored.
type TelegramBot struct {
	baseURL  string
	token    string
	chatID   int64
	registry *Registry
	client   *http.Client
	poll     time.Duration
	logger   *slog.Logger
	offset   int64
}

// NewTelegramBot creates a bot. An empty baseURL uses the public Bot API.
func NewTelegramBot(baseURL, token string, chatID int64, registry *Registry, logger *slog.Logger) *TelegramBot {
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	return &TelegramBot{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		chatID:   chatID,
		registry: registry,
		client:   &http.Client{Timeout: 40 * time.Second},
		poll:     25 * time.Second,
		logger:   logger.With(slog.String("component", "command_bot")),
	}
}

// WithPollTimeout sets the long-poll timeout sent to getUpdates.
func (b *TelegramBot) WithPollTimeout(d time.Duration) *TelegramBot {
	b.poll = d
	return b
}

type update struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		Text string `json:"text"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
	} `json:"message"`
}

type updatesResponse struct {
	OK     bool     `json:"ok"`
	Result []update `json:"result"`
}

// Run polls until ctx is cancelled. Poll failures back off exponentially up
// to one minute.
func (b *TelegramBot) Run(ctx context.Context) error {
	b.logger.InfoContext(ctx, "command_bot: started", slog.Int64("chat_id", b.chatID))
	defer b.logger.InfoContext(ctx, "command_bot: stopped")

	backoff := time.Second
	for {
		n, err := b.PollOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			b.logger.WarnContext(ctx, "command_bot: poll failed",
				slog.String("error", err.Error()),
				slog.Duration("backoff", backoff),
			)
			if retry.Sleep(ctx, backoff) != nil {
				return nil
			}
			backoff = min(2*backoff, time.Minute)
			continue
		}
		backoff = time.Second
		if n == 0 && b.poll <= 0 {
			if retry.Sleep(ctx, time.Second) != nil {
				return nil
			}
		}
	}
}

// PollOnce fetches one batch of updates and answers the commands in it. It
// returns the number of updates processed.
func (b *TelegramBot) PollOnce(ctx context.Context) (int, error) {
	q := fmt.Sprintf("/bot%s/getUpdates?timeout=%d&offset=%d", b.token, int(b.poll.Seconds()), b.offset)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+q, nil)
	if err != nil {
		return 0, fmt.Errorf("command_bot: create request: %w", err)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("command_bot: get updates: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("command_bot: read updates: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("command_bot: get updates: status %d", resp.StatusCode)
	}
	var out updatesResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, fmt.Errorf("command_bot: decode updates: %w", err)
	}

	for _, u := range out.Result {
		if u.UpdateID >= b.offset {
			b.offset = u.UpdateID + 1
		}
		if u.Message == nil || u.Message.Chat.ID != b.chatID {
			continue
		}
		name, args, ok := Parse(u.Message.Text)
		if !ok {
			continue
		}
		reply, err := b.registry.Dispatch(ctx, name, args)
		switch {
		case errors.Is(err, domain.ErrUnknownCommand):
			reply = "unknown command " + name + "\n" + b.registry.Help()
		case err != nil:
			reply = "error: " + err.Error()
		}
		b.logger.InfoContext(ctx, "command_bot: command handled",
			slog.String("command", name),
			slog.Bool("ok", err == nil),
		)
		if err := b.reply(ctx, reply); err != nil {
			b.logger.WarnContext(ctx, "command_bot: reply failed", slog.String("error", err.Error()))
		}
	}
	return len(out.Result), nil
}

func (b *TelegramBot) reply(ctx context.Context, text string) error {
	body, err := json.Marshal(map[string]string{
		"chat_id": strconv.FormatInt(b.chatID, 10),
		"text":    text,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/bot%s/sendMessage", b.baseURL, b.token), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sendMessage status %d", resp.StatusCode)
	}
	return nil
}
