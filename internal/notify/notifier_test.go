package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alanyoungcy/snipebot/internal/domain"
	"github.com/alanyoungcy/snipebot/internal/retry"
)

type captureSender struct {
	mu     sync.Mutex
	titles []string
	err    error
}

func (c *captureSender) Send(_ context.Context, title, _ string) error {
	c.mu.Lock()
	c.titles = append(c.titles, title)
	c.mu.Unlock()
	return c.err
}

func (c *captureSender) Name() string { return "capture" }

func (c *captureSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.titles)
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNotifyFiltersKinds(t *testing.T) {
	c := &captureSender{}
	n := NewNotifier([]Sender{c}, []string{"rug_exit", " position_closed "}, 0, discard())

	n.Notify(context.Background(), domain.EventRugExit, "Rug", "Tok")
	n.Notify(context.Background(), domain.EventPositionOpened, "Opened", "Tok")
	n.Notify(context.Background(), domain.EventPositionClosed, "Closed", "Tok")
	n.Wait()

	if c.count() != 2 {
		t.Fatalf("delivered %d, want 2", c.count())
	}
	if c.titles[0] != "[rug_exit] Rug" && c.titles[1] != "[rug_exit] Rug" {
		t.Errorf("titles = %v", c.titles)
	}
}

func TestNotifyOneSenderFailureDoesNotStopOthers(t *testing.T) {
	bad := &captureSender{err: errors.New("boom")}
	good := &captureSender{}
	n := NewNotifier([]Sender{bad, good}, nil, 0, discard())

	err := n.Send(context.Background(), domain.EventError, "x", "y")
	if err == nil || !strings.Contains(err.Error(), "1 sender(s) failed") {
		t.Errorf("err = %v", err)
	}
	if good.count() != 1 {
		t.Error("healthy sender skipped")
	}
}

func TestNotifyWithoutSendersIsDisabled(t *testing.T) {
	n := NewNotifier(nil, nil, 0, discard())
	if n.Enabled() {
		t.Error("notifier without senders reports enabled")
	}
	n.Notify(context.Background(), domain.EventError, "x", "y")
	n.Wait()
}

func TestTelegramSender(t *testing.T) {
	type request struct {
		path    string
		payload map[string]any
	}
	reqs := make(chan request, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		reqs <- request{path: r.URL.Path, payload: payload}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	s := NewTelegramSender(srv.URL, "TOKEN", "42")
	if err := s.Send(context.Background(), "Title", "body_with_underscores"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	req := <-reqs
	if req.path != "/botTOKEN/sendMessage" {
		t.Errorf("path = %q", req.path)
	}
	got := req.payload
	if got["chat_id"] != "42" || got["text"] != "Title\nbody_with_underscores" || got["disable_web_page_preview"] != true {
		t.Errorf("payload = %v", got)
	}
}

func TestDiscordSenderStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	if err := NewDiscordSender(srv.URL).WithRetry(fastRetry()).Send(context.Background(), "t", "m"); err == nil {
		t.Error("expected error on 400")
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("400 retried: %d calls", n)
	}
}

func TestDiscordSenderRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	var got discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	if err := NewDiscordSender(srv.URL).WithRetry(fastRetry()).Send(context.Background(), "Rug exit", "Tok"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
	if len(got.Embeds) != 1 || got.Embeds[0].Title != "Rug exit" || got.Embeds[0].Description != "Tok" {
		t.Errorf("payload = %+v", got)
	}
}

func fastRetry() retry.Policy {
	p := deliveryPolicy()
	p.Sleep = func(context.Context, time.Duration) error { return nil }
	return p
}
