// Package notify provides a multi-channel notification system. Notifications
// are dispatched to all registered senders (Telegram, Discord) and can be
// filtered by event kind so operators receive only the alerts they care about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// DefaultTimeout bounds one asynchronous delivery.
const DefaultTimeout = 10 * time.Second

// Notifier dispatches notifications to one or more Senders. Notify never
// blocks the caller; delivery failures are logged.
type Notifier struct {
	senders []Sender
	events  map[domain.EventKind]bool // allowed kinds; empty allows all
	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// NewNotifier creates a Notifier. Only kinds listed in events are forwarded;
// an empty list forwards everything.
func NewNotifier(senders []Sender, events []string, timeout time.Duration, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventKind]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[domain.EventKind(e)] = true
		}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		timeout: timeout,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool { return len(n.senders) > 0 }

// Notify delivers in the background if kind passes the filter.
func (n *Notifier) Notify(ctx context.Context, kind domain.EventKind, title, message string) {
	if !n.allowed(ctx, kind) {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
		defer cancel()
		_ = n.dispatch(ctx, kind, title, message)
	}()
}

// Send delivers synchronously, bypassing the kind filter.
func (n *Notifier) Send(ctx context.Context, kind domain.EventKind, title, message string) error {
	return n.dispatch(ctx, kind, title, message)
}

// Wait blocks until background deliveries finish.
func (n *Notifier) Wait() { n.wg.Wait() }

func (n *Notifier) allowed(ctx context.Context, kind domain.EventKind) bool {
	if len(n.senders) == 0 {
		return false
	}
	if len(n.events) > 0 && !n.events[kind] {
		n.logger.DebugContext(ctx, "notify: event filtered out", slog.String("event", string(kind)))
		return false
	}
	return true
}

// dispatch sends to every sender. A single sender failure does not prevent
// delivery to the rest.
func (n *Notifier) dispatch(ctx context.Context, kind domain.EventKind, title, message string) error {
	title = fmt.Sprintf("[%s] %s", kind, title)
	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "notify: sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", string(kind)),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		} else {
			n.logger.DebugContext(ctx, "notify: sent",
				slog.String("sender", s.Name()),
				slog.String("title", title),
			)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
