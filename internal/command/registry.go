// Package command maps the fixed operator vocabulary to handlers. The same
// registry serves the Telegram bot and the HTTP API.
package command

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

// Name is a command in the operator vocabulary.
type Name string

const (
	Status    Name = "status"
	Positions Name = "positions"
	Risk      Name = "risk"
	Pause     Name = "pause"
	Resume    Name = "resume"
	Backtest  Name = "backtest"
	Help      Name = "help"
)

// Vocabulary lists every command a registry must serve.
var Vocabulary = []Name{Status, Positions, Risk, Pause, Resume, Backtest, Help}

// Handler executes a command and returns a human-readable reply.
type Handler func(ctx context.Context, args []string) (string, error)

type entry struct {
	summary string
	handler Handler
}

// Registry holds one handler per vocabulary entry.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Name]entry
}

// NewRegistry creates an empty registry. The help command is registered
// automatically.
func NewRegistry() *Registry {
	r := &Registry{handlers: make(map[Name]entry)}
	r.handlers[Help] = entry{summary: "list commands", handler: func(context.Context, []string) (string, error) {
		return r.Help(), nil
	}}
	return r
}

// Register binds h to name. Names outside the vocabulary and duplicates are
// rejected.
func (r *Registry) Register(name Name, summary string, h Handler) error {
	if !known(name) {
		return fmt.Errorf("command: register %q: %w", name, domain.ErrUnknownCommand)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[name]; ok {
		return fmt.Errorf("command: register %q: %w", name, domain.ErrAlreadyExists)
	}
	r.handlers[name] = entry{summary: summary, handler: h}
	return nil
}

// MustRegister is Register that panics on error, for startup wiring.
func (r *Registry) MustRegister(name Name, summary string, h Handler) {
	if err := r.Register(name, summary, h); err != nil {
		panic(err)
	}
}

// Validate fails when a vocabulary entry has no handler.
func (r *Registry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var missing []string
	for _, n := range Vocabulary {
		if _, ok := r.handlers[n]; !ok {
			missing = append(missing, string(n))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("command: missing handlers: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Dispatch runs the handler for name. A leading slash and a "@bot" suffix are
// ignored.
func (r *Registry) Dispatch(ctx context.Context, name string, args []string) (string, error) {
	n := Normalize(name)
	r.mu.RLock()
	e, ok := r.handlers[n]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("command: %q: %w", name, domain.ErrUnknownCommand)
	}
	return e.handler(ctx, args)
}

// Help lists registered commands alphabetically.
func (r *Registry) Help() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for n := range r.handlers {
		names = append(names, string(n))
	}
	sort.Strings(names)
	var b strings.Builder
	for _, n := range names {
		fmt.Fprintf(&b, "/%s - %s\n", n, r.handlers[Name(n)].summary)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Normalize lowercases a raw command token and strips "/" and "@bot".
func Normalize(raw string) Name {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "/")
	if i := strings.IndexByte(raw, '@'); i >= 0 {
		raw = raw[:i]
	}
	return Name(strings.ToLower(raw))
}

// Parse splits a chat message into a command token and arguments. ok is
// false when text is not a command.
func Parse(text string) (name string, args []string, ok bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil, false
	}
	return fields[0], fields[1:], true
}

func known(n Name) bool {
	for _, v := range Vocabulary {
		if v == n {
			return true
		}
	}
	return false
}
