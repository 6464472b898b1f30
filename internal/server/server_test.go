package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/snipebot/internal/command"
	"github.com/alanyoungcy/snipebot/internal/domain"
	"github.com/alanyoungcy/snipebot/internal/server/handler"
	"github.com/alanyoungcy/snipebot/internal/server/ws"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeActive []domain.Position

func (f fakeActive) Active() []domain.Position { return f }

type fakePause bool

func (f fakePause) Paused() bool { return bool(f) }

type fakePosture domain.RiskPosture

func (f fakePosture) Posture() domain.RiskPosture { return domain.RiskPosture(f) }

type fakeTrades struct{ trades []domain.TradeRecord }

func (f *fakeTrades) Insert(context.Context, domain.TradeRecord) error { return nil }
func (f *fakeTrades) List(_ context.Context, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	if opts.Limit < len(f.trades) {
		return f.trades[:opts.Limit], nil
	}
	return f.trades, nil
}
func (f *fakeTrades) ListBefore(context.Context, time.Time, int) ([]domain.TradeRecord, error) {
	return nil, nil
}
func (f *fakeTrades) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

type chanBus struct{ ch chan []byte }

func (b *chanBus) Publish(_ context.Context, _ string, payload []byte) error {
	b.ch <- payload
	return nil
}
func (b *chanBus) Subscribe(context.Context, string) (<-chan []byte, error) { return b.ch, nil }

type testEnv struct {
	srv      *Server
	registry *command.Registry
}

func newTestEnv(t *testing.T, cfg Config, hub *ws.Hub, checks map[string]handler.Check) testEnv {
	t.Helper()
	log := discard()
	reg := command.NewRegistry()
	reg.MustRegister(command.Pause, "pause scanning", func(context.Context, []string) (string, error) {
		return "paused", nil
	})
	reg.MustRegister(command.Backtest, "replay a csv", func(_ context.Context, args []string) (string, error) {
		if len(args) == 0 {
			return "", domain.ErrMalformed
		}
		return "ok " + args[0], nil
	})
	active := fakeActive{{ID: "p1", AssetID: "Tok", State: domain.StateOpen}}
	trades := &fakeTrades{trades: []domain.TradeRecord{{ID: "t1"}, {ID: "t2"}}}
	h := Handlers{
		Health:    handler.NewHealthHandler(checks, log),
		Status:    handler.NewStatusHandler("trade", "paper", active, fakePause(true)),
		Positions: handler.NewPositionHandler(active, nil, log),
		Trades:    handler.NewTradeHandler(trades, log),
		Risk:      handler.NewRiskHandler(fakePosture{TradesToday: 2}, handler.RiskLimits{MaxTradesPerDay: 4}),
		Commands:  handler.NewCommandHandler(reg, log),
	}
	return testEnv{srv: NewServer(cfg, h, hub, nil, log), registry: reg}
}

func do(t *testing.T, h http.Handler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, Config{}, nil, map[string]handler.Check{
		"redis": func(context.Context) error { return nil },
	})
	w := do(t, env.srv.Handler(), "GET", "/api/health", "", nil)
	if w.Code != http.StatusOK || decode(t, w)["status"] != "ok" {
		t.Errorf("health = %d %s", w.Code, w.Body)
	}

	env = newTestEnv(t, Config{}, nil, map[string]handler.Check{
		"postgres": func(context.Context) error { return errors.New("connection refused") },
	})
	w = do(t, env.srv.Handler(), "GET", "/api/health", "", nil)
	if w.Code != http.StatusServiceUnavailable || decode(t, w)["status"] != "degraded" {
		t.Errorf("degraded health = %d %s", w.Code, w.Body)
	}
}

func TestAuth(t *testing.T) {
	h := newTestEnv(t, Config{APIKey: "s3cret"}, nil, nil).srv.Handler()

	if w := do(t, h, "GET", "/api/status", "", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("no key = %d", w.Code)
	}
	if w := do(t, h, "GET", "/api/status", "", map[string]string{"X-API-Key": "wrong"}); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong key = %d", w.Code)
	}
	if w := do(t, h, "GET", "/api/status", "", map[string]string{"Authorization": "Bearer s3cret"}); w.Code != http.StatusOK {
		t.Errorf("bearer = %d", w.Code)
	}
	if w := do(t, h, "GET", "/api/health", "", nil); w.Code != http.StatusOK {
		t.Errorf("health should be public, got %d", w.Code)
	}
}

func TestReadEndpoints(t *testing.T) {
	h := newTestEnv(t, Config{}, nil, nil).srv.Handler()

	w := do(t, h, "GET", "/api/status", "", nil)
	st := decode(t, w)
	if st["scanner"] != "paused" || st["open_positions"] != float64(1) || st["executor"] != "paper" {
		t.Errorf("status = %v", st)
	}

	w = do(t, h, "GET", "/api/positions", "", nil)
	if ps := decode(t, w)["positions"].([]any); len(ps) != 1 {
		t.Errorf("positions = %v", ps)
	}
	if w := do(t, h, "GET", "/api/positions?state=closed", "", nil); w.Code != http.StatusServiceUnavailable {
		t.Errorf("closed without store = %d", w.Code)
	}
	if w := do(t, h, "GET", "/api/positions?state=bogus", "", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad state = %d", w.Code)
	}

	w = do(t, h, "GET", "/api/trades?limit=1", "", nil)
	if ts := decode(t, w)["trades"].([]any); len(ts) != 1 {
		t.Errorf("trades = %v", ts)
	}

	w = do(t, h, "GET", "/api/risk", "", nil)
	risk := decode(t, w)
	if risk["posture"].(map[string]any)["trades_today"] != float64(2) {
		t.Errorf("risk = %v", risk)
	}
}

func TestCommands(t *testing.T) {
	h := newTestEnv(t, Config{}, nil, nil).srv.Handler()

	w := do(t, h, "POST", "/api/commands/pause", "", nil)
	if w.Code != http.StatusOK || decode(t, w)["reply"] != "paused" {
		t.Errorf("pause = %d %s", w.Code, w.Body)
	}
	w = do(t, h, "POST", "/api/commands/backtest", `{"args":["data.csv"]}`, nil)
	if w.Code != http.StatusOK || decode(t, w)["reply"] != "ok data.csv" {
		t.Errorf("backtest = %d %s", w.Code, w.Body)
	}
	if w := do(t, h, "POST", "/api/commands/backtest", "", nil); w.Code != http.StatusBadRequest {
		t.Errorf("backtest without args = %d", w.Code)
	}
	if w := do(t, h, "POST", "/api/commands/selfdestruct", "", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown = %d", w.Code)
	}
	if w := do(t, h, "POST", "/api/commands/pause", "{not json", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad body = %d", w.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	h := newTestEnv(t, Config{CORSOrigins: []string{"https://dash.example"}, APIKey: "k"}, nil, nil).srv.Handler()
	w := do(t, h, "OPTIONS", "/api/status", "", map[string]string{"Origin": "https://dash.example"})
	if w.Code != http.StatusNoContent || w.Header().Get("Access-Control-Allow-Origin") != "https://dash.example" {
		t.Errorf("preflight = %d %v", w.Code, w.Header())
	}
	w = do(t, h, "OPTIONS", "/api/status", "", map[string]string{"Origin": "https://evil.example"})
	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("disallowed origin echoed")
	}
}

func TestWebSocketRelaysBusEvents(t *testing.T) {
	bus := &chanBus{ch: make(chan []byte, 4)}
	hub := ws.NewHub(bus, func() map[string]any { return map[string]any{"mode": "trade"} }, discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()

	ts := httptest.NewServer(newTestEnv(t, Config{}, hub, nil).srv.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var hello map[string]any
	if err := conn.ReadJSON(&hello); err != nil || hello["type"] != "status" {
		t.Fatalf("hello = %v, %v", hello, err)
	}

	opened, _ := json.Marshal(domain.PositionEvent{Kind: domain.EventPositionOpened, Position: domain.Position{ID: "a"}})
	_ = bus.Publish(ctx, domain.PositionsChannel, opened)

	var ev domain.PositionEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatal(err)
	}
	if ev.Kind != domain.EventPositionOpened || ev.Position.ID != "a" {
		t.Errorf("event = %+v", ev)
	}
}
