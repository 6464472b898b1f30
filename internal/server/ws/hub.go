// Package ws streams position lifecycle events to dashboard clients over
// websockets, relaying the event bus positions channel.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/snipebot/internal/domain"
	"github.com/alanyoungcy/snipebot/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS and auth middleware.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StatusFunc builds the hello payload sent to each new client.
type StatusFunc func() map[string]any

// Hub fans bus events out to connected clients. Clients receive every event
// kind until they send a filter:
//
//	{"action":"subscribe","kinds":["rug_exit","position_closed"]}
type Hub struct {
	bus    domain.SignalBus
	status StatusFunc
	logger *slog.Logger

	register   chan *client
	unregister chan *client
	broadcast  chan event
	done       chan struct{}

	mu      sync.RWMutex
	clients map[*client]bool
}

type event struct {
	kind domain.EventKind
	data []byte
}

// NewHub creates a Hub. status may be nil.
func NewHub(bus domain.SignalBus, status StatusFunc, logger *slog.Logger) *Hub {
	return &Hub{
		bus:        bus,
		status:     status,
		logger:     logger.With(slog.String("component", "ws")),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan event, 256),
		done:       make(chan struct{}),
		clients:    make(map[*client]bool),
	}
}

// Run relays bus events until ctx is cancelled. A nil bus serves only the
// hello message.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	if h.bus != nil {
		msgs, err := h.bus.Subscribe(ctx, domain.PositionsChannel)
		if err != nil {
			h.logger.ErrorContext(ctx, "ws: subscribe failed", slog.String("error", err.Error()))
		} else {
			go h.relay(ctx, msgs)
		}
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			metrics.WebSocketClients.Set(0)
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(n))
			h.logger.DebugContext(ctx, "ws: client connected", slog.Int("clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(n))
			h.logger.DebugContext(ctx, "ws: client disconnected", slog.Int("clients", n))

		case ev := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.wants(ev.kind) {
					continue
				}
				select {
				case c.send <- ev.data:
				default:
					h.logger.WarnContext(ctx, "ws: dropping event for slow client", slog.String("kind", string(ev.kind)))
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) relay(ctx context.Context, msgs <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				h.logger.WarnContext(ctx, "ws: bus subscription closed")
				return
			}
			var pe domain.PositionEvent
			if err := json.Unmarshal(data, &pe); err != nil {
				h.logger.WarnContext(ctx, "ws: malformed bus event", slog.String("error", err.Error()))
				continue
			}
			select {
			case h.broadcast <- event{kind: pe.Kind, data: data}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades the request and registers the client.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WarnContext(r.Context(), "ws: upgrade failed", slog.String("error", err.Error()))
		return
	}
	c := &client{hub: h, conn: conn, send: make(chan []byte, sendBufferSize)}
	c.hello()

	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu    sync.RWMutex
	kinds map[domain.EventKind]bool // nil means every kind
}

type subscribeMsg struct {
	Action string             `json:"action"`
	Kinds  []domain.EventKind `json:"kinds"`
}

func (c *client) wants(kind domain.EventKind) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.kinds == nil || c.kinds[kind]
}

func (c *client) apply(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Action {
	case "subscribe":
		if c.kinds == nil {
			c.kinds = make(map[domain.EventKind]bool)
		}
		for _, k := range msg.Kinds {
			c.kinds[k] = true
		}
	case "unsubscribe":
		for _, k := range msg.Kinds {
			delete(c.kinds, k)
		}
	case "all":
		c.kinds = nil
	}
}

func (c *client) hello() {
	payload := map[string]any{}
	if c.hub.status != nil {
		payload = c.hub.status()
	}
	msg, err := json.Marshal(map[string]any{"type": "status", "payload": payload})
	if err != nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var sub subscribeMsg
		if json.Unmarshal(message, &sub) == nil && sub.Action != "" {
			c.apply(sub)
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
