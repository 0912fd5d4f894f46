// Package ws bridges the Redis risk bus to WebSocket dashboard clients:
// every published risk analysis is fanned out to all connected clients as a
// JSON frame.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ayush101098/nexxore/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
	sendBufferSize = 64
)

// Feed is the risk-bus subscription the hub consumes. Implemented by the
// Redis risk cache.
type Feed interface {
	SubscribeUpdates(ctx context.Context) (<-chan domain.RiskAnalysis, error)
	LatestAnalysis(ctx context.Context) (domain.RiskAnalysis, error)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin policy is enforced by the CORS middleware in front.
		return true
	},
}

// envelope is the wire format pushed to clients.
type envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub manages connected WebSocket clients and fans risk updates out to them.
type Hub struct {
	feed       Feed
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	mu         sync.RWMutex
	logger     *slog.Logger
	startedAt  time.Time
}

// NewHub creates a Hub reading from the given risk feed.
func NewHub(feed Feed, logger *slog.Logger) *Hub {
	return &Hub{
		feed:       feed,
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		logger:     logger.With(slog.String("component", "ws")),
		startedAt:  time.Now().UTC(),
	}
}

// Run drives the hub until the context is cancelled: client bookkeeping plus
// the risk-bus subscription.
func (h *Hub) Run(ctx context.Context) error {
	updates, err := h.feed.SubscribeUpdates(ctx)
	if err != nil {
		return err
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
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Info("client connected", slog.Int("total_clients", h.clientCount()))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Info("client disconnected", slog.Int("total_clients", h.clientCount()))

		case analysis, ok := <-updates:
			if !ok {
				return nil
			}
			h.broadcast("risk_update", analysis)
		}
	}
}

// broadcast fans one envelope out to every connected client. Slow clients
// drop the frame rather than stalling the hub.
func (h *Hub) broadcast(msgType string, payload any) {
	data, err := json.Marshal(envelope{Type: msgType, Payload: payload})
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("dropping frame for slow client")
		}
	}
}

// HandleWS upgrades the request and registers the client.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}

	h.register <- c
	c.sendSnapshot(r.Context())

	go c.writePump()
	go c.readPump()
}

func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// sendSnapshot pushes the latest analysis on connect so dashboards render
// immediately instead of waiting for the next cycle.
func (c *client) sendSnapshot(ctx context.Context) {
	latest, err := c.hub.feed.LatestAnalysis(ctx)
	if err != nil {
		return
	}
	data, err := json.Marshal(envelope{Type: "risk_snapshot", Payload: latest})
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// readPump drains client frames; the feed is one-way, so inbound content is
// discarded but pong handling keeps the connection alive.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}
	}
}

// writePump pumps frames from the hub to the connection with keepalive pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
