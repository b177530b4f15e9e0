// Package ws implements the live orderbook feed: a WebSocket hub that
// forwards trade and price events from the matching engine to clients
// subscribed to a specific (marketId, positionId) book.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/clobx/clobd/internal/domain"
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
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func bookKey(marketID, positionID string) string { return marketID + ":" + positionID }

// client is a single WebSocket connection subscribed to one book.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	key  string
}

// Hub fans out domain.FeedEvent messages to clients subscribed to the
// event's (marketId, positionId) book. It implements domain.FeedPublisher.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*client]bool

	register   chan *client
	unregister chan *client
	broadcast  chan domain.FeedEvent

	logger *slog.Logger
}

// NewHub creates an idle Hub. Call Run to start its event loop before
// HandleWS is reachable from real traffic.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan domain.FeedEvent, 256),
		logger:     logger,
	}
}

// Run drives client registration and broadcast dispatch until ctx is
// cancelled.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for _, set := range h.clients {
				for c := range set {
					close(c.send)
				}
			}
			h.clients = make(map[string]map[*client]bool)
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			if h.clients[c.key] == nil {
				h.clients[c.key] = make(map[*client]bool)
			}
			h.clients[c.key][c] = true
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if set, ok := h.clients[c.key]; ok {
				if _, ok := set[c]; ok {
					delete(set, c)
					close(c.send)
				}
				if len(set) == 0 {
					delete(h.clients, c.key)
				}
			}
			h.mu.Unlock()

		case event := <-h.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				h.logger.Error("ws: marshal feed event failed", slog.String("error", err.Error()))
				continue
			}
			key := bookKey(event.MarketID, event.PositionID)
			h.mu.RLock()
			for c := range h.clients[key] {
				select {
				case c.send <- data:
				default:
					h.logger.Warn("ws: dropping feed event for slow client", slog.String("key", key))
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Publish implements domain.FeedPublisher. It never blocks the caller: a
// full broadcast buffer drops the event rather than stall the matching
// tick.
func (h *Hub) Publish(event domain.FeedEvent) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("ws: broadcast buffer full, dropping feed event",
			slog.String("market_id", event.MarketID), slog.String("position_id", event.PositionID))
	}
}

// HandleWS upgrades the request to a WebSocket and subscribes the client to
// one book's events.
// GET /api/orderbook/{id}/stream?positionId=...
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	marketID := r.PathValue("id")
	positionID := r.URL.Query().Get("positionId")
	if marketID == "" || positionID == "" {
		http.Error(w, `{"success":false,"error":"marketId and positionId are required"}`, http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{hub: h, conn: conn, send: make(chan []byte, sendBufferSize), key: bookKey(marketID, positionID)}
	h.register <- c

	go c.writePump()
	go c.readPump()
}

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
			return
		}
	}
}

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

var _ domain.FeedPublisher = (*Hub)(nil)
