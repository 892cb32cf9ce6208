// Package events provides the WebSocket feed for real-time sync status.
package events

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/geomarkapp/geomark/internal/logging"
	"github.com/geomarkapp/geomark/internal/uuid"
)

// Event types published on the feed.
const (
	EventSyncStarted      = "sync.started"
	EventSyncCompleted    = "sync.completed"
	EventSyncFailed       = "sync.failed"
	EventQueueChanged     = "queue.changed"
	EventActionConflicted = "queue.action_conflicted"
	EventConnectivity     = "connectivity.changed"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The control API binds to loopback; the feed follows suit.
		return true
	},
}

// Envelope wraps all messages on the feed.
type Envelope struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp int64                  `json:"timestamp"`
}

// client is one WebSocket subscriber.
type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub maintains active client connections and broadcasts events.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
}

// NewHub creates a Hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[string]*client)}
}

// Publish broadcasts an event to every connected client. Slow clients are
// dropped rather than allowed to block the publisher.
func (h *Hub) Publish(eventType string, data map[string]interface{}) {
	envelope := Envelope{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		logging.Error("Failed to marshal event", err,
			map[string]interface{}{"type": eventType})
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.clients {
		select {
		case c.send <- payload:
		default:
			go h.disconnect(c)
		}
	}
}

// HandleWS upgrades an HTTP request into a feed subscription.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error("WebSocket upgrade failed", err)
		return
	}

	c := &client{
		id:   uuid.New(),
		conn: conn,
		send: make(chan []byte, 64),
	}

	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()

	logging.Debug("Feed client connected", map[string]interface{}{"client_id": c.id})

	go h.writeLoop(c)
	go h.readLoop(c)
}

// writeLoop forwards broadcast payloads to one client.
func (h *Hub) writeLoop(c *client) {
	for payload := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.disconnect(c)
			return
		}
	}
}

// readLoop drains inbound frames so pings and close frames are processed.
func (h *Hub) readLoop(c *client) {
	defer h.disconnect(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// disconnect removes a client and closes its connection.
func (h *Hub) disconnect(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c.id]
	if ok {
		delete(h.clients, c.id)
		close(c.send)
	}
	h.mu.Unlock()

	if ok {
		c.conn.Close()
		logging.Debug("Feed client disconnected", map[string]interface{}{"client_id": c.id})
	}
}

// ClientCount returns the number of connected feed clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
