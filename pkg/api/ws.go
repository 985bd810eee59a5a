package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teleclerk/teleclerk/pkg/domain"
	"github.com/teleclerk/teleclerk/pkg/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Same-origin requests have no Origin header
		}
		for _, prefix := range []string{"http://localhost", "http://127.0.0.1", "https://localhost", "https://127.0.0.1"} {
			if strings.HasPrefix(origin, prefix) {
				return true
			}
		}
		logger.WarnCF("ws", "Rejected WebSocket from disallowed origin", map[string]interface{}{"origin": origin})
		return false
	},
}

// WSEvent is the wire form of a domain event sent to WebSocket clients.
type WSEvent struct {
	Type      string      `json:"type"`
	Timestamp string      `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// WSHub fans pipeline events out to connected WebSocket clients. Slow
// clients drop events rather than stalling the bus.
type WSHub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]chan []byte
}

// NewWSHub creates a hub and subscribes it to every event on the bus.
func NewWSHub(bus domain.EventBus) *WSHub {
	h := &WSHub{clients: make(map[*websocket.Conn]chan []byte)}
	bus.SubscribeAll(func(e domain.Event) {
		h.broadcast(WSEvent{
			Type:      string(e.EventType()),
			Timestamp: e.OccurredAt().Format(time.RFC3339),
			Data:      e.Payload(),
		})
	})
	return h
}

// ClientCount returns the number of connected clients.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *WSHub) broadcast(event WSEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, send := range h.clients {
		select {
		case send <- data:
		default: // drop for slow clients
		}
	}
}

func (h *WSHub) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnCF("ws", "Upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}

	send := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[conn] = send
	h.mu.Unlock()
	logger.DebugC("ws", "Client connected")

	go h.writePump(conn, send)
	h.readPump(conn)
}

// readPump discards client frames and detects disconnects.
func (h *WSHub) readPump(conn *websocket.Conn) {
	defer h.drop(conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *WSHub) writePump(conn *websocket.Conn, send <-chan []byte) {
	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()
	for {
		select {
		case data, ok := <-send:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *WSHub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	if send, ok := h.clients[conn]; ok {
		close(send)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
	conn.Close()
	logger.DebugC("ws", "Client disconnected")
}
