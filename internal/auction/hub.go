// WebSocket hub for real-time auction broadcasting.
package auction

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bidarena/auction-engine/internal/metrics"
)

// SnapshotFunc builds a full current-state snapshot for one observer.
type SnapshotFunc func(ctx context.Context) (Event, error)

// Hub manages WebSocket connections and broadcasts committed auction events
// to all connected observers. Delivery is best-effort: a failed send prunes
// that connection and never blocks the others, and broadcasts happen strictly
// after the triggering transaction has committed — the hub is a notification
// layer, never a source of truth.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	direct     chan directMsg
	snapshot   SnapshotFunc
	mu         sync.RWMutex
}

type directMsg struct {
	conn *websocket.Conn
	data []byte
}

// NewHub creates a new WebSocket hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		direct:     make(chan directMsg, 64),
	}
}

// SetSnapshot installs the snapshot builder used to answer client refresh
// requests. Must be called before Run.
func (h *Hub) SetSnapshot(fn SnapshotFunc) {
	h.snapshot = fn
}

// Run starts the hub's main event loop. Must be called in a goroutine.
// All connection writes happen here, so no two goroutines write one
// connection concurrently.
func (h *Hub) Run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(total))
			slog.Info("ws client connected", "total", total)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(total))

		case msg := <-h.direct:
			h.mu.RLock()
			_, ok := h.clients[msg.conn]
			h.mu.RUnlock()
			if !ok {
				continue
			}
			if err := msg.conn.WriteMessage(websocket.TextMessage, msg.data); err != nil {
				h.drop(msg.conn)
			}

		case msg := <-h.broadcast:
			h.mu.RLock()
			conns := make([]*websocket.Conn, 0, len(h.clients))
			for conn := range h.clients {
				conns = append(conns, conn)
			}
			h.mu.RUnlock()
			for _, conn := range conns {
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					h.drop(conn)
				}
			}
		}
	}
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
	total := len(h.clients)
	h.mu.Unlock()
	metrics.WebSocketClients.Set(float64(total))
}

// Broadcast sends a committed event to all connected observers.
func (h *Hub) Broadcast(ev Event) {
	data, err := marshalEvent(ev)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- data:
	default:
		// Never block an auction operation on a saturated hub, but a
		// committed event vanishing for every observer must not be silent.
		slog.Warn("ws broadcast buffer full, event dropped", "type", ev.eventType())
	}
}

// ClientCount returns the number of connected observers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Observers connect from the presenter and team UIs.
	},
}

// clientRequest is the only inbound message shape the hub understands.
type clientRequest struct {
	Type string `json:"type"`
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/ws.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	h.register <- conn

	// Read pump: detect disconnects and answer refresh requests with a
	// full state snapshot (reconnect support).
	go func() {
		defer func() { h.unregister <- conn }()
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				break
			}
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))

			var req clientRequest
			if json.Unmarshal(data, &req) != nil || req.Type != "REFRESH" {
				continue
			}
			if h.snapshot == nil {
				continue
			}
			// The request context is not usable here: the connection
			// outlives the HTTP timeout middleware's deadline.
			ev, err := h.snapshot(context.Background())
			if err != nil {
				slog.Error("snapshot build failed", "err", err)
				continue
			}
			if payload, err := marshalEvent(ev); err == nil {
				select {
				case h.direct <- directMsg{conn: conn, data: payload}:
				default:
				}
			}
		}
	}()

	// Ping ticker to keep the connection alive through proxies.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			h.mu.RLock()
			_, ok := h.clients[conn]
			h.mu.RUnlock()
			if !ok {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}()
}
