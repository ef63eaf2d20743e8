// Package wshub fans stream-phase and detection events out to connected
// operator websocket clients, the live-feed half of the admin surface
// (§6 operational API, "live event feed").
package wshub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"edge-nvr/logging"
)

// EventType tags the two kinds of event the hub ever broadcasts.
type EventType string

const (
	EventStreamPhase EventType = "stream_phase"
	EventDetection   EventType = "detection"
)

// Event is the JSON envelope sent to every connected client.
type Event struct {
	Type      EventType   `json:"type"`
	Stream    string      `json:"stream"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

const (
	writeWait  = 10 * time.Second
	sendBuffer = 32
)

// client wraps one websocket connection with its own outbound queue so a
// slow reader never blocks the broadcaster.
type client struct {
	conn *websocket.Conn
	send chan Event
}

// Hub is a concurrency-safe broadcaster. Multiple API handlers may call
// Broadcast concurrently; clients register/unregister independently.
type Hub struct {
	log *logging.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
}

// New returns an empty Hub.
func New(log *logging.Logger) *Hub {
	return &Hub{log: log, clients: make(map[*client]struct{})}
}

// Register adopts conn as a broadcast target and starts its write pump.
// It blocks until the connection closes, so callers run it in its own
// goroutine per-connection (matching the teacher's per-request handler
// goroutine style).
func (h *Hub) Register(conn *websocket.Conn) {
	c := &client{conn: conn, send: make(chan Event, sendBuffer)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		conn.Close()
	}()

	for ev := range c.send {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(ev); err != nil {
			h.log.Printf("write failed, dropping client: %v", err)
			return
		}
	}
}

// Broadcast sends ev to every connected client without blocking on any
// one of them: a client whose send buffer is full is dropped rather than
// stalling the publisher, since live events are best-effort (§6).
func (h *Hub) Broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			h.log.Printf("client send buffer full, dropping connection")
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// ClientCount reports the number of currently registered clients, used
// by the health endpoint.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
