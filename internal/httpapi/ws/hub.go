// Package ws implements the WebSocket progress channel: a single
// well-known endpoint where clients identify, subscribe to jobs, and
// receive job_update events pushed by the broadcaster (C8).
package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"batchroute/internal/broadcaster"
	"batchroute/internal/registry"
	"batchroute/pkg/api"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// outboundBuffer bounds how many undelivered events a stalled client can
// accumulate before the broadcaster starts dropping events for it.
const outboundBuffer = 32

// Hub upgrades HTTP connections to WebSocket and bridges them to the
// broadcaster.
type Hub struct {
	broadcast *broadcaster.Broadcaster
	registry  *registry.Registry
	logger    *slog.Logger
}

// NewHub constructs a Hub.
func NewHub(b *broadcaster.Broadcaster, r *registry.Registry, logger *slog.Logger) *Hub {
	return &Hub{broadcast: b, registry: r, logger: logger}
}

// client wraps one WebSocket connection as a broadcaster.Client: Deliver
// enqueues onto outbound without blocking, and a dedicated writer
// goroutine drains outbound in FIFO order onto the socket.
type client struct {
	conn     *websocket.Conn
	outbound chan api.WSServerMessage

	mu     sync.Mutex
	userID string
}

func (c *client) Deliver(msg api.WSServerMessage) bool {
	select {
	case c.outbound <- msg:
		return true
	default:
		return false
	}
}

// ServeHTTP upgrades the connection and runs its read/write loops until
// the client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if h.logger != nil {
			h.logger.Warn("websocket upgrade failed", "error", err)
		}
		return
	}

	c := &client{conn: conn, outbound: make(chan api.WSServerMessage, outboundBuffer)}

	var subscribed sync.Map // jobID -> struct{}

	done := make(chan struct{})
	go h.writeLoop(c, done)

	defer func() {
		close(done)
		subscribed.Range(func(key, _ any) bool {
			h.broadcast.Unsubscribe(key.(string), c)
			return true
		})
		h.broadcast.RemoveClient(c)
		conn.Close()
	}()

	for {
		var msg api.WSClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Event {
		case "identify":
			c.mu.Lock()
			c.userID = msg.UserID
			c.mu.Unlock()
		case "subscribe":
			if msg.JobID == "" {
				continue
			}
			h.broadcast.Subscribe(msg.JobID, c)
			subscribed.Store(msg.JobID, struct{}{})
			h.sendCurrentSnapshot(c, msg.JobID)
		case "unsubscribe":
			if msg.JobID == "" {
				continue
			}
			h.broadcast.Unsubscribe(msg.JobID, c)
			subscribed.Delete(msg.JobID)
		}
	}
}

// sendCurrentSnapshot delivers the job's current state immediately on
// subscribe, so a late subscriber (after a terminal event) still learns
// the terminal state without the broadcaster replaying history (spec
// §4.8).
func (h *Hub) sendCurrentSnapshot(c *client, jobID string) {
	snapshot, err := h.registry.Get(jobID)
	if err != nil {
		return
	}
	progress := snapshot.Progress
	c.Deliver(api.WSServerMessage{
		Event: "job_update",
		JobID: jobID,
		Data: api.WSServerPayload{
			Status:   snapshot.Status,
			Progress: &progress,
		},
	})
}

// writeLoop drains c.outbound onto the socket in FIFO order, so delivery
// ordering per client is preserved and a slow socket never blocks
// Publish, which hands each message to every subscriber in turn
// (spec §4.8).
func (h *Hub) writeLoop(c *client, done <-chan struct{}) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case msg := <-c.outbound:
			b, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
