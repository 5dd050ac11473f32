// Package broadcaster implements C8: best-effort, non-blocking fan-out of
// job progress events to WebSocket subscribers.
package broadcaster

import (
	"sync"

	"batchroute/pkg/api"
)

// Client is any sink a subscriber can be delivered to. The WebSocket hub
// implements this by wrapping a per-connection outbound channel.
type Client interface {
	// Deliver attempts to hand msg to the client without blocking. It
	// returns false if the client's outbound buffer is full or closed,
	// in which case the broadcaster drops the event for that client —
	// a stalled client must never block the dispatcher (spec §4.8).
	Deliver(msg api.WSServerMessage) bool
}

// Broadcaster maintains jobId -> set<Client> and delivers events to every
// current member of a job's subscription set.
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[string]map[Client]struct{}
}

// New returns an empty Broadcaster.
func New() *Broadcaster {
	return &Broadcaster{subs: make(map[string]map[Client]struct{})}
}

// Subscribe adds client to jobID's subscription set.
func (b *Broadcaster) Subscribe(jobID string, client Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.subs[jobID]
	if !ok {
		set = make(map[Client]struct{})
		b.subs[jobID] = set
	}
	set[client] = struct{}{}
}

// Unsubscribe removes client from jobID's subscription set, lazily
// discarding the set once empty.
func (b *Broadcaster) Unsubscribe(jobID string, client Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unsubscribeLocked(jobID, client)
}

func (b *Broadcaster) unsubscribeLocked(jobID string, client Client) {
	set, ok := b.subs[jobID]
	if !ok {
		return
	}
	delete(set, client)
	if len(set) == 0 {
		delete(b.subs, jobID)
	}
}

// RemoveClient removes client from every subscription set it appears in,
// called on WebSocket disconnect (spec §4.8).
func (b *Broadcaster) RemoveClient(client Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for jobID, set := range b.subs {
		if _, ok := set[client]; ok {
			delete(set, client)
			if len(set) == 0 {
				delete(b.subs, jobID)
			}
		}
	}
}

// Publish delivers event to every current subscriber of jobID. Delivery
// is best-effort: a failed Deliver is silently dropped rather than
// retried, so one stalled client cannot stall the dispatcher goroutine
// that called Publish.
func (b *Broadcaster) Publish(jobID string, msg api.WSServerMessage) {
	b.mu.RLock()
	set, ok := b.subs[jobID]
	if !ok {
		b.mu.RUnlock()
		return
	}
	clients := make([]Client, 0, len(set))
	for c := range set {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		c.Deliver(msg)
	}
}
