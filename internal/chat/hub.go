package chat

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Broadcaster is the hub surface the delivery endpoint depends on.
// Handlers take this interface so tests can inject a fake hub.
type Broadcaster interface {
	Broadcast(conversationID int64, event any)
}

// Hub owns the set of open realtime connections and the per-conversation
// subscriber index populated by join frames.
//
// Concurrency guarantees:
//   - Accept/Subscribe/Remove are safe under concurrent Broadcast.
//   - Broadcast never blocks (drops under backpressure) and serializes the
//     event exactly once.
//   - Two broadcasts are observed in the same relative order by every
//     connection that receives both: Broadcast holds the write lock for the
//     whole fanout, so enqueue order is consistent across clients.
//
// The hub holds no durable state and is rebuilt empty on process restart.
type Hub struct {
	log     *slog.Logger
	metrics *Metrics

	mu      sync.RWMutex
	clients map[*Client]struct{}
	subs    map[int64]map[*Client]struct{}
}

// NewHub constructs a Hub instance.
func NewHub(log *slog.Logger, metrics *Metrics) *Hub {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Hub{
		log:     log,
		metrics: metrics,
		clients: make(map[*Client]struct{}),
		subs:    make(map[int64]map[*Client]struct{}),
	}
}

// Accept registers a newly opened connection.
// No authentication or conversation scoping happens at this layer.
func (h *Hub) Accept(c *Client) {
	if h == nil || c == nil {
		return
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.metrics.Connections.Inc()
	h.log.Info("hub.client.accept", "session_id", c.SessionID)
}

// Subscribe adds the client to a conversation's subscriber set.
// Subsequent broadcasts for that conversation are delivered to the client.
func (h *Hub) Subscribe(c *Client, conversationID int64) {
	if h == nil || c == nil || conversationID <= 0 {
		return
	}

	h.mu.Lock()
	if _, known := h.clients[c]; !known {
		h.mu.Unlock()
		return
	}
	set := h.subs[conversationID]
	if set == nil {
		set = make(map[*Client]struct{})
		h.subs[conversationID] = set
	}
	set[c] = struct{}{}
	c.subscriptions[conversationID] = struct{}{}
	h.mu.Unlock()

	h.log.Info("hub.client.join", "session_id", c.SessionID, "conversacion_id", conversationID)
}

// Remove drops the connection from the registry and all subscriber sets,
// then signals the client to shut down. Safe to call more than once.
func (h *Hub) Remove(c *Client) {
	if h == nil || c == nil {
		return
	}

	h.mu.Lock()
	_, known := h.clients[c]
	if known {
		delete(h.clients, c)
		for id := range c.subscriptions {
			if set, ok := h.subs[id]; ok {
				delete(set, c)
				if len(set) == 0 {
					delete(h.subs, id)
				}
			}
		}
	}
	h.mu.Unlock()

	if !known {
		return
	}

	// Signal shutdown after removal so broadcasters never see a closing
	// client that is still a subscriber.
	c.Close()
	h.metrics.Connections.Dec()
	h.log.Info("hub.client.remove", "session_id", c.SessionID)
}

// Broadcast serializes event once and enqueues it to every subscriber of the
// conversation. A full or closing client is skipped; delivery to one client
// never affects delivery to the others.
func (h *Hub) Broadcast(conversationID int64, event any) {
	if h == nil {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		h.log.Error("hub.broadcast.marshal", "err", err, "conversacion_id", conversationID)
		return
	}

	// Full lock: fanout must not interleave with another broadcast, so every
	// subscriber observes the same relative event order.
	h.mu.Lock()
	defer h.mu.Unlock()

	h.metrics.Broadcasts.Inc()

	for c := range h.subs[conversationID] {
		select {
		case <-c.Done():
			continue
		default:
		}

		select {
		case c.Send <- data:
		default:
			// Drop rather than block the whole fanout.
			h.metrics.DroppedFrames.Inc()
		}
	}
}

// Connections reports the number of currently registered clients.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Subscribers reports the subscriber count for a conversation.
func (h *Hub) Subscribers(conversationID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[conversationID])
}
