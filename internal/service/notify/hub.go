// Package notify fans conversation events out to connected clients. Delivery
// is best-effort over bounded per-client queues; a client that falls behind
// is disconnected and must reconnect.
package notify

import (
	"log/slog"
	"sync"
	"time"
)

// Event kinds delivered to clients.
const (
	EventMessage        = "message"
	EventDialogueUpdate = "dialogue_update"
	EventStreamChunk    = "stream_chunk"
)

// queueSize bounds the per-client delivery queue.
const queueSize = 64

// Event is one server→client frame.
type Event struct {
	Type      string    `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Client is one connected consumer. Events arrives on its channel until the
// hub closes it (unsubscribe or overflow).
type Client struct {
	UserID string
	Events chan Event

	hub    *Hub
	closed bool // guarded by hub.mu
}

// Hub is the client registry keyed by participant id.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
	logger  *slog.Logger
	now     func() time.Time
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		logger:  logger,
		now:     time.Now,
	}
}

// Subscribe registers a consumer for the participant id.
func (h *Hub) Subscribe(userID string) *Client {
	c := &Client{UserID: userID, Events: make(chan Event, queueSize), hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[userID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[userID] = set
	}
	set[c] = struct{}{}
	return c
}

// Unsubscribe removes the consumer and closes its channel.
func (h *Hub) Unsubscribe(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(c)
}

func (h *Hub) dropLocked(c *Client) {
	if c.closed {
		return
	}
	c.closed = true
	close(c.Events)
	if set, ok := h.clients[c.UserID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, c.UserID)
		}
	}
}

// Publish delivers an event to every consumer of the listed participants.
// A consumer whose queue is full is dropped.
func (h *Hub) Publish(participants []string, eventType string, data any) {
	event := Event{Type: eventType, Data: data, Timestamp: h.now().UTC()}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, id := range participants {
		for c := range h.clients[id] {
			select {
			case c.Events <- event:
			default:
				h.logger.Warn("client queue overflow, disconnecting", "user_id", id)
				h.dropLocked(c)
			}
		}
	}
}

// Message publishes a completed-message event.
func (h *Hub) Message(participants []string, msg any) {
	h.Publish(participants, EventMessage, msg)
}

// DialogueUpdate publishes a dialogue lifecycle change.
func (h *Hub) DialogueUpdate(participants []string, dialogue any) {
	h.Publish(participants, EventDialogueUpdate, dialogue)
}

// StreamChunk publishes a partial content fragment.
func (h *Hub) StreamChunk(participants []string, chunk any) {
	h.Publish(participants, EventStreamChunk, chunk)
}

// ConnectedCount reports the number of connected consumers, for health
// reporting.
func (h *Hub) ConnectedCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}
