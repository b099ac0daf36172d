package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Message is a live event pushed to the open clients of a couple.
type Message struct {
	Type   string         `json:"type"`
	Entity string         `json:"entity"`
	Action string         `json:"action"`
	ID     int64          `json:"id,omitempty"`
	Extra  map[string]any `json:"extra,omitempty"`
}

// NewMessage creates a Message with the Type field derived from entity and action.
func NewMessage(entity, action string, id int64, extra map[string]any) Message {
	return Message{
		Type:   fmt.Sprintf("%s_%s", entity, action),
		Entity: entity,
		Action: action,
		ID:     id,
		Extra:  extra,
	}
}

// Hub tracks connected clients per couple. A message broadcast to one couple
// never reaches the clients of another.
type Hub struct {
	mu      sync.RWMutex
	couples map[int64]map[*Client]struct{}
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		couples: make(map[int64]map[*Client]struct{}),
		logger:  logger.With("component", "websocket"),
	}
}

// Register adds a client under its couple.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	set, ok := h.couples[c.coupleID]
	if !ok {
		set = make(map[*Client]struct{})
		h.couples[c.coupleID] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if set, ok := h.couples[c.coupleID]; ok {
		if _, ok := set[c]; ok {
			delete(set, c)
			close(c.send)
		}
		if len(set) == 0 {
			delete(h.couples, c.coupleID)
		}
	}
	h.mu.Unlock()
}

// Broadcast sends msg to every client connected for coupleID.
func (h *Hub) Broadcast(coupleID int64, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.couples[coupleID] {
		select {
		case c.send <- data:
		default:
			// Slow client: drop rather than block the broadcaster.
			h.logger.Warn("client buffer full, dropping message", "couple_id", coupleID, "type", msg.Type)
		}
	}
}

// ClientCount returns the number of connected clients across all couples.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.couples {
		n += len(set)
	}
	return n
}
