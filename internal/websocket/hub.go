package websocket

import (
	"log/slog"
	"sync"

	"github.com/openscribe/scribe-service/internal/types"
)

// Hub tracks the active connection per user and pushes events to them.
// One connection per user: a new connection replaces the old one.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
	}
}

// Register attaches a client, replacing any existing connection for the
// same user.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	if existing, ok := h.clients[client.userID]; ok {
		close(existing.send)
		slog.Info("Replaced existing WebSocket connection", slog.String("user_id", client.userID))
	}
	h.clients[client.userID] = client
	h.mu.Unlock()

	slog.Info("WebSocket client connected", slog.String("user_id", client.userID))
}

// Unregister detaches a client if it is still the active one for its user.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	if current, ok := h.clients[client.userID]; ok && current == client {
		delete(h.clients, client.userID)
		close(client.send)
		slog.Info("WebSocket client disconnected", slog.String("user_id", client.userID))
	}
	h.mu.Unlock()
}

// SendToUser delivers an event to a user's connection, if any. Events for
// offline users are dropped; the REST API remains the source of truth.
func (h *Hub) SendToUser(userID string, event *types.Event) {
	h.mu.RLock()
	client, ok := h.clients[userID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	if err := client.SendEvent(event); err != nil {
		slog.Error("Failed to send event to client",
			slog.String("user_id", userID),
			slog.String("error", err.Error()))
		h.Unregister(client)
	}
}

// IsUserConnected checks if a user is currently connected
func (h *Hub) IsUserConnected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	_, exists := h.clients[userID]
	return exists
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}
