// Package dashboard serves the operator read API and pushes live loop
// updates over websockets.
package dashboard

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Hub fans loop updates out to connected websocket clients. Slow clients
// are dropped rather than allowed to stall the broadcast path.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	closeOnce sync.Once
	logger    *slog.Logger
}

// NewHub returns a hub ready for Run.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run owns the client set until Stop is called. Intended to run on its own
// goroutine.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			return
		case client := <-h.register:
			h.clients[client] = true
			h.logger.Debug("dashboard client connected", "clients", len(h.clients))
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.logger.Debug("dashboard client disconnected", "clients", len(h.clients))
			}
		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					delete(h.clients, client)
					close(client.send)
					h.logger.Debug("dashboard client dropped, send buffer full")
				}
			}
		}
	}
}

// Stop shuts the hub down and disconnects all clients.
func (h *Hub) Stop() {
	h.closeOnce.Do(func() { close(h.done) })
}

// Broadcast sends a typed payload to every connected client.
func (h *Hub) Broadcast(kind string, payload any) {
	message, err := json.Marshal(map[string]any{"type": kind, "payload": payload})
	if err != nil {
		h.logger.Error("marshal broadcast", "type", kind, "error", err)
		return
	}
	select {
	case h.broadcast <- message:
	case <-h.done:
	}
}
