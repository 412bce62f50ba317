package hub

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/teslashibe/go-voicekit/pkg/agent"
)

// Hub maintains the set of live-transcript viewers and fans conversation
// events out to them. Slow clients are dropped rather than allowed to stall
// the conversation.
type Hub struct {
	name   string
	logger *slog.Logger

	clients    map[*Client]bool
	broadcast  chan Message
	register   chan *Client
	unregister chan *Client

	mu      sync.RWMutex
	running bool
}

// New creates a Hub.
func New(name string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		name:       name,
		logger:     logger.With("component", "hub."+name),
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run starts the hub's main loop. Call it in a goroutine.
func (h *Hub) Run() {
	h.mu.Lock()
	h.running = true
	h.mu.Unlock()

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected", "total", count)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected", "remaining", count)

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Buffer full, the client is too slow.
					close(client.send)
					delete(h.clients, client)
					h.logger.Warn("dropped slow client")
				}
			}
			h.mu.Unlock()
		}
	}
}

// Event is the envelope every JSON broadcast uses.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Broadcast sends a message to all connected clients. When the broadcast
// queue is full the message is dropped; viewers are observers, never
// backpressure.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("broadcast queue full, message dropped")
	}
}

// BroadcastEvent encodes and broadcasts a typed JSON event.
func (h *Hub) BroadcastEvent(eventType string, payload any) error {
	data, err := json.Marshal(Event{Type: eventType, Payload: payload})
	if err != nil {
		return err
	}
	h.Broadcast(NewJSONMessage(data))
	return nil
}

// BroadcastTranscript fans one transcript item out to viewers.
func (h *Hub) BroadcastTranscript(item agent.TranscriptItem) {
	_ = h.BroadcastEvent("transcript", item)
}

// BroadcastConnection fans a connection status transition out to viewers.
func (h *Hub) BroadcastConnection(provider agent.Provider, status agent.ConnectionStatus) {
	_ = h.BroadcastEvent("connection", map[string]string{
		"provider": string(provider),
		"status":   status.String(),
	})
}

// BroadcastSession fans a turn-taking transition out to viewers.
func (h *Hub) BroadcastSession(provider agent.Provider, status agent.SessionStatus) {
	_ = h.BroadcastEvent("session", map[string]string{
		"provider": string(provider),
		"status":   status.String(),
	})
}

// BroadcastAudio broadcasts a raw PCM16 frame to viewers that mirror the
// agent's voice.
func (h *Hub) BroadcastAudio(pcm16 []byte) {
	h.Broadcast(NewBinaryMessage(pcm16))
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// IsRunning returns whether the hub loop has started.
func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}
