package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/quiz-arena/internal/domain"
)

// EventHandler consumes transport events. The game coordinator
// implements it; the hub stays ignorant of game semantics.
type EventHandler interface {
	Dispatch(connID string, env *domain.Envelope)
	HandleDisconnect(connID, reason string)
	HandleActivity(connID string)
}

// Hub maintains the set of active client connections and addresses
// outbound messages by connection id. It implements the game Sender.
type Hub struct {
	// Connected clients by connection ID
	clients map[string]*Client

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Mutex for thread-safe lookups
	mu sync.RWMutex

	handler EventHandler

	// Logger
	logger *slog.Logger

	// Context for shutdown
	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// SetHandler installs the event handler. Must be called before Run.
func (h *Hub) SetHandler(handler EventHandler) {
	h.handler = handler
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.logger.Info("WebSocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("WebSocket hub stopping")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			h.mu.Unlock()
			h.logger.Debug("client registered", "conn_id", client.id)

		case client := <-h.unregister:
			h.mu.Lock()
			if cur, ok := h.clients[client.id]; ok && cur == client {
				delete(h.clients, client.id)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debug("client unregistered", "conn_id", client.id)
		}
	}
}

// Stop stops the hub
func (h *Hub) Stop() {
	h.cancel()
}

// Send addresses one message to one connection. Unknown connection ids
// and full client buffers drop the message; game state is authoritative
// on the server, a missed frame is recoverable via get_lobby_state.
func (h *Hub) Send(connID, msgType string, data any) {
	h.mu.RLock()
	client, ok := h.clients[connID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	frame, err := encodeEnvelope(msgType, data)
	if err != nil {
		h.logger.Error("failed to marshal message",
			"type", msgType, "error", err)
		return
	}

	select {
	case client.send <- frame:
	default:
		h.logger.Warn("client buffer full, dropping message",
			"conn_id", connID, "type", msgType)
	}
}

// Disconnect delivers one final message to the connection, then severs
// it. The notify-then-sever order lets a replaced client show the user
// why it went away.
func (h *Hub) Disconnect(connID, msgType string, data any) {
	h.mu.RLock()
	client, ok := h.clients[connID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	if frame, err := encodeEnvelope(msgType, data); err == nil {
		select {
		case client.send <- frame:
		default:
		}
	}

	client.closeAfterDrain()
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// GetTotalConnections returns the total number of connected clients
func (h *Hub) GetTotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func encodeEnvelope(msgType string, data any) ([]byte, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return json.Marshal(&domain.Envelope{
		Type:      msgType,
		Data:      raw,
		Timestamp: time.Now(),
	})
}
