package websocket

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/quiz-arena/internal/domain"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period
	pingPeriod = (pongWait * 9) / 10

	// Time allowed for a final message to flush before a forced close
	drainWait = 250 * time.Millisecond

	// Maximum message size allowed from peer
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins for development
		return true
	},
}

// Client represents a WebSocket client connection
type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *slog.Logger

	closeOnce sync.Once
}

// NewClient creates a new WebSocket client
func NewClient(hub *Hub, conn *websocket.Conn, logger *slog.Logger) *Client {
	return &Client{
		id:     uuid.New().String(),
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, 256),
		logger: logger,
	}
}

// ID returns the connection id the hub addresses this client by.
func (c *Client) ID() string {
	return c.id
}

// closeAfterDrain gives queued outbound frames a moment to flush, then
// forces the connection closed. The read pump then unwinds normally.
func (c *Client) closeAfterDrain() {
	c.closeOnce.Do(func() {
		time.AfterFunc(drainWait, func() {
			c.conn.Close()
		})
	})
}

// readPump pumps messages from the WebSocket connection to the handler
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
		if c.hub.handler != nil {
			c.hub.handler.HandleDisconnect(c.id, "connection closed")
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if c.hub.handler != nil {
			c.hub.handler.HandleActivity(c.id)
		}
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("websocket error", "conn_id", c.id, "error", err)
			}
			break
		}

		var env domain.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			c.logger.Warn("invalid message format", "conn_id", c.id, "error", err)
			c.sendError("invalid message format")
			continue
		}

		// Application-level keepalive, answered without involving the
		// game layer.
		if env.Type == "ping" {
			if c.hub.handler != nil {
				c.hub.handler.HandleActivity(c.id)
			}
			c.sendPong()
			continue
		}

		if c.hub.handler != nil {
			c.hub.handler.Dispatch(c.id, &env)
		}
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Add queued messages to the current WebSocket message
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendError sends an error message to the client
func (c *Client) sendError(errMsg string) {
	frame, err := encodeEnvelope(domain.MsgError, map[string]string{"message": errMsg})
	if err != nil {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

// sendPong sends a pong response
func (c *Client) sendPong() {
	frame, err := encodeEnvelope("pong", nil)
	if err != nil {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

// ServeWs handles WebSocket requests from peers
func ServeWs(hub *Hub, logger *slog.Logger, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(hub, conn, logger)
	hub.Register(client)

	// Start client goroutines
	go client.writePump()
	go client.readPump()

	logger.Debug("new websocket connection", "conn_id", client.id)
}
