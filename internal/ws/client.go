package ws

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/poll-broadcaster/backend/internal/hub"
)

// Client is one operator websocket connection. It implements hub.Sink so it
// can be attached to the event hub.
type Client struct {
	conn *websocket.Conn
	log  zerolog.Logger
	send chan []byte

	mu     sync.Mutex
	closed bool
}

// NewClient wraps an upgraded websocket connection.
func NewClient(conn *websocket.Conn, log zerolog.Logger) *Client {
	return &Client{
		conn: conn,
		log:  log,
		send: make(chan []byte, 256),
	}
}

// Send queues a frame for delivery. Non-blocking: a client whose buffer is
// full is considered dead and closed, so publishers never stall.
func (c *Client) Send(frame hub.Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		c.log.Warn().Err(err).Str("frame", frame.Type).Msg("failed to marshal frame")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	select {
	case c.send <- data:
	default:
		// Buffer full, close the client
		c.closeLocked()
	}
}

// Close closes the outbound queue. Idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// IsClosed returns true if the client is closed.
func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Conn returns the underlying WebSocket connection.
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

// SendChan returns the outbound queue for the write pump.
func (c *Client) SendChan() <-chan []byte {
	return c.send
}
