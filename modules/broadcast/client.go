package broadcast

import (
	"sync"

	"github.com/gofiber/contrib/websocket"
)

// DefaultSendBuffer is the outbound queue size used when none is configured.
const DefaultSendBuffer = 256

// Conn is the write side of a transport connection.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client is one live transport session. Frames queued with Enqueue are
// written by a single goroutine (WritePump) in queue order.
type Client struct {
	ID       string
	Identity string

	conn      Conn
	send      chan []byte
	done      chan struct{}
	pumpDone  chan struct{}
	closeOnce sync.Once

	// rooms is guarded by the owning Hub's mutex.
	rooms map[string]bool
}

// NewClient creates a client for conn. bufferSize bounds the number of frames
// waiting to be written.
func NewClient(id, identity string, conn Conn, bufferSize int) *Client {
	if bufferSize <= 0 {
		bufferSize = DefaultSendBuffer
	}
	return &Client{
		ID:       id,
		Identity: identity,
		conn:     conn,
		send:     make(chan []byte, bufferSize),
		done:     make(chan struct{}),
		pumpDone: make(chan struct{}),
		rooms:    make(map[string]bool),
	}
}

// Enqueue queues a frame without blocking. It returns false when the client
// is closed or its queue is full.
func (c *Client) Enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// WritePump writes queued frames until the client is closed or a write fails.
// It must run in exactly one goroutine per client.
func (c *Client) WritePump() {
	defer close(c.pumpDone)
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.Close()
				return
			}
		}
	}
}

// Close stops the write pump and closes the connection. It is safe to call
// more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// Done is closed once the client has been closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until WritePump has returned.
func (c *Client) Wait() {
	<-c.pumpDone
}
