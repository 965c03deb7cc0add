package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Connection wraps a websocket connection behind a single writer goroutine.
// All outbound frames funnel through writeCh; concurrent WriteJSON callers
// never touch the underlying connection directly.
type Connection struct {
	conn          *websocket.Conn
	writeCh       chan []byte
	userID        string
	displayName   string
	role          string
	sessionID     string
	authenticated bool
	ctx           context.Context
	cancel        context.CancelFunc
	closeOnce     sync.Once
	mu            sync.RWMutex
}

// NewConnection wraps an upgraded websocket connection and starts its writer.
func NewConnection(conn *websocket.Conn) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:    conn,
		writeCh: make(chan []byte, 100),
		ctx:     ctx,
		cancel:  cancel,
	}

	go c.writeLoop()

	return c
}

// writeLoop drains writeCh until the connection dies. The channel is never
// closed: cancelling ctx is the shutdown signal, so a concurrent WriteJSON
// observes ErrConnectionClosed instead of sending on a closed channel.
func (c *Connection) writeLoop() {
	defer c.cancel()

	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// WriteJSON marshals v and queues it for the writer goroutine. Returns
// ErrWriteTimeout when the outbound buffer stays full for 5 seconds, which
// usually means the client stopped draining.
func (c *Connection) WriteJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(5 * time.Second):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Close shuts down the writer goroutine and the underlying connection.
// Safe to call more than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()

		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// SetCredentials records the participant identity after parameter validation.
func (c *Connection) SetCredentials(userID, displayName, role, sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.userID = userID
	c.displayName = displayName
	c.role = role
	c.sessionID = sessionID
	c.authenticated = true
}

func (c *Connection) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authenticated
}

func (c *Connection) GetUserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *Connection) GetDisplayName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.displayName
}

func (c *Connection) GetRole() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.role
}

func (c *Connection) GetSessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}
