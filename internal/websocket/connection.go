package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"codementor/pkg/types"
)

// Connection defaults.
const (
	DefaultSendBuffer   = 100
	DefaultWriteWait    = 5 * time.Second
	DefaultPingInterval = 30 * time.Second
	DefaultPongWait     = 60 * time.Second
)

// ConnectionOptions tunes the write side of a connection.
type ConnectionOptions struct {
	SendBuffer   int
	WriteWait    time.Duration
	PingInterval time.Duration
}

func (o ConnectionOptions) withDefaults() ConnectionOptions {
	if o.SendBuffer <= 0 {
		o.SendBuffer = DefaultSendBuffer
	}
	if o.WriteWait <= 0 {
		o.WriteWait = DefaultWriteWait
	}
	return o
}

// Connection wraps one client socket. All writes go through a single writer
// goroutine; Send only enqueues and never blocks, so it is safe to call while
// room state is locked. A client that lets its buffer fill up is dropped.
type Connection struct {
	id      string
	conn    *websocket.Conn
	writeCh chan []byte
	opts    ConnectionOptions

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	mu     sync.RWMutex
	roomID string
	role   types.Role
}

// NewConnection wraps conn with a fresh identity and starts its writer.
func NewConnection(conn *websocket.Conn, opts ConnectionOptions) *Connection {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:      uuid.NewString(),
		conn:    conn,
		writeCh: make(chan []byte, opts.SendBuffer),
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
	}

	go c.writeLoop()

	return c
}

func (c *Connection) writeLoop() {
	var ping <-chan time.Time
	if c.opts.PingInterval > 0 {
		ticker := time.NewTicker(c.opts.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
				_ = c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				_ = c.Close()
				return
			}

		case <-ping:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteWait)); err != nil {
				_ = c.Close()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// ID returns the connection identity. It is never reused.
func (c *Connection) ID() string {
	return c.id
}

// Context is cancelled when the connection closes.
func (c *Connection) Context() context.Context {
	return c.ctx
}

// Send queues event for the writer goroutine.
func (c *Connection) Send(event types.Event) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		_ = c.Close()
		return ErrSendBufferFull
	}
}

// Close stops the writer and closes the socket. Safe to call repeatedly.
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

// RoomID returns the room the connection is in, or "".
func (c *Connection) RoomID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roomID
}

// Role returns the role held in the current room, or "".
func (c *Connection) Role() types.Role {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.role
}

// SetMembership records the room and role assigned on join.
func (c *Connection) SetMembership(roomID string, role types.Role) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roomID = roomID
	c.role = role
}

// ClearMembership forgets the current room.
func (c *Connection) ClearMembership() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roomID = ""
	c.role = ""
}
