// Package client is a Go client for the codementor WebSocket protocol.
//
//	c, err := client.Dial(ctx, "http://localhost:8080", "", client.WithLifetime(appCtx))
//	if err != nil { ... }
//	defer c.Close()
//	_ = c.Join("async-function")
//	ev, err := c.Next(ctx, types.EventRoleAssigned)
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"codementor/pkg/types"
)

// ErrClosed is returned by operations on a closed client.
var ErrClosed = errors.New("client closed")

const (
	eventBuffer = 256
	writeWait   = 10 * time.Second
)

// Event is a server event with its payload left encoded.
type Event struct {
	Type   string          `json:"type"`
	RoomID string          `json:"room_id,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v interface{}) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("event %q has no payload", e.Type)
	}
	return json.Unmarshal(e.Data, v)
}

// Client is one connection to the server. It is safe for concurrent use.
type Client struct {
	id     string
	conn   *websocket.Conn
	events chan Event
	done   chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

// Option configures Dial.
type Option func(*dialOptions)

type dialOptions struct {
	lifetime context.Context
}

// WithLifetime closes the connection when ctx is done. Without it the
// connection lives until Close or until the server goes away.
func WithLifetime(ctx context.Context) Option {
	return func(o *dialOptions) { o.lifetime = ctx }
}

// Dial connects to serverURL (http, https, ws or wss) and waits for the
// welcome event. A non-empty roomID joins that room on connect. ctx bounds
// the handshake only; cancelling it after Dial returns has no effect on the
// connection.
func Dial(ctx context.Context, serverURL, roomID string, opts ...Option) (*Client, error) {
	var o dialOptions
	for _, opt := range opts {
		opt(&o)
	}

	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws"
	if roomID != "" {
		q := u.Query()
		q.Set("room", roomID)
		u.RawQuery = q.Encode()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	c := &Client{
		conn:   conn,
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
	}

	var welcome Event
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	if err := conn.ReadJSON(&welcome); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to read welcome: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})
	var payload types.Welcome
	if welcome.Type != types.EventWelcome || welcome.Decode(&payload) != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("expected welcome, got %q", welcome.Type)
	}
	c.id = payload.ConnectionID

	go c.readLoop()
	if o.lifetime != nil {
		go func() {
			select {
			case <-o.lifetime.Done():
				c.closeWith(o.lifetime.Err())
			case <-c.done:
			}
		}()
	}
	return c, nil
}

// ID returns the connection id the server assigned.
func (c *Client) ID() string {
	return c.id
}

// Events delivers server events in arrival order. It is closed when the
// connection ends.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err reports why the connection ended, or nil while it is open or after
// a clean Close.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Next returns the next event of the given type, discarding others.
func (c *Client) Next(ctx context.Context, eventType string) (Event, error) {
	for {
		select {
		case ev, ok := <-c.events:
			if !ok {
				if err := c.Err(); err != nil {
					return Event{}, err
				}
				return Event{}, ErrClosed
			}
			if ev.Type == eventType {
				return ev, nil
			}
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

func (c *Client) Join(roomID string) error {
	return c.send(types.Frame{Type: types.FrameJoin, RoomID: roomID})
}

func (c *Client) Edit(roomID, text string) error {
	return c.send(types.Frame{Type: types.FrameEdit, RoomID: roomID, Text: text})
}

func (c *Client) Submit(roomID, text string) error {
	return c.send(types.Frame{Type: types.FrameSubmit, RoomID: roomID, Text: text})
}

// Leave leaves roomID, or the current room when roomID is empty.
func (c *Client) Leave(roomID string) error {
	return c.send(types.Frame{Type: types.FrameLeave, RoomID: roomID})
}

func (c *Client) Ping() error {
	return c.send(types.Frame{Type: types.FramePing})
}

// Close sends a close frame and tears the connection down.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	c.closeWith(nil)
	return nil
}

func (c *Client) send(frame types.Frame) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("failed to send %s: %w", frame.Type, err)
	}
	return nil
}

func (c *Client) readLoop() {
	defer close(c.events)
	for {
		var ev Event
		if err := c.conn.ReadJSON(&ev); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = nil
			}
			c.closeWith(err)
			return
		}
		select {
		case c.events <- ev:
		case <-c.done:
			return
		}
	}
}

func (c *Client) closeWith(err error) {
	c.closeOnce.Do(func() {
		c.errMu.Lock()
		c.err = err
		c.errMu.Unlock()
		close(c.done)
		_ = c.conn.Close()
	})
}
