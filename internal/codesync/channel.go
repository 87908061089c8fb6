// Package codesync relays code edits between the members of a room.
//
// Edits are debounced per sender: a burst of edits from one connection is
// collapsed into the last text of the burst, which is applied once the
// sender has been quiet for the configured period. The room text is
// replaced wholesale (last write wins) and fanned out to everyone but the
// sender.
package codesync

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultQuietPeriod is the debounce interval used when none is configured.
const DefaultQuietPeriod = 300 * time.Millisecond

// Applier applies a full-text edit to a room.
type Applier interface {
	ApplyEdit(roomID, connID, text string) error
}

// Channel debounces edits per sender before handing them to an Applier.
type Channel struct {
	applier Applier
	quiet   time.Duration
	logger  *zap.Logger

	// OnApplied and OnDropped, when set, observe the outcome of every
	// edit that reached the Applier.
	OnApplied func(roomID, connID string)
	OnDropped func(roomID, connID string, err error)

	mu      sync.Mutex
	senders map[string]*sender
}

// sender holds the pending edit of one connection. Its mutex also
// serializes applies so a sender's edits reach the room in send order.
type sender struct {
	mu        sync.Mutex
	timer     *time.Timer
	roomID    string
	text      string
	gen       uint64
	pending   bool
	cancelled bool
}

// NewChannel creates a channel with the given quiet period. A zero quiet
// period applies every edit immediately.
func NewChannel(applier Applier, quiet time.Duration, logger *zap.Logger) *Channel {
	if quiet < 0 {
		quiet = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Channel{
		applier: applier,
		quiet:   quiet,
		logger:  logger,
		senders: make(map[string]*sender),
	}
}

// QuietPeriod returns the debounce interval.
func (c *Channel) QuietPeriod() time.Duration {
	return c.quiet
}

// Edit queues text as the latest edit from connID to roomID. With a zero
// quiet period the edit is applied before Edit returns and the applier's
// error is returned; otherwise errors are reported through OnDropped.
func (c *Channel) Edit(roomID, connID, text string) error {
	if c.quiet == 0 {
		s := c.sender(connID)
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.cancelled {
			return ErrCancelled
		}
		return c.apply(roomID, connID, text)
	}

	s := c.sender(connID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		return ErrCancelled
	}
	if s.pending && s.roomID != roomID {
		// The sender switched rooms mid-burst; the old room keeps its last
		// applied text.
		c.logger.Debug("discarding pending edit for previous room",
			zap.String("room_id", s.roomID), zap.String("conn_id", connID))
	}
	s.gen++
	gen := s.gen
	s.roomID = roomID
	s.text = text
	s.pending = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(c.quiet, func() { c.fire(connID, s, gen) })
	return nil
}

// Flush applies the sender's pending edit now, if there is one.
func (c *Channel) Flush(connID string) {
	c.mu.Lock()
	s, ok := c.senders[connID]
	c.mu.Unlock()
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled || !s.pending {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.pending = false
	_ = c.apply(s.roomID, connID, s.text)
}

// Pending reports whether connID has an edit waiting for its quiet period.
func (c *Channel) Pending(connID string) bool {
	c.mu.Lock()
	s, ok := c.senders[connID]
	c.mu.Unlock()
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Cancel discards connID's pending edit without applying it and forgets the
// sender. It is called when the connection goes away.
func (c *Channel) Cancel(connID string) {
	c.mu.Lock()
	s, ok := c.senders[connID]
	delete(c.senders, connID)
	c.mu.Unlock()
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = true
	s.pending = false
	if s.timer != nil {
		s.timer.Stop()
	}
}

func (c *Channel) sender(connID string) *sender {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.senders[connID]
	if !ok {
		s = &sender{}
		c.senders[connID] = s
	}
	return s
}

func (c *Channel) fire(connID string, s *sender, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled || !s.pending || s.gen != gen {
		return
	}
	s.pending = false
	_ = c.apply(s.roomID, connID, s.text)
}

func (c *Channel) apply(roomID, connID, text string) error {
	err := c.applier.ApplyEdit(roomID, connID, text)
	if err != nil {
		c.logger.Debug("edit dropped",
			zap.String("room_id", roomID),
			zap.String("conn_id", connID),
			zap.Error(err))
		if c.OnDropped != nil {
			c.OnDropped(roomID, connID, err)
		}
		return err
	}
	if c.OnApplied != nil {
		c.OnApplied(roomID, connID)
	}
	return nil
}
