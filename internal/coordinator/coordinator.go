// Package coordinator binds connection lifecycle and client intents to the
// room registry, the code sync channel and the submission verifier.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"codementor/internal/codesync"
	"codementor/internal/metrics"
	"codementor/internal/room"
	"codementor/internal/verifier"
	"codementor/pkg/interfaces"
	"codementor/pkg/types"
)

// Coordinator is the single entry point the transport calls into. It is safe
// for concurrent use; per-room serialization happens inside the registry.
type Coordinator struct {
	exercises interfaces.ExerciseStore
	rooms     *room.Registry
	edits     *codesync.Channel
	verifier  *verifier.Verifier
	logger    *zap.Logger

	// participants tracks every connection that has joined a room, so a
	// teardown can clear the membership of the students it evicts.
	mu           sync.Mutex
	participants map[string]interfaces.Participant
}

// New creates a coordinator. Edits are debounced by quiet; zero applies them
// as they arrive.
func New(exercises interfaces.ExerciseStore, rooms *room.Registry, quiet time.Duration, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	ch := codesync.NewChannel(rooms, quiet, logger.Named("codesync"))
	ch.OnApplied = func(string, string) { metrics.EditApplied() }
	ch.OnDropped = func(string, string, error) { metrics.EditDropped() }

	return &Coordinator{
		exercises:    exercises,
		rooms:        rooms,
		edits:        ch,
		verifier:     verifier.New(rooms, logger.Named("verifier")),
		logger:       logger,
		participants: make(map[string]interfaces.Participant),
	}
}

// Rooms returns the registry the coordinator manages.
func (c *Coordinator) Rooms() *room.Registry {
	return c.rooms
}

// Join resolves the exercise for roomID and adds p to its room. A
// participant already in another room leaves it first.
func (c *Coordinator) Join(ctx context.Context, p interfaces.Participant, roomID string) (room.JoinResult, error) {
	if !types.IsValidRoomID(roomID) {
		return room.JoinResult{}, ErrInvalidRoomID
	}
	if c.isMember(roomID, p.ID()) {
		return room.JoinResult{}, room.ErrAlreadyMember
	}

	exercise, err := c.exercises.Get(ctx, roomID)
	if err != nil {
		if errors.Is(err, interfaces.ErrExerciseNotFound) {
			return room.JoinResult{}, fmt.Errorf("%w: %s", ErrUnknownExercise, roomID)
		}
		return room.JoinResult{}, fmt.Errorf("resolve exercise %q: %w", roomID, err)
	}

	if current := p.RoomID(); current != "" {
		c.leave(p, current)
	}

	res, err := c.rooms.Join(roomID, exercise, p.ID())
	if err != nil {
		return room.JoinResult{}, err
	}
	p.SetMembership(roomID, res.Role)
	c.track(p)

	metrics.RoomJoined(string(res.Role))
	metrics.SetRoomsActive(c.rooms.Count())
	return res, nil
}

// Edit routes a full-text edit from p to the code sync channel. Only a
// student of the room may edit.
func (c *Coordinator) Edit(p interfaces.Participant, roomID, text string) error {
	if err := c.authorize(roomID, p.ID()); err != nil {
		metrics.EditDropped()
		return err
	}
	return c.edits.Edit(roomID, p.ID(), text)
}

// Submit verifies text as p's solution and announces the verdict to the
// room. A pending debounced edit from p is applied first so the mentor sees
// the submitted code before the result.
func (c *Coordinator) Submit(p interfaces.Participant, roomID, text string) (bool, error) {
	if err := c.authorize(roomID, p.ID()); err != nil {
		return false, err
	}
	c.edits.Flush(p.ID())

	correct, err := c.verifier.Submit(roomID, p.ID(), text)
	if err != nil {
		return false, err
	}
	metrics.Submission(correct)
	return correct, nil
}

// Leave removes p from roomID.
func (c *Coordinator) Leave(p interfaces.Participant, roomID string) error {
	if roomID == "" {
		roomID = p.RoomID()
	}
	if roomID == "" {
		return ErrNotInRoom
	}
	if !c.isMember(roomID, p.ID()) {
		if p.RoomID() == roomID {
			p.ClearMembership()
		}
		return room.ErrNotMember
	}
	c.leave(p, roomID)
	return nil
}

// Disconnect drops p's pending edit and removes it from its room. It is
// safe to call for a participant that never joined.
func (c *Coordinator) Disconnect(p interfaces.Participant) {
	c.edits.Cancel(p.ID())
	if roomID := p.RoomID(); roomID != "" {
		c.leave(p, roomID)
	}
	c.mu.Lock()
	delete(c.participants, p.ID())
	c.mu.Unlock()
}

func (c *Coordinator) leave(p interfaces.Participant, roomID string) {
	c.edits.Cancel(p.ID())
	p.ClearMembership()

	res, err := c.rooms.Leave(roomID, p.ID())
	if err != nil {
		// The room already ended under us, typically because its mentor left.
		if !errors.Is(err, room.ErrRoomNotFound) && !errors.Is(err, room.ErrNotMember) {
			c.logger.Warn("leave failed",
				zap.String("room_id", roomID),
				zap.String("conn_id", p.ID()),
				zap.Error(err))
		}
		return
	}

	switch {
	case res.Ended:
		c.evict(roomID, res.Evicted)
		metrics.RoomTornDown(metrics.ReasonMentorLeft)
	case res.Closed:
		metrics.RoomTornDown(metrics.ReasonEmpty)
	}
	metrics.SetRoomsActive(c.rooms.Count())
}

func (c *Coordinator) track(p interfaces.Participant) {
	c.mu.Lock()
	c.participants[p.ID()] = p
	c.mu.Unlock()
}

// evict clears the membership of students removed by a teardown of roomID.
// A student who already moved on, including into a fresh room with the same
// id, is left alone.
func (c *Coordinator) evict(roomID string, connIDs []string) {
	for _, id := range connIDs {
		c.edits.Cancel(id)

		c.mu.Lock()
		p, ok := c.participants[id]
		c.mu.Unlock()
		if !ok || p.RoomID() != roomID || c.isMember(roomID, id) {
			continue
		}
		p.ClearMembership()
	}
}

func (c *Coordinator) authorize(roomID, connID string) error {
	rm, ok := c.rooms.Get(roomID)
	if !ok {
		return room.ErrNotMember
	}
	return rm.Authorize(connID)
}

func (c *Coordinator) isMember(roomID, connID string) bool {
	rm, ok := c.rooms.Get(roomID)
	if !ok {
		return false
	}
	_, member := rm.RoleOf(connID)
	return member
}
