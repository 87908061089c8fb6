package interfaces

import "codementor/pkg/types"

// Participant is one live client as seen by the session coordinator.
// Implementations own an identity that is never reused and track the room
// the participant currently belongs to.
type Participant interface {
	// ID returns the opaque connection identity assigned at connect time.
	ID() string

	// RoomID returns the current room, or "" when not in a room.
	RoomID() string

	// Role returns the role assigned in the current room, or "" when not in a room.
	Role() types.Role

	// SetMembership records the room and role assigned by the registry.
	SetMembership(roomID string, role types.Role)

	// ClearMembership resets the room and role after leaving.
	ClearMembership()
}

// Notifier delivers events to connections by identity.
// Notify is called while room state is locked, so implementations must not
// block; a connection that cannot keep up may be dropped.
type Notifier interface {
	Notify(connID string, event types.Event)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(connID string, event types.Event)

func (f NotifierFunc) Notify(connID string, event types.Event) { f(connID, event) }

// Client is a participant the server can push events to.
type Client interface {
	Participant

	// Send queues event for delivery without blocking.
	Send(event types.Event) error
}
