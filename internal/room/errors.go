package room

import "errors"

var (
	ErrRoomNotFound  = errors.New("room not found")
	ErrNotMember     = errors.New("connection is not a member of this room")
	ErrNotStudent    = errors.New("only students may perform this action")
	ErrAlreadyMember = errors.New("connection is already a member of this room")
	ErrNilExercise   = errors.New("room requires a resolved exercise")

	// errRoomClosed is returned by a room that was torn down after the
	// registry handed it out. The registry retries against a fresh room.
	errRoomClosed = errors.New("room is closed")
)
