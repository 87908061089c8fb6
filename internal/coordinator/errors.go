package coordinator

import "errors"

var (
	ErrUnknownExercise = errors.New("unknown exercise")
	ErrInvalidRoomID   = errors.New("invalid room id")
	ErrNotInRoom       = errors.New("connection is not in a room")
)
