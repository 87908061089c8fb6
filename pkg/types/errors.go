package types

import "errors"

var (
	ErrInvalidFrameType = errors.New("invalid frame type")
	ErrInvalidRoomID    = errors.New("room ID must be 1-64 characters, alphanumeric + underscore/hyphen only")
	ErrMissingRoomID    = errors.New("frame requires a room ID")
	ErrTextTooLarge     = errors.New("code text exceeds 64KB limit")
	ErrInvalidExercise  = errors.New("exercise requires an ID and a title")
)
