package types

import (
	"regexp"
)

// MaxTextBytes bounds the size of a single code document.
const MaxTextBytes = 64 * 1024

var roomIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Validate checks the frame shape. Role and membership checks happen later,
// against live room state.
func (f *Frame) Validate() error {
	switch f.Type {
	case FramePing:
		return nil
	case FrameJoin:
		return validateRoomRef(f.RoomID)
	case FrameLeave:
		// An empty room leaves the current one.
		if f.RoomID == "" {
			return nil
		}
		return validateRoomRef(f.RoomID)
	case FrameEdit, FrameSubmit:
		if err := validateRoomRef(f.RoomID); err != nil {
			return err
		}
		if len(f.Text) > MaxTextBytes {
			return ErrTextTooLarge
		}
		return nil
	default:
		return ErrInvalidFrameType
	}
}

// Validate ensures an exercise can be stored and used as a room key.
func (e *Exercise) Validate() error {
	if e.Title == "" || !IsValidRoomID(e.ID) {
		return ErrInvalidExercise
	}
	if len(e.Hint) > MaxTextBytes || len(e.Solution) > MaxTextBytes {
		return ErrTextTooLarge
	}
	return nil
}

func validateRoomRef(roomID string) error {
	if roomID == "" {
		return ErrMissingRoomID
	}
	if !IsValidRoomID(roomID) {
		return ErrInvalidRoomID
	}
	return nil
}

// IsValidRoomID reports whether id can address a room. Room IDs are
// exercise IDs, so the same rule applies to both.
func IsValidRoomID(id string) bool {
	if len(id) < 1 || len(id) > 64 {
		return false
	}
	return roomIDRegex.MatchString(id)
}

// IsValidRole reports whether r is a known role.
func IsValidRole(r Role) bool {
	return r == RoleMentor || r == RoleStudent
}
