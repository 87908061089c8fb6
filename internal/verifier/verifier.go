// Package verifier checks student submissions against an exercise's
// reference solution and announces the verdict to the room.
package verifier

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"codementor/internal/room"
	"codementor/pkg/types"
)

// Normalize strips the leading and trailing whitespace that is ignored when
// comparing a submission to the solution.
func Normalize(text string) string {
	return strings.TrimSpace(text)
}

// Verify reports whether text matches the exercise solution after both are
// normalized. It has no side effects.
func Verify(exercise *types.Exercise, text string) bool {
	if exercise == nil {
		return false
	}
	return Normalize(text) == Normalize(exercise.Solution)
}

// Verifier runs submissions for rooms held by a registry.
type Verifier struct {
	rooms  *room.Registry
	logger *zap.Logger
}

// New creates a verifier bound to rooms.
func New(rooms *room.Registry, logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{rooms: rooms, logger: logger}
}

// Submit verifies text submitted by connID in roomID and broadcasts the
// verdict to every member of the room, the submitter included. Only a
// student of the room may submit; anyone else gets ErrNotMember or
// ErrNotStudent and nothing is broadcast.
func (v *Verifier) Submit(roomID, connID, text string) (bool, error) {
	rm, ok := v.rooms.Get(roomID)
	if !ok {
		return false, fmt.Errorf("submit to %q: %w", roomID, room.ErrNotMember)
	}
	correct, err := rm.Submit(connID, text, Verify, v.rooms.Notifier())
	if err != nil {
		return false, fmt.Errorf("submit to %q: %w", roomID, err)
	}

	v.logger.Info("submission verified",
		zap.String("room_id", roomID),
		zap.String("conn_id", connID),
		zap.Bool("correct", correct))
	return correct, nil
}
