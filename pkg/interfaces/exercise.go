package interfaces

import (
	"context"

	"codementor/pkg/types"
)

// ExerciseStore resolves exercises for the lobby and for room creation.
type ExerciseStore interface {
	// Get returns the exercise with the given ID or ErrExerciseNotFound.
	Get(ctx context.Context, id string) (*types.Exercise, error)

	// List returns all exercises ordered by ID.
	List(ctx context.Context) ([]*types.Exercise, error)
}

// ExerciseWriter is implemented by stores that accept new exercises.
type ExerciseWriter interface {
	Upsert(ctx context.Context, exercise *types.Exercise) error
}
