package interfaces

import "errors"

// Common interface errors used across components
var (
	ErrExerciseNotFound = errors.New("exercise not found")
)
