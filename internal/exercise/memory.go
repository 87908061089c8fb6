package exercise

import (
	"context"
	"sync"

	"codementor/pkg/interfaces"
	"codementor/pkg/types"
)

// MemoryStore keeps exercises in process. It backs the service when no
// database path is configured.
type MemoryStore struct {
	mu        sync.RWMutex
	exercises map[string]*types.Exercise
	order     []string
}

// NewMemoryStore creates a store holding exercises in the given order.
func NewMemoryStore(exercises ...*types.Exercise) *MemoryStore {
	s := &MemoryStore{exercises: make(map[string]*types.Exercise)}
	for _, ex := range exercises {
		_ = s.Upsert(context.Background(), ex)
	}
	return s
}

// Get returns a copy of the exercise.
func (s *MemoryStore) Get(_ context.Context, id string) (*types.Exercise, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ex, ok := s.exercises[id]
	if !ok {
		return nil, interfaces.ErrExerciseNotFound
	}
	cp := *ex
	return &cp, nil
}

// List returns copies of all exercises in insertion order.
func (s *MemoryStore) List(_ context.Context) ([]*types.Exercise, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.Exercise, 0, len(s.order))
	for _, id := range s.order {
		cp := *s.exercises[id]
		out = append(out, &cp)
	}
	return out, nil
}

// Upsert stores a copy of ex.
func (s *MemoryStore) Upsert(_ context.Context, ex *types.Exercise) error {
	if ex == nil {
		return types.ErrInvalidExercise
	}
	if err := ex.Validate(); err != nil {
		return err
	}
	cp := *ex

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.exercises[ex.ID]; !ok {
		s.order = append(s.order, ex.ID)
	}
	s.exercises[ex.ID] = &cp
	return nil
}
