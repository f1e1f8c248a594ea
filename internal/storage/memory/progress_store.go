package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/housing-harvester/internal/harvest"
)

// ProgressStore keeps the progress record in-memory.
type ProgressStore struct {
	mu    sync.Mutex
	state *harvest.ProgressState
}

// NewProgressStore constructs an empty ProgressStore.
func NewProgressStore() *ProgressStore {
	return &ProgressStore{}
}

// Get returns the stored state or harvest.ErrNotFound.
func (s *ProgressStore) Get(_ context.Context) (harvest.ProgressState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return harvest.ProgressState{}, harvest.ErrNotFound
	}
	return s.state.Clone(), nil
}

// Create stores state unless a record already exists.
func (s *ProgressStore) Create(_ context.Context, state harvest.ProgressState) (harvest.ProgressState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		stored := state.Clone()
		s.state = &stored
	}
	return s.state.Clone(), nil
}

// Update applies fn to a copy and keeps it only when fn succeeds.
func (s *ProgressStore) Update(
	_ context.Context,
	fn func(*harvest.ProgressState) error,
) (harvest.ProgressState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return harvest.ProgressState{}, harvest.ErrNotFound
	}
	next := s.state.Clone()
	if err := fn(&next); err != nil {
		return s.state.Clone(), err
	}
	s.state = &next
	return next.Clone(), nil
}
