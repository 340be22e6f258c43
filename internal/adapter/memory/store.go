// Package memory provides the in-process MatchStore used for development,
// tests and single-instance deployments without a database.
package memory

import (
	"context"
	"sync"

	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/domain"
)

// Store keeps match records in a map. Records are copied on the way in and
// out, so callers never share memory with the store.
type Store struct {
	mu      sync.RWMutex
	matches map[int]*domain.MatchLiveState
	nextID  int
}

func NewStore() *Store {
	return &Store{
		matches: make(map[int]*domain.MatchLiveState),
		nextID:  1,
	}
}

func (s *Store) Get(_ context.Context, id int) (*domain.MatchLiveState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.matches[id]
	if !ok {
		return nil, domain.ErrMatchNotFound
	}
	return m.Clone(), nil
}

func (s *Store) Put(_ context.Context, match *domain.MatchLiveState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.matches[match.ID] = match.Clone()
	if match.ID >= s.nextID {
		s.nextID = match.ID + 1
	}
	return nil
}

func (s *Store) Delete(_ context.Context, id int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.matches[id]; !ok {
		return false, nil
	}
	delete(s.matches, id)
	return true, nil
}

func (s *Store) List(_ context.Context) ([]domain.MatchSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]domain.MatchSummary, 0, len(s.matches))
	for _, m := range s.matches {
		list = append(list, m.Summary())
	}
	domain.SortSummaries(list)
	return list, nil
}

// Create assigns the next id to a copy of match and stores it.
func (s *Store) Create(_ context.Context, match *domain.MatchLiveState) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++

	stored := match.Clone()
	stored.ID = id
	s.matches[id] = stored
	return id, nil
}

func (s *Store) Ping(context.Context) error {
	return nil
}
