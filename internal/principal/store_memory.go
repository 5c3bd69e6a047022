package principal

import (
	"context"
	"fmt"
	"sync"

	"gatehouse/internal/sentinel"
)

// MemoryStore keeps principals in memory. Used by tests and by deployments
// without a configured record store.
type MemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	byID   map[int64]*Principal
}

// NewMemoryStore creates an empty in-memory principal store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID: 1,
		byID:   make(map[int64]*Principal),
	}
}

func (s *MemoryStore) ByID(ctx context.Context, id int64) (*Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("principal %d: %w", id, sentinel.ErrNotFound)
	}
	clone := *p
	return &clone, nil
}

func (s *MemoryStore) ByUsername(ctx context.Context, username string) (*Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.byID {
		if p.Username == username {
			clone := *p
			return &clone, nil
		}
	}
	return nil, fmt.Errorf("principal %q: %w", username, sentinel.ErrNotFound)
}

func (s *MemoryStore) Create(ctx context.Context, p *Principal) (*Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.byID {
		if existing.Username == p.Username || existing.Email == p.Email {
			return nil, fmt.Errorf("principal %q: %w", p.Username, sentinel.ErrConflict)
		}
	}

	clone := *p
	clone.ID = s.nextID
	s.nextID++
	s.byID[clone.ID] = &clone

	out := clone
	return &out, nil
}
