package certificate

import (
	"context"
	"sync"

	"certisure/internal/certificate/models"
	"certisure/pkg/platform/sentinel"
)

// InMemory is a mutex-guarded store for development and tests.
type InMemory struct {
	mu     sync.RWMutex
	byID   map[string]*models.Certificate
	byHash map[string]string
}

func NewInMemory() *InMemory {
	return &InMemory{
		byID:   make(map[string]*models.Certificate),
		byHash: make(map[string]string),
	}
}

func (s *InMemory) Create(_ context.Context, c *models.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[c.ID]; ok {
		return sentinel.ErrConflict
	}
	if _, ok := s.byHash[c.DataHash]; ok {
		return sentinel.ErrConflict
	}
	s.byID[c.ID] = clone(c)
	s.byHash[c.DataHash] = c.ID
	return nil
}

func (s *InMemory) FindByID(_ context.Context, id string) (*models.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byID[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(c), nil
}

func (s *InMemory) FindByHash(_ context.Context, hash string) (*models.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byHash[hash]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(s.byID[id]), nil
}

// Count returns the number of stored certificates.
func (s *InMemory) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID), nil
}

func (s *InMemory) Ping(context.Context) error {
	return nil
}
