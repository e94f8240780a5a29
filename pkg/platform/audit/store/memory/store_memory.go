package memory

import (
	"context"
	"sync"

	audit "certisure/pkg/platform/audit"
)

// InMemoryStore keeps events in arrival order, indexed by certificate.
type InMemoryStore struct {
	mu     sync.RWMutex
	all    []audit.Event
	byCert map[string][]int
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{byCert: make(map[string][]int)}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.all = nil
	s.byCert = make(map[string][]int)
}

func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.all = append(s.all, event)
	if event.CertificateID != "" {
		s.byCert[event.CertificateID] = append(s.byCert[event.CertificateID], len(s.all)-1)
	}
	return nil
}

func (s *InMemoryStore) ListByCertificate(_ context.Context, certificateID string) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.byCert[certificateID]
	out := make([]audit.Event, 0, len(idx))
	for _, i := range idx {
		out = append(out, s.all[i])
	}
	return out, nil
}

// ListRecent returns up to limit of the most recently appended events, oldest first.
func (s *InMemoryStore) ListRecent(_ context.Context, limit int) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := max(len(s.all)-limit, 0)
	return append([]audit.Event{}, s.all[start:]...), nil
}
