package infra

import (
	"context"
	"sync"

	"github.com/jonboulle/clockwork"

	"lookup-gateway/lookup/domain"
)

// MemoryStore é um armazenamento em memória.
// Útil para testes e desenvolvimento; não sobrevive a restart.
type MemoryStore struct {
	mu    sync.RWMutex
	data  map[domain.Key]domain.StoreRecord
	clock clockwork.Clock
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[domain.Key]domain.StoreRecord), clock: clockwork.NewRealClock()}
}

func (s *MemoryStore) Get(_ context.Context, key domain.Key) (domain.StoreRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.data[key]
	return rec, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, key domain.Key, value domain.Value) error {
	rec := domain.StoreRecord{Key: key, Value: value, LastUpdated: s.clock.Now().UTC()}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = rec
	return nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
