package infra

import (
	"context"
	"maps"
	"sync"

	"lookup-gateway/lookup/domain"
)

// MemoryStatsStore conta resoluções por origem (e opcionalmente por chave).
// Útil para testes e desenvolvimento.
//
// Não faz expiração e não é indicada para produção.
type MemoryStatsStore struct {
	mu       sync.Mutex
	total    int64
	bySource map[domain.Source]int64
	byKey    map[domain.Key]map[domain.Source]int64

	trackKeys bool
}

type MemoryStatsOption func(*MemoryStatsStore)

func WithTrackKeys(track bool) MemoryStatsOption {
	return func(s *MemoryStatsStore) { s.trackKeys = track }
}

func NewMemoryStatsStore(opts ...MemoryStatsOption) *MemoryStatsStore {
	s := &MemoryStatsStore{
		bySource: make(map[domain.Source]int64),
		byKey:    make(map[domain.Key]map[domain.Source]int64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total++
	s.bySource[ev.Source]++
	if s.trackKeys && ev.Key != "" {
		k := s.byKey[ev.Key]
		if k == nil {
			k = make(map[domain.Source]int64)
			s.byKey[ev.Key] = k
		}
		k[ev.Source]++
	}
	return nil
}

func (s *MemoryStatsStore) Total() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *MemoryStatsStore) BySource() map[domain.Source]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.bySource)
}

func (s *MemoryStatsStore) ByKey(key domain.Key) map[domain.Source]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.byKey[key])
}
