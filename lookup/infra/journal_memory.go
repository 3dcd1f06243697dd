package infra

import (
	"context"
	"sort"
	"sync"

	"lookup-gateway/lookup/domain"
)

// MemoryJournal é o journal em memória: mantém a mesma semântica do
// RedisJournal dentro de um processo, sem sobreviver a restart.
type MemoryJournal struct {
	mu   sync.Mutex
	recs map[domain.BatchID]domain.BatchRecord
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{recs: make(map[domain.BatchID]domain.BatchRecord)}
}

func (j *MemoryJournal) Append(_ context.Context, rec domain.BatchRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.recs[rec.ID] = rec
	return nil
}

func (j *MemoryJournal) Ack(_ context.Context, id domain.BatchID) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.recs, id)
	return nil
}

func (j *MemoryJournal) Pending(context.Context) ([]domain.BatchRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]domain.BatchRecord, 0, len(j.recs))
	for _, r := range j.recs {
		out = append(out, r)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out, nil
}
