package domain

import (
	"slices"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

type (
	RequestID string
	BatchID   string
)

// PendingRequest nasce no coalescer e é consumida quando o lote termina.
type PendingRequest struct {
	Key         Key
	RequestID   RequestID
	SubmittedAt time.Time
}

// BatchState: OPEN -> READY -> DISPATCHED.
type BatchState uint8

const (
	BatchOpen BatchState = iota
	BatchReady
	BatchDispatched
)

func (s BatchState) String() string {
	switch s {
	case BatchOpen:
		return "open"
	case BatchReady:
		return "ready"
	case BatchDispatched:
		return "dispatched"
	default:
		return "unknown"
	}
}

// Batch tem um único dono por vez: o acumulador enquanto OPEN, o dispatcher
// depois de READY. Por isso o conjunto de chaves não é thread-safe.
type Batch struct {
	ID        BatchID
	Keys      mapset.Set[Key]
	CreatedAt time.Time
	State     BatchState
}

func NewBatch(id BatchID, createdAt time.Time) *Batch {
	return &Batch{
		ID:        id,
		Keys:      mapset.NewThreadUnsafeSet[Key](),
		CreatedAt: createdAt,
		State:     BatchOpen,
	}
}

func (b *Batch) Len() int { return b.Keys.Cardinality() }

// SortedKeys devolve as chaves em ordem estável (para a chamada ao registro e logs).
func (b *Batch) SortedKeys() []Key {
	keys := b.Keys.ToSlice()
	slices.Sort(keys)
	return keys
}

// BatchRecord é a forma serializável de um lote READY, usada pelo journal.
type BatchRecord struct {
	ID        BatchID   `msgpack:"id"`
	Keys      []Key     `msgpack:"keys"`
	CreatedAt time.Time `msgpack:"created_at"`
}

func (b *Batch) Record() BatchRecord {
	return BatchRecord{ID: b.ID, Keys: b.SortedKeys(), CreatedAt: b.CreatedAt}
}

// Batch reconstrói um lote READY a partir do registro do journal.
func (r BatchRecord) Batch() *Batch {
	b := NewBatch(r.ID, r.CreatedAt)
	for _, k := range r.Keys {
		b.Keys.Add(k)
	}
	b.State = BatchReady
	return b
}
