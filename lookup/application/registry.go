package application

import (
	"sync"

	"lookup-gateway/lookup/domain"
)

// Callback recebe o resultado de um pedido pendente.
type Callback func(domain.Result)

// Registry entrega cada resultado no máximo uma vez por RequestID.
//
// Resolve é idempotente: a primeira chamada invoca o callback e o remove;
// as seguintes são no-op silencioso (sinais duplicados de fim de lote).
type Registry struct {
	mu      sync.Mutex
	waiters map[domain.RequestID]Callback
}

func NewRegistry() *Registry {
	return &Registry{waiters: make(map[domain.RequestID]Callback)}
}

// Register associa o callback ao id. Devolve false se o id já estava registrado.
func (r *Registry) Register(id domain.RequestID, cb Callback) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.waiters[id]; ok {
		return false
	}
	r.waiters[id] = cb
	return true
}

// Resolve invoca o callback fora do lock, para não segurar o registro durante
// o fan-out.
func (r *Registry) Resolve(id domain.RequestID, res domain.Result) bool {
	r.mu.Lock()
	cb, ok := r.waiters[id]
	if ok {
		delete(r.waiters, id)
	}
	r.mu.Unlock()

	if ok {
		cb(res)
	}
	return ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiters)
}
