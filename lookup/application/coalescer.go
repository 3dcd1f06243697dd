package application

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"lookup-gateway/lookup/domain"
)

type batchAdder interface {
	Add(domain.Key) error
}

// inflight é a entrada única de uma chave enquanto seu lote está aberto ou em
// voo; waiters cresce a cada pedido concorrente pela mesma chave.
type inflight struct {
	req     domain.PendingRequest
	waiters []domain.RequestID
}

// Coalescer deduplica pedidos concorrentes pela mesma chave: uma entrada no
// lote, um waiter por chamador, todos resolvidos pelo mesmo desfecho.
type Coalescer struct {
	acc      batchAdder
	registry *Registry
	clock    clockwork.Clock

	mu      sync.Mutex
	pending map[domain.Key]*inflight

	submitted atomic.Uint64
	coalesced atomic.Uint64
}

func NewCoalescer(acc batchAdder, registry *Registry, clock clockwork.Clock) *Coalescer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Coalescer{
		acc:      acc,
		registry: registry,
		clock:    clock,
		pending:  make(map[domain.Key]*inflight),
	}
}

// Submit devolve um Future para a chave. Se já existe pedido pendente para ela
// (lote aberto ou em voo ainda não notificado), só anexa um novo waiter.
func (c *Coalescer) Submit(key domain.Key) (*Future, error) {
	id := domain.RequestID(uuid.NewString())
	fut := newFuture(id, key)
	c.registry.Register(id, fut.complete)
	c.submitted.Add(1)

	c.mu.Lock()
	if e, ok := c.pending[key]; ok {
		e.waiters = append(e.waiters, id)
		c.mu.Unlock()
		c.coalesced.Add(1)
		return fut, nil
	}
	c.pending[key] = &inflight{
		req:     domain.PendingRequest{Key: key, RequestID: id, SubmittedAt: c.clock.Now()},
		waiters: []domain.RequestID{id},
	}
	c.mu.Unlock()

	if err := c.acc.Add(key); err != nil {
		// a chave nunca entrou num lote: libera quem já tinha se anexado
		c.Complete([]domain.Key{key}, func(domain.Key) domain.Result { return domain.Failed(err) })
		return nil, err
	}
	return fut, nil
}

// Adopt marca chaves de um lote recuperado do journal como em voo, sem
// waiters, para que novos pedidos se anexem a ele em vez de abrir outro lote.
func (c *Coalescer) Adopt(keys []domain.Key) {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		if _, ok := c.pending[k]; ok {
			continue
		}
		c.pending[k] = &inflight{req: domain.PendingRequest{Key: k, SubmittedAt: now}}
	}
}

// Complete remove as chaves do mapa de pendentes e notifica todos os waiters.
// Deve ser chamado só depois das escritas em store/cache do lote.
func (c *Coalescer) Complete(keys []domain.Key, result func(domain.Key) domain.Result) {
	type fanout struct {
		ids []domain.RequestID
		res domain.Result
	}

	c.mu.Lock()
	out := make([]fanout, 0, len(keys))
	for _, k := range keys {
		e, ok := c.pending[k]
		if !ok {
			continue
		}
		delete(c.pending, k)
		if len(e.waiters) > 0 {
			out = append(out, fanout{ids: e.waiters, res: result(k)})
		}
	}
	c.mu.Unlock()

	for _, f := range out {
		for _, id := range f.ids {
			c.registry.Resolve(id, f.res)
		}
	}
}

// Pending devolve quantas chaves estão pendentes (abertas ou em voo).
func (c *Coalescer) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
