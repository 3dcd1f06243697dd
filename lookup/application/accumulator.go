package application

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"lookup-gateway/lookup/domain"
)

// Accumulator mantém o lote OPEN e decide quando ele fica READY: ao atingir
// maxSize (na hora) ou quando a janela expira (timer iniciado na primeira chave).
//
// Na transição o lote é trocado atomicamente sob o lock e entregue a onReady
// fora dele; a próxima chave abre um lote novo, então Add nunca espera um
// despacho em andamento.
type Accumulator struct {
	maxSize int
	window  time.Duration
	clock   clockwork.Clock
	onReady func(*domain.Batch)

	mu     sync.Mutex
	open   *domain.Batch
	timer  clockwork.Timer
	closed bool

	// entregas a onReady ainda em andamento; Close espera por elas
	handoffs sync.WaitGroup
}

func NewAccumulator(maxSize int, window time.Duration, clock clockwork.Clock, onReady func(*domain.Batch)) *Accumulator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Accumulator{
		maxSize: maxSize,
		window:  window,
		clock:   clock,
		onReady: onReady,
	}
}

// Add coloca a chave no lote aberto. Devolve domain.ErrClosed após Close.
func (a *Accumulator) Add(key domain.Key) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return domain.ErrClosed
	}
	if a.open == nil {
		a.open = domain.NewBatch(domain.BatchID(uuid.NewString()), a.clock.Now())
		id := a.open.ID
		a.timer = a.clock.AfterFunc(a.window, func() { a.expire(id) })
	}
	a.open.Keys.Add(key)

	var ready *domain.Batch
	if a.open.Len() >= a.maxSize {
		ready = a.swapLocked()
	}
	a.mu.Unlock()

	if ready != nil {
		defer a.handoffs.Done()
		a.onReady(ready)
	}
	return nil
}

// Flush força o lote aberto (se houver) para READY. Devolve true se entregou um lote.
func (a *Accumulator) Flush() bool {
	a.mu.Lock()
	if a.open == nil {
		a.mu.Unlock()
		return false
	}
	ready := a.swapLocked()
	a.mu.Unlock()

	defer a.handoffs.Done()
	a.onReady(ready)
	return true
}

// Close entrega o lote aberto, recusa novas chaves e espera as entregas pendentes.
func (a *Accumulator) Close() {
	a.mu.Lock()
	a.closed = true
	var ready *domain.Batch
	if a.open != nil {
		ready = a.swapLocked()
	}
	a.mu.Unlock()

	if ready != nil {
		a.onReady(ready)
		a.handoffs.Done()
	}
	a.handoffs.Wait()
}

// OpenLen devolve o tamanho do lote aberto (0 se não houver).
func (a *Accumulator) OpenLen() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.open == nil {
		return 0
	}
	return a.open.Len()
}

// expire roda no goroutine do timer. O id impede que um timer atrasado feche
// um lote mais novo.
func (a *Accumulator) expire(id domain.BatchID) {
	a.mu.Lock()
	if a.open == nil || a.open.ID != id {
		a.mu.Unlock()
		return
	}
	ready := a.swapLocked()
	a.mu.Unlock()

	defer a.handoffs.Done()
	a.onReady(ready)
}

// swapLocked exige a.mu. Registra a entrega em handoffs antes de soltar o lock.
func (a *Accumulator) swapLocked() *domain.Batch {
	b := a.open
	a.open = nil
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	b.State = domain.BatchReady
	a.handoffs.Add(1)
	return b
}
