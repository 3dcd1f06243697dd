package application

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/jonboulle/clockwork"
	"github.com/samber/lo"

	"lookup-gateway/lookup/domain"
)

// tempo máximo de uma escrita no journal ou de um write-through
const sideEffectTimeout = 5 * time.Second

// completeFn recebe o lote terminado e o resultado de cada chave dele.
type completeFn func(b *domain.Batch, result func(domain.Key) domain.Result)

// Dispatcher (BatchWorker) consome lotes READY um por vez. Cada tentativa
// passa pelo Gate (concorrência 1 + intervalo mínimo); falhas de transporte
// são retentadas com backoff exponencial e nunca saem daqui.
type Dispatcher struct {
	cfg      Config
	upstream domain.Upstream
	cache    domain.Cache
	store    domain.Store
	journal  domain.BatchJournal
	gate     domain.Gate
	clock    clockwork.Clock
	log      logr.Logger
	obs      Observer
	complete completeFn

	mu       sync.Mutex
	queue    []*domain.Batch
	draining bool
	stopped  bool
	wake     chan struct{}

	batches       atomic.Uint64
	upstreamCalls atomic.Uint64
	failedBatches atomic.Uint64
}

type dispatcherDeps struct {
	upstream domain.Upstream
	cache    domain.Cache
	store    domain.Store
	journal  domain.BatchJournal
	gate     domain.Gate
	clock    clockwork.Clock
	log      logr.Logger
	obs      Observer
}

func newDispatcher(cfg Config, deps dispatcherDeps, complete completeFn) *Dispatcher {
	if deps.clock == nil {
		deps.clock = clockwork.NewRealClock()
	}
	if deps.obs == nil {
		deps.obs = nopObserver{}
	}
	return &Dispatcher{
		cfg:      cfg,
		upstream: deps.upstream,
		cache:    deps.cache,
		store:    deps.store,
		journal:  deps.journal,
		gate:     deps.gate,
		clock:    deps.clock,
		log:      deps.log,
		obs:      deps.obs,
		complete: complete,
		wake:     make(chan struct{}, 1),
	}
}

// Enqueue recebe um lote READY do acumulador. Nunca espera o despacho em
// andamento; a escrita no journal é best-effort.
func (d *Dispatcher) Enqueue(b *domain.Batch) {
	if d.journal != nil {
		ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
		if err := d.journal.Append(ctx, b.Record()); err != nil {
			d.log.Error(err, "failed to journal ready batch", "batch", b.ID, "size", b.Len())
		}
		cancel()
	}
	d.push(b)
}

// push enfileira sem tocar no journal (lotes recuperados já estão lá).
func (d *Dispatcher) push(b *domain.Batch) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		d.fail(b, 0, domain.ErrClosed)
		return
	}
	d.queue = append(d.queue, b)
	d.mu.Unlock()
	d.signal()
}

// Drain faz Run terminar assim que a fila esvaziar.
func (d *Dispatcher) Drain() {
	d.mu.Lock()
	d.draining = true
	d.mu.Unlock()
	d.signal()
}

func (d *Dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) next() (b *domain.Batch, draining bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return nil, d.draining
	}
	b = d.queue[0]
	d.queue[0] = nil
	d.queue = d.queue[1:]
	return b, d.draining
}

// Run é o loop do worker. Termina quando Drain foi chamado e a fila esvaziou,
// ou quando ctx encerra; em ambos os casos nenhum waiter fica sem resposta.
func (d *Dispatcher) Run(ctx context.Context) {
	defer d.stop(ctx)
	for {
		b, draining := d.next()
		if b != nil {
			d.process(ctx, b)
			continue
		}
		if draining {
			return
		}
		select {
		case <-d.wake:
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) stop(ctx context.Context) {
	d.mu.Lock()
	d.stopped = true
	rest := d.queue
	d.queue = nil
	d.mu.Unlock()

	cause := ctx.Err()
	if cause == nil {
		cause = domain.ErrClosed
	}
	for _, b := range rest {
		d.fail(b, 0, cause)
	}
}

// QueueLen devolve quantos lotes READY aguardam o worker.
func (d *Dispatcher) QueueLen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

func (d *Dispatcher) process(ctx context.Context, b *domain.Batch) {
	b.State = domain.BatchDispatched
	keys := b.SortedKeys()
	d.batches.Add(1)
	d.obs.BatchDispatched(len(keys))
	log := d.log.WithValues("batch", b.ID, "size", len(keys))
	log.V(1).Info("dispatching batch")

	var (
		res      domain.QueryResult
		err      error
		attempts int
	)
	for attempts = 1; ; attempts++ {
		res, err = d.attempt(ctx, keys)
		if err == nil || attempts > d.cfg.MaxRetries || !domain.IsRetryable(err) {
			break
		}
		delay := d.cfg.backoff(attempts)
		log.Info("upstream attempt failed, retrying", "attempt", attempts, "backoff", delay, "err", err.Error())
		if werr := d.sleep(ctx, delay); werr != nil {
			break
		}
	}

	if err != nil {
		log.Error(err, "batch failed", "attempts", attempts)
		d.fail(b, attempts, err)
		return
	}

	found := d.writeThrough(ctx, b, res)
	d.ack(b)
	d.complete(b, func(k domain.Key) domain.Result {
		if v, ok := found[k]; ok {
			return domain.Found(v)
		}
		return domain.NotFound()
	})
	d.obs.BatchCompleted(len(keys), false)
	log.V(1).Info("batch completed", "found", len(found), "attempts", attempts)
}

func (d *Dispatcher) attempt(ctx context.Context, keys []domain.Key) (domain.QueryResult, error) {
	release, err := d.gate.Acquire(ctx)
	if err != nil {
		return domain.QueryResult{}, err
	}
	defer release()

	actx, cancel := context.WithTimeout(ctx, d.cfg.APITimeout)
	defer cancel()

	d.upstreamCalls.Add(1)
	start := d.clock.Now()
	res, err := d.upstream.Query(actx, keys)
	d.obs.UpstreamAttempt(err, d.clock.Since(start))
	return res, err
}

// writeThrough grava store e depois cache para cada chave encontrada do lote.
// Falhas só vão para o log. Chaves que não pertencem ao lote são ignoradas.
func (d *Dispatcher) writeThrough(ctx context.Context, b *domain.Batch, res domain.QueryResult) map[domain.Key]domain.Value {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()

	entries := lo.Filter(res.Found, func(e domain.Entry, _ int) bool { return b.Keys.Contains(e.Key) })
	if len(entries) != len(res.Found) {
		d.log.Info("upstream returned keys outside the batch", "batch", b.ID, "ignored", len(res.Found)-len(entries))
	}

	found := make(map[domain.Key]domain.Value, len(entries))
	for _, e := range entries {
		found[e.Key] = e.Value
		if err := d.store.Set(wctx, e.Key, e.Value); err != nil {
			d.log.Error(&domain.StoreWriteError{Key: e.Key, Err: err}, "write-through to store failed")
		}
		if err := d.cache.Set(wctx, e.Key, e.Value, d.cfg.CacheTTL); err != nil {
			d.log.Error(&domain.CacheWriteError{Key: e.Key, Err: err}, "write-through to cache failed")
		}
	}
	return found
}

// fail entrega BatchFailed a todos os waiters do lote; nada é escrito.
func (d *Dispatcher) fail(b *domain.Batch, attempts int, cause error) {
	d.failedBatches.Add(1)
	d.ack(b)
	err := &domain.BatchFailedError{BatchID: b.ID, Attempts: attempts, Cause: cause}
	d.complete(b, func(domain.Key) domain.Result { return domain.Failed(err) })
	d.obs.BatchCompleted(b.Len(), true)
}

func (d *Dispatcher) ack(b *domain.Batch) {
	if d.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()
	if err := d.journal.Ack(ctx, b.ID); err != nil {
		d.log.Error(err, "failed to ack journaled batch", "batch", b.ID)
	}
}

func (d *Dispatcher) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	t := d.clock.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.Chan():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
