package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"lookup-gateway/lookup/domain"
)

var ErrNotStarted = errors.New("lookup service not started")

// Deps são os colaboradores do serviço. Journal e Stats são opcionais.
type Deps struct {
	Cache    domain.Cache
	Store    domain.Store
	Upstream domain.Upstream
	Gate     domain.Gate
	Journal  domain.BatchJournal
	Stats    domain.StatsStore
}

type Option func(*Service)

func WithLogger(l logr.Logger) Option {
	return func(s *Service) { s.log = l }
}

func WithClock(c clockwork.Clock) Option {
	return func(s *Service) { s.clock = c }
}

func WithObserver(o Observer) Option {
	return func(s *Service) { s.obs = o }
}

func WithNormalizer(n domain.Normalizer) Option {
	return func(s *Service) { s.normalizer = n }
}

// Stats é uma fotografia dos contadores do motor.
type Stats struct {
	Submitted     uint64
	Coalesced     uint64
	Batches       uint64
	UpstreamCalls uint64
	FailedBatches uint64
	PendingKeys   int
	Waiters       int
	QueuedBatches int
}

// Service liga Resolver, Coalescer, Accumulator e Dispatcher e controla o
// ciclo de vida: New -> Start -> Resolve... -> Close.
type Service struct {
	cfg        Config
	deps       Deps
	log        logr.Logger
	clock      clockwork.Clock
	obs        Observer
	normalizer domain.Normalizer

	registry   *Registry
	acc        *Accumulator
	coalescer  *Coalescer
	dispatcher *Dispatcher
	resolver   *Resolver

	mu      sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	runDone chan struct{}
}

func New(cfg Config, deps Deps, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid lookup config: %w", err)
	}
	switch {
	case deps.Cache == nil:
		return nil, errors.New("lookup: cache is required")
	case deps.Store == nil:
		return nil, errors.New("lookup: store is required")
	case deps.Upstream == nil:
		return nil, errors.New("lookup: upstream client is required")
	case deps.Gate == nil:
		return nil, errors.New("lookup: upstream gate is required")
	}

	s := &Service{
		cfg:        cfg,
		deps:       deps,
		log:        logr.Discard(),
		clock:      clockwork.NewRealClock(),
		obs:        nopObserver{},
		normalizer: domain.DefaultNormalizer,
		registry:   NewRegistry(),
		runDone:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithName("lookup")

	s.dispatcher = newDispatcher(cfg, dispatcherDeps{
		upstream: deps.Upstream,
		cache:    deps.Cache,
		store:    deps.Store,
		journal:  deps.Journal,
		gate:     deps.Gate,
		clock:    s.clock,
		log:      s.log.WithName("dispatcher"),
		obs:      s.obs,
	}, func(b *domain.Batch, result func(domain.Key) domain.Result) {
		s.coalescer.Complete(b.SortedKeys(), result)
	})
	s.acc = NewAccumulator(cfg.MaxBatchSize, cfg.BatchWindow, s.clock, s.dispatcher.Enqueue)
	s.coalescer = NewCoalescer(s.acc, s.registry, s.clock)
	s.resolver = &Resolver{
		normalizer: s.normalizer,
		cache:      deps.Cache,
		store:      deps.Store,
		coalescer:  s.coalescer,
		cacheTTL:   cfg.CacheTTL,
		stats:      deps.Stats,
		clock:      s.clock,
		log:        s.log.WithName("resolver"),
		obs:        s.obs,
	}
	return s, nil
}

// Start verifica as conexões dos colaboradores, reenfileira lotes do journal
// e inicia o worker. ctx vale só para a inicialização.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrClosed
	}
	if s.started {
		return errors.New("lookup service already started")
	}

	for _, p := range s.pingers() {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("lookup: collaborator ping: %w", err)
		}
	}

	recovered := s.recover(ctx)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.started = true
	go func() {
		defer close(s.runDone)
		s.dispatcher.Run(runCtx)
	}()

	s.log.Info("lookup service started",
		"max_batch_size", s.cfg.MaxBatchSize,
		"batch_window", s.cfg.BatchWindow,
		"rate_limit_interval", s.cfg.RateLimitInterval,
		"max_retries", s.cfg.MaxRetries,
		"retry_backoff", s.cfg.RetryBackoff,
		"recovered_batches", recovered)
	return nil
}

// recover reenfileira os lotes READY que sobraram no journal. Não há waiters
// para eles; o resultado só aquece store e cache.
func (s *Service) recover(ctx context.Context) int {
	if s.deps.Journal == nil {
		return 0
	}
	recs, err := s.deps.Journal.Pending(ctx)
	if err != nil {
		s.log.Error(err, "failed to read batch journal, skipping recovery")
		return 0
	}
	n := 0
	for _, rec := range recs {
		s.coalescer.Adopt(rec.Keys)
		if len(rec.Keys) <= s.cfg.MaxBatchSize {
			s.dispatcher.push(rec.Batch())
			n++
			continue
		}
		// MaxBatchSize diminuiu desde que o lote foi gravado: reparte em lotes
		// novos (cada um no journal) antes de dar ack no original
		for _, chunk := range lo.Chunk(rec.Keys, s.cfg.MaxBatchSize) {
			b := domain.NewBatch(domain.BatchID(uuid.NewString()), rec.CreatedAt)
			b.Keys.Append(chunk...)
			b.State = domain.BatchReady
			s.dispatcher.Enqueue(b)
			n++
		}
		s.dispatcher.ack(rec.Batch())
		s.log.Info("split recovered batch to fit max batch size",
			"batch", rec.ID, "size", len(rec.Keys), "max_batch_size", s.cfg.MaxBatchSize)
	}
	return n
}

// Resolve normaliza a chave e resolve por cache, store ou registro externo.
func (s *Service) Resolve(ctx context.Context, raw string) (domain.Value, bool, error) {
	if err := s.ready(); err != nil {
		return nil, false, err
	}
	return s.resolver.Resolve(ctx, raw)
}

// ResolveMany resolve cada entrada concorrentemente; o resultado i
// corresponde a raws[i]. Entradas repetidas são resolvidas uma vez.
func (s *Service) ResolveMany(ctx context.Context, raws []string) []domain.Result {
	out := make([]domain.Result, len(raws))
	if err := s.ready(); err != nil {
		for i := range out {
			out[i] = domain.Failed(err)
		}
		return out
	}

	uniq := lo.Uniq(raws)
	results := make([]domain.Result, len(uniq))
	var g errgroup.Group
	for i, raw := range uniq {
		g.Go(func() error {
			v, ok, err := s.resolver.Resolve(ctx, raw)
			switch {
			case err != nil:
				results[i] = domain.Failed(err)
			case ok:
				results[i] = domain.Found(v)
			default:
				results[i] = domain.NotFound()
			}
			return nil
		})
	}
	_ = g.Wait()

	byRaw := make(map[string]int, len(uniq))
	for i, raw := range uniq {
		byRaw[raw] = i
	}
	for i, raw := range raws {
		out[i] = results[byRaw[raw]]
	}
	return out
}

func (s *Service) ready() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return domain.ErrClosed
	case !s.started:
		return ErrNotStarted
	}
	return nil
}

// Close recusa novos Resolve, fecha o lote aberto e drena os lotes em fila e
// em voo. Se ctx encerrar antes, o worker é cancelado e os waiters restantes
// recebem BatchFailed. Por fim fecha os colaboradores que implementam io.Closer.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started := s.started
	s.mu.Unlock()

	if _, ok := ctx.Deadline(); !ok && s.cfg.CloseTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.CloseTimeout)
		defer cancel()
	}

	var errs []error
	if started {
		s.acc.Close()
		s.dispatcher.Drain()
		select {
		case <-s.runDone:
		case <-ctx.Done():
			s.log.Info("close deadline reached, failing outstanding batches",
				"queued", s.dispatcher.QueueLen())
			errs = append(errs, ctx.Err())
			s.cancel()
			<-s.runDone
		}
		s.cancel()
	}

	errs = append(errs, s.closeCollaborators()...)
	s.log.Info("lookup service stopped")
	return errors.Join(errs...)
}

// Stats devolve os contadores atuais.
func (s *Service) Stats() Stats {
	return Stats{
		Submitted:     s.coalescer.submitted.Load(),
		Coalesced:     s.coalescer.coalesced.Load(),
		Batches:       s.dispatcher.batches.Load(),
		UpstreamCalls: s.dispatcher.upstreamCalls.Load(),
		FailedBatches: s.dispatcher.failedBatches.Load(),
		PendingKeys:   s.coalescer.Pending(),
		Waiters:       s.registry.Len(),
		QueuedBatches: s.dispatcher.QueueLen(),
	}
}

func (s *Service) collaborators() []any {
	all := []any{s.deps.Cache, s.deps.Store, s.deps.Upstream, s.deps.Gate}
	if s.deps.Journal != nil {
		all = append(all, s.deps.Journal)
	}
	if s.deps.Stats != nil {
		all = append(all, s.deps.Stats)
	}
	// o mesmo objeto pode cumprir mais de um papel (ex: um cliente Redis)
	return lo.Uniq(all)
}

func (s *Service) pingers() []domain.Pinger {
	var out []domain.Pinger
	for _, c := range s.collaborators() {
		if p, ok := c.(domain.Pinger); ok {
			out = append(out, p)
		}
	}
	return out
}

func (s *Service) closeCollaborators() []error {
	var errs []error
	for _, c := range s.collaborators() {
		if cl, ok := c.(io.Closer); ok {
			if err := cl.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errs
}
