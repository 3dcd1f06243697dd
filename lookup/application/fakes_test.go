package application

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"lookup-gateway/lookup/domain"
)

type memCache struct {
	mu   sync.Mutex
	data map[domain.Key]domain.Value
	sets []domain.Key
	err  error

	// getErr faz toda leitura falhar
	getErr error
}

func newMemCache() *memCache { return &memCache{data: map[domain.Key]domain.Value{}} }

func (c *memCache) Get(_ context.Context, k domain.Key) (domain.Value, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	v, ok := c.data[k]
	return v, ok, nil
}

func (c *memCache) Set(_ context.Context, k domain.Key, v domain.Value, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets = append(c.sets, k)
	if c.err != nil {
		return c.err
	}
	c.data[k] = v
	return nil
}

func (c *memCache) has(k domain.Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[k]
	return ok
}

type memStore struct {
	mu     sync.Mutex
	data   map[domain.Key]domain.StoreRecord
	writes int
	getErr error
	// order registra "store:<key>" e é compartilhado com orderedCache
	order *[]string
}

func newMemStore() *memStore { return &memStore{data: map[domain.Key]domain.StoreRecord{}} }

func (s *memStore) Get(_ context.Context, k domain.Key) (domain.StoreRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return domain.StoreRecord{}, false, s.getErr
	}
	r, ok := s.data[k]
	return r, ok, nil
}

func (s *memStore) Set(_ context.Context, k domain.Key, v domain.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	s.data[k] = domain.StoreRecord{Key: k, Value: v, LastUpdated: time.Now()}
	if s.order != nil {
		*s.order = append(*s.order, "store:"+string(k))
	}
	return nil
}

func (s *memStore) has(k domain.Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[k]
	return ok
}

func (s *memStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// fakeUpstream responde "found" para as chaves em known e devolve, em ordem,
// os erros de errs antes de passar a responder normalmente.
type fakeUpstream struct {
	mu    sync.Mutex
	known map[domain.Key]domain.Value
	errs  []error
	delay time.Duration
	calls [][]domain.Key
	times []time.Time
}

func newFakeUpstream(known ...domain.Key) *fakeUpstream {
	u := &fakeUpstream{known: map[domain.Key]domain.Value{}}
	for _, k := range known {
		u.known[k] = domain.Value(`{"cui":"` + string(k) + `"}`)
	}
	return u
}

func (u *fakeUpstream) Query(ctx context.Context, keys []domain.Key) (domain.QueryResult, error) {
	u.mu.Lock()
	u.calls = append(u.calls, append([]domain.Key(nil), keys...))
	u.times = append(u.times, time.Now())
	var err error
	if len(u.errs) > 0 {
		err, u.errs = u.errs[0], u.errs[1:]
	}
	delay := u.delay
	u.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return domain.QueryResult{}, ctx.Err()
		}
	}
	if err != nil {
		return domain.QueryResult{}, err
	}

	var res domain.QueryResult
	for _, k := range keys {
		if v, ok := u.known[k]; ok {
			res.Found = append(res.Found, domain.Entry{Key: k, Value: v})
		} else {
			res.NotFound = append(res.NotFound, k)
		}
	}
	return res, nil
}

func (u *fakeUpstream) callCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.calls)
}

func (u *fakeUpstream) callTimes() []time.Time {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]time.Time(nil), u.times...)
}

func (u *fakeUpstream) callAt(i int) []domain.Key {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls[i]
}

// intervalGate serializa as chamadas e espera interval entre o início de
// duas delas.
type intervalGate struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
}

func (g *intervalGate) Acquire(ctx context.Context) (func(), error) {
	g.mu.Lock()
	if !g.last.IsZero() {
		wait := g.interval - time.Since(g.last)
		if wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				g.mu.Unlock()
				return nil, ctx.Err()
			}
		}
	}
	if err := ctx.Err(); err != nil {
		g.mu.Unlock()
		return nil, err
	}
	g.last = time.Now()
	return g.mu.Unlock, nil
}

type memJournal struct {
	mu    sync.Mutex
	recs  map[domain.BatchID]domain.BatchRecord
	acked []domain.BatchID
}

func newMemJournal() *memJournal {
	return &memJournal{recs: map[domain.BatchID]domain.BatchRecord{}}
}

func (j *memJournal) Append(_ context.Context, r domain.BatchRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.recs[r.ID] = r
	return nil
}

func (j *memJournal) Ack(_ context.Context, id domain.BatchID) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.recs, id)
	j.acked = append(j.acked, id)
	return nil
}

func (j *memJournal) Pending(context.Context) ([]domain.BatchRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]domain.BatchRecord, 0, len(j.recs))
	for _, r := range j.recs {
		out = append(out, r)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out, nil
}

func (j *memJournal) pendingLen() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.recs)
}

type memStats struct {
	mu     sync.Mutex
	counts map[domain.Source]int
}

func (s *memStats) Record(_ context.Context, ev domain.StatsEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counts == nil {
		s.counts = map[domain.Source]int{}
	}
	s.counts[ev.Source]++
	return nil
}

func (s *memStats) count(src domain.Source) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[src]
}

// closablePinger conta Ping/Close para os testes de ciclo de vida.
type closablePinger struct {
	*memCache
	pingErr error
	pings   int
	closes  int
}

func (c *closablePinger) Ping(context.Context) error { c.pings++; return c.pingErr }

func (c *closablePinger) Close() error { c.closes++; return nil }

var errTransient = &domain.TransportError{Op: "query", Status: 503, Err: errors.New("service unavailable")}
