package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/require"

	"lookup-gateway/lookup/domain"
)

type completions struct {
	mu      sync.Mutex
	results map[domain.Key]domain.Result
	// snapshot do store/cache no momento da notificação
	persisted map[domain.Key]bool
	done      chan domain.BatchID
}

func newCompletions() *completions {
	return &completions{
		results:   map[domain.Key]domain.Result{},
		persisted: map[domain.Key]bool{},
		done:      make(chan domain.BatchID, 16),
	}
}

func (c *completions) get(k domain.Key) domain.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.results[k]
}

func (c *completions) wait(t *testing.T, n int) {
	t.Helper()
	for range n {
		select {
		case <-c.done:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for batch completion")
		}
	}
}

type dispatcherFixture struct {
	d       *Dispatcher
	up      *fakeUpstream
	cache   *memCache
	store   *memStore
	journal *memJournal
	out     *completions
}

func newDispatcherFixture(t *testing.T, cfg Config, up *fakeUpstream, gate domain.Gate) *dispatcherFixture {
	t.Helper()
	f := &dispatcherFixture{
		up:      up,
		cache:   newMemCache(),
		store:   newMemStore(),
		journal: newMemJournal(),
		out:     newCompletions(),
	}
	if gate == nil {
		gate = &intervalGate{}
	}
	f.d = newDispatcher(cfg, dispatcherDeps{
		upstream: up,
		cache:    f.cache,
		store:    f.store,
		journal:  f.journal,
		gate:     gate,
		log:      testr.New(t),
	}, func(b *domain.Batch, result func(domain.Key) domain.Result) {
		f.out.mu.Lock()
		for _, k := range b.SortedKeys() {
			f.out.results[k] = result(k)
			f.out.persisted[k] = f.store.has(k) && f.cache.has(k)
		}
		f.out.mu.Unlock()
		f.out.done <- b.ID
	})
	return f
}

func (f *dispatcherFixture) run(t *testing.T) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		f.d.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})
	return cancel
}

func testBatch(id string, keys ...domain.Key) *domain.Batch {
	b := domain.NewBatch(domain.BatchID(id), time.Now())
	for _, k := range keys {
		b.Keys.Add(k)
	}
	b.State = domain.BatchReady
	return b
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.BatchWindow = 50 * time.Millisecond
	cfg.RateLimitInterval = 0
	cfg.RetryBackoff = 20 * time.Millisecond
	cfg.APITimeout = time.Second
	return cfg
}

func TestDispatcher_RetriesTransientFailuresWithBackoff(t *testing.T) {
	up := newFakeUpstream("A")
	up.errs = []error{errTransient, errTransient}
	f := newDispatcherFixture(t, fastConfig(), up, nil)
	f.run(t)

	f.d.Enqueue(testBatch("b1", "A", "B"))
	f.out.wait(t, 1)

	require.Equal(t, 3, up.callCount())
	times := up.callTimes()
	require.GreaterOrEqual(t, times[1].Sub(times[0]), 20*time.Millisecond)
	require.GreaterOrEqual(t, times[2].Sub(times[1]), 40*time.Millisecond)

	require.Equal(t, domain.OutcomeFound, f.out.get("A").Outcome)
	require.Equal(t, domain.OutcomeNotFound, f.out.get("B").Outcome)
	require.True(t, f.store.has("A"))
	require.False(t, f.store.has("B"), "not found is never persisted")
	require.Zero(t, f.journal.pendingLen())
	require.EqualValues(t, 1, f.d.batches.Load())
	require.EqualValues(t, 3, f.d.upstreamCalls.Load())
}

func TestDispatcher_ExhaustedRetriesFailWholeBatch(t *testing.T) {
	up := newFakeUpstream("A", "B")
	up.errs = []error{errTransient, errTransient, errTransient, errTransient}
	cfg := fastConfig()
	cfg.RetryBackoff = time.Millisecond
	f := newDispatcherFixture(t, cfg, up, nil)
	f.run(t)

	f.d.Enqueue(testBatch("b1", "A", "B"))
	f.out.wait(t, 1)

	require.Equal(t, 1+cfg.MaxRetries, up.callCount())
	for _, k := range []domain.Key{"A", "B"} {
		res := f.out.get(k)
		require.Equal(t, domain.OutcomeError, res.Outcome)
		require.ErrorIs(t, res.Err, domain.ErrBatchFailed)

		var bf *domain.BatchFailedError
		require.ErrorAs(t, res.Err, &bf)
		require.Equal(t, 4, bf.Attempts)
		require.Equal(t, domain.BatchID("b1"), bf.BatchID)
	}
	require.Zero(t, f.store.writeCount())
	require.Zero(t, f.journal.pendingLen(), "failed batches are acked too")
	require.EqualValues(t, 1, f.d.failedBatches.Load())
}

func TestDispatcher_PermanentErrorIsNotRetried(t *testing.T) {
	up := newFakeUpstream("A")
	up.errs = []error{errors.New("upstream rejected request: status 400")}
	f := newDispatcherFixture(t, fastConfig(), up, nil)
	f.run(t)

	f.d.Enqueue(testBatch("b1", "A"))
	f.out.wait(t, 1)

	require.Equal(t, 1, up.callCount())
	require.ErrorIs(t, f.out.get("A").Err, domain.ErrBatchFailed)
}

func TestDispatcher_AttemptTimeoutIsRetried(t *testing.T) {
	up := newFakeUpstream("A")
	up.delay = 30 * time.Millisecond
	cfg := fastConfig()
	cfg.APITimeout = 10 * time.Millisecond
	cfg.MaxRetries = 1
	cfg.RetryBackoff = time.Millisecond
	f := newDispatcherFixture(t, cfg, up, nil)
	f.run(t)

	f.d.Enqueue(testBatch("b1", "A"))
	f.out.wait(t, 1)

	require.Equal(t, 2, up.callCount())
	require.ErrorIs(t, f.out.get("A").Err, context.DeadlineExceeded)
}

func TestDispatcher_HonoursGateInterval(t *testing.T) {
	up := newFakeUpstream()
	gate := &intervalGate{interval: 50 * time.Millisecond}
	f := newDispatcherFixture(t, fastConfig(), up, gate)
	f.run(t)

	for _, id := range []string{"b1", "b2", "b3"} {
		f.d.Enqueue(testBatch(id, domain.Key(id)))
	}
	f.out.wait(t, 3)

	times := up.callTimes()
	require.Len(t, times, 3)
	for i := 1; i < len(times); i++ {
		require.GreaterOrEqual(t, times[i].Sub(times[i-1]), 49*time.Millisecond)
	}
}

func TestDispatcher_PersistsBeforeNotifying(t *testing.T) {
	up := newFakeUpstream("A", "B")
	f := newDispatcherFixture(t, fastConfig(), up, nil)
	f.run(t)

	f.d.Enqueue(testBatch("b1", "A", "B"))
	f.out.wait(t, 1)

	f.out.mu.Lock()
	defer f.out.mu.Unlock()
	require.True(t, f.out.persisted["A"])
	require.True(t, f.out.persisted["B"])
}

type strayUpstream struct{ *fakeUpstream }

func (u strayUpstream) Query(ctx context.Context, keys []domain.Key) (domain.QueryResult, error) {
	res, err := u.fakeUpstream.Query(ctx, keys)
	res.Found = append(res.Found, domain.Entry{Key: "STRAY", Value: domain.Value("x")})
	return res, err
}

func TestDispatcher_IgnoresKeysOutsideBatch(t *testing.T) {
	up := newFakeUpstream("A")
	f := newDispatcherFixture(t, fastConfig(), up, nil)
	f.d.upstream = strayUpstream{up}
	f.run(t)

	f.d.Enqueue(testBatch("b1", "A"))
	f.out.wait(t, 1)

	require.False(t, f.store.has("STRAY"))
	require.False(t, f.cache.has("STRAY"))
}

func TestDispatcher_CacheWriteFailureStillDelivers(t *testing.T) {
	up := newFakeUpstream("A")
	f := newDispatcherFixture(t, fastConfig(), up, nil)
	f.cache.err = errors.New("cache down")
	f.run(t)

	f.d.Enqueue(testBatch("b1", "A"))
	f.out.wait(t, 1)

	require.Equal(t, domain.OutcomeFound, f.out.get("A").Outcome)
	require.True(t, f.store.has("A"))
}

func TestDispatcher_DrainProcessesQueueThenStops(t *testing.T) {
	up := newFakeUpstream("A")
	f := newDispatcherFixture(t, fastConfig(), up, nil)

	f.d.Enqueue(testBatch("b1", "A"))
	f.d.Enqueue(testBatch("b2", "B"))
	f.d.Drain()
	f.d.Run(context.Background())

	f.out.wait(t, 2)
	require.Equal(t, 2, up.callCount())

	// depois de parar, lotes novos falham na hora
	f.d.Enqueue(testBatch("b3", "C"))
	f.out.wait(t, 1)
	require.ErrorIs(t, f.out.get("C").Err, domain.ErrClosed)
	require.ErrorIs(t, f.out.get("C").Err, domain.ErrBatchFailed)
}

func TestDispatcher_CancelFailsQueuedBatches(t *testing.T) {
	up := newFakeUpstream("A")
	up.delay = time.Hour
	f := newDispatcherFixture(t, fastConfig(), up, nil)
	cancel := f.run(t)

	f.d.Enqueue(testBatch("b1", "A"))
	f.d.Enqueue(testBatch("b2", "B"))
	require.Eventually(t, func() bool { return up.callCount() == 1 }, time.Second, time.Millisecond)
	cancel()
	f.out.wait(t, 2)

	require.ErrorIs(t, f.out.get("A").Err, domain.ErrBatchFailed)
	require.ErrorIs(t, f.out.get("B").Err, context.Canceled)
	require.Zero(t, f.store.writeCount())
}
