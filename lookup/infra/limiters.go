package infra

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"lookup-gateway/lookup/domain"
)

// ClientLimiters é um token bucket (x/time/rate) por cliente da API HTTP,
// com limpeza periódica dos clientes inativos.
type ClientLimiters struct {
	mu           sync.Mutex
	entries      map[domain.ClientKey]*clientEntry
	rps          rate.Limit
	burst        int
	idleTTL      time.Duration
	cleanupEvery time.Duration
	clock        clockwork.Clock
}

type clientEntry struct {
	lim      *clientLimiter
	lastSeen time.Time
}

// clientLimiter consulta o limiter no relógio do store e sabe dizer quanto
// falta para a próxima ficha (usado no Retry-After).
type clientLimiter struct {
	lim   *rate.Limiter
	clock clockwork.Clock
}

func (l *clientLimiter) Allow() bool { return l.lim.AllowN(l.clock.Now(), 1) }

func (l *clientLimiter) Delay() time.Duration {
	now := l.clock.Now()
	r := l.lim.ReserveN(now, 1)
	if !r.OK() {
		return 0
	}
	d := r.DelayFrom(now)
	r.CancelAt(now)
	return d
}

type ClientLimitersOption func(*ClientLimiters)

func WithIdleTTL(d time.Duration) ClientLimitersOption {
	return func(s *ClientLimiters) { s.idleTTL = d }
}

func WithCleanupEvery(d time.Duration) ClientLimitersOption {
	return func(s *ClientLimiters) { s.cleanupEvery = d }
}

func WithLimiterClock(c clockwork.Clock) ClientLimitersOption {
	return func(s *ClientLimiters) { s.clock = c }
}

func NewClientLimiters(rps float64, burst int, opts ...ClientLimitersOption) *ClientLimiters {
	s := &ClientLimiters{
		entries:      make(map[domain.ClientKey]*clientEntry),
		rps:          rate.Limit(rps),
		burst:        burst,
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
		clock:        clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ClientLimiters) RPS() float64                { return float64(s.rps) }
func (s *ClientLimiters) Burst() int                  { return s.burst }
func (s *ClientLimiters) CleanupEvery() time.Duration { return s.cleanupEvery }

// Get implementa domain.LimiterStore.
func (s *ClientLimiters) Get(key domain.ClientKey) domain.Limiter {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if ent, ok := s.entries[key]; ok {
		ent.lastSeen = now
		return ent.lim
	}

	lim := &clientLimiter{lim: rate.NewLimiter(s.rps, s.burst), clock: s.clock}
	s.entries[key] = &clientEntry{lim: lim, lastSeen: now}
	return lim
}

func (s *ClientLimiters) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *ClientLimiters) Cleanup() {
	cutoff := s.clock.Now().Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, ent := range s.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(s.entries, k)
		}
	}
}

// StartJanitor inicia uma goroutine que limpa clientes inativos periodicamente.
// Pare cancelando o contexto.
func (s *ClientLimiters) StartJanitor(ctx context.Context) {
	if s.cleanupEvery <= 0 {
		return
	}

	t := s.clock.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.Chan():
				s.Cleanup()
			}
		}
	}()
}
