package infra

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

var errReservation = errors.New("gate: rate reservation not possible")

// Gate controla o acesso ao registro externo: no máximo uma chamada por vez
// (slot único) e pelo menos `interval` entre o início de duas chamadas
// (token bucket com burst 1).
//
// Um Gate pode ser compartilhado por vários Services que falam com o mesmo
// registro.
type Gate struct {
	slot     *chanPool
	limiter  *rate.Limiter
	clock    clockwork.Clock
	interval time.Duration
}

type GateOption func(*Gate)

func WithGateClock(c clockwork.Clock) GateOption {
	return func(g *Gate) { g.clock = c }
}

// NewGate cria um Gate. interval <= 0 desliga o limite de taxa (só o slot fica).
func NewGate(interval time.Duration, opts ...GateOption) *Gate {
	lim := rate.NewLimiter(rate.Inf, 1)
	if interval > 0 {
		lim = rate.NewLimiter(rate.Every(interval), 1)
	}
	g := &Gate{
		slot:     newChanPool(1),
		limiter:  lim,
		clock:    clockwork.NewRealClock(),
		interval: interval,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gate) Interval() time.Duration { return g.interval }

// Acquire espera o slot e depois a ficha de taxa. Se ctx encerrar durante a
// espera da ficha, a reserva é devolvida e o slot liberado.
func (g *Gate) Acquire(ctx context.Context) (func(), error) {
	release, ok := g.slot.Acquire(ctx)
	if !ok {
		return nil, ctx.Err()
	}

	now := g.clock.Now()
	r := g.limiter.ReserveN(now, 1)
	if !r.OK() {
		release()
		return nil, errReservation
	}
	if delay := r.DelayFrom(now); delay > 0 {
		t := g.clock.NewTimer(delay)
		select {
		case <-t.Chan():
		case <-ctx.Done():
			t.Stop()
			r.CancelAt(g.clock.Now())
			release()
			return nil, ctx.Err()
		}
	}
	return release, nil
}
