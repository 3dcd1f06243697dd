package application

import (
	"time"

	"lookup-gateway/lookup/domain"
)

// reserver é implementado por limiters que sabem quanto falta para a próxima
// ficha (infra.ClientLimiters devolve *rate.Limiter embrulhado).
type reserver interface {
	Delay() time.Duration
}

// ThrottleService decide se um cliente da API HTTP pode consultar agora.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna uma decisão.
type ThrottleService struct {
	Store      domain.LimiterStore
	RetryAfter time.Duration
}

func (s ThrottleService) Decide(key domain.ClientKey) domain.Decision {
	if s.Store == nil {
		return domain.Decision{Allowed: true}
	}
	if s.RetryAfter <= 0 {
		s.RetryAfter = 1 * time.Second
	}

	lim := s.Store.Get(key)
	if lim == nil {
		return domain.Decision{Allowed: true}
	}
	if lim.Allow() {
		return domain.Decision{Allowed: true}
	}
	if r, ok := lim.(reserver); ok {
		if d := r.Delay(); d > 0 {
			return domain.Decision{Allowed: false, RetryAfter: d}
		}
	}
	return domain.Decision{Allowed: false, RetryAfter: s.RetryAfter}
}
