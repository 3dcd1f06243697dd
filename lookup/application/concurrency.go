package application

import (
	"context"
	"time"

	"lookup-gateway/lookup/domain"
)

// ConcurrencyService limita quantas consultas podem estar esperando o motor ao
// mesmo tempo. Uma consulta que cai no registro externo fica parada em
// Resolve pela janela do lote, pelo intervalo entre chamadas e pelos retries;
// Pool conta essas esperas. Não conhece HTTP.
type ConcurrencyService struct {
	Pool domain.SlotPool
	// AcquireTimeout limita a espera por uma vaga; <= 0 espera até ctx encerrar.
	AcquireTimeout time.Duration
}

// Acquire devolve (release, true) com a vaga ou (nil, false) se ctx ou o
// timeout encerraram antes. Sem Pool não há limite.
func (s ConcurrencyService) Acquire(ctx context.Context) (release func(), ok bool) {
	if s.Pool == nil {
		return func() {}, true
	}
	if s.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.AcquireTimeout)
		defer cancel()
	}
	return s.Pool.Acquire(ctx)
}
