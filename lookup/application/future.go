package application

import (
	"context"

	"lookup-gateway/lookup/domain"
)

// Future é resolvido exatamente uma vez quando o lote dono da chave termina.
// Abandonar a espera (ctx) não cancela o lote.
type Future struct {
	id   domain.RequestID
	key  domain.Key
	done chan struct{}
	res  domain.Result
}

func newFuture(id domain.RequestID, key domain.Key) *Future {
	return &Future{id: id, key: key, done: make(chan struct{})}
}

func (f *Future) ID() domain.RequestID { return f.id }

func (f *Future) Key() domain.Key { return f.key }

func (f *Future) Done() <-chan struct{} { return f.done }

// complete é o Callback registrado no Registry, que garante uma única chamada.
func (f *Future) complete(res domain.Result) {
	f.res = res
	close(f.done)
}

// Wait espera o resultado ou o fim do ctx do chamador.
func (f *Future) Wait(ctx context.Context) (domain.Result, error) {
	select {
	case <-f.done:
		return f.res, nil
	case <-ctx.Done():
		return domain.Result{}, ctx.Err()
	}
}
