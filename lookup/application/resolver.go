package application

import (
	"context"
	"errors"
	"time"

	"github.com/go-logr/logr"
	"github.com/jonboulle/clockwork"

	"lookup-gateway/lookup/domain"
)

// Resolver é a entrada pública da resolução em três níveis:
// cache -> armazenamento durável -> coalescer (registro externo).
//
// Falhas de leitura em cache/store contam como miss; só o BatchFailed do
// registro externo é fatal para o chamador.
type Resolver struct {
	normalizer domain.Normalizer
	cache      domain.Cache
	store      domain.Store
	coalescer  *Coalescer
	cacheTTL   time.Duration
	stats      domain.StatsStore
	clock      clockwork.Clock
	log        logr.Logger
	obs        Observer
}

// Resolve devolve (valor, true, nil) se encontrado, (nil, false, nil) se o
// registro diz que a chave não existe, ou um erro (ErrInvalidKey,
// ErrBatchFailed, ErrClosed ou o erro do ctx do chamador).
func (r *Resolver) Resolve(ctx context.Context, raw string) (domain.Value, bool, error) {
	key, err := r.normalizer.Normalize(raw)
	if err != nil {
		if !errors.Is(err, domain.ErrInvalidKey) {
			err = &domain.InvalidKeyError{Raw: raw, Reason: err.Error()}
		}
		r.record(ctx, "", domain.SourceInvalid)
		return nil, false, err
	}

	if v, ok := r.fromCache(ctx, key); ok {
		r.record(ctx, key, domain.SourceCache)
		return v, true, nil
	}
	if v, ok := r.fromStore(ctx, key); ok {
		r.record(ctx, key, domain.SourceStore)
		return v, true, nil
	}

	fut, err := r.coalescer.Submit(key)
	if err != nil {
		return nil, false, err
	}
	res, err := fut.Wait(ctx)
	if err != nil {
		return nil, false, err
	}

	switch res.Outcome {
	case domain.OutcomeFound:
		r.record(ctx, key, domain.SourceUpstream)
	case domain.OutcomeNotFound:
		r.record(ctx, key, domain.SourceNotFound)
	default:
		r.record(ctx, key, domain.SourceFailed)
	}
	return res.Unpack()
}

func (r *Resolver) fromCache(ctx context.Context, key domain.Key) (domain.Value, bool) {
	v, ok, err := r.cache.Get(ctx, key)
	if err != nil {
		r.log.V(1).Info("cache read failed, treating as miss", "key", key, "err", err.Error())
		return nil, false
	}
	return v, ok
}

// fromStore popula o cache num acerto. A escrita é idempotente, então vários
// resolvers concorrentes podem fazê-la ao mesmo tempo.
func (r *Resolver) fromStore(ctx context.Context, key domain.Key) (domain.Value, bool) {
	rec, ok, err := r.store.Get(ctx, key)
	if err != nil {
		r.log.V(1).Info("store read failed, treating as miss", "key", key, "err", err.Error())
		return nil, false
	}
	if !ok {
		return nil, false
	}
	if err := r.cache.Set(ctx, key, rec.Value, r.cacheTTL); err != nil {
		r.log.Error(&domain.CacheWriteError{Key: key, Err: err}, "cache population failed")
	}
	return rec.Value, true
}

func (r *Resolver) record(ctx context.Context, key domain.Key, src domain.Source) {
	r.obs.Resolved(src)
	if r.stats == nil {
		return
	}
	ev := domain.StatsEvent{Key: key, Source: src, At: r.clock.Now()}
	if err := r.stats.Record(ctx, ev); err != nil {
		r.log.V(1).Info("failed to record lookup stats", "err", err.Error())
	}
}
