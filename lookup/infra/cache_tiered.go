package infra

import (
	"context"
	"errors"
	"time"

	"lookup-gateway/lookup/domain"
)

// TieredCache combina um cache local (L1) com um compartilhado (L2).
// Acerto só no L2 repopula o L1; escrita vai para os dois.
type TieredCache struct {
	l1 domain.Cache
	l2 domain.Cache
	// l1TTL limita o tempo no cache local; 0 usa o ttl pedido.
	l1TTL time.Duration
}

func NewTieredCache(l1, l2 domain.Cache, l1TTL time.Duration) *TieredCache {
	return &TieredCache{l1: l1, l2: l2, l1TTL: l1TTL}
}

func (t *TieredCache) ttlL1(ttl time.Duration) time.Duration {
	if t.l1TTL > 0 && (ttl <= 0 || t.l1TTL < ttl) {
		return t.l1TTL
	}
	return ttl
}

func (t *TieredCache) Get(ctx context.Context, key domain.Key) (domain.Value, bool, error) {
	if v, ok, err := t.l1.Get(ctx, key); err == nil && ok {
		return v, true, nil
	}
	v, ok, err := t.l2.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	_ = t.l1.Set(ctx, key, v, t.ttlL1(0))
	return v, true, nil
}

func (t *TieredCache) Set(ctx context.Context, key domain.Key, value domain.Value, ttl time.Duration) error {
	return errors.Join(
		t.l1.Set(ctx, key, value, t.ttlL1(ttl)),
		t.l2.Set(ctx, key, value, ttl),
	)
}

// Ping repassa para os níveis que precisam de conexão.
func (t *TieredCache) Ping(ctx context.Context) error {
	var errs []error
	for _, c := range []domain.Cache{t.l1, t.l2} {
		if p, ok := c.(domain.Pinger); ok {
			errs = append(errs, p.Ping(ctx))
		}
	}
	return errors.Join(errs...)
}
