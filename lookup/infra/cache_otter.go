package infra

import (
	"context"
	"time"

	"github.com/maypok86/otter/v2"

	"lookup-gateway/lookup/domain"
)

// OtterCache é o nível de cache em processo (otter, expiração por escrita).
type OtterCache struct {
	c          *otter.Cache[domain.Key, domain.Value]
	defaultTTL time.Duration
}

// NewOtterCache cria o cache com no máximo maxSize entradas. defaultTTL vale
// para Set com ttl <= 0.
func NewOtterCache(maxSize int, defaultTTL time.Duration) *OtterCache {
	if defaultTTL <= 0 {
		defaultTTL = 24 * time.Hour
	}
	return &OtterCache{
		c: otter.Must(&otter.Options[domain.Key, domain.Value]{
			MaximumSize:      maxSize,
			ExpiryCalculator: otter.ExpiryWriting[domain.Key, domain.Value](defaultTTL),
		}),
		defaultTTL: defaultTTL,
	}
}

func (o *OtterCache) Get(_ context.Context, key domain.Key) (domain.Value, bool, error) {
	v, ok := o.c.GetIfPresent(key)
	return v, ok, nil
}

func (o *OtterCache) Set(_ context.Context, key domain.Key, value domain.Value, ttl time.Duration) error {
	o.c.Set(key, value)
	if ttl > 0 && ttl != o.defaultTTL {
		o.c.SetExpiresAfter(key, ttl)
	}
	return nil
}

func (o *OtterCache) Len() int { return o.c.EstimatedSize() }
