package infra

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"lookup-gateway/lookup/domain"
)

// RedisCache é o nível de cache compartilhado entre instâncias. O TTL fica a
// cargo do próprio Redis (SET ... EX).
type RedisCache struct {
	rdb    redis.UniversalClient
	prefix string
}

type RedisCacheOption func(*RedisCache)

func WithCachePrefix(prefix string) RedisCacheOption {
	return func(c *RedisCache) { c.prefix = strings.Trim(prefix, ":") }
}

func NewRedisCache(rdb redis.UniversalClient, opts ...RedisCacheOption) *RedisCache {
	c := &RedisCache{rdb: rdb, prefix: "lookup:cache"}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *RedisCache) key(k domain.Key) string { return c.prefix + ":" + string(k) }

func (c *RedisCache) Get(ctx context.Context, key domain.Key) (domain.Value, bool, error) {
	b, err := c.rdb.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return domain.Value(b), true, nil
}

func (c *RedisCache) Set(ctx context.Context, key domain.Key, value domain.Value, ttl time.Duration) error {
	return c.rdb.Set(ctx, c.key(key), []byte(value), ttl).Err()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
