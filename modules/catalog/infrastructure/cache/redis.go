package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisCache is the shared cache for multi-node deployments. Failures are
// logged and treated as misses: the cache is an optimization, never a source
// of truth.
type RedisCache struct {
	rdb       redis.UniversalClient
	ttl       time.Duration
	keyPrefix string
	log       *logrus.Logger
}

func NewRedisCache(rdb redis.UniversalClient, ttl time.Duration, keyPrefix string, log *logrus.Logger) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl, keyPrefix: keyPrefix, log: log}
}

func (c *RedisCache) key(key string) string {
	if c.keyPrefix == "" {
		return key
	}
	return c.keyPrefix + ":" + key
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	raw, err := c.rdb.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if err != redis.Nil && c.log != nil {
			c.log.WithError(err).Warn("cache: redis get failed")
		}
		return nil, false
	}
	return raw, true
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte) {
	if err := c.rdb.Set(ctx, c.key(key), value, c.ttl).Err(); err != nil && c.log != nil {
		c.log.WithError(err).Warn("cache: redis set failed")
	}
}

func (c *RedisCache) Invalidate(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	prefixed := make([]string, len(keys))
	for i, key := range keys {
		prefixed[i] = c.key(key)
	}
	if err := c.rdb.Del(ctx, prefixed...).Err(); err != nil && c.log != nil {
		c.log.WithError(err).Warn("cache: redis del failed")
	}
}
