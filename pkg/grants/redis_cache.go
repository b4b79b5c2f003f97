package grants

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache keeps resolved sets in Redis as JSON arrays.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
}

// RedisCacheOption configures a RedisCache.
type RedisCacheOption func(*RedisCache)

// WithKeyPrefix namespaces every key, e.g. per deployment.
func WithKeyPrefix(prefix string) RedisCacheOption {
	return func(c *RedisCache) {
		c.prefix = prefix
	}
}

func NewRedisCache(client redis.UniversalClient, opts ...RedisCacheOption) *RedisCache {
	if client == nil {
		panic("grants: redis client cannot be nil")
	}
	c := &RedisCache{client: client, prefix: "medaccess:"}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]string, bool) {
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		return nil, false
	}
	var names []string
	if err := json.Unmarshal(raw, &names); err != nil {
		return nil, false
	}
	return names, true
}

func (c *RedisCache) Set(ctx context.Context, key string, names []string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if names == nil {
		names = []string{}
	}
	raw, err := json.Marshal(names)
	if err != nil {
		return errors.Join(ErrCacheFailed, err)
	}
	if err := c.client.Set(ctx, c.prefix+key, raw, ttl).Err(); err != nil {
		return errors.Join(ErrCacheFailed, err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = c.prefix + k
	}
	if err := c.client.Del(ctx, prefixed...).Err(); err != nil {
		return errors.Join(ErrCacheFailed, err)
	}
	return nil
}
