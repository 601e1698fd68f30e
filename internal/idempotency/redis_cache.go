package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCacheTier implements CacheTier on top of go-redis. Any Redis error is
// surfaced as ok=false / found=false so Guard always falls through to the
// persistent tier rather than failing open.
type RedisCacheTier struct {
	client *redis.Client
}

// NewRedisCacheTier builds a RedisCacheTier.
func NewRedisCacheTier(client *redis.Client) *RedisCacheTier {
	return &RedisCacheTier{client: client}
}

func (c *RedisCacheTier) TrySetLock(ctx context.Context, cacheKey string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, cacheKey, cacheLockPlaceholder, ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (c *RedisCacheTier) Get(ctx context.Context, cacheKey string) (string, bool, error) {
	value, err := c.client.Get(ctx, cacheKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (c *RedisCacheTier) Set(ctx context.Context, cacheKey string, value string, ttl time.Duration) error {
	return c.client.Set(ctx, cacheKey, value, ttl).Err()
}

func (c *RedisCacheTier) Delete(ctx context.Context, cacheKey string) error {
	return c.client.Del(ctx, cacheKey).Err()
}
