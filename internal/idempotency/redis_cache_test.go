package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestCacheTier starts an in-process miniredis instance so the Redis
// accelerator tier can be exercised without a live server, matching the
// pack's general miniredis-for-unit-tests idiom.
func newTestCacheTier(t *testing.T) *RedisCacheTier {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCacheTier(client)
}

func TestRedisCacheTierTrySetLockOnlyOnce(t *testing.T) {
	cache := newTestCacheTier(t)
	ctx := context.Background()

	ok, err := cache.TrySetLock(ctx, "idem:tenant-a:POST /v1/orders:key-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "first SETNX acquires the lock")

	ok, err = cache.TrySetLock(ctx, "idem:tenant-a:POST /v1/orders:key-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second SETNX finds the key already held")
}

func TestRedisCacheTierGetMissReturnsNotFound(t *testing.T) {
	cache := newTestCacheTier(t)

	_, found, err := cache.Get(context.Background(), "idem:tenant-a:POST /v1/orders:missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisCacheTierSetThenGetRoundTrips(t *testing.T) {
	cache := newTestCacheTier(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "idem:tenant-a:k", `{"status":201}`, time.Minute))

	value, found, err := cache.Get(ctx, "idem:tenant-a:k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, `{"status":201}`, value)
}

func TestRedisCacheTierDeleteAllowsReacquire(t *testing.T) {
	cache := newTestCacheTier(t)
	ctx := context.Background()

	ok, err := cache.TrySetLock(ctx, "idem:tenant-a:k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, cache.Delete(ctx, "idem:tenant-a:k"))

	ok, err = cache.TrySetLock(ctx, "idem:tenant-a:k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "delete releases the key so a retry can re-acquire it")
}

func TestRedisCacheTierRespectsTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := NewRedisCacheTier(client)
	ctx := context.Background()

	ok, err := cache.TrySetLock(ctx, "idem:tenant-a:k", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	ok, err = cache.TrySetLock(ctx, "idem:tenant-a:k", time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "lock expired, so it can be re-acquired")
}
