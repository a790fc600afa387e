package impl

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTTLCacheWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	cache := NewTTLCacheService(client, testLogger())
	ctx := context.Background()

	_, ok := cache.Get(ctx, "classify:abc")
	assert.False(t, ok)

	cache.Set(ctx, "classify:abc", "code_gen|medium", time.Minute)

	value, ok := cache.Get(ctx, "classify:abc")
	require.True(t, ok)
	assert.Equal(t, "code_gen|medium", value)

	mr.FastForward(2 * time.Minute)
	_, ok = cache.Get(ctx, "classify:abc")
	assert.False(t, ok, "expired keys must not be served")
}

func TestTTLCacheMemoryFallback(t *testing.T) {
	cache := NewTTLCacheService(nil, testLogger())
	ctx := context.Background()

	cache.Set(ctx, "k", "v", time.Minute)
	value, ok := cache.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "v", value)

	cache.Set(ctx, "stale", "v", time.Nanosecond)
	time.Sleep(5 * time.Millisecond)
	_, ok = cache.Get(ctx, "stale")
	assert.False(t, ok)
}

func TestTTLCacheRedisDownDegradesToMemory(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	cache := NewTTLCacheService(client, testLogger())
	ctx := context.Background()

	mr.Close()

	cache.Set(ctx, "k", "v", time.Minute)
	value, ok := cache.Get(ctx, "k")
	require.True(t, ok, "cache must keep working when redis is unreachable")
	assert.Equal(t, "v", value)
}

func TestTTLCacheZeroTTLIsNotStored(t *testing.T) {
	cache := NewTTLCacheService(nil, testLogger())
	ctx := context.Background()

	cache.Set(ctx, "k", "v", 0)
	_, ok := cache.Get(ctx, "k")
	assert.False(t, ok)
}
