package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avarfc/internal/observability"
)

func setupMiniRedis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return mr
}

func newTestRedisCache(t *testing.T, mr *miniredis.Miniredis) *RedisCache {
	t.Helper()
	c, err := NewRedisCache("redis://"+mr.Addr(), "test:", time.Minute, observability.NopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRedisCache_SetAndGet(t *testing.T) {
	mr := setupMiniRedis(t)
	c := newTestRedisCache(t, mr)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "SANDBOX/RFC_PING", []byte(`{"name":"RFC_PING"}`), 0))

	value, err := c.Get(ctx, "SANDBOX/RFC_PING")
	require.NoError(t, err)
	assert.Equal(t, `{"name":"RFC_PING"}`, string(value))

	assert.True(t, mr.Exists("test:SANDBOX/RFC_PING"))
	assert.Equal(t, time.Minute, mr.TTL("test:SANDBOX/RFC_PING"))
}

func TestRedisCache_Miss(t *testing.T) {
	mr := setupMiniRedis(t)
	c := newTestRedisCache(t, mr)

	_, err := c.Get(context.Background(), "absent")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.Equal(t, int64(1), c.Stats().Misses)
}

func TestRedisCache_Expiry(t *testing.T) {
	mr := setupMiniRedis(t)
	c := newTestRedisCache(t, mr)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Second))
	mr.FastForward(2 * time.Second)

	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisCache_NegativeTTLNeverExpires(t *testing.T) {
	mr := setupMiniRedis(t)
	c := newTestRedisCache(t, mr)

	require.NoError(t, c.Set(context.Background(), "k", []byte("v"), -1))
	assert.Zero(t, mr.TTL("test:k"))
}

func TestRedisCache_DeleteAndExists(t *testing.T) {
	mr := setupMiniRedis(t)
	c := newTestRedisCache(t, mr)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	exists, err := c.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, c.Delete(ctx, "k"))
	exists, err = c.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRedisCache_ServerError(t *testing.T) {
	mr := setupMiniRedis(t)
	c := newTestRedisCache(t, mr)

	mr.SetError("LOADING")
	defer mr.SetError("")

	_, err := c.Get(context.Background(), "k")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCacheMiss)
}

func TestNewRedisCache_Errors(t *testing.T) {
	_, err := NewRedisCache("not-a-url", "p:", time.Minute, observability.NopLogger())
	assert.ErrorContains(t, err, "invalid redis URL")

	mr := setupMiniRedis(t)
	addr := mr.Addr()
	mr.Close()

	_, err = NewRedisCache("redis://"+addr, "p:", time.Minute, observability.NopLogger())
	assert.ErrorContains(t, err, "redis connection failed")
}
