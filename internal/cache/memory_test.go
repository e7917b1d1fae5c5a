package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avarfc/internal/observability"
)

func newTestMemoryCache(t *testing.T, maxEntries int, ttl time.Duration) *MemoryCache {
	t.Helper()
	c := NewMemoryCache(maxEntries, ttl, observability.NopLogger())
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestMemoryCache_SetAndGet(t *testing.T) {
	c := newTestMemoryCache(t, 100, 5*time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "key1", []byte("value1"), time.Minute))

	value, err := c.Get(ctx, "key1")
	require.NoError(t, err)
	assert.Equal(t, []byte("value1"), value)
}

func TestMemoryCache_Get_Miss(t *testing.T) {
	c := newTestMemoryCache(t, 100, 5*time.Minute)

	_, err := c.Get(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryCache_Get_Expired(t *testing.T) {
	c := newTestMemoryCache(t, 100, 5*time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "key1", []byte("value1"), 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	_, err := c.Get(ctx, "key1")
	assert.ErrorIs(t, err, ErrCacheMiss)

	exists, err := c.Exists(ctx, "key1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMemoryCache_NegativeTTLNeverExpires(t *testing.T) {
	c := newTestMemoryCache(t, 100, time.Millisecond)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "forever", []byte("v"), -1))
	require.NoError(t, c.Set(ctx, "default", []byte("v"), 0))
	time.Sleep(10 * time.Millisecond)

	_, err := c.Get(ctx, "forever")
	assert.NoError(t, err)
	_, err = c.Get(ctx, "default")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := newTestMemoryCache(t, 2, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), 0))

	_, err := c.Get(ctx, "a")
	require.NoError(t, err)

	require.NoError(t, c.Set(ctx, "c", []byte("3"), 0))

	_, err = c.Get(ctx, "b")
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = c.Get(ctx, "a")
	assert.NoError(t, err)
	_, err = c.Get(ctx, "c")
	assert.NoError(t, err)
	assert.Equal(t, int64(2), c.Stats().Size)
}

func TestMemoryCache_OverwriteKeepsSize(t *testing.T) {
	c := newTestMemoryCache(t, 10, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("old"), 0))
	require.NoError(t, c.Set(ctx, "k", []byte("new"), 0))

	value, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), value)
	assert.Equal(t, int64(1), c.Stats().Size)
}

func TestMemoryCache_DeleteAndExists(t *testing.T) {
	c := newTestMemoryCache(t, 10, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	exists, err := c.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, c.Delete(ctx, "k"))
	require.NoError(t, c.Delete(ctx, "k"))

	exists, err = c.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMemoryCache_Stats(t *testing.T) {
	c := newTestMemoryCache(t, 10, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	_, _ = c.Get(ctx, "k")
	_, _ = c.Get(ctx, "k")
	_, _ = c.Get(ctx, "missing")

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 66.66, stats.HitRate(), 0.01)
	assert.Zero(t, Stats{}.HitRate())
}

func TestMemoryCache_Cleanup(t *testing.T) {
	c := newTestMemoryCache(t, 10, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "short", []byte("v"), time.Millisecond))
	require.NoError(t, c.Set(ctx, "long", []byte("v"), time.Hour))
	time.Sleep(5 * time.Millisecond)

	c.cleanup()

	assert.Equal(t, int64(1), c.Stats().Size)
}

func TestMemoryCache_Closed(t *testing.T) {
	c := NewMemoryCache(10, time.Minute, observability.NopLogger())
	ctx := context.Background()

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheClosed)
	assert.ErrorIs(t, c.Set(ctx, "k", []byte("v"), 0), ErrCacheClosed)
}

func TestMemoryCache_Concurrent(t *testing.T) {
	c := newTestMemoryCache(t, 50, time.Minute)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("k%d", (n*j)%80)
				_ = c.Set(ctx, key, []byte("v"), 0)
				_, _ = c.Get(ctx, key)
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Stats().Size, int64(50))
}
