package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisstore "juninpagos/backend/internal/storage/redis"
)

func TestMemoryStore_FixedWindow(t *testing.T) {
	store := NewMemoryStore(1000)
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	limiter := New(store, 5, time.Minute)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		res, err := limiter.Check(ctx, "1.2.3.4")
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d", i+1)
		assert.Equal(t, 4-i, res.Remaining)
		now = now.Add(2 * time.Second)
	}

	res, err := limiter.Check(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.LessOrEqual(t, res.ResetInMillis(), int64(60000))
	assert.Equal(t, 50*time.Second, res.ResetIn)
	assert.Equal(t, int64(50), res.ResetInSeconds())

	// other keys are independent
	res, err = limiter.Check(ctx, "5.6.7.8")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	now = now.Add(61 * time.Second)
	res, err = limiter.Check(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, res.Allowed, "window elapsed")
	assert.Equal(t, 4, res.Remaining)
	assert.Equal(t, time.Minute, res.ResetIn)
}

func TestMemoryStore_SweepsAboveThreshold(t *testing.T) {
	store := NewMemoryStore(3)
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := store.Take(ctx, fmt.Sprintf("ip-%d", i), 5, time.Minute)
		require.NoError(t, err)
	}
	assert.Equal(t, 4, store.Len())

	now = now.Add(2 * time.Minute)
	_, err := store.Take(ctx, "fresh", 5, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, store.Len(), "expired entries swept once over threshold")
}

func TestMemoryStore_ConcurrentSameKey(t *testing.T) {
	limiter := New(NewMemoryStore(1000), 5, time.Minute)
	ctx := context.Background()

	var allowed int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := limiter.Check(ctx, "same")
			if err == nil && res.Allowed {
				atomic.AddInt64(&allowed, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(5), allowed)
}

func TestRedisStore_FixedWindow(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redisstore.Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}), nil)
	defer client.Close()

	limiter := New(NewRedisStore(client, "test:"), 5, time.Minute)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		res, err := limiter.Check(ctx, "1.2.3.4")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 4-i, res.Remaining)
	}

	res, err := limiter.Check(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.LessOrEqual(t, res.ResetIn, time.Minute)

	mr.FastForward(time.Minute + time.Second)

	res, err = limiter.Check(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 4, res.Remaining)
}
