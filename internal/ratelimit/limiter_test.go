package ratelimit

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestMemoryLimiter_AllowsExactlyN(t *testing.T) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	l := NewMemoryLimiter()
	l.now = c.now

	ctx := context.Background()
	key := Key("42", "bulk-email")
	window := 60 * time.Second

	for i := 0; i < 3; i++ {
		d, err := l.Allow(ctx, key, 3, window)
		require.NoError(t, err)
		assert.True(t, d.Allowed, "call %d", i+1)
		assert.Equal(t, 2-i, d.Remaining)
		c.advance(time.Second)
	}

	d, err := l.Allow(ctx, key, 3, window)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.False(t, d.ResetAt.After(c.now().Add(window)))
	assert.Equal(t, time.Unix(1_700_000_000, 0).Add(window), d.ResetAt)
}

func TestMemoryLimiter_SlidesWindow(t *testing.T) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	l := NewMemoryLimiter()
	l.now = c.now

	ctx := context.Background()

	d, _ := l.Allow(ctx, "k", 1, time.Minute)
	require.True(t, d.Allowed)

	c.advance(59 * time.Second)
	d, _ = l.Allow(ctx, "k", 1, time.Minute)
	assert.False(t, d.Allowed)

	c.advance(time.Second)
	d, _ = l.Allow(ctx, "k", 1, time.Minute)
	assert.True(t, d.Allowed)
}

func TestMemoryLimiter_KeysAreIndependent(t *testing.T) {
	l := NewMemoryLimiter()
	ctx := context.Background()

	a, _ := l.Allow(ctx, Key("1", "bulk-email"), 1, time.Minute)
	b, _ := l.Allow(ctx, Key("2", "bulk-email"), 1, time.Minute)

	assert.True(t, a.Allowed)
	assert.True(t, b.Allowed)
}

func TestMemoryLimiter_ConcurrentSameKey(t *testing.T) {
	l := NewMemoryLimiter()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := l.Allow(ctx, "shared", 5, time.Minute)
			if err == nil && d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, allowed)
}

func TestMemoryLimiter_Sweep(t *testing.T) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	l := NewMemoryLimiter()
	l.now = c.now

	_, _ = l.Allow(context.Background(), "old", 1, time.Minute)
	c.advance(2 * time.Minute)
	_, _ = l.Allow(context.Background(), "fresh", 1, time.Minute)

	assert.Equal(t, 1, l.Sweep(time.Minute))
}

func TestRedisLimiter_FallsBackWhenUnavailable(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer rdb.Close()

	l := NewRedisLimiter(rdb, nil, nil)
	ctx := context.Background()

	d, err := l.Allow(ctx, "k", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = l.Allow(ctx, "k", 1, time.Minute)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestRedisLimiter_FixedWindow(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()

	l := NewRedisLimiter(rdb, nil, nil)
	ctx := context.Background()
	key := "test:" + time.Now().Format(time.RFC3339Nano)
	window := 10 * time.Second

	for i := 0; i < 2; i++ {
		d, err := l.Allow(ctx, key, 2, window)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}

	d, err := l.Allow(ctx, key, 2, window)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.False(t, d.ResetAt.After(time.Now().Add(window)))
}
