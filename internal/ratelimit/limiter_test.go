package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, window time.Duration, max int) (*miniredis.Miniredis, *RedisLimiter) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, NewRedisLimiter(client, window, max)
}

func TestLimiterAllowsWithinBudget(t *testing.T) {
	_, limiter := newTestLimiter(t, 15*time.Minute, 5)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		res, err := limiter.Allow(ctx, "198.51.100.1")
		require.NoError(t, err)
		assert.True(t, res.Allowed, "attempt %d should be admitted", i+1)
		assert.Equal(t, 4-i, res.Remaining)
	}
}

func TestLimiterBlocksOverBudget(t *testing.T) {
	_, limiter := newTestLimiter(t, 15*time.Minute, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := limiter.Allow(ctx, "198.51.100.1")
		require.NoError(t, err)
	}

	res, err := limiter.Allow(ctx, "198.51.100.1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Greater(t, res.RetryAfter, time.Duration(0), "retry-after derives from window reset")
	assert.LessOrEqual(t, res.RetryAfter, 15*time.Minute)
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	_, limiter := newTestLimiter(t, 15*time.Minute, 1)
	ctx := context.Background()

	_, err := limiter.Allow(ctx, "198.51.100.1")
	require.NoError(t, err)
	blocked, err := limiter.Allow(ctx, "198.51.100.1")
	require.NoError(t, err)
	assert.False(t, blocked.Allowed)

	other, err := limiter.Allow(ctx, "198.51.100.2")
	require.NoError(t, err)
	assert.True(t, other.Allowed, "a different source address has its own budget")
}

func TestLimiterWindowSlides(t *testing.T) {
	_, limiter := newTestLimiter(t, time.Minute, 2)
	ctx := context.Background()

	base := time.Now()
	at := func(offset time.Duration) {
		limiter.now = func() time.Time { return base.Add(offset) }
	}

	// Two attempts 40s apart fill the budget.
	at(0)
	res, err := limiter.Allow(ctx, "198.51.100.1")
	require.NoError(t, err)
	require.True(t, res.Allowed)
	at(40 * time.Second)
	res, err = limiter.Allow(ctx, "198.51.100.1")
	require.NoError(t, err)
	require.True(t, res.Allowed)

	// 70s in, the first attempt has aged out of the trailing window, so the
	// budget frees up without waiting for a full fresh window.
	at(70 * time.Second)
	res, err = limiter.Allow(ctx, "198.51.100.1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestLimiterRetryAfterTracksOldestAttempt(t *testing.T) {
	_, limiter := newTestLimiter(t, time.Minute, 2)
	ctx := context.Background()

	base := time.Now()
	at := func(offset time.Duration) {
		limiter.now = func() time.Time { return base.Add(offset) }
	}

	at(0)
	_, err := limiter.Allow(ctx, "198.51.100.1")
	require.NoError(t, err)
	at(time.Second)
	_, err = limiter.Allow(ctx, "198.51.100.1")
	require.NoError(t, err)

	// Blocked at 30s: the attempt at t=0 leaves the window at t=60s.
	at(30 * time.Second)
	res, err := limiter.Allow(ctx, "198.51.100.1")
	require.NoError(t, err)
	require.False(t, res.Allowed)
	assert.InDelta(t, (30 * time.Second).Seconds(), res.RetryAfter.Seconds(), 1)
}

func TestLimiterWindowResets(t *testing.T) {
	mr, limiter := newTestLimiter(t, time.Minute, 1)
	ctx := context.Background()

	_, err := limiter.Allow(ctx, "198.51.100.1")
	require.NoError(t, err)
	blocked, err := limiter.Allow(ctx, "198.51.100.1")
	require.NoError(t, err)
	require.False(t, blocked.Allowed)

	mr.FastForward(61 * time.Second)

	res, err := limiter.Allow(ctx, "198.51.100.1")
	require.NoError(t, err)
	assert.True(t, res.Allowed, "counter expires with the window")
}

func TestLimiterReset(t *testing.T) {
	_, limiter := newTestLimiter(t, time.Minute, 1)
	ctx := context.Background()

	_, err := limiter.Allow(ctx, "198.51.100.1")
	require.NoError(t, err)
	require.NoError(t, limiter.Reset(ctx, "198.51.100.1"))

	res, err := limiter.Allow(ctx, "198.51.100.1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}
