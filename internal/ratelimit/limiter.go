// Package ratelimit guards the authentication entry points with a per-key
// sliding-window attempt counter. The limiter is injected as an interface so
// a different implementation can replace it under horizontal scaling.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Result is the outcome of one admission check.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration // set when not allowed, derived from window reset
}

// Limiter admits or rejects an attempt for a key (typically a source IP).
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
	// Reset clears the counter, e.g. after a successful login.
	Reset(ctx context.Context, key string) error
}

// RedisLimiter records attempt timestamps per key in a Redis sorted set and
// counts only those inside the trailing window. The window slides with each
// attempt, so a burst straddling a boundary cannot double the budget the way
// a fixed window anchored at the first attempt would.
type RedisLimiter struct {
	client *redis.Client
	window time.Duration
	max    int
	now    func() time.Time
}

// NewRedisLimiter creates a limiter with the given window and attempt budget.
func NewRedisLimiter(client *redis.Client, window time.Duration, max int) *RedisLimiter {
	return &RedisLimiter{client: client, window: window, max: max, now: time.Now}
}

func (l *RedisLimiter) key(k string) string { return "auth:ratelimit:" + k }

// Allow records one attempt and reports whether it is within budget. Rejected
// attempts are recorded too, so hammering a blocked key extends the block.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	rkey := l.key(key)
	now := l.now()
	cutoff := now.Add(-l.window)

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, rkey, "-inf", strconv.FormatInt(cutoff.UnixNano(), 10))
	pipe.ZAdd(ctx, rkey, redis.Z{Score: float64(now.UnixNano()), Member: uuid.NewString()})
	card := pipe.ZCard(ctx, rkey)
	pipe.Expire(ctx, rkey, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, fmt.Errorf("rate limiter unavailable: %w", err)
	}

	count := int(card.Val())
	if count > l.max {
		return Result{Allowed: false, RetryAfter: l.retryAfter(ctx, rkey, now, count)}, nil
	}
	return Result{Allowed: true, Remaining: l.max - count}, nil
}

// retryAfter reports how long until enough of the oldest attempts age out of
// the window to bring the key back under budget.
func (l *RedisLimiter) retryAfter(ctx context.Context, rkey string, now time.Time, count int) time.Duration {
	idx := int64(count - l.max - 1)
	entries, err := l.client.ZRangeWithScores(ctx, rkey, idx, idx).Result()
	if err != nil || len(entries) != 1 {
		return l.window
	}
	oldest := time.Unix(0, int64(entries[0].Score))
	retryAfter := oldest.Add(l.window).Sub(now)
	if retryAfter <= 0 {
		return time.Second
	}
	return retryAfter
}

// Reset clears the counter for a key.
func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, l.key(key)).Err(); err != nil {
		return fmt.Errorf("rate limiter unavailable: %w", err)
	}
	return nil
}
