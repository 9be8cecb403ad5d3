package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindow increments the key and starts its TTL on the first hit of a
// window, atomically. Returns {count, pttl}.
var fixedWindow = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisLimiter is a fixed-window limiter shared by every instance. When Redis
// cannot be reached it degrades to the in-process fallback.
type RedisLimiter struct {
	client   redis.UniversalClient
	prefix   string
	fallback *MemoryLimiter
	log      *slog.Logger
	now      func() time.Time
}

func NewRedisLimiter(client redis.UniversalClient, fallback *MemoryLimiter, log *slog.Logger) *RedisLimiter {
	if fallback == nil {
		fallback = NewMemoryLimiter()
	}
	if log == nil {
		log = slog.Default()
	}

	return &RedisLimiter{
		client:   client,
		prefix:   "ratelimit:",
		fallback: fallback,
		log:      log,
		now:      time.Now,
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, max int, window time.Duration) (Decision, error) {
	now := l.now()

	if max <= 0 || window <= 0 {
		return Decision{Allowed: true, ResetAt: now}, nil
	}

	count, ttl, err := l.incr(ctx, key, window)
	if err != nil {
		l.log.WarnContext(ctx, "ratelimit.redis_unavailable",
			"key", key,
			"err", err,
		)
		return l.fallback.Allow(ctx, key, max, window)
	}

	if ttl > window {
		ttl = window
	}
	resetAt := now.Add(ttl)

	if count > int64(max) {
		return Decision{Allowed: false, Remaining: 0, ResetAt: resetAt}, nil
	}

	return Decision{
		Allowed:   true,
		Remaining: max - int(count),
		ResetAt:   resetAt,
	}, nil
}

func (l *RedisLimiter) incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	res, err := fixedWindow.Run(ctx, l.client, []string{l.prefix + key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("redis ratelimit script: %w", err)
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("redis ratelimit script: unexpected reply length %d", len(res))
	}

	return res[0], time.Duration(res[1]) * time.Millisecond, nil
}
