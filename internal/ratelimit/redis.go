package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter is a fixed-window limiter shared by every API instance. Each
// window is one counter key that expires shortly after the window ends.
type RedisLimiter struct {
	client *redis.Client
	prefix string
}

// NewRedisLimiter constructs a RedisLimiter.
func NewRedisLimiter(client *redis.Client, prefix string) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: strings.Trim(strings.TrimSpace(prefix), ":")}
}

// Allow counts one hit for key and reports whether it fits in limit.
func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Result, error) {
	if l == nil || l.client == nil || limit <= 0 || key == "" {
		return allowAll(), nil
	}
	start, reset := windowBounds(now, window)
	counterKey := l.counterKey(key, start)

	var hits *redis.IntCmd
	_, errExec := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		hits = pipe.Incr(ctx, counterKey)
		pipe.Expire(ctx, counterKey, reset.Sub(now)+time.Second)
		return nil
	})
	if errExec != nil {
		return Result{}, fmt.Errorf("rate limit redis: %w", errExec)
	}
	return verdict(hits.Val(), limit, now, reset), nil
}

func (l *RedisLimiter) counterKey(key string, start time.Time) string {
	stamp := strconv.FormatInt(start.Unix(), 10)
	if l.prefix == "" {
		return key + ":" + stamp
	}
	return l.prefix + ":" + key + ":" + stamp
}
