/**
 * @description
 * Redis-backed fixed-window rate limiter for multi-instance deployments. The
 * INCR + PEXPIRE pair runs as one Lua script so the counter update is atomic
 * across processes.
 */
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RedisRateLimiter implements RateLimiter on top of Redis.
type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisRateLimiter creates a distributed fixed-window limiter.
func NewRedisRateLimiter(client redis.UniversalClient, prefix string) *RedisRateLimiter {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "clinio:rate_limit"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")

	return &RedisRateLimiter{client: client, prefix: trimmedPrefix}
}

// CheckAndConsume implements RateLimiter.
func (l *RedisRateLimiter) CheckAndConsume(ctx context.Context, key string, max int, window time.Duration) (Decision, error) {
	now := time.Now()
	if l == nil || l.client == nil || max <= 0 || window <= 0 {
		return Decision{Allowed: true, ResetAt: now}, nil
	}

	windowMs := window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}

	redisKey := fmt.Sprintf("%s:%s", l.prefix, key)
	rawResult, err := fixedWindowScript.Run(ctx, l.client, []string{redisKey}, windowMs).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit script: %w", err)
	}

	values, ok := rawResult.([]interface{})
	if !ok || len(values) != 2 {
		return Decision{}, fmt.Errorf("unexpected redis limiter response shape: %T", rawResult)
	}
	count, ok := values[0].(int64)
	if !ok {
		return Decision{}, fmt.Errorf("unexpected redis limiter count type: %T", values[0])
	}
	ttlMs, ok := values[1].(int64)
	if !ok {
		return Decision{}, fmt.Errorf("unexpected redis limiter ttl type: %T", values[1])
	}
	if ttlMs < 0 {
		ttlMs = windowMs
	}

	resetAt := now.Add(time.Duration(ttlMs) * time.Millisecond)
	if count > int64(max) {
		return Decision{Allowed: false, Remaining: 0, ResetAt: resetAt}, nil
	}
	remaining := max - int(count)
	return Decision{Allowed: true, Remaining: remaining, ResetAt: resetAt}, nil
}
