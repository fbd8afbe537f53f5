package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindow counts requests per key in a window that starts with the first
// request. Runs as one script so concurrent requests can't interleave.
// Returns {allowed, remaining, reset_unix}.
var fixedWindow = redis.NewScript(`
	local key = KEYS[1]
	local max_requests = tonumber(ARGV[1])
	local window = tonumber(ARGV[2])
	local now = tonumber(ARGV[3])

	local current = redis.call('GET', key)
	if current == false then
		redis.call('SET', key, 1, 'EX', window)
		return {1, max_requests - 1, now + window}
	end

	current = tonumber(current)
	local ttl = redis.call('TTL', key)
	if ttl < 0 then
		ttl = window
		redis.call('EXPIRE', key, window)
	end

	if current < max_requests then
		redis.call('INCR', key)
		return {1, max_requests - current - 1, now + ttl}
	end
	return {0, 0, now + ttl}
`)

// RateLimiter limits requests per client key using Redis, so every server
// instance shares the same counters.
type RateLimiter struct {
	client      *redis.Client
	maxRequests int
	window      time.Duration
	now         func() time.Time
}

// NewRateLimiter allows maxRequests per window for each key.
func NewRateLimiter(client *redis.Client, maxRequests int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client:      client,
		maxRequests: maxRequests,
		window:      window,
		now:         time.Now,
	}
}

// Allow records one request for key and reports whether it may proceed.
func (rl *RateLimiter) Allow(ctx context.Context, key string) (bool, int, time.Time, error) {
	windowSeconds := int(rl.window.Seconds())
	if windowSeconds < 1 {
		windowSeconds = 1
	}

	result, err := fixedWindow.Run(
		ctx,
		rl.client,
		[]string{redisKey(key)},
		rl.maxRequests,
		windowSeconds,
		rl.now().Unix(),
	).Int64Slice()
	if err != nil {
		return false, 0, time.Time{}, fmt.Errorf("rate limit check failed: %w", err)
	}

	if len(result) != 3 {
		return false, 0, time.Time{}, fmt.Errorf("unexpected rate limit result: %v", result)
	}

	return result[0] == 1, int(result[1]), time.Unix(result[2], 0), nil
}

// MaxRequests returns the maximum number of requests allowed per window.
func (rl *RateLimiter) MaxRequests() int {
	return rl.maxRequests
}

func redisKey(key string) string {
	return "ratelimit:" + key
}
