// Package ratelimit provides a Redis sliding-window limiter shared by every
// API instance.
package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stiffinWanjohi/bulkmail/internal/logging"
)

var log = logging.Component("ratelimit")

const keyPrefix = "bulkmail:ratelimit:"

// Limiter allows at most limit requests per key within a sliding window.
type Limiter struct {
	client *redis.Client
	window time.Duration
}

// New creates a limiter with a one second window.
func New(client *redis.Client) *Limiter {
	return &Limiter{client: client, window: time.Second}
}

// WithWindow returns a copy of the limiter using a different window.
func (l *Limiter) WithWindow(window time.Duration) *Limiter {
	if window < time.Millisecond {
		window = time.Second
	}
	return &Limiter{client: l.client, window: window}
}

// Window returns the limiter's window.
func (l *Limiter) Window() time.Duration {
	return l.window
}

// Allow reports whether one more request for key fits in the window.
// A limit of zero or less is unlimited. Redis errors fail open.
func (l *Limiter) Allow(ctx context.Context, key string, limit int) bool {
	if limit <= 0 {
		return true
	}

	allowed, err := l.allow(ctx, key, limit)
	if err != nil {
		log.Warn("rate limit check failed, allowing request", "key", key, "error", err)
		return true
	}
	return allowed
}

var slidingWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])

	redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

	local count = redis.call('ZCARD', key)
	if count < limit then
		redis.call('ZADD', key, now, now .. '-' .. math.random())
		redis.call('PEXPIRE', key, window + 1000)
		return 1
	end

	return 0
`)

func (l *Limiter) allow(ctx context.Context, key string, limit int) (bool, error) {
	now := time.Now().UnixMilli()
	result, err := slidingWindowScript.Run(ctx, l.client,
		[]string{keyPrefix + key},
		now,
		l.window.Milliseconds(),
		limit,
	).Int()
	if err != nil {
		return false, err
	}
	return result == 1, nil
}

// Current returns the number of requests counted in the current window.
func (l *Limiter) Current(ctx context.Context, key string) (int64, error) {
	now := time.Now().UnixMilli()

	pipe := l.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, keyPrefix+key, "-inf", strconv.FormatInt(now-l.window.Milliseconds(), 10))
	count := pipe.ZCard(ctx, keyPrefix+key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return count.Val(), nil
}

// Reset clears the counter for key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.client.Del(ctx, keyPrefix+key).Err()
}
