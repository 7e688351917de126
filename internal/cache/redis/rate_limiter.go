package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/storeledger/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

var slidingWindow = redis.NewScript(slidingWindowLua)

var _ domain.RateLimiter = (*RateLimiter)(nil)

// RateLimiter keeps one sorted set of request times per key. The script runs
// atomically so concurrent API replicas see a consistent count.
type RateLimiter struct {
	rdb *redis.Client
	now func() time.Time
}

// NewRateLimiter returns a limiter on c.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{rdb: c.Underlying(), now: time.Now}
}

func rateLimitKey(key string) string { return "ratelimit:" + key }

// Take counts one request for key.
func (rl *RateLimiter) Take(ctx context.Context, key string, limit int, window time.Duration) (domain.RateDecision, error) {
	if limit <= 0 {
		return domain.RateDecision{}, fmt.Errorf("redis: rate limit %s: limit must be positive, got %d", key, limit)
	}
	res, err := slidingWindow.Run(ctx, rl.rdb, []string{rateLimitKey(key)},
		rl.now().UnixMicro(), window.Microseconds(), limit).Int64Slice()
	if err != nil {
		return domain.RateDecision{}, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	return decodeDecision(res, limit)
}

// decodeDecision interprets the script's {admitted, count, retry_us} reply.
func decodeDecision(res []int64, limit int) (domain.RateDecision, error) {
	if len(res) != 3 {
		return domain.RateDecision{}, fmt.Errorf("redis: rate limit: want 3 values, got %d", len(res))
	}
	d := domain.RateDecision{
		Allowed:    res[0] == 1,
		Remaining:  max(limit-int(res[1]), 0),
		RetryAfter: time.Duration(res[2]) * time.Microsecond,
	}
	return d, nil
}
