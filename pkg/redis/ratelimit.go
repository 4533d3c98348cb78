package redis

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// slidingWindowScript trims the window, counts it, and records the request
// only when there is room. It returns {allowed, count, oldestMillis}.
// KEYS[1]=set key, ARGV[1]=now ms, ARGV[2]=window ms, ARGV[3]=member, ARGV[4]=limit
const slidingWindowScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[4])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)

if count < limit then
  redis.call('ZADD', key, now, ARGV[3])
  redis.call('PEXPIRE', key, window)
  return {1, count + 1, 0}
end

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
return {0, count, tonumber(oldest[2])}
`

// SlidingWindowAllow records one request for scope when fewer than limit
// requests happened during the trailing window. When refused, retryAfter is
// the time until the oldest recorded request leaves the window.
func (c *Client) SlidingWindowAllow(ctx context.Context, scope string, limit int, window time.Duration, now time.Time) (bool, time.Duration, error) {
	if c.store == nil {
		return false, 0, errors.New("redis client not initialized")
	}
	nowMs := now.UnixMilli()
	member := fmt.Sprintf("%d-%d", nowMs, now.UnixNano())
	res, err := c.store.Eval(ctx, slidingWindowScript, []string{c.RateLimitKey(scope)},
		nowMs, window.Milliseconds(), member, limit).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("sliding window eval: %w", err)
	}
	if len(res) != 3 {
		return false, 0, fmt.Errorf("sliding window eval: unexpected reply %v", res)
	}
	if res[0] == 1 {
		return true, 0, nil
	}
	retryAfter := time.Duration(res[2]+window.Milliseconds()-nowMs) * time.Millisecond
	if retryAfter < 0 {
		retryAfter = 0
	}
	return false, retryAfter, nil
}

// WindowLimiter adapts SlidingWindowAllow to a fixed scope.
type WindowLimiter struct {
	client *Client
	scope  string
	limit  int
	window time.Duration
}

func (c *Client) NewWindowLimiter(scope string, limit int, window time.Duration) *WindowLimiter {
	return &WindowLimiter{client: c, scope: scope, limit: limit, window: window}
}

func (l *WindowLimiter) Allow(ctx context.Context, now time.Time) (bool, time.Duration, error) {
	return l.client.SlidingWindowAllow(ctx, l.scope, l.limit, l.window, now)
}
