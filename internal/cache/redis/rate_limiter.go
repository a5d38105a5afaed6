package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/moonbot/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// admitLua keeps a sorted set of request timestamps (microseconds) per key.
// It returns {1, 0} when the request is admitted and {0, retry} otherwise,
// where retry is how long until the oldest request leaves the window.
const admitLua = `
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', KEYS[1], 0, now - window)
if redis.call('ZCARD', KEYS[1]) < limit then
    redis.call('ZADD', KEYS[1], now, ARGV[4])
    redis.call('PEXPIRE', KEYS[1], math.ceil(window / 1000))
    return {1, 0}
end
local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
return {0, tonumber(oldest[2]) + window - now}
`

// minBackoff stops Wait from spinning when the window is about to open.
const minBackoff = time.Millisecond

// RateLimiter is a sliding-window domain.RateLimiter shared by every process
// on the same Redis. The executor keys it by wallet, the API by client IP.
type RateLimiter struct {
	rdb    *redis.Client
	client *Client
	admit  *redis.Script
}

func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{rdb: c.Underlying(), client: c, admit: redis.NewScript(admitLua)}
}

// try records the request if there is room and otherwise reports how long
// until there will be.
func (rl *RateLimiter) try(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	res, err := rl.admit.Run(ctx, rl.rdb,
		[]string{rl.client.Key("ratelimit", key)},
		time.Now().UnixMicro(), window.Microseconds(), limit, uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("redis: rate limit %s: malformed reply %v", key, res)
	}
	return res[0] == 1, time.Duration(res[1]) * time.Microsecond, nil
}

func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	ok, _, err := rl.try(ctx, key, limit, window)
	return ok, err
}

// Wait blocks until the request is admitted or ctx ends.
func (rl *RateLimiter) Wait(ctx context.Context, key string, limit int, window time.Duration) error {
	for {
		ok, retry, err := rl.try(ctx, key, limit, window)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		retry = min(max(retry, minBackoff), window)

		t := time.NewTimer(retry)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("redis: rate limit wait %s: %w", key, ctx.Err())
		case <-t.C:
		}
	}
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
