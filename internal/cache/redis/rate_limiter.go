package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/reconbot/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

// maxWaitStep bounds a single Wait sleep so cancellation and clock skew
// between replicas are picked up promptly.
const maxWaitStep = 2 * time.Second

// RateLimiter is a sliding-window limiter shared by every replica. Wait
// paces exchange calls against one account budget; Allow guards the manual
// trigger endpoint.
type RateLimiter struct {
	c          *Client
	script     *redis.Script
	waitLimit  int
	waitWindow time.Duration
	now        func() time.Time
}

// NewRateLimiter creates a RateLimiter whose Wait admits waitLimit calls per
// waitWindow. Non-positive values mean one call per second.
func NewRateLimiter(c *Client, waitLimit int, waitWindow time.Duration) *RateLimiter {
	if waitLimit <= 0 || waitWindow <= 0 {
		waitLimit, waitWindow = 1, time.Second
	}
	return &RateLimiter{
		c:          c,
		script:     redis.NewScript(slidingWindowLua),
		waitLimit:  waitLimit,
		waitWindow: waitWindow,
		now:        time.Now,
	}
}

// Allow reports whether a request for key fits in the window, counting it
// when it does.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	ok, _, err := rl.take(ctx, key, limit, window)
	return ok, err
}

// Wait blocks until a call for key is admitted or ctx is done, sleeping for
// the interval the window reports rather than polling.
func (rl *RateLimiter) Wait(ctx context.Context, key string) error {
	for {
		ok, wait, err := rl.take(ctx, key, rl.waitLimit, rl.waitWindow)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		timer := time.NewTimer(min(wait, maxWaitStep))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("redis: rate limit wait %s: %w", key, ctx.Err())
		case <-timer.C:
		}
	}
}

// take runs one sliding-window step. wait is set only when denied.
func (rl *RateLimiter) take(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	res, err := rl.script.Run(ctx, rl.c.rdb,
		[]string{rl.c.Key("ratelimit", key)},
		rl.now().UnixMicro(), window.Microseconds(), limit,
	).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("redis: rate limit %s: unexpected reply %v", key, res)
	}
	if res[0] == 1 {
		return true, 0, nil
	}
	return false, time.Duration(res[1]) * time.Microsecond, nil
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
