package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/reconbot/internal/domain"
)

// Both scripts act only while the key still holds the caller's token.
const (
	releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0`

	renewLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0`
)

// LockManager gives reconbot replicas a shared per-account single-flight
// lock: SET NX with a TTL, renewed while held, released by token.
type LockManager struct {
	c       *Client
	release *redis.Script
	renew   *redis.Script
}

func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		c:       c,
		release: redis.NewScript(releaseLua),
		renew:   redis.NewScript(renewLua),
	}
}

// Acquire takes the lock for key or returns domain.ErrLockHeld. While held,
// the TTL is extended every ttl/3 so a pass slower than ttl keeps it. The
// returned unlock stops renewal and releases; it is idempotent.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lk := lm.c.Key("lock", key)

	ok, err := lm.c.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	stop := make(chan struct{})
	renewed := make(chan struct{})
	go func() {
		defer close(renewed)
		lm.keepAlive(lk, token, ttl, stop)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-renewed
			// The caller's context may already be cancelled.
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = lm.release.Run(rctx, lm.c.rdb, []string{lk}, token).Err()
		})
	}, nil
}

// keepAlive renews the lock until stop closes or the token is gone.
func (lm *LockManager) keepAlive(lk, token string, ttl time.Duration, stop <-chan struct{}) {
	interval := max(ttl/3, 100*time.Millisecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			n, err := lm.renew.Run(ctx, lm.c.rdb, []string{lk}, token, ttl.Milliseconds()).Int64()
			cancel()
			if err == nil && n == 0 {
				return
			}
		}
	}
}

var _ domain.LockManager = (*LockManager)(nil)
