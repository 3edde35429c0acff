package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/reconbot/internal/domain"
)

// HoldingsCache implements domain.HoldingsCache with plain string keys that
// expire after the caller's TTL.
type HoldingsCache struct {
	c *Client
}

// NewHoldingsCache creates a HoldingsCache backed by the given Client.
func NewHoldingsCache(c *Client) *HoldingsCache {
	return &HoldingsCache{c: c}
}

// SetHolding caches qty under key for ttl.
func (hc *HoldingsCache) SetHolding(ctx context.Context, key string, qty float64, ttl time.Duration) error {
	val := strconv.FormatFloat(qty, 'f', -1, 64)
	if err := hc.c.rdb.Set(ctx, hc.c.Key("holdings", key), val, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set holding %s: %w", key, err)
	}
	return nil
}

// GetHolding returns the cached quantity or domain.ErrCacheMiss.
func (hc *HoldingsCache) GetHolding(ctx context.Context, key string) (float64, error) {
	val, err := hc.c.rdb.Get(ctx, hc.c.Key("holdings", key)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, domain.ErrCacheMiss
	}
	if err != nil {
		return 0, fmt.Errorf("redis: get holding %s: %w", key, err)
	}
	qty, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("redis: parse holding %s: %w", key, err)
	}
	return qty, nil
}

var _ domain.HoldingsCache = (*HoldingsCache)(nil)
