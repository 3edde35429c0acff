package exchange

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/reconbot/internal/domain"
)

// Cached serves holdings from a HoldingsCache and falls through to the
// wrapped client on a miss. Order history is never cached.
type Cached struct {
	inner  domain.ExchangeStateClient
	cache  domain.HoldingsCache
	scope  string
	ttl    time.Duration
	logger *slog.Logger
}

// NewCached wraps inner. scope namespaces cache keys per account.
func NewCached(inner domain.ExchangeStateClient, cache domain.HoldingsCache, scope string, ttl time.Duration, logger *slog.Logger) *Cached {
	return &Cached{
		inner:  inner,
		cache:  cache,
		scope:  scope,
		ttl:    ttl,
		logger: logger,
	}
}

// GetHoldings implements domain.ExchangeStateClient. Cache errors other than a
// miss are logged and the exchange is queried directly.
func (c *Cached) GetHoldings(ctx context.Context, symbol string) (float64, error) {
	key := c.scope + "/" + strings.ToUpper(symbol)

	qty, err := c.cache.GetHolding(ctx, key)
	if err == nil {
		return qty, nil
	}
	if !errors.Is(err, domain.ErrCacheMiss) {
		c.logger.WarnContext(ctx, "holdings cache read failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}

	qty, err = c.inner.GetHoldings(ctx, symbol)
	if err != nil {
		return 0, err
	}
	if err := c.cache.SetHolding(ctx, key, qty, c.ttl); err != nil {
		c.logger.WarnContext(ctx, "holdings cache write failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
	return qty, nil
}

// GetOrderHistory implements domain.ExchangeStateClient.
func (c *Cached) GetOrderHistory(ctx context.Context, symbol string, since time.Time) ([]domain.OrderRecord, error) {
	return c.inner.GetOrderHistory(ctx, symbol, since)
}

var _ domain.ExchangeStateClient = (*Cached)(nil)
