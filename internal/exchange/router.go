// Package exchange resolves the exchange account behind a wallet and trading
// mode, with optional short-lived caching of holdings.
package exchange

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/reconbot/internal/domain"
	"github.com/alanyoungcy/reconbot/internal/exchange/paper"
)

type accountKey struct {
	walletID string
	mode     domain.TradingMode
}

// Router implements domain.ExchangeProvider. Live and testnet accounts are
// registered per mode, optionally overridden per wallet. Paper accounts are
// built on demand from the fill ledger.
type Router struct {
	ledger   domain.FillLedger
	cache    domain.HoldingsCache
	cacheTTL time.Duration
	logger   *slog.Logger

	mu       sync.RWMutex
	byMode   map[domain.TradingMode]domain.ExchangeStateClient
	byWallet map[accountKey]domain.ExchangeStateClient
	resolved map[accountKey]domain.ExchangeStateClient
}

// NewRouter creates a Router. ledger may be nil, in which case paper mode has
// no exchange.
func NewRouter(ledger domain.FillLedger, logger *slog.Logger) *Router {
	return &Router{
		ledger:   ledger,
		logger:   logger.With(slog.String("component", "exchange_router")),
		byMode:   make(map[domain.TradingMode]domain.ExchangeStateClient),
		byWallet: make(map[accountKey]domain.ExchangeStateClient),
		resolved: make(map[accountKey]domain.ExchangeStateClient),
	}
}

// WithHoldingsCache wraps every resolved client so holdings are served from
// cache for ttl.
func (r *Router) WithHoldingsCache(cache domain.HoldingsCache, ttl time.Duration) *Router {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = cache
	r.cacheTTL = ttl
	r.resolved = make(map[accountKey]domain.ExchangeStateClient)
	return r
}

// Register sets the default client for mode.
func (r *Router) Register(mode domain.TradingMode, client domain.ExchangeStateClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byMode[mode] = client
	r.resolved = make(map[accountKey]domain.ExchangeStateClient)
}

// RegisterWallet sets the client for one wallet, overriding the mode default.
func (r *Router) RegisterWallet(walletID string, mode domain.TradingMode, client domain.ExchangeStateClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := accountKey{walletID, mode}
	r.byWallet[key] = client
	delete(r.resolved, key)
}

// ForWallet implements domain.ExchangeProvider.
func (r *Router) ForWallet(walletID string, mode domain.TradingMode) (domain.ExchangeStateClient, error) {
	key := accountKey{walletID, mode}

	r.mu.RLock()
	c, ok := r.resolved[key]
	r.mu.RUnlock()
	if ok {
		return c, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.resolved[key]; ok {
		return c, nil
	}

	c, ok = r.byWallet[key]
	if !ok {
		c, ok = r.byMode[mode]
	}
	if !ok && mode == domain.TradingModePaper && r.ledger != nil {
		c, ok = paper.NewAccount(r.ledger, walletID, mode), true
	}
	if !ok {
		return nil, fmt.Errorf("exchange: %s/%s: %w", walletID, mode, domain.ErrNoExchange)
	}

	if r.cache != nil && r.cacheTTL > 0 {
		c = NewCached(c, r.cache, walletID+"/"+string(mode), r.cacheTTL, r.logger)
	}
	r.resolved[key] = c
	return c, nil
}

var _ domain.ExchangeProvider = (*Router)(nil)
