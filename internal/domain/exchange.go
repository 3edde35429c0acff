package domain

import (
	"context"
	"time"
)

// ExchangeStateClient is the read-only view of an exchange account.
// Implementations must be safe for concurrent use.
type ExchangeStateClient interface {
	// GetHoldings returns the absolute quantity currently held for symbol.
	GetHoldings(ctx context.Context, symbol string) (float64, error)
	// GetOrderHistory returns orders for symbol created at or after since.
	GetOrderHistory(ctx context.Context, symbol string, since time.Time) ([]OrderRecord, error)
}

// ExchangeProvider resolves the exchange account backing a wallet.
type ExchangeProvider interface {
	ForWallet(walletID string, mode TradingMode) (ExchangeStateClient, error)
}
