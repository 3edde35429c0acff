// Package paper simulates an exchange account from fills recorded in the
// local store.
package paper

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/alanyoungcy/reconbot/internal/domain"
)

// Account implements domain.ExchangeStateClient for one paper wallet.
// Holdings are the net of recorded fills, and every fill is reported as a
// filled order.
type Account struct {
	ledger   domain.FillLedger
	walletID string
	mode     domain.TradingMode
}

// NewAccount creates a paper Account scoped to walletID and mode.
func NewAccount(ledger domain.FillLedger, walletID string, mode domain.TradingMode) *Account {
	return &Account{ledger: ledger, walletID: walletID, mode: mode}
}

// GetHoldings implements domain.ExchangeStateClient.
func (a *Account) GetHoldings(ctx context.Context, symbol string) (float64, error) {
	net, err := a.ledger.NetQuantity(ctx, a.walletID, a.mode, symbol)
	if err != nil {
		return 0, fmt.Errorf("paper: holdings %s: %w", symbol, err)
	}
	return math.Abs(net), nil
}

// GetOrderHistory implements domain.ExchangeStateClient.
func (a *Account) GetOrderHistory(ctx context.Context, symbol string, since time.Time) ([]domain.OrderRecord, error) {
	trades, err := a.ledger.ListTrades(ctx, a.walletID, a.mode, symbol, since)
	if err != nil {
		return nil, fmt.Errorf("paper: order history %s: %w", symbol, err)
	}
	out := make([]domain.OrderRecord, 0, len(trades))
	for _, t := range trades {
		out = append(out, domain.OrderRecord{
			OrderID:          t.ID,
			Symbol:           t.Symbol,
			Side:             t.Side,
			Status:           domain.OrderStatusFilled,
			Price:            t.Price,
			ExecutedQuantity: t.Quantity,
			CreatedAt:        t.ExecutedAt,
		})
	}
	return out, nil
}

var _ domain.ExchangeStateClient = (*Account)(nil)
