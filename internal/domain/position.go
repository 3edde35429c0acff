package domain

import (
	"math"
	"strings"
	"time"
)

// TradingMode distinguishes the account a wallet trades against.
type TradingMode string

const (
	TradingModePaper   TradingMode = "paper"
	TradingModeTestnet TradingMode = "testnet"
	TradingModeLive    TradingMode = "live"
)

// ParseTradingMode normalises s into a known TradingMode.
func ParseTradingMode(s string) (TradingMode, error) {
	switch m := TradingMode(strings.ToLower(strings.TrimSpace(s))); m {
	case TradingModePaper, TradingModeTestnet, TradingModeLive:
		return m, nil
	default:
		return "", ErrUnknownMode
	}
}

// PositionStatus tracks the lifecycle of a local position record.
type PositionStatus string

const (
	PositionStatusOpen     PositionStatus = "open"
	PositionStatusTrailing PositionStatus = "trailing" // open with an active trailing stop
	PositionStatusClosed   PositionStatus = "closed"
)

// Position is the local record of a position the system believes it holds.
type Position struct {
	ID               string         `json:"id"`
	WalletID         string         `json:"wallet_id"`
	TradingMode      TradingMode    `json:"trading_mode"`
	Symbol           string         `json:"symbol"`
	Side             OrderSide      `json:"side"`
	ExpectedQuantity float64        `json:"expected_quantity"`
	EntryPrice       float64        `json:"entry_price"`
	CurrentPrice     float64        `json:"current_price"`
	Status           PositionStatus `json:"status"`
	Strategy         string         `json:"strategy,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	ClosedAt         *time.Time     `json:"closed_at,omitempty"`
}

// IsActive reports whether the position is a reconciliation candidate.
func (p Position) IsActive() bool {
	return p.Status == PositionStatusOpen || p.Status == PositionStatusTrailing
}

// IsCorrupt reports whether an active position violates the record
// invariants: a symbol must be set and the expected quantity must be positive.
func (p Position) IsCorrupt() bool {
	if !p.IsActive() {
		return false
	}
	if strings.TrimSpace(p.Symbol) == "" {
		return true
	}
	return !(p.ExpectedQuantity > 0) || math.IsInf(p.ExpectedQuantity, 0)
}

// HasValidPrices reports whether both prices are usable for analysis.
func (p Position) HasValidPrices() bool {
	return p.EntryPrice > 0 && p.CurrentPrice > 0 &&
		!math.IsInf(p.CurrentPrice, 0) && !math.IsNaN(p.CurrentPrice) &&
		!math.IsInf(p.EntryPrice, 0)
}

// Age returns how long the position has been open as of now.
func (p Position) Age(now time.Time) time.Duration {
	if p.CreatedAt.IsZero() {
		return 0
	}
	return now.Sub(p.CreatedAt)
}
