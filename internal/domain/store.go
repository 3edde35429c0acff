package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionStore is the local position store the reconciler works against.
type PositionStore interface {
	ListOpenPositions(ctx context.Context, walletID string, mode TradingMode) ([]Position, error)
	GetTradeHistory(ctx context.Context, positionID string) ([]TradeRecord, error)
	MarkClosed(ctx context.Context, positionID string) error
	Delete(ctx context.Context, positionID string) error
}

// FillLedger exposes the net filled quantity per symbol for a paper account.
type FillLedger interface {
	NetQuantity(ctx context.Context, walletID string, mode TradingMode, symbol string) (float64, error)
	ListTrades(ctx context.Context, walletID string, mode TradingMode, symbol string, since time.Time) ([]TradeRecord, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditFilter narrows an audit query. Zero fields match everything; WalletID
// and Mode match the wallet_id and mode keys of the entry detail.
type AuditFilter struct {
	Event    string
	WalletID string
	Mode     TradingMode
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// AttemptOutcome is the result recorded for the last reconciliation pass.
type AttemptOutcome string

const (
	OutcomeNone        AttemptOutcome = ""
	OutcomeClean       AttemptOutcome = "clean"
	OutcomeGhostsFound AttemptOutcome = "ghosts_found"
	OutcomeFailed      AttemptOutcome = "failed"
)

// AttemptState is the per-wallet reconciliation bookkeeping.
type AttemptState struct {
	WalletID        string         `json:"wallet_id"`
	TradingMode     TradingMode    `json:"trading_mode"`
	LastReconcileAt time.Time      `json:"last_reconcile_at"`
	AttemptCount    int            `json:"attempt_count"`
	LastOutcome     AttemptOutcome `json:"last_outcome"`
}

// AttemptStore persists AttemptState so retry caps survive restarts.
// Get returns ErrNotFound when the key has never been recorded.
type AttemptStore interface {
	Get(ctx context.Context, walletID string, mode TradingMode) (AttemptState, error)
	Put(ctx context.Context, state AttemptState) error
}
