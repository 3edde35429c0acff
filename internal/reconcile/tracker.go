package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/reconbot/internal/domain"
)

// accountKey identifies a (wallet, mode) pair.
type accountKey struct {
	wallet string
	mode   domain.TradingMode
}

func (k accountKey) String() string {
	return k.wallet + "/" + string(k.mode)
}

type trackerEntry struct {
	mu     sync.Mutex
	loaded bool
	state  domain.AttemptState
}

// Tracker bounds reconciliation retries per (wallet, mode). When a store is
// set, state is loaded lazily and written through on every change.
type Tracker struct {
	maxAttempts int
	store       domain.AttemptStore
	logger      *slog.Logger

	mu      sync.Mutex
	entries map[accountKey]*trackerEntry
}

// NewTracker creates a Tracker. store may be nil for in-memory only.
func NewTracker(maxAttempts int, store domain.AttemptStore, logger *slog.Logger) *Tracker {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &Tracker{
		maxAttempts: maxAttempts,
		store:       store,
		logger:      logger.With(slog.String("component", "attempt_tracker")),
		entries:     make(map[accountKey]*trackerEntry),
	}
}

// MaxAttempts returns the configured cap.
func (t *Tracker) MaxAttempts() int { return t.maxAttempts }

func (t *Tracker) entry(key accountKey) *trackerEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if !ok {
		e = &trackerEntry{state: domain.AttemptState{WalletID: key.wallet, TradingMode: key.mode}}
		t.entries[key] = e
	}
	return e
}

// load fills e from the store on first use and reports whether e reflects
// the durable state. Caller holds e.mu.
func (t *Tracker) load(ctx context.Context, e *trackerEntry) bool {
	if e.loaded || t.store == nil {
		e.loaded = true
		return true
	}
	st, err := t.store.Get(ctx, e.state.WalletID, e.state.TradingMode)
	switch {
	case err == nil:
		e.state = st
		e.loaded = true
	case errors.Is(err, domain.ErrNotFound):
		e.loaded = true
	default:
		e.state = domain.AttemptState{WalletID: e.state.WalletID, TradingMode: e.state.TradingMode}
		// Stay unloaded so the next call retries the read.
		t.logger.WarnContext(ctx, "load attempt state failed",
			slog.String("wallet_id", e.state.WalletID),
			slog.String("mode", string(e.state.TradingMode)),
			slog.String("error", err.Error()),
		)
	}
	return e.loaded
}

// persist writes e through to the store. Caller holds e.mu.
func (t *Tracker) persist(ctx context.Context, e *trackerEntry) {
	if t.store == nil {
		return
	}
	if err := t.store.Put(ctx, e.state); err != nil {
		t.logger.WarnContext(ctx, "persist attempt state failed",
			slog.String("wallet_id", e.state.WalletID),
			slog.String("mode", string(e.state.TradingMode)),
			slog.String("error", err.Error()),
		)
	}
}

// RecordAttempt increments the attempt count when ghosts were found and
// resets it to zero on a clean pass.
func (t *Tracker) RecordAttempt(ctx context.Context, walletID string, mode domain.TradingMode, ghostsFound int, at time.Time) domain.AttemptState {
	e := t.entry(accountKey{walletID, mode})
	e.mu.Lock()
	defer e.mu.Unlock()
	loaded := t.load(ctx, e)

	if ghostsFound > 0 {
		e.state.AttemptCount++
		e.state.LastOutcome = domain.OutcomeGhostsFound
	} else {
		e.state.AttemptCount = 0
		e.state.LastOutcome = domain.OutcomeClean
	}
	e.state.LastReconcileAt = at
	if loaded {
		t.persist(ctx, e)
	}
	return e.state
}

// RecordFailure notes a failed pass without touching the attempt count.
func (t *Tracker) RecordFailure(ctx context.Context, walletID string, mode domain.TradingMode, at time.Time) domain.AttemptState {
	e := t.entry(accountKey{walletID, mode})
	e.mu.Lock()
	defer e.mu.Unlock()
	loaded := t.load(ctx, e)

	e.state.LastOutcome = domain.OutcomeFailed
	e.state.LastReconcileAt = at
	if loaded {
		t.persist(ctx, e)
	}
	return e.state
}

// CanAttempt reports whether the account is below the attempt cap. It
// returns false while the stored count cannot be read.
func (t *Tracker) CanAttempt(ctx context.Context, walletID string, mode domain.TradingMode) bool {
	e := t.entry(accountKey{walletID, mode})
	e.mu.Lock()
	defer e.mu.Unlock()
	if !t.load(ctx, e) {
		return false
	}
	return e.state.AttemptCount < t.maxAttempts
}

// Reset clears the attempt count for the account. A zero count is written
// even when the stored state could not be read.
func (t *Tracker) Reset(ctx context.Context, walletID string, mode domain.TradingMode) domain.AttemptState {
	e := t.entry(accountKey{walletID, mode})
	e.mu.Lock()
	defer e.mu.Unlock()
	t.load(ctx, e)

	e.state.AttemptCount = 0
	e.loaded = true
	t.persist(ctx, e)
	return e.state
}

// State returns a copy of the account's current bookkeeping.
func (t *Tracker) State(ctx context.Context, walletID string, mode domain.TradingMode) domain.AttemptState {
	e := t.entry(accountKey{walletID, mode})
	e.mu.Lock()
	defer e.mu.Unlock()
	t.load(ctx, e)
	return e.state
}
