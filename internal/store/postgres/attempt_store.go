package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/reconbot/internal/domain"
)

// AttemptStore implements domain.AttemptStore using PostgreSQL.
type AttemptStore struct {
	pool *pgxpool.Pool
}

// NewAttemptStore creates a new AttemptStore backed by the given connection pool.
func NewAttemptStore(pool *pgxpool.Pool) *AttemptStore {
	return &AttemptStore{pool: pool}
}

// Get returns the stored state or domain.ErrNotFound.
func (s *AttemptStore) Get(ctx context.Context, walletID string, mode domain.TradingMode) (domain.AttemptState, error) {
	const query = `
		SELECT last_reconcile_at, attempt_count, last_outcome
		FROM reconcile_attempts
		WHERE wallet_id = $1 AND trading_mode = $2`

	st := domain.AttemptState{WalletID: walletID, TradingMode: mode}
	var last *time.Time
	var outcome string
	err := s.pool.QueryRow(ctx, query, walletID, string(mode)).Scan(&last, &st.AttemptCount, &outcome)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.AttemptState{}, domain.ErrNotFound
		}
		return domain.AttemptState{}, fmt.Errorf("postgres: get attempts %s/%s: %w", walletID, mode, err)
	}
	if last != nil {
		st.LastReconcileAt = *last
	}
	st.LastOutcome = domain.AttemptOutcome(outcome)
	return st, nil
}

// Put upserts the state for its (wallet, mode) key.
func (s *AttemptStore) Put(ctx context.Context, st domain.AttemptState) error {
	const query = `
		INSERT INTO reconcile_attempts (
			wallet_id, trading_mode, last_reconcile_at, attempt_count, last_outcome, updated_at
		) VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (wallet_id, trading_mode) DO UPDATE SET
			last_reconcile_at = EXCLUDED.last_reconcile_at,
			attempt_count     = EXCLUDED.attempt_count,
			last_outcome      = EXCLUDED.last_outcome,
			updated_at        = NOW()`

	var last *time.Time
	if !st.LastReconcileAt.IsZero() {
		last = &st.LastReconcileAt
	}
	_, err := s.pool.Exec(ctx, query,
		st.WalletID, string(st.TradingMode), last, st.AttemptCount, string(st.LastOutcome),
	)
	if err != nil {
		return fmt.Errorf("postgres: put attempts %s/%s: %w", st.WalletID, st.TradingMode, err)
	}
	return nil
}
