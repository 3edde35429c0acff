package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/reconbot/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, wallet_id, trading_mode, symbol, side,
	expected_quantity, entry_price, current_price,
	status, strategy_name, created_at, closed_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var mode, side, status string

	err := row.Scan(
		&p.ID, &p.WalletID, &mode, &p.Symbol, &side,
		&p.ExpectedQuantity, &p.EntryPrice, &p.CurrentPrice,
		&status, &p.Strategy, &p.CreatedAt, &p.ClosedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.TradingMode = domain.TradingMode(mode)
	p.Side = domain.OrderSide(side)
	p.Status = domain.PositionStatus(status)
	return p, nil
}

func scanPositionRows(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Create inserts a new position.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, wallet_id, trading_mode, symbol, side,
			expected_quantity, entry_price, current_price,
			status, strategy_name, created_at, closed_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8,
			$9, $10, $11, $12, NOW()
		)`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.WalletID, string(p.TradingMode), p.Symbol, string(p.Side),
		p.ExpectedQuantity, p.EntryPrice, p.CurrentPrice,
		string(p.Status), p.Strategy, p.CreatedAt, p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

// ListOpenPositions returns the open and trailing positions of one account.
func (s *PositionStore) ListOpenPositions(ctx context.Context, walletID string, mode domain.TradingMode) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE wallet_id = $1 AND trading_mode = $2 AND status IN ('open', 'trailing')
		 ORDER BY created_at ASC`, walletID, string(mode))
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions %s/%s: %w", walletID, mode, err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open positions: %w", err)
	}
	return positions, nil
}

// GetByID retrieves a single position by its ID.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)

	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// List returns positions for an account in any status, newest first.
func (s *PositionStore) List(ctx context.Context, walletID string, mode domain.TradingMode, opts domain.ListOpts) ([]domain.Position, error) {
	query, args := appendListOpts(
		`SELECT `+positionSelectCols+` FROM positions WHERE wallet_id = $1 AND trading_mode = $2`,
		[]any{walletID, string(mode)}, "created_at", opts,
	)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions: %w", err)
	}
	return positions, nil
}

// GetTradeHistory returns the fills recorded against a position.
func (s *PositionStore) GetTradeHistory(ctx context.Context, positionID string) ([]domain.TradeRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM position_trades
		 WHERE position_id = $1 ORDER BY executed_at ASC`, positionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: trade history %s: %w", positionID, err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trade history: %w", err)
	}
	return trades, nil
}

// MarkClosed closes an active position.
func (s *PositionStore) MarkClosed(ctx context.Context, positionID string) error {
	const query = `
		UPDATE positions SET
			status     = 'closed',
			closed_at  = NOW(),
			updated_at = NOW()
		WHERE id = $1 AND status IN ('open', 'trailing')`

	tag, err := s.pool.Exec(ctx, query, positionID)
	if err != nil {
		return fmt.Errorf("postgres: close position %s: %w", positionID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Delete removes a position record. Its fills are kept.
func (s *PositionStore) Delete(ctx context.Context, positionID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM positions WHERE id = $1`, positionID)
	if err != nil {
		return fmt.Errorf("postgres: delete position %s: %w", positionID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
