package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/reconbot/internal/domain"
)

// TradeStore records fills and implements domain.FillLedger.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, position_id, wallet_id, trading_mode, symbol, side,
	quantity, price, executed_at`

func scanTradeRows(rows pgx.Rows) ([]domain.TradeRecord, error) {
	var trades []domain.TradeRecord
	for rows.Next() {
		var t domain.TradeRecord
		var mode, side string
		if err := rows.Scan(
			&t.ID, &t.PositionID, &t.WalletID, &mode, &t.Symbol, &side,
			&t.Quantity, &t.Price, &t.ExecutedAt,
		); err != nil {
			return nil, err
		}
		t.TradingMode = domain.TradingMode(mode)
		t.Side = domain.OrderSide(side)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// InsertBatch inserts fills using a pgx Batch. Duplicate IDs are skipped.
func (s *TradeStore) InsertBatch(ctx context.Context, trades []domain.TradeRecord) error {
	if len(trades) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO position_trades (
			id, position_id, wallet_id, trading_mode, symbol, side,
			quantity, price, executed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9
		) ON CONFLICT (id) DO NOTHING`

	for _, t := range trades {
		batch.Queue(query,
			t.ID, t.PositionID, t.WalletID, string(t.TradingMode), t.Symbol, string(t.Side),
			t.Quantity, t.Price, t.ExecutedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range trades {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert fill batch item %d: %w", i, err)
		}
	}
	return nil
}

// NetQuantity returns buys minus sells for a symbol in one account.
func (s *TradeStore) NetQuantity(ctx context.Context, walletID string, mode domain.TradingMode, symbol string) (float64, error) {
	const query = `
		SELECT COALESCE(SUM(CASE WHEN side = 'sell' THEN -quantity ELSE quantity END), 0)
		FROM position_trades
		WHERE wallet_id = $1 AND trading_mode = $2 AND UPPER(symbol) = UPPER($3)`

	var net float64
	if err := s.pool.QueryRow(ctx, query, walletID, string(mode), symbol).Scan(&net); err != nil {
		return 0, fmt.Errorf("postgres: net quantity %s: %w", symbol, err)
	}
	return net, nil
}

// ListTrades returns fills for a symbol in one account executed at or after since.
func (s *TradeStore) ListTrades(ctx context.Context, walletID string, mode domain.TradingMode, symbol string, since time.Time) ([]domain.TradeRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM position_trades
		 WHERE wallet_id = $1 AND trading_mode = $2 AND UPPER(symbol) = UPPER($3) AND executed_at >= $4
		 ORDER BY executed_at ASC`, walletID, string(mode), symbol, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fills %s: %w", symbol, err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan fills: %w", err)
	}
	return trades, nil
}
