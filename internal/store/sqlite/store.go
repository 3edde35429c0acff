// Package sqlite is an embedded, single-file implementation of the position
// store, fill ledger, attempt store, audit log and snapshot sink for
// single-node and paper deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/alanyoungcy/reconbot/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS positions (
	id                TEXT PRIMARY KEY,
	wallet_id         TEXT NOT NULL,
	trading_mode      TEXT NOT NULL,
	symbol            TEXT NOT NULL DEFAULT '',
	side              TEXT NOT NULL DEFAULT '',
	expected_quantity REAL NOT NULL DEFAULT 0,
	entry_price       REAL NOT NULL DEFAULT 0,
	current_price     REAL NOT NULL DEFAULT 0,
	status            TEXT NOT NULL DEFAULT 'open',
	strategy_name     TEXT NOT NULL DEFAULT '',
	created_at        INTEGER NOT NULL,
	closed_at         INTEGER
);
CREATE INDEX IF NOT EXISTS idx_positions_account ON positions (wallet_id, trading_mode, status);

CREATE TABLE IF NOT EXISTS position_trades (
	id           TEXT PRIMARY KEY,
	position_id  TEXT NOT NULL DEFAULT '',
	wallet_id    TEXT NOT NULL,
	trading_mode TEXT NOT NULL,
	symbol       TEXT NOT NULL,
	side         TEXT NOT NULL,
	quantity     REAL NOT NULL,
	price        REAL NOT NULL DEFAULT 0,
	executed_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_position ON position_trades (position_id);
CREATE INDEX IF NOT EXISTS idx_trades_account ON position_trades (wallet_id, trading_mode, symbol);

CREATE TABLE IF NOT EXISTS reconcile_attempts (
	wallet_id         TEXT NOT NULL,
	trading_mode      TEXT NOT NULL,
	last_reconcile_at INTEGER NOT NULL DEFAULT 0,
	attempt_count     INTEGER NOT NULL DEFAULT 0,
	last_outcome      TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (wallet_id, trading_mode)
);

CREATE TABLE IF NOT EXISTS audit_log (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	event      TEXT NOT NULL,
	detail     TEXT NOT NULL DEFAULT '{}',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_event ON audit_log (event, created_at);

CREATE TABLE IF NOT EXISTS position_snapshots (
	id         TEXT PRIMARY KEY,
	label      TEXT NOT NULL,
	records    TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_label ON position_snapshots (label, created_at);
`

// Store is a SQLite-backed position store.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// One writer avoids SQLITE_BUSY under concurrent cleanup.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database handle.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

const positionCols = `id, wallet_id, trading_mode, symbol, side, expected_quantity,
	entry_price, current_price, status, strategy_name, created_at, closed_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanPosition(row scanner) (domain.Position, error) {
	var p domain.Position
	var mode, side, status string
	var created int64
	var closed sql.NullInt64
	if err := row.Scan(
		&p.ID, &p.WalletID, &mode, &p.Symbol, &side, &p.ExpectedQuantity,
		&p.EntryPrice, &p.CurrentPrice, &status, &p.Strategy, &created, &closed,
	); err != nil {
		return domain.Position{}, err
	}
	p.TradingMode = domain.TradingMode(mode)
	p.Side = domain.OrderSide(side)
	p.Status = domain.PositionStatus(status)
	p.CreatedAt = fromMillis(created)
	if closed.Valid {
		t := fromMillis(closed.Int64)
		p.ClosedAt = &t
	}
	return p, nil
}

// Create inserts a position.
func (s *Store) Create(ctx context.Context, p domain.Position) error {
	var closed any
	if p.ClosedAt != nil {
		closed = toMillis(*p.ClosedAt)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO positions (`+positionCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.WalletID, string(p.TradingMode), p.Symbol, string(p.Side), p.ExpectedQuantity,
		p.EntryPrice, p.CurrentPrice, string(p.Status), p.Strategy, toMillis(p.CreatedAt), closed,
	)
	if err != nil {
		return fmt.Errorf("sqlite: create position %s: %w", p.ID, err)
	}
	return nil
}

// GetByID returns a position or domain.ErrNotFound.
func (s *Store) GetByID(ctx context.Context, id string) (domain.Position, error) {
	p, err := scanPosition(s.db.QueryRowContext(ctx, `SELECT `+positionCols+` FROM positions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Position{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("sqlite: get position %s: %w", id, err)
	}
	return p, nil
}

// ListOpenPositions returns open and trailing positions of one account.
func (s *Store) ListOpenPositions(ctx context.Context, walletID string, mode domain.TradingMode) ([]domain.Position, error) {
	return s.queryPositions(ctx,
		`SELECT `+positionCols+` FROM positions
		 WHERE wallet_id = ? AND trading_mode = ? AND status IN ('open', 'trailing')
		 ORDER BY created_at ASC`,
		walletID, string(mode))
}

// List returns positions of one account in any status, newest first.
func (s *Store) List(ctx context.Context, walletID string, mode domain.TradingMode, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionCols + ` FROM positions WHERE wallet_id = ? AND trading_mode = ?`
	args := []any{walletID, string(mode)}
	if opts.Since != nil {
		query += " AND created_at >= ?"
		args = append(args, toMillis(*opts.Since))
	}
	if opts.Until != nil {
		query += " AND created_at <= ?"
		args = append(args, toMillis(*opts.Until))
	}
	query += " ORDER BY created_at DESC"
	if opts.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, opts.Limit, opts.Offset)
	}
	return s.queryPositions(ctx, query, args...)
}

func (s *Store) queryPositions(ctx context.Context, query string, args ...any) ([]domain.Position, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query positions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// MarkClosed closes an active position.
func (s *Store) MarkClosed(ctx context.Context, positionID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE positions SET status = 'closed', closed_at = ?
		 WHERE id = ? AND status IN ('open', 'trailing')`,
		time.Now().UnixMilli(), positionID)
	if err != nil {
		return fmt.Errorf("sqlite: close position %s: %w", positionID, err)
	}
	return expectOneRow(res)
}

// Delete removes a position record. Its fills are kept.
func (s *Store) Delete(ctx context.Context, positionID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM positions WHERE id = ?`, positionID)
	if err != nil {
		return fmt.Errorf("sqlite: delete position %s: %w", positionID, err)
	}
	return expectOneRow(res)
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

const tradeCols = `id, position_id, wallet_id, trading_mode, symbol, side, quantity, price, executed_at`

// RecordFill stores a fill. Duplicate IDs are ignored.
func (s *Store) RecordFill(ctx context.Context, t domain.TradeRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO position_trades (`+tradeCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		fillArgs(t)...,
	)
	if err != nil {
		return fmt.Errorf("sqlite: record fill %s: %w", t.ID, err)
	}
	return nil
}

func fillArgs(t domain.TradeRecord) []any {
	return []any{
		t.ID, t.PositionID, t.WalletID, string(t.TradingMode), strings.ToUpper(t.Symbol), string(t.Side),
		t.Quantity, t.Price, toMillis(t.ExecutedAt),
	}
}

// GetTradeHistory returns the fills recorded against a position.
func (s *Store) GetTradeHistory(ctx context.Context, positionID string) ([]domain.TradeRecord, error) {
	return s.queryTrades(ctx,
		`SELECT `+tradeCols+` FROM position_trades WHERE position_id = ? ORDER BY executed_at ASC`,
		positionID)
}

// ListTrades returns fills for a symbol in one account executed at or after since.
func (s *Store) ListTrades(ctx context.Context, walletID string, mode domain.TradingMode, symbol string, since time.Time) ([]domain.TradeRecord, error) {
	return s.queryTrades(ctx,
		`SELECT `+tradeCols+` FROM position_trades
		 WHERE wallet_id = ? AND trading_mode = ? AND symbol = ? AND executed_at >= ?
		 ORDER BY executed_at ASC`,
		walletID, string(mode), strings.ToUpper(symbol), toMillis(since))
}

// NetQuantity returns buys minus sells for a symbol in one account.
func (s *Store) NetQuantity(ctx context.Context, walletID string, mode domain.TradingMode, symbol string) (float64, error) {
	var net sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`SELECT SUM(CASE WHEN side = 'sell' THEN -quantity ELSE quantity END)
		 FROM position_trades WHERE wallet_id = ? AND trading_mode = ? AND symbol = ?`,
		walletID, string(mode), strings.ToUpper(symbol)).Scan(&net)
	if err != nil {
		return 0, fmt.Errorf("sqlite: net quantity %s: %w", symbol, err)
	}
	return net.Float64, nil
}

func (s *Store) queryTrades(ctx context.Context, query string, args ...any) ([]domain.TradeRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query fills: %w", err)
	}
	defer rows.Close()

	var out []domain.TradeRecord
	for rows.Next() {
		var t domain.TradeRecord
		var mode, side string
		var executed int64
		if err := rows.Scan(&t.ID, &t.PositionID, &t.WalletID, &mode, &t.Symbol, &side,
			&t.Quantity, &t.Price, &executed); err != nil {
			return nil, fmt.Errorf("sqlite: scan fill: %w", err)
		}
		t.TradingMode = domain.TradingMode(mode)
		t.Side = domain.OrderSide(side)
		t.ExecutedAt = fromMillis(executed)
		out = append(out, t)
	}
	return out, rows.Err()
}

// Get returns the stored attempt state or domain.ErrNotFound.
func (s *Store) Get(ctx context.Context, walletID string, mode domain.TradingMode) (domain.AttemptState, error) {
	st := domain.AttemptState{WalletID: walletID, TradingMode: mode}
	var last int64
	var outcome string
	err := s.db.QueryRowContext(ctx,
		`SELECT last_reconcile_at, attempt_count, last_outcome FROM reconcile_attempts
		 WHERE wallet_id = ? AND trading_mode = ?`,
		walletID, string(mode)).Scan(&last, &st.AttemptCount, &outcome)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.AttemptState{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.AttemptState{}, fmt.Errorf("sqlite: get attempts: %w", err)
	}
	st.LastReconcileAt = fromMillis(last)
	st.LastOutcome = domain.AttemptOutcome(outcome)
	return st, nil
}

// Put upserts the attempt state.
func (s *Store) Put(ctx context.Context, st domain.AttemptState) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reconcile_attempts (wallet_id, trading_mode, last_reconcile_at, attempt_count, last_outcome)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(wallet_id, trading_mode) DO UPDATE SET
			last_reconcile_at = excluded.last_reconcile_at,
			attempt_count     = excluded.attempt_count,
			last_outcome      = excluded.last_outcome`,
		st.WalletID, string(st.TradingMode), toMillis(st.LastReconcileAt), st.AttemptCount, string(st.LastOutcome))
	if err != nil {
		return fmt.Errorf("sqlite: put attempts: %w", err)
	}
	return nil
}
