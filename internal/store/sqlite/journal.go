package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/reconbot/internal/domain"
)

// InsertBatch records fills in one transaction. Duplicate IDs are ignored.
func (s *Store) InsertBatch(ctx context.Context, trades []domain.TradeRecord) error {
	if len(trades) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin fill batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO position_trades (`+tradeCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("sqlite: prepare fill batch: %w", err)
	}
	defer stmt.Close()

	for _, t := range trades {
		if _, err := stmt.ExecContext(ctx, fillArgs(t)...); err != nil {
			return fmt.Errorf("sqlite: insert fill %s: %w", t.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit fill batch: %w", err)
	}
	return nil
}

// AuditLog implements domain.AuditStore on the same database.
type AuditLog struct {
	db  *sql.DB
	now func() time.Time
}

// Audit returns the audit log view of s.
func (s *Store) Audit() *AuditLog {
	return &AuditLog{db: s.db, now: time.Now}
}

// Log appends an audit entry. detail is stored as JSON text.
func (a *AuditLog) Log(ctx context.Context, event string, detail map[string]any) error {
	data, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("sqlite: marshal audit detail: %w", err)
	}
	_, err = a.db.ExecContext(ctx,
		`INSERT INTO audit_log (event, detail, created_at) VALUES (?, ?, ?)`,
		event, string(data), a.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("sqlite: log audit event %s: %w", event, err)
	}
	return nil
}

// List returns every audit entry, newest first.
func (a *AuditLog) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	return a.Query(ctx, domain.AuditFilter{}, opts)
}

// Query returns entries matching f, newest first. Wallet and mode are read
// from the JSON detail.
func (a *AuditLog) Query(ctx context.Context, f domain.AuditFilter, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	query := `SELECT id, event, detail, created_at FROM audit_log WHERE 1=1`
	var args []any
	if f.Event != "" {
		query += " AND event = ?"
		args = append(args, f.Event)
	}
	if f.WalletID != "" {
		query += " AND json_extract(detail, '$.wallet_id') = ?"
		args = append(args, f.WalletID)
	}
	if f.Mode != "" {
		query += " AND json_extract(detail, '$.mode') = ?"
		args = append(args, string(f.Mode))
	}
	query, args = auditQuery(query, args, opts)
	return a.query(ctx, query, args)
}

func auditQuery(query string, args []any, opts domain.ListOpts) (string, []any) {
	if opts.Since != nil {
		query += " AND created_at >= ?"
		args = append(args, toMillis(*opts.Since))
	}
	if opts.Until != nil {
		query += " AND created_at <= ?"
		args = append(args, toMillis(*opts.Until))
	}
	query += " ORDER BY created_at DESC, id DESC"
	if opts.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, opts.Limit, opts.Offset)
	}
	return query, args
}

func (a *AuditLog) query(ctx context.Context, query string, args []any) ([]domain.AuditEntry, error) {
	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list audit entries: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var detail string
		var created int64
		if err := rows.Scan(&e.ID, &e.Event, &detail, &created); err != nil {
			return nil, fmt.Errorf("sqlite: scan audit entry: %w", err)
		}
		if detail != "" {
			if err := json.Unmarshal([]byte(detail), &e.Detail); err != nil {
				return nil, fmt.Errorf("sqlite: unmarshal audit detail: %w", err)
			}
		}
		e.CreatedAt = fromMillis(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// SnapshotTable implements domain.SnapshotSink on the same database.
type SnapshotTable struct {
	db  *sql.DB
	now func() time.Time
}

// Snapshots returns the snapshot view of s.
func (s *Store) Snapshots() *SnapshotTable {
	return &SnapshotTable{db: s.db, now: time.Now}
}

// Snapshot stores records under label.
func (t *SnapshotTable) Snapshot(ctx context.Context, records []domain.Position, label string) error {
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("sqlite: marshal snapshot %s: %w", label, err)
	}
	_, err = t.db.ExecContext(ctx,
		`INSERT INTO position_snapshots (id, label, records, created_at) VALUES (?, ?, ?, ?)`,
		uuid.NewString(), label, string(data), t.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("sqlite: insert snapshot %s: %w", label, err)
	}
	return nil
}

// Load returns the records stored under label, most recent snapshot first.
func (t *SnapshotTable) Load(ctx context.Context, label string) ([]domain.Position, error) {
	var data string
	err := t.db.QueryRowContext(ctx,
		`SELECT records FROM position_snapshots WHERE label = ? ORDER BY created_at DESC LIMIT 1`,
		label).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: load snapshot %s: %w", label, err)
	}
	var records []domain.Position
	if err := json.Unmarshal([]byte(data), &records); err != nil {
		return nil, fmt.Errorf("sqlite: decode snapshot %s: %w", label, err)
	}
	return records, nil
}
