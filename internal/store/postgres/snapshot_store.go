package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/reconbot/internal/domain"
)

// SnapshotStore implements domain.SnapshotSink by writing an immutable row
// per snapshot into position_snapshots.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore creates a new SnapshotStore backed by the given connection pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

// Snapshot stores records under label.
func (s *SnapshotStore) Snapshot(ctx context.Context, records []domain.Position, label string) error {
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("postgres: marshal snapshot %s: %w", label, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO position_snapshots (id, label, records) VALUES ($1, $2, $3)`,
		uuid.New(), label, data,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert snapshot %s: %w", label, err)
	}
	return nil
}

// Load returns the records stored under label, most recent snapshot first.
func (s *SnapshotStore) Load(ctx context.Context, label string) ([]domain.Position, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT records FROM position_snapshots WHERE label = $1 ORDER BY created_at DESC LIMIT 1`,
		label,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: load snapshot %s: %w", label, err)
	}
	var records []domain.Position
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("postgres: decode snapshot %s: %w", label, err)
	}
	return records, nil
}
