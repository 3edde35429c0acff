// Package blob fans snapshots out to several sinks.
package blob

import (
	"context"
	"errors"

	"github.com/alanyoungcy/reconbot/internal/domain"
)

// MultiSink writes each snapshot to every sink and joins their errors. One
// failing sink does not stop the others.
type MultiSink []domain.SnapshotSink

// Snapshot implements domain.SnapshotSink.
func (m MultiSink) Snapshot(ctx context.Context, records []domain.Position, label string) error {
	var errs []error
	for _, s := range m {
		if err := s.Snapshot(ctx, records, label); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
