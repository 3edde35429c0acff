package app

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/alanyoungcy/reconbot/internal/domain"
)

const importBatchSize = 500

// PositionCreator inserts a single position.
type PositionCreator interface {
	Create(ctx context.Context, p domain.Position) error
}

// ImportFile opens path and dispatches to ImportPositions or ImportFills.
func ImportFile(ctx context.Context, deps *Dependencies, kind, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	switch kind {
	case "positions":
		return ImportPositions(ctx, f, deps.Positions)
	case "fills":
		return ImportFills(ctx, f, deps.Fills)
	default:
		return 0, fmt.Errorf("unknown import kind %q (valid: positions, fills)", kind)
	}
}

// ImportPositions creates one position per JSON line and returns how many
// were created before the first error.
func ImportPositions(ctx context.Context, r io.Reader, dst PositionCreator) (int, error) {
	n := 0
	err := eachLine(r, func(line int, data []byte) error {
		var p domain.Position
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if p.Status == "" {
			p.Status = domain.PositionStatusOpen
		}
		if err := dst.Create(ctx, p); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		n++
		return nil
	})
	return n, err
}

// ImportFills loads fills in batches and returns how many were written.
func ImportFills(ctx context.Context, r io.Reader, dst FillWriter) (int, error) {
	n := 0
	batch := make([]domain.TradeRecord, 0, importBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := dst.InsertBatch(ctx, batch); err != nil {
			return err
		}
		n += len(batch)
		batch = batch[:0]
		return nil
	}

	err := eachLine(r, func(line int, data []byte) error {
		var t domain.TradeRecord
		if err := json.Unmarshal(data, &t); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		batch = append(batch, t)
		if len(batch) == importBatchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return n, err
	}
	return n, flush()
}

// eachLine calls fn for every non-blank line of r.
func eachLine(r io.Reader, fn func(line int, data []byte) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		data := sc.Bytes()
		if len(bytes.TrimSpace(data)) == 0 {
			continue
		}
		if err := fn(line, data); err != nil {
			return err
		}
	}
	return sc.Err()
}
