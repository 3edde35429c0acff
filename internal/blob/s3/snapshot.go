package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/alanyoungcy/reconbot/internal/domain"
)

const snapshotExt = ".jsonl"

// SnapshotArchive implements domain.SnapshotSink on object storage. Each
// snapshot is one JSONL object at <prefix>/<label>.jsonl; the writer refuses
// to replace an existing key.
type SnapshotArchive struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	prefix string
}

// NewSnapshotArchive creates a SnapshotArchive writing under prefix.
func NewSnapshotArchive(writer domain.BlobWriter, reader domain.BlobReader, prefix string) *SnapshotArchive {
	if prefix == "" {
		prefix = "snapshots"
	}
	return &SnapshotArchive{writer: writer, reader: reader, prefix: strings.Trim(prefix, "/")}
}

// Path returns the object key for label.
func (a *SnapshotArchive) Path(label string) string {
	return path.Join(a.prefix, label) + snapshotExt
}

// label inverts Path. Keys outside the archive layout yield "".
func (a *SnapshotArchive) label(key string) string {
	rest, ok := strings.CutPrefix(key, a.prefix+"/")
	if !ok {
		return ""
	}
	rest, ok = strings.CutSuffix(rest, snapshotExt)
	if !ok {
		return ""
	}
	return rest
}

// Snapshot uploads records under label. An existing object with the same
// key is left untouched and domain.ErrAlreadyExists is returned.
func (a *SnapshotArchive) Snapshot(ctx context.Context, records []domain.Position, label string) error {
	buf, err := marshalJSONL(records)
	if err != nil {
		return fmt.Errorf("s3blob: snapshot %s marshal: %w", label, err)
	}
	if err := a.writer.PutNew(ctx, a.Path(label), buf, "application/x-ndjson"); err != nil {
		return fmt.Errorf("s3blob: snapshot %s: %w", label, err)
	}
	return nil
}

// List returns the snapshots stored under sub (a wallet ID), or all of them
// when sub is empty. Results are newest first with Label set.
func (a *SnapshotArchive) List(ctx context.Context, sub string) ([]domain.BlobInfo, error) {
	prefix := a.prefix + "/"
	if sub != "" {
		prefix = path.Join(a.prefix, "ghost-cleanup", sub) + "/"
	}
	infos, err := a.reader.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("s3blob: list snapshots: %w", err)
	}
	for i := range infos {
		infos[i].Label = a.label(infos[i].Path)
	}
	return infos, nil
}

// Load reads the records stored under label.
func (a *SnapshotArchive) Load(ctx context.Context, label string) ([]domain.Position, error) {
	body, err := a.reader.Get(ctx, a.Path(label))
	if err != nil {
		return nil, fmt.Errorf("s3blob: load snapshot %s: %w", label, err)
	}
	defer body.Close()

	var out []domain.Position
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var p domain.Position
		if err := json.Unmarshal(line, &p); err != nil {
			return nil, fmt.Errorf("s3blob: decode snapshot %s: %w", label, err)
		}
		out = append(out, p)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("s3blob: read snapshot %s: %w", label, err)
	}
	return out, nil
}

// marshalJSONL encodes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.SnapshotSink = (*SnapshotArchive)(nil)
