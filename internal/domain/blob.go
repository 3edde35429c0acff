package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo is one archived object as listed by the snapshot API.
type BlobInfo struct {
	// Label is the snapshot label recovered from Path, empty for foreign keys.
	Label        string    `json:"label,omitempty"`
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// BlobWriter stores write-once objects. PutNew returns ErrAlreadyExists when
// path is already taken; objects are never replaced.
type BlobWriter interface {
	PutNew(ctx context.Context, path string, body []byte, contentType string) error
}

// SnapshotSink stores an immutable copy of records before they are mutated.
type SnapshotSink interface {
	Snapshot(ctx context.Context, records []Position, label string) error
}

// BlobReader reads archived objects. Get returns ErrNotFound for missing
// objects; List returns newest first.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}
