package s3blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/reconbot/internal/domain"
)

// memBlobs is an in-memory write-once BlobWriter and BlobReader.
type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	mtimes  map[string]time.Time
	clock   time.Time
}

func newMemBlobs() *memBlobs {
	return &memBlobs{
		objects: map[string][]byte{},
		mtimes:  map[string]time.Time{},
		clock:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (m *memBlobs) PutNew(_ context.Context, path string, body []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[path]; ok {
		return domain.ErrAlreadyExists
	}
	m.clock = m.clock.Add(time.Minute)
	m.objects[path] = bytes.Clone(body)
	m.mtimes[path] = m.clock
	return nil
}

func (m *memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.BlobInfo
	for k, v := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, domain.BlobInfo{Path: k, Size: int64(len(v)), LastModified: m.mtimes[k]})
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (m *memBlobs) Exists(_ context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[path]
	return ok, nil
}

func TestSnapshotArchive_RoundTrip(t *testing.T) {
	ctx := context.Background()
	blobs := newMemBlobs()
	a := NewSnapshotArchive(blobs, blobs, "")

	records := []domain.Position{
		{ID: "p1", WalletID: "W1", Symbol: "BTCUSDT", ExpectedQuantity: 1, CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		{ID: "p2", WalletID: "W1", Symbol: "ETHUSDT", ExpectedQuantity: 2},
	}
	label := "ghost-cleanup/W1/live/20260301T120000.000Z"
	if err := a.Snapshot(ctx, records, label); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if _, ok := blobs.objects["snapshots/"+label+".jsonl"]; !ok {
		t.Fatalf("objects = %v", blobs.objects)
	}

	got, err := a.Load(ctx, label)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 2 || got[0].ID != "p1" || !got[0].CreatedAt.Equal(records[0].CreatedAt) {
		t.Errorf("loaded = %+v", got)
	}

	infos, err := a.List(ctx, "W1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 1 || infos[0].Label != label {
		t.Errorf("list = %+v", infos)
	}
}

func TestSnapshotArchive_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	blobs := newMemBlobs()
	a := NewSnapshotArchive(blobs, blobs, "/snapshots/")

	labels := []string{
		"ghost-cleanup/W1/live/20260301T120000.000Z",
		"ghost-cleanup/W1/live/20260301T130000.000Z",
		"ghost-cleanup/W2/live/20260301T140000.000Z",
	}
	for _, l := range labels {
		if err := a.Snapshot(ctx, []domain.Position{{ID: l}}, l); err != nil {
			t.Fatalf("Snapshot %s: %v", l, err)
		}
	}
	blobs.objects["snapshots/README"] = []byte("x")

	infos, err := a.List(ctx, "W1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 2 || infos[0].Label != labels[1] || infos[1].Label != labels[0] {
		t.Errorf("W1 list = %+v", infos)
	}

	all, err := a.List(ctx, "")
	if err != nil {
		t.Fatalf("List all: %v", err)
	}
	if len(all) != 4 || all[0].Label != labels[2] {
		t.Errorf("all = %+v", all)
	}
	for _, info := range all {
		if info.Path == "snapshots/README" && info.Label != "" {
			t.Errorf("foreign key got label %q", info.Label)
		}
	}
}

func TestSnapshotArchive_NeverOverwrites(t *testing.T) {
	ctx := context.Background()
	blobs := newMemBlobs()
	a := NewSnapshotArchive(blobs, blobs, "backups")

	if err := a.Snapshot(ctx, []domain.Position{{ID: "p1"}}, "x"); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	err := a.Snapshot(ctx, []domain.Position{{ID: "p2"}}, "x")
	if !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("second Snapshot = %v, want ErrAlreadyExists", err)
	}
	got, _ := a.Load(ctx, "x")
	if len(got) != 1 || got[0].ID != "p1" {
		t.Errorf("snapshot was overwritten: %+v", got)
	}
}

func TestNormaliseEndpoint(t *testing.T) {
	tests := []struct {
		in     string
		useSSL bool
		want   string
	}{
		{"https://s3.example.com", false, "https://s3.example.com"},
		{"minio:9000", false, "http://minio:9000"},
		{"r2.example.com", true, "https://r2.example.com"},
	}
	for _, tc := range tests {
		if got := normaliseEndpoint(tc.in, tc.useSSL); got != tc.want {
			t.Errorf("normaliseEndpoint(%q, %v) = %q, want %q", tc.in, tc.useSSL, got, tc.want)
		}
	}
}
