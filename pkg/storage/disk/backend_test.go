package disk

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/terrycain/tiles-server/pkg/e"
	"github.com/terrycain/tiles-server/pkg/s"
)

func getDiskBackend(t *testing.T, files map[string]string) *Backend {
	t.Helper()
	dir := t.TempDir()
	for name, contents := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	backend, err := New(s.StorageConfig{DiskPath: dir})
	if err != nil {
		t.Fatal(err)
	}
	if err = backend.Setup(); err != nil {
		t.Fatal(err)
	}
	return backend
}

func TestList(t *testing.T) {
	backend := getDiskBackend(t, map[string]string{"b.pmtiles": "b", "a.pmtiles": "a", "c.txt": "c"})

	ids, err := backend.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"a", "b"}, ids); diff != "" {
		t.Fatal(diff)
	}
}

func TestFetchRange(t *testing.T) {
	backend := getDiskBackend(t, map[string]string{"a.pmtiles": "0123456789"})
	src, err := backend.DirectSource("a")
	if err != nil {
		t.Fatal(err)
	}

	tables := []struct {
		name     string
		offset   uint64
		length   uint64
		expected string
	}{
		{"exact", 2, 3, "234"},
		{"whole", 0, 10, "0123456789"},
		{"truncated", 8, 10, "89"},
		{"past end", 20, 5, ""},
	}

	for _, table := range tables {
		t.Run(table.name, func(t *testing.T) {
			resp, err := src.FetchRange(context.Background(), s.RangeRequest{Offset: table.offset, Length: table.length})
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(table.expected, string(resp.Data)); diff != "" {
				t.Fatal(diff)
			}
			if resp.ETag == "" {
				t.Fatal("Expected an etag")
			}
		})
	}
}

func TestFetchRangeEtagMismatchAfterRewrite(t *testing.T) {
	backend := getDiskBackend(t, map[string]string{"a.pmtiles": "0123456789"})
	src, _ := backend.DirectSource("a")

	first, err := src.FetchRange(context.Background(), s.RangeRequest{Offset: 0, Length: 4})
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(backend.BaseDir, "a.pmtiles")
	if err = os.WriteFile(path, []byte("abcdefghijk"), 0o644); err != nil {
		t.Fatal(err)
	}
	later := time.Now().Add(time.Minute)
	_ = os.Chtimes(path, later, later)

	resp, err := src.FetchRange(context.Background(), s.RangeRequest{Offset: 0, Length: 4, IfMatchETag: first.ETag})
	if !errors.Is(err, e.ErrEtagMismatch) {
		t.Fatalf("Expected etag mismatch, got %#v", err)
	}
	if resp.Data != nil {
		t.Fatal("Etag mismatch must not return data")
	}
}

func TestMissingArchive(t *testing.T) {
	backend := getDiskBackend(t, nil)
	src, _ := backend.DirectSource("nope")
	_, err := src.FetchRange(context.Background(), s.RangeRequest{Offset: 0, Length: 4})
	if !errors.Is(err, e.ErrArchiveUnavailable) {
		t.Fatalf("Expected archive unavailable, got %#v", err)
	}
}

func TestGetFilePathRejectsTraversal(t *testing.T) {
	backend := getDiskBackend(t, nil)
	if _, err := backend.GetFilePath("../etc/passwd"); !errors.Is(err, e.ErrNotFound) {
		t.Fatalf("Expected not found, got %#v", err)
	}
}
