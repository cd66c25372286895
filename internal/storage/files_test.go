package storage

import (
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestLocalFileStoreRoundTrip(t *testing.T) {
	fs := NewLocalFileStore(t.TempDir(), zap.NewNop())

	payload := []byte("attachment body")
	handle, err := fs.Save("report.pdf", payload)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !strings.HasSuffix(handle, "_report.pdf") {
		t.Fatalf("handle = %q, want original basename suffix", handle)
	}
	if !strings.HasPrefix(handle, time.Now().Format("2006/01")) {
		t.Fatalf("handle = %q, want dated subdirectory prefix", handle)
	}

	got, err := fs.Open(handle)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("read back %q, want %q", got, payload)
	}
}

func TestLocalFileStoreStripsClientPath(t *testing.T) {
	fs := NewLocalFileStore(t.TempDir(), zap.NewNop())

	handle, err := fs.Save("../../etc/passwd", []byte("x"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if strings.Contains(handle, "..") {
		t.Fatalf("handle %q carries path traversal", handle)
	}
	if !strings.HasSuffix(handle, "_passwd") {
		t.Fatalf("handle = %q, want basename only", handle)
	}
}

func TestLocalFileStoreDistinctHandles(t *testing.T) {
	fs := NewLocalFileStore(t.TempDir(), zap.NewNop())

	h1, err := fs.Save("same.txt", []byte("a"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	h2, err := fs.Save("same.txt", []byte("b"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if h1 == h2 {
		t.Fatalf("two saves of the same name share handle %q", h1)
	}

	if data, _ := fs.Open(h1); string(data) != "a" {
		t.Fatalf("first file overwritten: %q", data)
	}
}

func TestLocalFileStoreOpenMissing(t *testing.T) {
	fs := NewLocalFileStore(t.TempDir(), zap.NewNop())
	if _, err := fs.Open("2026/01/nope_missing.txt"); err == nil {
		t.Fatal("Open on missing handle succeeded")
	}
}
