package storage

import (
	"bytes"
	"testing"
)

func TestFileStorePutGetRoundTrip(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	if err := fs.Put([]byte("k1"), []byte("v1")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	got, err := fs.Get([]byte("k1"))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !bytes.Equal(got, []byte("v1")) {
		t.Fatalf("Get() = %s, want v1", got)
	}
}

func TestFileStoreGetMissingReturnsErrNotFound(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	if _, err := fs.Get([]byte("missing")); err != ErrNotFound {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestFileStoreScanPrefix(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	_ = fs.Put([]byte("inbox_msg_1"), []byte("a"))
	_ = fs.Put([]byte("inbox_msg_2"), []byte("b"))
	_ = fs.Put([]byte("inbox_seen_ids"), []byte("c"))

	n, err := fs.CountPrefix([]byte("inbox_msg_"))
	if err != nil {
		t.Fatalf("CountPrefix() error = %v", err)
	}
	if n != 2 {
		t.Fatalf("CountPrefix() = %d, want 2", n)
	}
}

func TestFileStoreRemove(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	_ = fs.Put([]byte("k1"), []byte("v1"))
	if err := fs.Remove([]byte("k1")); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := fs.Get([]byte("k1")); err != ErrNotFound {
		t.Fatalf("Get() after Remove() error = %v, want ErrNotFound", err)
	}
}
