package meshstore

import (
	"context"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	addr := [32]byte{1, 2, 3}
	data := []byte("opaque blob contents")

	if err := s.Put(ctx, addr, data); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	got, err := s.Get(ctx, addr)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("Get() = %q, want %q", got, data)
	}
}

func TestGetMissingAddressReturnsErrNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Get(context.Background(), [32]byte{9, 9}); err != ErrNotFound {
		t.Errorf("Get() error = %v, want %v", err, ErrNotFound)
	}
}

func TestPutRejectsEmptyBlob(t *testing.T) {
	s := openTestStore(t)
	if err := s.Put(context.Background(), [32]byte{1}, nil); err == nil {
		t.Error("Put() with empty data: want error, got nil")
	}
}

func TestPutReplacesExistingBlob(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	addr := [32]byte{4}

	if err := s.Put(ctx, addr, []byte("first")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := s.Put(ctx, addr, []byte("second")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	got, err := s.Get(ctx, addr)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "second" {
		t.Errorf("Get() = %q, want %q", got, "second")
	}
}

func TestDeleteRemovesBlob(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	addr := [32]byte{5}

	if err := s.Put(ctx, addr, []byte("gone soon")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := s.Delete(ctx, addr); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.Get(ctx, addr); err != ErrNotFound {
		t.Errorf("Get() after Delete(): error = %v, want %v", err, ErrNotFound)
	}
}

func TestStatsReflectsStoredBlobs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, [32]byte{1}, []byte("abc")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := s.Put(ctx, [32]byte{2}, []byte("de")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.TotalBlobs != 2 {
		t.Errorf("TotalBlobs = %d, want 2", stats.TotalBlobs)
	}
	if stats.TotalSize != 5 {
		t.Errorf("TotalSize = %d, want 5", stats.TotalSize)
	}
}

func TestCleanupRemovesOnlyStaleBlobs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	addr := [32]byte{6}

	if err := s.Put(ctx, addr, []byte("fresh")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	n, err := s.Cleanup(ctx, time.Hour)
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if n != 0 {
		t.Errorf("Cleanup(1h) removed %d blobs, want 0 for a just-stored blob", n)
	}

	n, err = s.Cleanup(ctx, -time.Second)
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Cleanup(negative age) removed %d blobs, want 1", n)
	}
	if _, err := s.Get(ctx, addr); err != ErrNotFound {
		t.Errorf("Get() after Cleanup(): error = %v, want %v", err, ErrNotFound)
	}
}
