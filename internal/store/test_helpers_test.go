package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/timeline/internal/ir"
)

// createTestStore creates a new file-backed store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestSession writes a minimal session and returns its id.
func createTestSession(t *testing.T, s *Store, id string) string {
	t.Helper()
	err := s.WriteSession(context.Background(), Session{ID: id, Score: "test", TickUs: 50_000})
	if err != nil {
		t.Fatalf("WriteSession() failed: %v", err)
	}
	return id
}

func fireEvent(seq int64, name string, absUs int64) ir.Event {
	return ir.Event{Seq: seq, Kind: ir.KindFire, Name: name, AbsUs: absUs, RelUs: absUs, RealUs: absUs}
}
