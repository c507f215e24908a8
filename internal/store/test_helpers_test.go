package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/vrelay/internal/ir"
)

// createTestStore creates a new file-backed store for testing.
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

// createTestChange builds a version change with its content-addressed ID.
func createTestChange(t *testing.T, relay, backend, prev ir.Handle, kind ir.ChangeKind, version, seq int64) ir.VersionChange {
	t.Helper()
	c := ir.VersionChange{
		Relay:           relay,
		Kind:            kind,
		Version:         version,
		Backend:         backend,
		PreviousBackend: prev,
		Seq:             seq,
	}
	id, err := ir.VersionChangeID(c)
	if err != nil {
		t.Fatalf("VersionChangeID() failed: %v", err)
	}
	c.ID = id
	return c
}

// initRelay creates a relay and journals its initial assignment at seq 1.
func initRelay(t *testing.T, s *Store, name string, relay, backend ir.Handle) {
	t.Helper()
	ctx := context.Background()
	if err := s.CreateRelay(ctx, name, relay); err != nil {
		t.Fatalf("CreateRelay() failed: %v", err)
	}
	c := createTestChange(t, relay, backend, "", ir.ChangeInit, 1, 1)
	if err := s.RecordVersionChange(ctx, c); err != nil {
		t.Fatalf("RecordVersionChange(init) failed: %v", err)
	}
}
