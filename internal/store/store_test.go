package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/roach88/vrelay/internal/ir"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	tables := []string{"relays", "version_changes", "expected_sizes"}
	for _, table := range tables {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	checks := map[string]string{
		"journal_mode": "wal",
		"foreign_keys": "1",
		"busy_timeout": "5000",
		"synchronous":  "1",
	}
	for name, want := range checks {
		if err := s.verifyPragma(name, want); err != nil {
			t.Error(err)
		}
	}
}

func TestOpen_SchemaVersion(t *testing.T) {
	s := createTestStore(t)

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("user_version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, want %d", version, currentSchemaVersion)
	}

	var name string
	err := s.db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='index' AND name='idx_version_changes_relay_seq'",
	).Scan(&name)
	if err != nil {
		t.Errorf("history index missing: %v", err)
	}
}

func TestOpen_InMemory(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	if err := s.CreateRelay(ctx, "proxy", "0xrelay"); err != nil {
		t.Fatalf("CreateRelay() failed: %v", err)
	}
}

func TestClose_Nil(t *testing.T) {
	var s Store
	if err := s.Close(); err != nil {
		t.Errorf("Close() on zero Store = %v, want nil", err)
	}
}

func TestCreateRelay_Duplicate(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if err := s.CreateRelay(ctx, "proxy", "0xrelay"); err != nil {
		t.Fatalf("CreateRelay() failed: %v", err)
	}

	err := s.CreateRelay(ctx, "proxy", "0xother")
	if !errors.Is(err, ErrRelayExists) {
		t.Errorf("duplicate name: got %v, want ErrRelayExists", err)
	}

	err = s.CreateRelay(ctx, "other", "0xrelay")
	if !errors.Is(err, ErrRelayExists) {
		t.Errorf("duplicate handle: got %v, want ErrRelayExists", err)
	}
}

func TestLoadRelay_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.LoadRelay(context.Background(), "missing")
	if !errors.Is(err, ErrRelayNotFound) {
		t.Errorf("got %v, want ErrRelayNotFound", err)
	}
}

func TestLoadRelay_PendingIsNotFound(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if err := s.CreateRelay(ctx, "proxy", "0xrelay"); err != nil {
		t.Fatalf("CreateRelay() failed: %v", err)
	}

	_, err := s.LoadRelay(ctx, "proxy")
	if !errors.Is(err, ErrRelayNotFound) {
		t.Errorf("relay without init: got %v, want ErrRelayNotFound", err)
	}
}

func TestDeleteRelay_CascadesHistory(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	initRelay(t, s, "proxy", "0xrelay", "0xv1")

	if err := s.DeleteRelay(ctx, "proxy"); err != nil {
		t.Fatalf("DeleteRelay() failed: %v", err)
	}

	changes, err := s.VersionChanges(ctx, "0xrelay")
	if err != nil {
		t.Fatalf("VersionChanges() failed: %v", err)
	}
	if len(changes) != 0 {
		t.Errorf("got %d changes after delete, want 0", len(changes))
	}
}

func TestDSN(t *testing.T) {
	if got := dsn("relays.db"); got != "relays.db?"+connParams {
		t.Errorf("dsn(relays.db) = %q", got)
	}
	if got := dsn("file:relays.db?mode=rwc"); got != "file:relays.db?mode=rwc&"+connParams {
		t.Errorf("dsn with query = %q", got)
	}
}

func TestOpen_MigratesOldDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	// Simulate a database written before the history index existed
	if _, err := s.db.Exec("DROP INDEX idx_version_changes_relay_seq"); err != nil {
		t.Fatalf("drop index: %v", err)
	}
	if _, err := s.db.Exec("PRAGMA user_version = 0"); err != nil {
		t.Fatalf("reset user_version: %v", err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()

	var name string
	err = s.db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='index' AND name='idx_version_changes_relay_seq'",
	).Scan(&name)
	if err != nil {
		t.Errorf("history index not recreated: %v", err)
	}
	if err := s.verifyPragma("user_version", "1"); err != nil {
		t.Error(err)
	}
}
