package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/vrelay/internal/ir"
)

// ErrRelayNotFound is returned when no relay matches a name or handle.
var ErrRelayNotFound = errors.New("relay not found")

// RelayRecord is a persisted relay: its identity, current pointer and sizes.
type RelayRecord struct {
	Name    string         `json:"name"`
	Handle  ir.Handle      `json:"handle"`
	Backend ir.Handle      `json:"backend"`
	Version int64          `json:"version"`
	Sizes   []ir.SizeEntry `json:"sizes"`
}

// LoadRelay returns the named relay with its size registry.
// Returns ErrRelayNotFound if the name is unknown or the relay never
// completed its initial assignment.
func (s *Store) LoadRelay(ctx context.Context, name string) (RelayRecord, error) {
	var (
		rec     RelayRecord
		handle  string
		backend sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT name, handle, backend, version FROM relays WHERE name = ?
	`, name).Scan(&rec.Name, &handle, &backend, &rec.Version)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !backend.Valid) {
		return RelayRecord{}, fmt.Errorf("load relay %q: %w", name, ErrRelayNotFound)
	}
	if err != nil {
		return RelayRecord{}, fmt.Errorf("load relay %q: %w", name, err)
	}
	rec.Handle = ir.Handle(handle)
	rec.Backend = ir.Handle(backend.String)

	sizes, err := s.ExpectedSizes(ctx, rec.Handle)
	if err != nil {
		return RelayRecord{}, err
	}
	rec.Sizes = sizes
	return rec, nil
}

// ListRelays returns every initialized relay ordered by name.
func (s *Store) ListRelays(ctx context.Context) ([]RelayRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name FROM relays
		WHERE backend IS NOT NULL
		ORDER BY name COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query relays: %w", err)
	}

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan relay: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate relays: %w", err)
	}
	rows.Close()

	// Loaded after closing rows: the pool holds a single connection.
	relays := make([]RelayRecord, 0, len(names))
	for _, name := range names {
		rec, err := s.LoadRelay(ctx, name)
		if err != nil {
			return nil, err
		}
		relays = append(relays, rec)
	}
	return relays, nil
}

// ExpectedSizes returns the size registry of the relay at handle,
// ordered by signature.
func (s *Store) ExpectedSizes(ctx context.Context, handle ir.Handle) ([]ir.SizeEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT selector, signature, size FROM expected_sizes
		WHERE relay = ?
		ORDER BY signature COLLATE BINARY ASC
	`, string(handle))
	if err != nil {
		return nil, fmt.Errorf("query expected sizes: %w", err)
	}
	defer rows.Close()

	entries := []ir.SizeEntry{}
	for rows.Next() {
		var (
			e   ir.SizeEntry
			sel string
		)
		if err := rows.Scan(&sel, &e.Signature, &e.Size); err != nil {
			return nil, fmt.Errorf("scan expected size: %w", err)
		}
		if e.Selector, err = ir.ParseSelector(sel); err != nil {
			return nil, fmt.Errorf("scan expected size: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expected sizes: %w", err)
	}
	return entries, nil
}

// VersionChanges returns the history of the relay at handle.
// Ordering: seq ASC, id ASC COLLATE BINARY. Returns an empty slice, not nil.
func (s *Store) VersionChanges(ctx context.Context, handle ir.Handle) ([]ir.VersionChange, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, relay, kind, version, backend, previous_version, previous_backend, seq
		FROM version_changes
		WHERE relay = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, string(handle))
	if err != nil {
		return nil, fmt.Errorf("query version changes: %w", err)
	}
	defer rows.Close()

	changes := []ir.VersionChange{}
	for rows.Next() {
		var (
			c                                 ir.VersionChange
			relay, kind, backend, prevBackend string
		)
		err := rows.Scan(&c.ID, &relay, &kind, &c.Version, &backend, &c.PreviousVersion, &prevBackend, &c.Seq)
		if err != nil {
			return nil, fmt.Errorf("scan version change: %w", err)
		}
		c.Relay = ir.Handle(relay)
		c.Kind = ir.ChangeKind(kind)
		c.Backend = ir.Handle(backend)
		c.PreviousBackend = ir.Handle(prevBackend)
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate version changes: %w", err)
	}
	return changes, nil
}

// MaxSeq returns the highest seq journaled by any relay, or 0.
// Restored relays resume their clock from here.
func (s *Store) MaxSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(COALESCE((SELECT MAX(seq) FROM version_changes), 0),
		           COALESCE((SELECT MAX(seq) FROM expected_sizes), 0))
	`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("max seq: %w", err)
	}
	return seq, nil
}
