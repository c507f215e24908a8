package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/vrelay/internal/ir"
)

// ErrRelayExists is returned by CreateRelay when the name or handle is taken.
var ErrRelayExists = errors.New("relay already exists")

// CreateRelay reserves a name for a relay at handle.
// The row has no backend until the relay's ChangeInit record is written.
func (s *Store) CreateRelay(ctx context.Context, name string, handle ir.Handle) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO relays (name, handle) VALUES (?, ?)
	`, name, string(handle))
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return fmt.Errorf("create relay %q: %w", name, ErrRelayExists)
		}
		return fmt.Errorf("create relay %q: %w", name, err)
	}
	return nil
}

// DeleteRelay removes a relay and, by cascade, its history and sizes.
// Used to undo CreateRelay when the relay's initial assignment is rejected.
func (s *Store) DeleteRelay(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM relays WHERE name = ?`, name); err != nil {
		return fmt.Errorf("delete relay %q: %w", name, err)
	}
	return nil
}

// RecordVersionChange appends c to the history and moves the relay's
// current backend and version, in one transaction.
//
// Implements relay.Journal. Duplicate IDs are ignored so a replayed
// record does not fork the history.
func (s *Store) RecordVersionChange(ctx context.Context, c ir.VersionChange) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE relays SET backend = ?, version = ? WHERE handle = ?
		`, string(c.Backend), c.Version, string(c.Relay))
		if err != nil {
			return fmt.Errorf("record version change: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("record version change: %w: %s", ErrRelayNotFound, c.Relay)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO version_changes
			(id, relay, kind, version, backend, previous_version, previous_backend, seq)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`,
			c.ID,
			string(c.Relay),
			string(c.Kind),
			c.Version,
			string(c.Backend),
			c.PreviousVersion,
			string(c.PreviousBackend),
			c.Seq,
		)
		if err != nil {
			return fmt.Errorf("record version change: %w", err)
		}
		return nil
	})
}

// RecordSizeRegistration upserts r into the relay's size registry.
// Implements relay.Journal.
func (s *Store) RecordSizeRegistration(ctx context.Context, r ir.SizeRegistration) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO expected_sizes (relay, selector, signature, size, id, seq)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(relay, selector) DO UPDATE SET
			signature = excluded.signature,
			size      = excluded.size,
			id        = excluded.id,
			seq       = excluded.seq
	`,
		string(r.Relay),
		r.Entry.Selector.String(),
		r.Entry.Signature,
		r.Entry.Size,
		r.ID,
		r.Seq,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return fmt.Errorf("record size registration: %w: %s", ErrRelayNotFound, r.Relay)
		}
		return fmt.Errorf("record size registration: %w", err)
	}
	return nil
}

// withTx runs fn in a transaction, committing on success.
func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
