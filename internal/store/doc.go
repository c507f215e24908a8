// Package store provides SQLite-backed durable storage for relay state.
//
// The store is the journal behind the CLI: each administrative change a
// relay accepts is written here before the relay applies it, so a later
// process can restore the relay and audit how it got there.
//
// Tables:
//   - relays: one row per named relay with its current backend and version
//   - version_changes: append-only history of init, upgrade and rollback
//   - expected_sizes: the current size registry, one row per selector
//
// # Ordering
//
// All queries order by seq ASC, id ASC COLLATE BINARY. Seq values come from
// the relay's logical clock, which resumes from MaxSeq on restore.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Record IDs are content-addressed via internal/ir/hash.go.
package store
