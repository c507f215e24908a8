// Package relay implements the delegation relay.
//
// A Relay is a single-slot pointer with a version label. Every payload it
// receives is forwarded verbatim to the current backend; Upgrade and Rollback
// repoint it. The two administrative calls are the same state swap under
// different names: the relay keeps no version history and cannot check that
// a rollback target is actually older.
//
// Because forwarding is opaque, callers going through a relay cannot learn
// the shape of the eventual result. The relay therefore also keeps a size
// registry mapping operation selectors to expected result widths, which a
// static caller consults before decoding.
//
// ARCHITECTURE:
//
// State:
//
//	{backend ir.Handle, version int64, sizes map[ir.Selector]ir.SizeEntry}
//
// guarded by one RWMutex. Forward copies the current handle under the read
// lock and releases it before invoking the backend, so:
//   - an in-flight call finishes against the backend it started with
//   - an administrative call never waits on backend work
//   - once Upgrade returns, no later Forward can observe the old backend
//
// Journal:
// Every administrative change is stamped by a logical clock and handed to the
// optional Journal BEFORE the in-memory swap. A journal error rejects the
// change and leaves state untouched. The relay never reads the journal back.
//
// Validation:
// Upgrade and Rollback reject empty handles, handles the resolver does not
// know, and the relay's own handle with INVALID_TARGET.
package relay
