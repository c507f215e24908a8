// Package ir provides the shared record types for vrelay.
//
// Every other internal package imports ir; ir imports nothing internal.
// It holds handles, selectors, backend manifests, the administrative
// records written to the journal, the error taxonomy, and the canonical
// JSON encoding used to derive content-addressed identifiers.
//
// Key design constraints:
//   - Handles are opaque and only compared for equality
//   - NO float types anywhere - use int64 for numbers
//   - Logical clocks (seq) only, never wall-clock timestamps
//   - All JSON tags use snake_case
package ir
