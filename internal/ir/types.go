package ir

import (
	"encoding/hex"
	"fmt"
)

// Handle is an opaque address of a deployed backend or relay.
// Handles are only compared for equality; their content carries no meaning.
type Handle string

// IsZero reports whether h is the empty handle.
func (h Handle) IsZero() bool {
	return h == ""
}

func (h Handle) String() string {
	return string(h)
}

// Selector is the 4-byte operation identifier that prefixes every payload.
type Selector [4]byte

// String returns the selector as 0x-prefixed lowercase hex.
func (s Selector) String() string {
	return "0x" + hex.EncodeToString(s[:])
}

// ParseSelector parses a 0x-prefixed 8-hex-digit selector.
func ParseSelector(s string) (Selector, error) {
	var sel Selector
	if len(s) != 10 || s[:2] != "0x" {
		return sel, fmt.Errorf("selector %q: want 0x followed by 8 hex digits", s)
	}
	b, err := hex.DecodeString(s[2:])
	if err != nil {
		return sel, fmt.Errorf("selector %q: %w", s, err)
	}
	copy(sel[:], b)
	return sel, nil
}

// BackendSpec is a compiled backend manifest.
type BackendSpec struct {
	Name       string          `json:"name"`
	Purpose    string          `json:"purpose"`
	Version    int64           `json:"version"`
	Operations []OperationSpec `json:"operations"`
}

// OperationSpec declares one fixed-result operation of a backend.
type OperationSpec struct {
	Signature string  `json:"signature"` // "getUint()"
	Returns   string  `json:"returns"`   // "uint256", "bool", "bytes32"
	Value     IRValue `json:"value"`     // IRInt, IRBool or IRString (hex for bytes32)
}

// SizeEntry is one row of a relay's expected-size registry.
type SizeEntry struct {
	Signature string   `json:"signature"`
	Selector  Selector `json:"selector"`
	Size      int      `json:"size"`
}

// ChangeKind labels an administrative swap of a relay's backend.
// The kinds differ only in intent; the relay applies them identically.
type ChangeKind string

const (
	ChangeInit     ChangeKind = "init"
	ChangeUpgrade  ChangeKind = "upgrade"
	ChangeRollback ChangeKind = "rollback"
)

// VersionChange records one administrative swap of a relay's backend.
type VersionChange struct {
	ID              string     `json:"id"` // Content-addressed hash
	Relay           Handle     `json:"relay"`
	Kind            ChangeKind `json:"kind"`
	Version         int64      `json:"version"`
	Backend         Handle     `json:"backend"`
	PreviousVersion int64      `json:"previous_version"`
	PreviousBackend Handle     `json:"previous_backend"`
	Seq             int64      `json:"seq"` // Logical clock
}

// SizeRegistration records one registerExpectedSize call.
type SizeRegistration struct {
	ID    string    `json:"id"` // Content-addressed hash
	Relay Handle    `json:"relay"`
	Entry SizeEntry `json:"entry"`
	Seq   int64     `json:"seq"`
}
