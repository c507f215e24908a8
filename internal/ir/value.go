package ir

import (
	"slices"
	"unicode/utf16"
)

// IRValue is a value that can appear in a manifest or a hashed record.
// The set is closed and has no float variant: floats have no single
// canonical encoding.
type IRValue interface {
	irValue()
}

type (
	IRString string
	IRInt    int64
	IRBool   bool
	IRArray  []IRValue
	// IRObject is unordered; canonical output walks SortedKeys.
	IRObject map[string]IRValue
)

func (IRString) irValue() {}
func (IRInt) irValue() {}
func (IRBool) irValue() {}
func (IRArray) irValue() {}
func (IRObject) irValue() {}

// SortedKeys returns the keys ordered by their UTF-16 code units, the order
// RFC 8785 requires. It differs from byte order for characters outside the
// Basic Multilingual Plane.
func (obj IRObject) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b string) int {
		return slices.Compare(utf16Units(a), utf16Units(b))
	})
	return keys
}

func utf16Units(s string) []uint16 {
	units := make([]uint16, 0, len(s))
	for _, r := range s {
		units = utf16.AppendRune(units, r)
	}
	return units
}
