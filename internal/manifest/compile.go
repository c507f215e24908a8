// Package manifest compiles CUE backend manifests into ir.BackendSpec.
//
// A manifest directory holds one CUE package with a top-level "backend"
// struct; each field is a backend named by its label:
//
//	backend: UpgradeableV1: {
//		purpose: "first release"
//		version: 1
//		operation: "getUint()": {returns: "uint256", value: 1}
//	}
package manifest

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/vrelay/internal/ir"
)

// CompileBackend parses a CUE value into a BackendSpec.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value should be the backend struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`backend: V1: { ... }`)
//	spec, err := CompileBackend(v.LookupPath(cue.ParsePath("backend.V1")))
//
// CompileBackend checks shape only; backend.Validate checks semantics.
func CompileBackend(v cue.Value) (*ir.BackendSpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	spec := &ir.BackendSpec{}

	labels := v.Path().Selectors()
	if len(labels) > 0 {
		spec.Name = labelString(labels[len(labels)-1])
	}

	// Purpose (optional)
	if purposeVal := v.LookupPath(cue.ParsePath("purpose")); purposeVal.Exists() {
		purpose, err := purposeVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		spec.Purpose = purpose
	}

	// Version (required)
	versionVal := v.LookupPath(cue.ParsePath("version"))
	if !versionVal.Exists() {
		return nil, &CompileError{
			Field:   "version",
			Message: "version is required",
			Pos:     v.Pos(),
		}
	}
	version, err := versionVal.Int64()
	if err != nil {
		return nil, &CompileError{
			Field:   "version",
			Message: "version must be an integer",
			Pos:     versionVal.Pos(),
		}
	}
	spec.Version = version

	spec.Operations, err = parseOperations(v)
	if err != nil {
		return nil, err
	}
	if len(spec.Operations) == 0 {
		return nil, &CompileError{
			Field:   "operation",
			Message: "at least one operation is required",
			Pos:     v.Pos(),
		}
	}

	return spec, nil
}

// parseOperations reads the "operation" struct in declaration order.
func parseOperations(v cue.Value) ([]ir.OperationSpec, error) {
	var ops []ir.OperationSpec

	opsVal := v.LookupPath(cue.ParsePath("operation"))
	if !opsVal.Exists() {
		return ops, nil
	}

	iter, err := opsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	for iter.Next() {
		sig := labelString(iter.Selector())
		opVal := iter.Value()

		returnsVal := opVal.LookupPath(cue.ParsePath("returns"))
		if !returnsVal.Exists() {
			return nil, &CompileError{
				Field:   fmt.Sprintf("operation.%s.returns", sig),
				Message: "operation return type is required",
				Pos:     opVal.Pos(),
			}
		}
		returns, err := returnsVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}

		valueVal := opVal.LookupPath(cue.ParsePath("value"))
		if !valueVal.Exists() {
			return nil, &CompileError{
				Field:   fmt.Sprintf("operation.%s.value", sig),
				Message: "operation value is required",
				Pos:     opVal.Pos(),
			}
		}
		value, err := extractValue(valueVal)
		if err != nil {
			return nil, err
		}

		ops = append(ops, ir.OperationSpec{
			Signature: sig,
			Returns:   returns,
			Value:     value,
		})
	}

	return ops, nil
}

// extractValue converts a concrete CUE scalar to an IRValue.
// Floats are forbidden: they break canonical hashing of backend handles.
func extractValue(v cue.Value) (ir.IRValue, error) {
	switch v.Kind() {
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, &CompileError{Field: "value", Message: err.Error(), Pos: v.Pos()}
		}
		return ir.IRInt(n), nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRBool(b), nil
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRString(s), nil
	case cue.FloatKind, cue.NumberKind:
		return nil, &CompileError{
			Field:   "value",
			Message: "float values are forbidden - use int instead",
			Pos:     v.Pos(),
		}
	case cue.BottomKind:
		return nil, &CompileError{
			Field:   "value",
			Message: "value must be concrete",
			Pos:     v.Pos(),
		}
	default:
		return nil, &CompileError{
			Field:   "value",
			Message: fmt.Sprintf("unsupported value kind: %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}

// labelString returns a field label without CUE quoting, so
// "getUint()" and getUint read the same.
func labelString(sel cue.Selector) string {
	if sel.IsString() {
		return sel.Unquoted()
	}
	return sel.String()
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError converts CUE errors to CompileError with position info.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
