// Package backend implements versioned implementation backends.
//
// A backend is stateless: each operation returns the same fixed value on
// every call. Versions differ only in those values, which is how a relay
// upgrade becomes observable to callers.
package backend

import (
	"context"
	"fmt"

	"github.com/roach88/vrelay/internal/abi"
	"github.com/roach88/vrelay/internal/ir"
	"github.com/roach88/vrelay/internal/platform"
)

// operation is a compiled OperationSpec: selector, encoded result, declared width.
type operation struct {
	signature string
	result    []byte
	size      int
}

// Backend is an immutable, deployed implementation.
type Backend struct {
	name    string
	version int64
	ops     map[ir.Selector]operation
	order   []ir.Selector // declaration order, for Operations()
}

// New compiles a manifest into a Backend.
// Returns all validation errors joined, not just the first.
func New(spec ir.BackendSpec) (*Backend, error) {
	if errs := Validate(spec); len(errs) > 0 {
		return nil, fmt.Errorf("backend %q: %w", spec.Name, joinValidation(errs))
	}

	b := &Backend{
		name:    spec.Name,
		version: spec.Version,
		ops:     make(map[ir.Selector]operation, len(spec.Operations)),
	}
	// Validate has checked every operation; these errors are unreachable
	// while it stays in step with abi.
	for _, op := range spec.Operations {
		parsed, err := abi.ParseSignature(op.Signature)
		if err != nil {
			return nil, fmt.Errorf("backend %q: %w", spec.Name, err)
		}
		sel := abi.SelectorOf(parsed)
		result, err := abi.EncodeValue(op.Returns, op.Value)
		if err != nil {
			return nil, fmt.Errorf("backend %q: operation %s: %w", spec.Name, op.Signature, err)
		}
		size, ok := abi.ReturnSize(op.Returns)
		if !ok || size != len(result) {
			return nil, fmt.Errorf("backend %q: operation %s: no fixed width for %q", spec.Name, op.Signature, op.Returns)
		}
		b.ops[sel] = operation{
			signature: parsed.Canonical(),
			result:    result,
			size:      size,
		}
		b.order = append(b.order, sel)
	}
	return b, nil
}

// Name returns the manifest name, e.g. "UpgradeableV1".
func (b *Backend) Name() string { return b.name }

// Version returns the manifest version.
func (b *Backend) Version() int64 { return b.version }

// Operations returns the canonical signatures in declaration order.
func (b *Backend) Operations() []string {
	sigs := make([]string, len(b.order))
	for i, sel := range b.order {
		sigs[i] = b.ops[sel].signature
	}
	return sigs
}

// Invoke implements platform.Callable.
// Unknown selectors and payloads shorter than a selector fail with
// UNKNOWN_OPERATION. The returned slice is a copy.
func (b *Backend) Invoke(ctx context.Context, payload []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sel, _, ok := abi.SplitPayload(payload)
	if !ok {
		return nil, &ir.RelayError{
			Code:    ir.ErrCodeUnknownOperation,
			Message: fmt.Sprintf("payload of %d bytes has no selector", len(payload)),
		}
	}

	op, ok := b.ops[sel]
	if !ok {
		err := ir.NewUnknownOperationError("", "", sel)
		err.Message = fmt.Sprintf("operation %s not exposed by backend %s", sel, b.name)
		err.Details["backend"] = b.name
		return nil, err
	}

	out := make([]byte, len(op.result))
	copy(out, op.result)
	return out, nil
}

// ReturnSize reports the declared result width of an operation, so a static
// caller talking to this backend directly needs no size registration.
func (b *Backend) ReturnSize(sel ir.Selector) (int, bool) {
	op, ok := b.ops[sel]
	if !ok {
		return 0, false
	}
	return op.size, true
}

// Deploy compiles spec and places it in reg at its content-addressed
// handle. Deploying the same manifest twice yields the same handle, which
// lets separate processes agree on backend addresses without a registry
// of their own.
func Deploy(reg *platform.Registry, spec ir.BackendSpec) (ir.Handle, *Backend, error) {
	b, err := New(spec)
	if err != nil {
		return "", nil, err
	}
	h, err := ir.BackendHandle(spec)
	if err != nil {
		return "", nil, fmt.Errorf("backend %q: %w", spec.Name, err)
	}
	if existing, err := reg.Resolve(h); err == nil {
		if same, ok := existing.(*Backend); ok {
			return h, same, nil
		}
	}
	if _, err := reg.DeployAt(h, b); err != nil {
		return "", nil, fmt.Errorf("backend %q: %w", spec.Name, err)
	}
	return h, b, nil
}
