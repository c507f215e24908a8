// Package caller implements the static caller: a read-only front-end that
// invokes a fixed target and decodes the raw result using a known width.
//
// The target is either a backend, whose return widths are declared in its
// manifest, or a relay, which forwards raw bytes and so must be told the
// width through its size registry. The caller never learns which backend a
// relay is currently pointing at; upgrades are visible to it only through
// the values it decodes.
package caller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math/big"

	"github.com/roach88/vrelay/internal/abi"
	"github.com/roach88/vrelay/internal/ir"
	"github.com/roach88/vrelay/internal/platform"
)

// SizeRegistry is implemented by targets that forward raw bytes and keep a
// registry of expected result widths (*relay.Relay).
type SizeRegistry interface {
	ExpectedSize(sel ir.Selector) (ir.SizeEntry, bool)
}

// StaticSizer is implemented by targets that know their own return widths
// (*backend.Backend).
type StaticSizer interface {
	ReturnSize(sel ir.Selector) (int, bool)
}

// StaticCaller performs read-only calls against a target resolved once at
// construction.
//
// Thread-safety: StaticCaller is immutable and safe for concurrent use.
type StaticCaller struct {
	handle ir.Handle
	target platform.Callable
	logger *slog.Logger
}

// Option configures a StaticCaller.
type Option func(*StaticCaller)

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *StaticCaller) {
		c.logger = l
	}
}

// New resolves target and binds the caller to it.
// Fails with INVALID_TARGET if target cannot be resolved.
func New(resolver platform.Resolver, target ir.Handle, opts ...Option) (*StaticCaller, error) {
	callable, err := resolver.Resolve(target)
	if err != nil {
		return nil, fmt.Errorf("static caller: %w", err)
	}
	c := &StaticCaller{
		handle: target,
		target: callable,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c, nil
}

// Target returns the handle the caller was constructed with.
func (c *StaticCaller) Target() ir.Handle {
	return c.handle
}

// CallRaw invokes signature on the target and returns exactly the first N
// bytes of the result, where N is the expected width for signature.
//
// The width is resolved before invoking, so a relay without a registration
// fails with MISSING_SIZE_REGISTRATION and the backend is never reached.
// A result shorter than N fails with DECODE_SIZE_MISMATCH; no partial
// value is returned.
func (c *StaticCaller) CallRaw(ctx context.Context, signature string) ([]byte, error) {
	parsed, err := abi.ParseSignature(signature)
	if err != nil {
		return nil, err
	}
	canonical := parsed.Canonical()
	sel := abi.SelectorOf(parsed)

	size, err := c.expectedSize(canonical, sel)
	if err != nil {
		return nil, err
	}

	payload, err := abi.EncodeCall(canonical)
	if err != nil {
		return nil, err
	}

	raw, err := c.target.Invoke(ctx, payload)
	if err != nil {
		c.logger.Debug("static call failed", "target", c.handle, "signature", canonical, "error", err)
		return nil, c.annotate(err, canonical)
	}

	if len(raw) < size {
		return nil, ir.NewDecodeSizeMismatchError(canonical, size, len(raw))
	}

	out := make([]byte, size)
	copy(out, raw[:size])
	return out, nil
}

// Call is CallRaw followed by a big-endian unsigned decode, the typed value
// of a uint256 result.
func (c *StaticCaller) Call(ctx context.Context, signature string) (*big.Int, error) {
	raw, err := c.CallRaw(ctx, signature)
	if err != nil {
		return nil, err
	}
	return abi.DecodeUint(raw), nil
}

// expectedSize picks the width for sel. A size registry takes precedence
// over a static sizer.
func (c *StaticCaller) expectedSize(signature string, sel ir.Selector) (int, error) {
	if reg, ok := c.target.(SizeRegistry); ok {
		entry, found := reg.ExpectedSize(sel)
		if !found {
			return 0, ir.NewMissingSizeRegistrationError(c.handle, signature)
		}
		return entry.Size, nil
	}
	if sizer, ok := c.target.(StaticSizer); ok {
		size, found := sizer.ReturnSize(sel)
		if !found {
			return 0, ir.NewUnknownOperationError(c.handle, signature, sel)
		}
		return size, nil
	}
	return 0, ir.NewMissingSizeRegistrationError(c.handle, signature)
}

// annotate fills in the call's target and signature on a RelayError that
// came back without them, as a backend behind a relay knows neither.
// Other errors are returned unchanged.
func (c *StaticCaller) annotate(err error, signature string) error {
	var re *ir.RelayError
	if !errors.As(err, &re) || (re.Signature != "" && !re.Target.IsZero()) {
		return err
	}
	out := *re
	out.Details = maps.Clone(re.Details)
	if out.Signature == "" {
		out.Signature = signature
	}
	if out.Target.IsZero() {
		out.Target = c.handle
	}
	return &out
}
