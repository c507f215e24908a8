// Package platform provides the address space that backends and relays are
// deployed into, and the opaque invoke primitive used to call them.
package platform

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/roach88/vrelay/internal/ir"
)

// Callable is anything that can be invoked with a raw payload.
// Backends and relays both implement it; callers cannot tell them apart.
type Callable interface {
	Invoke(ctx context.Context, payload []byte) ([]byte, error)
}

// Resolver turns a handle back into the callable deployed at it.
// Resolve returns an INVALID_TARGET RelayError for empty or unknown handles.
type Resolver interface {
	Resolve(h ir.Handle) (Callable, error)
}

// HandleGenerator mints handles for new deployments.
// Implemented by UUIDv7Generator (production) and
// testutil.FixedHandleGenerator (tests).
type HandleGenerator interface {
	Generate() string
}

// Registry is an in-process address space.
//
// Deployments are never removed; a superseded backend simply stops being
// referenced. Thread-safety: all methods are safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	callables map[ir.Handle]Callable
	gen       HandleGenerator
}

// NewRegistry creates an empty registry. A nil generator defaults to
// UUIDv7Generator.
func NewRegistry(gen HandleGenerator) *Registry {
	if gen == nil {
		gen = UUIDv7Generator{}
	}
	return &Registry{
		callables: make(map[ir.Handle]Callable),
		gen:       gen,
	}
}

// NewHandle mints a handle without deploying anything at it.
// Used by callables that must know their own address before deployment.
func (r *Registry) NewHandle() ir.Handle {
	return ir.Handle(r.gen.Generate())
}

// Deploy places c at a freshly generated handle.
func (r *Registry) Deploy(c Callable) (ir.Handle, error) {
	return r.DeployAt(r.NewHandle(), c)
}

// DeployAt places c at a caller-chosen handle.
// Redeploying the same callable at the same handle is a no-op; placing a
// different callable at an occupied handle is an error.
func (r *Registry) DeployAt(h ir.Handle, c Callable) (ir.Handle, error) {
	if h.IsZero() {
		return "", fmt.Errorf("deploy: empty handle")
	}
	if c == nil {
		return "", fmt.Errorf("deploy %s: nil callable", h)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.callables[h]; ok {
		if existing == c {
			return h, nil
		}
		return "", fmt.Errorf("deploy %s: handle already in use", h)
	}
	r.callables[h] = c
	return h, nil
}

// Resolve implements Resolver.
func (r *Registry) Resolve(h ir.Handle) (Callable, error) {
	if h.IsZero() {
		return nil, ir.NewInvalidTargetError(h, "empty handle")
	}

	r.mu.RLock()
	c, ok := r.callables[h]
	r.mu.RUnlock()

	if !ok {
		return nil, ir.NewInvalidTargetError(h, "no deployment at handle")
	}
	return c, nil
}

// Len returns the number of deployments.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.callables)
}

// MaxCallDepth bounds nested invocations. Relays refuse to form a loop among
// themselves; this catches loops closed through any other callable.
const MaxCallDepth = 1024

// ErrCallDepthExceeded is returned when a call chain exceeds MaxCallDepth.
var ErrCallDepthExceeded = errors.New("call depth exceeded")

type depthKey struct{}

// EnterCall increments the call depth carried by ctx.
func EnterCall(ctx context.Context) (context.Context, error) {
	depth, _ := ctx.Value(depthKey{}).(int)
	if depth >= MaxCallDepth {
		return ctx, fmt.Errorf("%w: %d nested calls", ErrCallDepthExceeded, depth)
	}
	return context.WithValue(ctx, depthKey{}, depth+1), nil
}

// CallDepth reports how many nested calls ctx has entered.
func CallDepth(ctx context.Context) int {
	depth, _ := ctx.Value(depthKey{}).(int)
	return depth
}
