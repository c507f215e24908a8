package testutil

import (
	"fmt"
	"sync"
)

// SequentialHandleGenerator mints address-shaped handles 0x…01, 0x…02, …
//
// Deterministic handles keep scenario traces and journals byte-identical
// across runs, which golden comparison depends on.
//
// Thread-safety: SequentialHandleGenerator is safe for concurrent use.
type SequentialHandleGenerator struct {
	mu sync.Mutex
	n  uint64
}

// NewSequentialHandleGenerator creates a generator whose first handle ends in 01.
func NewSequentialHandleGenerator() *SequentialHandleGenerator {
	return &SequentialHandleGenerator{}
}

// Generate returns the next handle.
//
// Implements platform.HandleGenerator.
func (g *SequentialHandleGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("0x%040x", g.n)
}

// FixedHandleGenerator returns predetermined handles in order.
//
// Panics when exhausted: a test that deploys more than it declared is
// misconfigured, and failing fast points at the extra deployment.
type FixedHandleGenerator struct {
	mu      sync.Mutex
	handles []string
	idx     int
}

// NewFixedHandleGenerator creates a generator that returns handles in order.
func NewFixedHandleGenerator(handles ...string) *FixedHandleGenerator {
	return &FixedHandleGenerator{handles: handles}
}

// Generate returns the next predetermined handle.
func (g *FixedHandleGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.handles) {
		panic("FixedHandleGenerator: all handles exhausted")
	}
	h := g.handles[g.idx]
	g.idx++
	return h
}
