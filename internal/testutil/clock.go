package testutil

import (
	"slices"
	"sync"
)

// DeterministicClock is a relay.Clock for tests. It starts from a chosen
// base, remembers every value it hands out, and can be rewound so a
// scenario replayed on the same clock journals identical seq values.
type DeterministicClock struct {
	mu     sync.Mutex
	base   int64
	issued []int64
}

// NewDeterministicClock returns a clock whose first Next is 1.
func NewDeterministicClock() *DeterministicClock {
	return NewDeterministicClockAt(0)
}

// NewDeterministicClockAt returns a clock whose first Next is seq+1,
// mirroring relay.NewClockAt for a restored journal.
func NewDeterministicClockAt(seq int64) *DeterministicClock {
	return &DeterministicClock{base: seq}
}

func (c *DeterministicClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	seq := c.base + int64(len(c.issued)) + 1
	c.issued = append(c.issued, seq)
	return seq
}

// Current returns the last value handed out, or the base if none was.
func (c *DeterministicClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.base + int64(len(c.issued))
}

// Issued returns every value handed out since construction or the last
// Reset, in issue order.
func (c *DeterministicClock) Issued() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.issued)
}

// Reset rewinds the clock to its base and forgets the issued values.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.issued = nil
}
