package relay

import "sync/atomic"

// Clock stamps administrative changes with a strictly increasing seq.
// Implemented by LogicalClock (production) and testutil.DeterministicClock.
type Clock interface {
	Next() int64
}

// LogicalClock is a monotonic logical clock for journal ordering.
//
// NEVER use wall-clock timestamps for ordering: a restored relay resumes
// from the journal's highest seq via NewClockAt, and replayed histories
// compare equal regardless of when they ran.
//
// Thread-safety: LogicalClock is safe for concurrent use (atomic operations).
type LogicalClock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *LogicalClock {
	return &LogicalClock{}
}

// NewClockAt creates a new clock starting at a specific sequence number.
// Used to resume from the last journaled change.
func NewClockAt(start int64) *LogicalClock {
	c := &LogicalClock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and increments the clock.
func (c *LogicalClock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *LogicalClock) Current() int64 {
	return c.seq.Load()
}
