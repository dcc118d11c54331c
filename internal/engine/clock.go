package engine

import "sync/atomic"

// Clock hands out the logical sequence numbers stamped on committed actions.
//
// Seq reflects commit order: an action dispatched from inside another
// action's turn (auto-registration, hydration) commits, and is numbered,
// before the action that triggered it.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock whose first Next returns 1.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock whose first Next returns start+1. The engine
// uses it to continue a journaled run.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next advances the clock and returns the new value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last value handed out.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
