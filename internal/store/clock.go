package store

import "sync/atomic"

// Clock is the logical clock that orders pipeline runs.
//
// Runs are ordered by seq, never by wall time, so listings are identical
// across machines. Open resumes the clock from the largest recorded seq.
type Clock struct {
	seq atomic.Int64
}

// NewClockAt creates a clock whose next value is start+1.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last issued sequence number.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
