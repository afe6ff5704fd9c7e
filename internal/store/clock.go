package store

import "sync/atomic"

// Clock is a monotonic logical clock. Each call to Next returns a unique,
// strictly increasing value; safe for concurrent use.
type Clock struct {
	seq atomic.Int64
}

// NewClockAt creates a clock whose next value is start+1. Open uses it to
// resume after the highest seq already stored.
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
