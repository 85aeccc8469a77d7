package flush

import "sync/atomic"

// Clock stamps observer events with a monotonic logical sequence number.
//
// Worker lanes report concurrently, so wall-clock timestamps give no usable
// order. Seq values are unique within one clock and strictly increasing in
// the order Next is called.
//
// Thread-safety: Clock is safe for concurrent use.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
