// Package clock implements the hybrid monotonic clock each shard uses to
// stamp records. One Clock belongs to exactly one shard/reactor; it must
// never be shared across goroutines that don't already serialize through
// the shard's single-threaded cooperative scheduler.
package clock

import (
	"sync"
	"time"
)

// Clock hands out strictly increasing nanosecond timestamps, even across
// wall-clock regressions, and can be advanced past timestamps recovered
// from disk after a restart.
type Clock struct {
	mu   sync.Mutex
	last uint64
}

// New returns a Clock with no prior history.
func New() *Clock {
	return &Clock{}
}

// Now returns max(system_time_ns, last+1) and stores that value as the new
// last, so two calls never return the same timestamp.
func (c *Clock) Now() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := uint64(time.Now().UnixNano())
	next := c.last + 1
	if now > next {
		next = now
	}
	c.last = next
	return next
}

// Sync advances last to max(last, external+1). Used to absorb timestamps
// observed on disk during recovery so new writes never tie or precede any
// recovered record.
func (c *Clock) Sync(external uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if external+1 > c.last {
		c.last = external + 1
	}
}

// Last returns the stored last value: the most recently issued timestamp,
// or external+1 after a Sync that moved the clock forward; 0 for a fresh
// Clock. Exposed for tests and stats reporting.
func (c *Clock) Last() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
