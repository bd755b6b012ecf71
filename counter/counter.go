// Package counter provides the monotonic sequence-number source shared by
// every Connection. Sequence numbers key the pending-call table and the
// heartbeat ping/pong pairing, so they must be unique within one Connection's
// lifetime (module wraparound aside) and never zero.
package counter

import "sync"

// sentinel is the ceiling above which the counter wraps back to 1. Kept well
// under the uint32 wire field's range so a wrapped value is never mistaken
// for one still in flight from before the wrap.
const sentinel = 1<<31 - 1

// Counter hands out successive positive integers starting at 1. The zero
// value is ready to use. Sn=0 is never returned — it is reserved on the wire
// to mean "no specific call".
type Counter struct {
	mu   sync.Mutex
	last uint32
}

// Next advances the counter and returns the new value.
func (c *Counter) Next() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last >= sentinel {
		c.last = 0
	}
	c.last++
	return c.last
}

// Peek returns the value Next would return, without advancing the counter.
func (c *Counter) Peek() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last >= sentinel {
		return 1
	}
	return c.last + 1
}
