package sim

import (
	"sync"
	"time"
)

// VirtualClock tracks simulation time. It only moves when the executor pops
// an event, never from wall-clock time, so runs with the same seed replay
// the same timeline.
type VirtualClock struct {
	mu  sync.Mutex
	now time.Duration
}

// Elapsed returns the simulation time since the runtime was constructed.
func (c *VirtualClock) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// advance moves the clock forward to at. The clock never moves backward;
// events scheduled in the past fire at the current time.
func (c *VirtualClock) advance(at time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if at > c.now {
		c.now = at
	}
}

// TimeHandle is the time authority handed to simulated code: it reads the
// virtual clock and schedules delays on the executor.
type TimeHandle struct {
	clock *VirtualClock
	exec  *Executor
}

// Elapsed returns the current virtual time.
func (h TimeHandle) Elapsed() time.Duration {
	return h.clock.Elapsed()
}

// Sleep suspends the calling task for d of virtual time. Outside the
// scheduler there is nothing to suspend and Sleep returns immediately.
func (h TimeHandle) Sleep(d time.Duration) {
	h.exec.sleep(d)
}
