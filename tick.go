package rtkernel

import (
	"sync/atomic"
	"time"
)

// tickSubsystem maintains the kernel's two clocks: the tick counter,
// advanced only by Kernel.Tick so tests can single-step it, and the hi-res
// microsecond counter, read straight off the host monotonic clock against
// a fixed anchor so wall-clock adjustment cannot move it.
type tickSubsystem struct {
	rate   time.Duration
	anchor time.Time
	ticks  atomic.Uint64
}

func newTickSubsystem(rate time.Duration) *tickSubsystem {
	return &tickSubsystem{rate: rate, anchor: time.Now()}
}

// advance increments the tick counter and returns the new value.
func (ts *tickSubsystem) advance() uint64 {
	return ts.ticks.Add(1)
}

// count returns the current tick count.
func (ts *tickSubsystem) count() uint64 {
	return ts.ticks.Load()
}

// uptime is the nominal elapsed time represented by the tick counter.
// Derived from ticks rather than the wall clock so manually-ticked tests
// see deterministic time.
func (ts *tickSubsystem) uptime() time.Duration {
	return time.Duration(ts.ticks.Load()) * ts.rate
}

// now is the nominal current time: the anchor plus uptime.
func (ts *tickSubsystem) now() time.Time {
	return ts.anchor.Add(ts.uptime())
}

// micros is the hi-res 64-bit microsecond counter. Unlike uptime it uses
// the host monotonic clock directly, so it advances between ticks.
func (ts *tickSubsystem) micros() int64 {
	return int64(time.Since(ts.anchor) / time.Microsecond)
}
