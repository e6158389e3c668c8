package rtkernel

import (
	"runtime"
	"sync/atomic"
)

// spinlock is a CAS spin loop standing in for the hardware spinlock a
// real SMP kernel reserves for itself. Two instances exist: the kernel's
// scheduler lock, and the application-facing critical-section lock, so a
// task inside a critical section can still invoke the ISR-safe kernel
// surface without self-deadlocking.
type spinlock struct {
	held atomic.Bool
}

func (s *spinlock) Lock() {
	for !s.held.CompareAndSwap(false, true) {
		runtime.Gosched()
	}
}

func (s *spinlock) Unlock() {
	s.held.Store(false)
}

// CriticalSection is the scoped handle returned by Core.EnterCritical; a
// scoped type rather than bare enable/disable calls that are easy to
// mismatch.
type CriticalSection struct {
	core *Core
}

// EnterCritical masks "interrupts" on this core: while the returned
// CriticalSection is held, no other core's critical section can run and
// blocking kernel calls from this core are fatal, reproducing the
// masked-interrupts contract. Nestable; only the outermost Enter acquires
// the cross-core lock.
func (c *Core) EnterCritical() CriticalSection {
	if c.critNesting.Add(1) == 1 {
		c.kernel.crit.Lock()
	}
	return CriticalSection{core: c}
}

// EnterCritical is the task-level entry: it resolves the calling task's
// current core.
func (t *Task) EnterCritical() CriticalSection {
	return t.core.EnterCritical()
}

// Exit leaves the critical section. Exiting more times than entering
// panics, the same contract as mismatched interrupt mask/unmask calls.
func (cs CriticalSection) Exit() {
	n := cs.core.critNesting.Add(-1)
	if n < 0 {
		panic("rtkernel: critical section exited more times than entered")
	}
	if n == 0 {
		cs.core.kernel.crit.Unlock()
	}
}

// InCritical reports whether this core currently holds a critical
// section; blocking calls refuse to run inside one, the same way
// ISR-unsafe APIs refuse to run from interrupt context.
func (c *Core) InCritical() bool {
	return c.critNesting.Load() > 0
}
