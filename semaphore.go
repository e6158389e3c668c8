package rtkernel

import "github.com/cortexk/rtkernel/kerr"

// Semaphore is a counting semaphore with a bounded count and a
// priority-ordered waiter queue. A give with waiters present hands the
// unit straight to the highest-priority one without touching the count,
// so a timed-out take never leaves a stray unit behind.
type Semaphore struct {
	k *Kernel

	// Guarded by the kernel spinlock.
	count   int
	max     int
	waiters *waitQueue

	ops      uint64
	timeouts uint64
}

// NewSemaphore creates a semaphore with the given initial count and
// maximum, 0 <= initial <= max.
func (k *Kernel) NewSemaphore(initial, max int) (*Semaphore, error) {
	if max <= 0 || initial < 0 || initial > max {
		return nil, kerr.New(kerr.CodeInvalidConfig, "NewSemaphore")
	}
	return &Semaphore{k: k, count: initial, max: max, waiters: newWaitQueue(k.cfg.numPriorities)}, nil
}

// Stats returns the semaphore's operation counters.
func (s *Semaphore) Stats() PrimitiveStats {
	s.k.spin.Lock()
	st := PrimitiveStats{Ops: s.ops, Timeouts: s.timeouts}
	s.k.spin.Unlock()
	return st
}

// Available returns the current count.
func (s *Semaphore) Available() int {
	s.k.spin.Lock()
	n := s.count
	s.k.spin.Unlock()
	return n
}

// IsAvailable reports whether a Take with NoWait would succeed.
func (s *Semaphore) IsAvailable() bool { return s.Available() > 0 }

// Take decrements the count, blocking up to timeout ticks while it is
// zero. A NoWait take on an empty semaphore returns CodeWouldBlock.
func (s *Semaphore) Take(t *Task, timeout Timeout) error {
	k := s.k
	k.spin.Lock()
	s.ops++
	if s.count > 0 {
		s.count--
		k.spin.Unlock()
		return nil
	}
	if timeout == NoWait {
		k.spin.Unlock()
		return kerr.New(kerr.CodeWouldBlock, "Semaphore.Take")
	}
	k.mustBeRunnableLocked(t, "Semaphore.Take")
	switch k.blockOn(t, s.waiters, "semaphore", timeout) {
	case blockOK:
		// The giver handed its unit to this task directly.
		return nil
	case blockTimeout:
		k.spin.Lock()
		s.timeouts++
		k.spin.Unlock()
		return kerr.New(kerr.CodeTimeout, "Semaphore.Take")
	default:
		return kerr.New(kerr.CodeCancelled, "Semaphore.Take")
	}
}

// Give releases one unit from task context. Returns
// CodeSemaphoreOverflow when the count is already at max and nobody
// waits.
func (s *Semaphore) Give(t *Task) error {
	err := s.give()
	if err == nil && t != nil {
		t.checkpoint()
	}
	return err
}

// GiveISR is the ISR-safe give: identical semantics, but it never
// requests a context switch on the calling context. Legal from timer
// callbacks and hooks.
func (s *Semaphore) GiveISR() error { return s.give() }

func (s *Semaphore) give() error {
	k := s.k
	k.spin.Lock()
	s.ops++
	if w := k.wakeHighestLocked(s.waiters); w != nil {
		k.spin.Unlock()
		return nil
	}
	if s.count >= s.max {
		k.spin.Unlock()
		return kerr.New(kerr.CodeSemaphoreOverflow, "Semaphore.Give")
	}
	s.count++
	k.spin.Unlock()
	return nil
}
