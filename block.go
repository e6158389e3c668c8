package rtkernel

import "github.com/cortexk/rtkernel/kerr"

// Timeout is a relative deadline in ticks for blocking kernel calls.
type Timeout uint32

const (
	// NoWait makes the call non-blocking: it fails immediately instead of
	// parking the caller.
	NoWait Timeout = 0
	// Forever blocks with no deadline.
	Forever Timeout = ^Timeout(0)
)

// blockResult is the status a blocking call resumes with.
type blockResult uint8

const (
	// blockOK: the awaited resource was handed to the task by its waker.
	blockOK blockResult = iota
	// blockTimeout: the wake deadline passed first.
	blockTimeout
	// blockCancelled: the wait was torn down externally (suspend of a
	// blocked task, primitive deletion).
	blockCancelled
)

// blockOn parks the calling task t on wait queue q (which may be nil for
// a pure delay) with the given reason tag and relative deadline. Must be
// entered with the kernel spinlock held; the lock is released across the
// suspension and NOT re-acquired: the call returns only after the
// scheduler has re-elected t.
func (k *Kernel) blockOn(t *Task, q *waitQueue, reason string, timeout Timeout) blockResult {
	c := t.core
	t.state.Store(TaskBlocked)
	t.blockedOn = reason
	t.wakeResult = blockCancelled
	t.sleepGen++
	if q != nil {
		q.Push(t)
	}
	if timeout != Forever {
		c.addSleeperLocked(t, k.tick.count()+uint64(timeout))
	}
	if k.trace != nil {
		k.trace.emit(TraceBlock, t.id, c.index, 0)
	}
	res := t.park(c)
	t.blockedOn = ""
	t.blockedOnMutex = nil
	return res
}

// wakeHighestLocked removes the highest-priority waiter from q (FIFO
// among equals), marks its wait satisfied, and re-inserts it into its
// core's ready set. O(1) in the number of waiters. Returns nil when q is
// empty. Kernel spinlock held.
func (k *Kernel) wakeHighestLocked(q *waitQueue) *Task {
	t := q.PopHighest()
	if t == nil {
		return nil
	}
	t.wakeResult = blockOK
	k.readyTaskLocked(t)
	return t
}

// readyTaskLocked inserts t into the ready set of its home core (or a
// freshly chosen one if it has none, or its affinity no longer allows the
// old one) and delivers the wake: a doorbell IPI if the target core is
// idle, or a reschedule request if t outranks what is running there.
// Kernel spinlock held.
func (k *Kernel) readyTaskLocked(t *Task) {
	t.sleepGen++
	c := t.core
	if c == nil || !t.affinity.Allows(c.index) {
		c = k.pickCoreLocked(t)
		t.core = c
	}
	t.state.Store(TaskReady)
	c.ready.Push(t)
	if k.trace != nil {
		k.trace.emit(TraceWake, t.id, c.index, uint64(t.effPriority))
	}
	cur := c.current
	switch {
	case cur == nil:
		c.bell.Ring()
	case t.effPriority > cur.effPriority:
		c.needResched.Store(true)
	}
}

// mustBeRunnable guards the blocking entry points: a blocking call is
// only legal from the task that currently owns its core's CPU, outside
// any critical section. Violations are tier-3 fatal, matching the
// "blocking call from ISR" rule.
func (k *Kernel) mustBeRunnable(t *Task, op string) {
	if t == nil || t.state.Load() != TaskRunning {
		k.fatal(kerr.New(kerr.CodeInvalidOperation, op))
	}
	if c := t.core; c != nil && c.InCritical() {
		k.fatal(kerr.New(kerr.CodeInvalidOperation, op))
	}
}

// mustBeRunnableLocked is mustBeRunnable for callers already inside the
// kernel spinlock; the lock is dropped before the fatal path fires.
func (k *Kernel) mustBeRunnableLocked(t *Task, op string) {
	if t == nil || t.state.Load() != TaskRunning || (t.core != nil && t.core.InCritical()) {
		k.spin.Unlock()
		k.fatal(kerr.New(kerr.CodeInvalidOperation, op))
	}
}
