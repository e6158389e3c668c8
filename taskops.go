package rtkernel

import (
	"runtime"

	"github.com/cortexk/rtkernel/kerr"
)

// Delay parks the calling task for the given number of ticks. A zero
// delay degrades to a yield so equal-priority peers still rotate.
func (t *Task) Delay(ticks Timeout) {
	k := t.kernel
	k.mustBeRunnable(t, "Task.Delay")
	if ticks == NoWait {
		t.Yield()
		return
	}
	k.spin.Lock()
	k.blockOn(t, nil, "delay", ticks)
}

// SuspendTask takes target off the scheduler until ResumeTask. A task
// may not suspend itself: the kernel cannot both park the caller and
// return its error status, so the call is rejected rather than silently
// allowed. Suspending a blocked task cancels its wait; the blocking call
// returns CodeCancelled once the task is resumed.
func (k *Kernel) SuspendTask(caller, target *Task) error {
	if target == nil {
		return kerr.New(kerr.CodeInvalidTask, "SuspendTask")
	}
	if caller == target {
		return kerr.New(kerr.CodeInvalidOperation, "SuspendTask")
	}

	k.spin.Lock()
	defer k.spin.Unlock()
	switch target.state.Load() {
	case TaskReady:
		if target.waitQ != nil {
			target.waitQ.Remove(target)
		}
		target.state.Store(TaskSuspended)
		return nil
	case TaskBlocked:
		if target.waitQ != nil {
			target.waitQ.Remove(target)
		}
		target.sleepGen++
		if m := target.blockedOnMutex; m != nil && m.owner != nil {
			k.recomputeInheritanceLocked(m.owner)
		}
		target.wakeResult = blockCancelled
		target.state.Store(TaskSuspended)
		return nil
	case TaskRunning:
		target.suspendReq.Store(true)
		return nil
	case TaskSuspended:
		return nil
	default:
		return kerr.New(kerr.CodeInvalidTask, "SuspendTask")
	}
}

// ResumeTask makes a suspended task ready again. Resuming a task whose
// suspend request has not yet landed simply cancels the request.
func (k *Kernel) ResumeTask(target *Task) error {
	if target == nil {
		return kerr.New(kerr.CodeInvalidTask, "ResumeTask")
	}
	k.spin.Lock()
	switch target.state.Load() {
	case TaskSuspended:
		k.readyTaskLocked(target)
		k.spin.Unlock()
		return nil
	case TaskRunning:
		target.suspendReq.Store(false)
		k.spin.Unlock()
		return nil
	default:
		k.spin.Unlock()
		return kerr.New(kerr.CodeInvalidOperation, "ResumeTask")
	}
}

// SetTaskPriority changes target's base priority and recomputes its
// effective priority against any inheritance it is currently granting,
// reordering whatever ready or wait queue it sits on.
func (k *Kernel) SetTaskPriority(target *Task, priority Priority) error {
	if target == nil {
		return kerr.New(kerr.CodeInvalidTask, "SetTaskPriority")
	}
	if priority < 1 || int(priority) >= k.cfg.numPriorities {
		return kerr.New(kerr.CodeInvalidPriority, "SetTaskPriority")
	}
	k.spin.Lock()
	target.basePriority = priority
	k.recomputeInheritanceLocked(target)
	// A raise can make a ready task outrank what its core is running.
	if c := target.core; c != nil && target.state.Load() == TaskReady &&
		c.current != nil && target.effPriority > c.current.effPriority {
		c.needResched.Store(true)
	}
	k.spin.Unlock()
	return nil
}

// DeleteTask terminates target. Deleting the calling task never returns:
// the CPU goes back to the scheduler and the goroutine exits. Deleting a
// blocked task unlinks it from its wait queue before the TCB is handed
// to the idle reaper.
func (k *Kernel) DeleteTask(caller, target *Task) error {
	if target == nil {
		return kerr.New(kerr.CodeInvalidTask, "DeleteTask")
	}
	if caller == target {
		target.exit()
		runtime.Goexit()
	}

	k.spin.Lock()
	switch target.state.Load() {
	case TaskReady, TaskBlocked, TaskSuspended:
		m := target.blockedOnMutex
		k.retireTaskLocked(target)
		if m != nil && m.owner != nil {
			k.recomputeInheritanceLocked(m.owner)
		}
		k.spin.Unlock()
		k.reap(target)
		target.kill()
		// Wake parked cores so an idle path harvests the TCB.
		for _, c := range k.cores {
			c.bell.Ring()
		}
		return nil
	case TaskRunning:
		target.deleteReq.Store(true)
		k.spin.Unlock()
		return nil
	default:
		k.spin.Unlock()
		return kerr.New(kerr.CodeDeleted, "DeleteTask")
	}
}
