package rtkernel

import "sync/atomic"

// atomicState is a lock-free CAS state machine over a small state
// enumeration. Two instantiations back Core and Task, which share the
// same transition discipline but different state sets.
type atomicState[T ~uint32] struct {
	v atomic.Uint32
}

func newAtomicState[T ~uint32](initial T) *atomicState[T] {
	s := &atomicState[T]{}
	s.v.Store(uint32(initial))
	return s
}

// Load returns the current state atomically.
func (s *atomicState[T]) Load() T {
	return T(s.v.Load())
}

// Store unconditionally sets the state, without checking the current one.
func (s *atomicState[T]) Store(v T) {
	s.v.Store(uint32(v))
}

// TryTransition performs a single CAS from one state to another.
func (s *atomicState[T]) TryTransition(from, to T) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}

// TaskState enumerates the task lifecycle states.
type TaskState uint32

const (
	TaskReady TaskState = iota
	TaskRunning
	TaskBlocked
	TaskSuspended
	TaskTerminated
)

func (s TaskState) String() string {
	switch s {
	case TaskReady:
		return "Ready"
	case TaskRunning:
		return "Running"
	case TaskBlocked:
		return "Blocked"
	case TaskSuspended:
		return "Suspended"
	case TaskTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// CoreState enumerates the per-core scheduler states.
type CoreState uint32

const (
	CoreIdle CoreState = iota
	CoreRunning
	CoreSleeping
	CoreTerminating
	CoreTerminated
)

func (s CoreState) String() string {
	switch s {
	case CoreIdle:
		return "Idle"
	case CoreRunning:
		return "Running"
	case CoreSleeping:
		return "Sleeping"
	case CoreTerminating:
		return "Terminating"
	case CoreTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}
