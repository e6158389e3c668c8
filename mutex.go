package rtkernel

import "github.com/cortexk/rtkernel/kerr"

// Mutex is an ownership-tracked, recursive lock with priority
// inheritance: while a higher-priority task waits, the owner (and,
// transitively, whatever the owner itself is blocked on) is boosted to
// the highest waiter's effective priority until release.
type Mutex struct {
	k *Kernel

	// Guarded by the kernel spinlock.
	owner     *Task
	recursion int
	waiters   *waitQueue

	ops      uint64
	timeouts uint64
}

// NewMutex creates an unowned mutex.
func (k *Kernel) NewMutex() *Mutex {
	return &Mutex{k: k, waiters: newWaitQueue(k.cfg.numPriorities)}
}

// Stats returns the mutex's operation counters.
func (m *Mutex) Stats() PrimitiveStats {
	m.k.spin.Lock()
	s := PrimitiveStats{Ops: m.ops, Timeouts: m.timeouts}
	m.k.spin.Unlock()
	return s
}

// Owner returns the current owner, or nil when the mutex is free.
func (m *Mutex) Owner() *Task {
	m.k.spin.Lock()
	o := m.owner
	m.k.spin.Unlock()
	return o
}

// TryLock acquires the mutex if it is free or already held by t,
// returning CodeWouldBlock when another task owns it. Never blocks, so it
// is legal inside a critical section.
func (m *Mutex) TryLock(t *Task) error {
	k := m.k
	k.spin.Lock()
	m.ops++
	switch {
	case m.owner == nil:
		m.acquireLocked(t)
		k.spin.Unlock()
		return nil
	case m.owner == t:
		m.recursion++
		k.spin.Unlock()
		return nil
	default:
		k.spin.Unlock()
		return kerr.New(kerr.CodeWouldBlock, "Mutex.TryLock")
	}
}

// Lock acquires the mutex, blocking up to timeout ticks. Before parking,
// the caller donates its effective priority to the owner chain.
func (m *Mutex) Lock(t *Task, timeout Timeout) error {
	k := m.k
	k.mustBeRunnable(t, "Mutex.Lock")
	k.spin.Lock()
	m.ops++
	switch {
	case m.owner == nil:
		m.acquireLocked(t)
		k.spin.Unlock()
		return nil
	case m.owner == t:
		m.recursion++
		k.spin.Unlock()
		return nil
	}
	if timeout == NoWait {
		k.spin.Unlock()
		return kerr.New(kerr.CodeWouldBlock, "Mutex.Lock")
	}

	t.blockedOnMutex = m
	m.boostOwnerChainLocked(t.effPriority)
	res := k.blockOn(t, m.waiters, "mutex", timeout)
	switch res {
	case blockOK:
		// Ownership was transferred by the releasing task.
		return nil
	case blockTimeout:
		k.spin.Lock()
		m.timeouts++
		if m.owner != nil {
			k.recomputeInheritanceLocked(m.owner)
		}
		k.spin.Unlock()
		return kerr.New(kerr.CodeTimeout, "Mutex.Lock")
	default:
		return kerr.New(kerr.CodeCancelled, "Mutex.Lock")
	}
}

// Unlock releases one level of recursion. Releasing the outermost level
// restores the caller's inherited priority and hands ownership directly
// to the highest-priority waiter, preempting the caller if the waiter
// outranks it. Unlock of a free mutex or by a non-owner is fatal.
func (m *Mutex) Unlock(t *Task) error {
	k := m.k
	k.spin.Lock()
	if m.owner != t || m.recursion <= 0 {
		k.spin.Unlock()
		k.fatal(kerr.New(kerr.CodeMutexNotOwned, "Mutex.Unlock"))
	}
	m.recursion--
	if m.recursion > 0 {
		k.spin.Unlock()
		return nil
	}

	for i, held := range t.ownedMutexes {
		if held == m {
			t.ownedMutexes = append(t.ownedMutexes[:i], t.ownedMutexes[i+1:]...)
			break
		}
	}
	m.owner = nil

	if w := m.waiters.PopHighest(); w != nil {
		m.acquireLocked(w)
		w.wakeResult = blockOK
		k.readyTaskLocked(w)
	}

	k.recomputeInheritanceLocked(t)
	k.spin.Unlock()
	t.checkpoint()
	return nil
}

// acquireLocked records t as owner with recursion 1. Kernel spinlock held.
func (m *Mutex) acquireLocked(t *Task) {
	m.owner = t
	m.recursion = 1
	t.ownedMutexes = append(t.ownedMutexes, m)
}

// boostOwnerChainLocked raises the effective priority of the owner, and
// transitively of whatever the owner is blocked on, to at least p.
// Kernel spinlock held.
func (m *Mutex) boostOwnerChainLocked(p Priority) {
	for mu := m; mu != nil; {
		o := mu.owner
		if o == nil || o.effPriority >= p {
			return
		}
		o.effPriority = p
		if o.waitQ != nil {
			o.waitQ.Reprioritize(o)
		}
		if c := o.core; c != nil && c.current != nil && c.current != o && p > c.current.effPriority {
			c.needResched.Store(true)
		}
		mu = o.blockedOnMutex
	}
}

// recomputeInheritanceLocked restores o's effective priority to the
// maximum of its base priority and the highest waiter across every mutex
// it still holds, then walks the chain in case o is itself donating.
// Kernel spinlock held.
func (k *Kernel) recomputeInheritanceLocked(o *Task) {
	for o != nil {
		eff := o.basePriority
		for _, held := range o.ownedMutexes {
			if hp, ok := held.waiters.HighestPriority(); ok && hp > eff {
				eff = hp
			}
		}
		if eff == o.effPriority {
			return
		}
		lowered := eff < o.effPriority
		o.effPriority = eff
		if o.waitQ != nil {
			o.waitQ.Reprioritize(o)
		}
		if lowered {
			if c := o.core; c != nil && c.current == o {
				c.needResched.Store(true)
			}
		}
		if o.blockedOnMutex != nil {
			o = o.blockedOnMutex.owner
		} else {
			o = nil
		}
	}
}
