package rtkernel

import "github.com/cortexk/rtkernel/kerr"

// EventGroup is a word of 32 independent event bits. Waiters register a
// mask, an any-of/all-of mode, and whether to consume matched bits on
// exit; a single Set may release several waiters, evaluated in
// (effective-priority, FIFO) order, and bits one waiter consumes are
// invisible to the waiters evaluated after it.
type EventGroup struct {
	k *Kernel

	// Guarded by the kernel spinlock.
	bits    uint32
	waiters *waitQueue

	ops uint64
}

// egWait is a blocked waiter's recorded condition plus, after wake, the
// event word at the moment the condition matched.
type egWait struct {
	mask  uint32
	all   bool
	clear bool
	got   uint32
}

// NewEventGroup creates an event group with all bits clear.
func (k *Kernel) NewEventGroup() *EventGroup {
	return &EventGroup{k: k, waiters: newWaitQueue(k.cfg.numPriorities)}
}

// Stats returns the event group's operation counters.
func (g *EventGroup) Stats() PrimitiveStats {
	g.k.spin.Lock()
	s := PrimitiveStats{Ops: g.ops}
	g.k.spin.Unlock()
	return s
}

// Get returns the current event word.
func (g *EventGroup) Get() uint32 {
	g.k.spin.Lock()
	bits := g.bits
	g.k.spin.Unlock()
	return bits
}

func egSatisfied(bits, mask uint32, all bool) bool {
	if all {
		return bits&mask == mask
	}
	return bits&mask != 0
}

// Set ORs mask into the event word and releases every waiter whose
// condition is now satisfied, highest priority first. Returns the event
// word after all release-side clearing.
func (g *EventGroup) Set(t *Task, mask uint32) uint32 {
	bits := g.set(mask)
	if t != nil {
		t.checkpoint()
	}
	return bits
}

// SetISR is the ISR-safe set: identical semantics, no context switch on
// the calling context.
func (g *EventGroup) SetISR(mask uint32) uint32 { return g.set(mask) }

func (g *EventGroup) set(mask uint32) uint32 {
	k := g.k
	k.spin.Lock()
	g.ops++
	g.bits |= mask

	// Snapshot in release order, then evaluate against the live word so
	// clear-on-exit consumption is observed by later waiters.
	for _, w := range g.waiters.snapshotDescending() {
		req, ok := w.blockData.(*egWait)
		if !ok {
			continue
		}
		if !egSatisfied(g.bits, req.mask, req.all) {
			continue
		}
		req.got = g.bits
		if req.clear {
			g.bits &^= req.mask
		}
		g.waiters.Remove(w)
		w.wakeResult = blockOK
		k.readyTaskLocked(w)
	}
	bits := g.bits
	k.spin.Unlock()
	return bits
}

// Clear ANDs away mask without waking anyone, returning the event word
// prior to clearing.
func (g *EventGroup) Clear(mask uint32) uint32 {
	k := g.k
	k.spin.Lock()
	g.ops++
	prev := g.bits
	g.bits &^= mask
	k.spin.Unlock()
	return prev
}

// Wait blocks until the condition over mask holds: all bits when waitAll,
// any bit otherwise. On success the returned word is the event word at
// the moment the condition matched; with clearOnExit the matched mask is
// consumed atomically under the same critical section. A zero mask
// returns immediately with the current word.
func (g *EventGroup) Wait(t *Task, mask uint32, waitAll, clearOnExit bool, timeout Timeout) (uint32, error) {
	k := g.k
	k.spin.Lock()
	g.ops++

	if mask == 0 {
		bits := g.bits
		k.spin.Unlock()
		return bits, nil
	}
	if egSatisfied(g.bits, mask, waitAll) {
		bits := g.bits
		if clearOnExit {
			g.bits &^= mask
		}
		k.spin.Unlock()
		return bits, nil
	}
	if timeout == NoWait {
		bits := g.bits
		k.spin.Unlock()
		return bits, kerr.New(kerr.CodeWouldBlock, "EventGroup.Wait")
	}
	k.mustBeRunnableLocked(t, "EventGroup.Wait")

	req := &egWait{mask: mask, all: waitAll, clear: clearOnExit}
	t.blockData = req
	res := k.blockOn(t, g.waiters, "event_group", timeout)
	t.blockData = nil
	switch res {
	case blockOK:
		return req.got, nil
	case blockTimeout:
		return g.Get(), kerr.New(kerr.CodeTimeout, "EventGroup.Wait")
	default:
		return g.Get(), kerr.New(kerr.CodeCancelled, "EventGroup.Wait")
	}
}
