package rtkernel

import (
	"container/heap"
	"sync/atomic"

	"github.com/cortexk/rtkernel/internal/ringbuf"
)

// timeSliceTicks is the round-robin quantum for equal-priority tasks.
const timeSliceTicks = 1

// loadWindowTicks is the sliding window over which per-core CPU
// utilization is computed for priority-based placement and observables.
const loadWindowTicks = 64

// sleepEntry is one task's absolute wake deadline. Entries are lazily
// invalidated via the task's sleepGen rather than removed in place;
// stale ones fall out of the heap unobserved.
type sleepEntry struct {
	when uint64
	gen  uint64
	task *Task
}

// sleeperHeap is a min-heap of wake deadlines.
type sleeperHeap []sleepEntry

func (h sleeperHeap) Len() int            { return len(h) }
func (h sleeperHeap) Less(i, j int) bool  { return h[i].when < h[j].when }
func (h sleeperHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *sleeperHeap) Push(x any)         { *h = append(*h, x.(sleepEntry)) }
func (h *sleeperHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Core is one scheduler instance: a ready set, a sleeper heap, an IPC
// inbox, and a goroutine running loop. On hardware each Core would be a
// physical CPU; here it is the goroutine that owns dispatch decisions for
// the tasks assigned to it.
type Core struct {
	kernel *Kernel
	index  int

	state       *atomicState[CoreState]
	critNesting atomic.Int32

	// Guarded by the kernel spinlock.
	ready    *waitQueue
	current  *Task
	sleepers sleeperHeap

	needResched atomic.Bool

	bell      doorbell
	cpuReturn chan struct{}

	stopping atomic.Bool
	stopCh   chan struct{}

	// Statistics, guarded by the kernel spinlock unless noted.
	switchCount   uint64
	busyInWindow  int
	windowStart   uint64
	loadPercent   atomic.Int32
	loadHistory   *ringbuf.Window[int32]
	migrationsIn  uint64
	migrationsOut uint64
}

func newCore(k *Kernel, index, numPriorities int) *Core {
	return &Core{
		kernel:      k,
		index:       index,
		state:       newAtomicState(CoreIdle),
		ready:       newWaitQueue(numPriorities),
		bell:        newDoorbell(),
		cpuReturn:   make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
		loadHistory: ringbuf.NewWindow[int32](16),
	}
}

// Index returns the core's number.
func (c *Core) Index() int { return c.index }

// State returns the core's scheduler state.
func (c *Core) State() CoreState { return c.state.Load() }

// CurrentTask returns the task currently running on this core, or nil.
func (c *Core) CurrentTask() *Task {
	c.kernel.spin.Lock()
	t := c.current
	c.kernel.spin.Unlock()
	return t
}

// ReadyLen returns the number of tasks in this core's ready set.
func (c *Core) ReadyLen() int {
	c.kernel.spin.Lock()
	n := c.ready.Len()
	c.kernel.spin.Unlock()
	return n
}

// LoadPercent returns the core's CPU utilization over the last completed
// sliding window, 0-100.
func (c *Core) LoadPercent() int { return int(c.loadPercent.Load()) }

// PeakLoadPercent returns the highest utilization across the retained
// window history, false if no window has completed yet.
func (c *Core) PeakLoadPercent() (int, bool) {
	c.kernel.spin.Lock()
	v, ok := c.loadHistory.Max()
	c.kernel.spin.Unlock()
	return int(v), ok
}

// ContextSwitches returns the number of dispatches this core has made.
func (c *Core) ContextSwitches() uint64 {
	c.kernel.spin.Lock()
	n := c.switchCount
	c.kernel.spin.Unlock()
	return n
}

// loop is the core's scheduling goroutine: drain the IPC ring, elect the
// highest-priority ready task, hand it the CPU, and wait for it back.
// Idle cores park on the doorbell, which doubles as the wake IPI.
func (c *Core) loop() {
	k := c.kernel
	c.state.Store(CoreRunning)
	defer c.bell.Close()
	for {
		if c.stopping.Load() {
			c.state.Store(CoreTerminated)
			return
		}

		c.drainIPC()

		k.spin.Lock()
		t := c.ready.PopHighest()
		if t == nil {
			k.spin.Unlock()
			c.idle()
			continue
		}
		// Pending suspend/delete requests land here, at dispatch, for
		// tasks that never pass another preemption point.
		if t.deleteReq.Load() {
			k.retireTaskLocked(t)
			k.spin.Unlock()
			k.reap(t)
			t.kill()
			continue
		}
		if t.suspendReq.Swap(false) {
			t.state.Store(TaskSuspended)
			k.spin.Unlock()
			continue
		}
		c.dispatchLocked(t)

		select {
		case <-c.cpuReturn:
		case <-c.stopCh:
			c.state.Store(CoreTerminated)
			return
		}
	}
}

// dispatchLocked grants the CPU to t. The kernel spinlock must be held;
// released before the grant so the task resumes without contending on it.
func (c *Core) dispatchLocked(t *Task) {
	k := c.kernel
	t.state.Store(TaskRunning)
	t.core = c
	t.quantumRemaining = timeSliceTicks
	t.switches++
	c.switchCount++
	c.current = t
	k.spin.Unlock()
	if k.trace != nil {
		k.trace.emit(TraceSwitch, t.id, c.index, uint64(t.effPriority))
	}
	t.grant()
}

// idle is the idle-task body: harvest terminated TCBs, run the idle hook,
// feed the watchdog, then sleep until the doorbell rings.
func (c *Core) idle() {
	k := c.kernel
	k.drainReaped()
	if k.cfg.idleHook != nil {
		k.cfg.idleHook(c.index)
	}
	if k.watchdog != nil {
		k.watchdog.Feed(k.tick.now())
	}
	c.state.Store(CoreSleeping)
	c.bell.Wait()
	c.state.Store(CoreRunning)
}

// returnCPU hands control back to the core's scheduling loop; called by a
// task as it parks or exits.
func (c *Core) returnCPU() {
	select {
	case c.cpuReturn <- struct{}{}:
	default:
	}
}

// requestStop asks the core loop to exit at its next safe point.
func (c *Core) requestStop() {
	if c.stopping.CompareAndSwap(false, true) {
		close(c.stopCh)
		c.bell.Ring()
	}
}

// wakeDelayedLocked moves every task whose wake deadline has passed back
// to Ready, removing it from whatever wait queue it is parked on. Stale
// entries (the task was woken or re-blocked since) are skipped via the
// generation check. Kernel spinlock held.
func (c *Core) wakeDelayedLocked(now uint64) {
	for len(c.sleepers) > 0 && c.sleepers[0].when <= now {
		e := heap.Pop(&c.sleepers).(sleepEntry)
		t := e.task
		if e.gen != t.sleepGen || t.state.Load() != TaskBlocked {
			continue
		}
		if t.waitQ != nil {
			t.waitQ.Remove(t)
		}
		// A mutex waiter that gives up stops donating its priority.
		if m := t.blockedOnMutex; m != nil {
			t.blockedOnMutex = nil
			if m.owner != nil {
				c.kernel.recomputeInheritanceLocked(m.owner)
			}
		}
		t.wakeResult = blockTimeout
		c.kernel.readyTaskLocked(t)
	}
}

// addSleeperLocked registers an absolute wake deadline for t against this
// core's sleeper heap. Kernel spinlock held.
func (c *Core) addSleeperLocked(t *Task, when uint64) {
	heap.Push(&c.sleepers, sleepEntry{when: when, gen: t.sleepGen, task: t})
}

// accountTickLocked charges the running task for one tick of CPU time,
// expires its round-robin quantum, and advances the load window. Kernel
// spinlock held; runs from Kernel.Tick.
func (c *Core) accountTickLocked(now uint64) {
	if cur := c.current; cur != nil {
		cur.cpuTicks++
		c.busyInWindow++
		cur.quantumRemaining--
		if cur.quantumRemaining <= 0 {
			if hp, ok := c.ready.HighestPriority(); ok && hp >= cur.effPriority {
				c.needResched.Store(true)
			}
		}
	}
	if now-c.windowStart >= loadWindowTicks {
		load := int32(c.busyInWindow * 100 / loadWindowTicks)
		c.loadPercent.Store(load)
		c.loadHistory.Push(load)
		c.busyInWindow = 0
		c.windowStart = now
	}
}
