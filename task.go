package rtkernel

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/cortexk/rtkernel/kerr"
)

// Priority is a task's scheduling priority. Higher numeric values run
// first; 0 is reserved for the idle path, so application tasks start at 1.
type Priority int

// CoreMask is a bitmask of eligible cores, one bit per core index.
type CoreMask uint32

// AnyCore allows a task to run on any configured core.
const AnyCore CoreMask = ^CoreMask(0)

// CoreMaskFor returns the affinity mask allowing exactly core i.
func CoreMaskFor(i int) CoreMask { return 1 << uint(i) }

// Allows reports whether the mask permits execution on core i.
func (m CoreMask) Allows(i int) bool { return m&(1<<uint(i)) != 0 }

// Task is the kernel's TCB. Since this kernel runs on goroutines rather
// than real hardware stacks, a Task's "execution" is a dedicated goroutine
// that only runs its entry function while holding the run token; the
// scheduler elects at most one ready task per core and hands it the token,
// which reproduces single-owner-of-the-CPU semantics without a real
// context switch.
type Task struct {
	id   uint64
	name string

	basePriority Priority
	effPriority  Priority
	affinity     CoreMask

	state *atomicState[TaskState]

	kernel *Kernel
	core   *Core // core this task is currently assigned/running on

	entry func(*Kernel, *Task)

	runToken chan struct{} // granted by the scheduler; task runs while it holds this
	doneCh   chan struct{} // closed when the task's goroutine exits
	killCh   chan struct{} // closed to force a parked goroutine to exit
	killOnce sync.Once

	// Intrusive doubly-linked wait-queue membership (ready set, or a
	// blocking primitive's wait list). See waitqueue.go.
	waitQ    *waitQueue
	waitPrio int
	waitPrev *Task
	waitNext *Task

	// blockedOn names the primitive currently blocking this task, for
	// diagnostics; empty when TaskBlocked is not the state.
	blockedOn string

	// blockedOnMutex is set while blocked acquiring a mutex, so priority
	// inheritance can propagate transitively through chains of owners.
	blockedOnMutex *Mutex

	// wakeResult is written by whoever moves the task back to Ready
	// (waker, timeout sweep, or suspender) and read when the blocking call
	// resumes.
	wakeResult blockResult

	// blockData carries per-primitive payload across a wake: the queue
	// item handed to a receiver, a blocked sender's pending item, the
	// event-group request and matched bits, or an IPC message.
	blockData any

	// sleepGen invalidates stale timeout entries in the core's sleeper
	// heap; every block and every wake bumps it.
	sleepGen uint64

	// ownedMutexes tracks mutexes held by this task, most-recently-locked
	// last, so priority inheritance can be unwound correctly on unlock.
	ownedMutexes []*Mutex

	stackBytes     int64
	stackHighWater int64
	stack          []byte // pooled stack region; nil when only accounted

	suspendReq atomic.Bool
	deleteReq  atomic.Bool

	quantumRemaining int

	// Statistics, mutated under the kernel spinlock.
	switches uint64 // times this task was granted the CPU
	cpuTicks uint64 // ticks observed while running
}

// ID returns the task's unique, never-reused identifier.
func (t *Task) ID() uint64 { return t.id }

// Name returns the task's human-readable name.
func (t *Task) Name() string { return t.name }

// State returns the task's current lifecycle state.
func (t *Task) State() TaskState { return t.state.Load() }

// BasePriority returns the priority the task was created or last set with,
// ignoring any priority-inheritance boost.
func (t *Task) BasePriority() Priority {
	t.kernel.spin.Lock()
	p := t.basePriority
	t.kernel.spin.Unlock()
	return p
}

// EffectivePriority returns the task's current scheduling priority,
// including any priority-inheritance boost.
func (t *Task) EffectivePriority() Priority {
	t.kernel.spin.Lock()
	p := t.effPriority
	t.kernel.spin.Unlock()
	return p
}

// Affinity returns the task's core-eligibility mask.
func (t *Task) Affinity() CoreMask { return t.affinity }

// Core returns the index of the core this task is currently assigned to
// (a core is chosen when the task is first made ready), or -1 if it has
// none.
func (t *Task) Core() int {
	t.kernel.spin.Lock()
	c := t.core
	t.kernel.spin.Unlock()
	if c == nil {
		return -1
	}
	return c.index
}

// TaskStats is a point-in-time copy of a task's accounting counters.
type TaskStats struct {
	ContextSwitches uint64
	CPUTicks        uint64
	StackBytes      int64
	StackHighWater  int64
}

// Stats returns a snapshot of the task's statistics.
func (t *Task) Stats() TaskStats {
	k := t.kernel
	k.spin.Lock()
	s := TaskStats{
		ContextSwitches: t.switches,
		CPUTicks:        t.cpuTicks,
		StackBytes:      t.stackBytes,
		StackHighWater:  t.stackHighWater,
	}
	k.spin.Unlock()
	return s
}

// RecordStackUsage notes the task's current stack depth in bytes,
// standing in for the SP bounds check a context switch performs on
// hardware. It tracks the high-water mark; exceeding the task's
// reservation is fatal for the task: the error is recorded, the
// stack-overflow hook runs, and the task is terminated at its next
// scheduling point.
func (t *Task) RecordStackUsage(n int) error {
	k := t.kernel
	k.spin.Lock()
	if int64(n) > t.stackHighWater {
		t.stackHighWater = int64(n)
	}
	over := t.stackBytes > 0 && int64(n) > t.stackBytes
	k.spin.Unlock()
	if !over {
		return nil
	}
	err := kerr.New(kerr.CodeStackOverflow, "task:"+t.name)
	k.reportError(err)
	if k.cfg.stackOverflowHook != nil {
		k.cfg.stackOverflowHook(t)
	}
	t.deleteReq.Store(true)
	return err
}

// taskIDCounter assigns unique, never-reused task IDs.
var taskIDCounter atomic.Uint64

// CreateTask allocates a new task with a stack reservation of stackBytes
// and places it in the ready state on a core chosen per the kernel's
// assignment strategy. It does not itself start running; that happens once
// a core's scheduler grants it the run token.
func (k *Kernel) CreateTask(name string, stackBytes int, priority Priority, affinity CoreMask, entry func(*Kernel, *Task)) (*Task, error) {
	if priority < 1 || int(priority) >= k.cfg.numPriorities {
		return nil, kerr.New(kerr.CodeInvalidPriority, "CreateTask")
	}
	if entry == nil || stackBytes < 0 {
		return nil, kerr.New(kerr.CodeInvalidOperation, "CreateTask")
	}
	if affinity == 0 {
		return nil, kerr.New(kerr.CodeInvalidConfig, "CreateTask")
	}

	// The stack region comes from the fixed-block pool when the request
	// fits a block; otherwise only the byte reservation is tracked.
	var stack []byte
	switch {
	case k.cfg.stackPool != nil && stackBytes > 0 && stackBytes <= k.cfg.stackPool.BlockSize():
		stack = k.cfg.stackPool.Get()
		if stack == nil {
			err := kerr.New(kerr.CodeOutOfMemory, "CreateTask")
			k.reportError(err)
			return nil, err
		}
	case k.cfg.stackAccount != nil && stackBytes > 0:
		if !k.cfg.stackAccount.Reserve(int64(stackBytes)) {
			err := kerr.New(kerr.CodeOutOfMemory, "CreateTask")
			k.reportError(err)
			return nil, err
		}
	}

	k.tasksMu.Lock()
	if len(k.tasks) >= k.cfg.maxTasks {
		k.tasksMu.Unlock()
		k.releaseStack(stack, int64(stackBytes))
		return nil, kerr.New(kerr.CodeTaskLimitReached, "CreateTask")
	}
	t := &Task{
		id:           taskIDCounter.Add(1),
		name:         name,
		basePriority: priority,
		effPriority:  priority,
		affinity:     affinity,
		state:        newAtomicState(TaskReady),
		kernel:       k,
		entry:        entry,
		runToken:     make(chan struct{}, 1),
		doneCh:       make(chan struct{}),
		killCh:       make(chan struct{}),
		stackBytes:   int64(stackBytes),
		stack:        stack,
	}
	k.tasks[t.id] = t
	k.tasksMu.Unlock()

	go t.goroutine()

	k.assignAndReady(t)
	return t, nil
}

// goroutine is the task's dedicated goroutine. It blocks on runToken until
// the scheduler grants it the CPU, runs its entry function exactly once,
// then hands the CPU back and queues itself for the idle reaper.
func (t *Task) goroutine() {
	defer close(t.doneCh)
	select {
	case <-t.runToken:
	case <-t.killCh:
		return
	}
	func() {
		defer func() {
			if r := recover(); r != nil {
				t.kernel.reportTaskPanic(t, r)
			}
		}()
		t.entry(t.kernel, t)
	}()
	t.exit()
}

// exit retires the task and returns the CPU to its core's scheduler. Runs
// on the task's own goroutine, both when entry returns normally and when a
// delete request lands at a checkpoint.
func (t *Task) exit() {
	k := t.kernel
	k.spin.Lock()
	c := t.core
	k.retireTaskLocked(t)
	k.spin.Unlock()
	k.reap(t)
	if k.trace != nil {
		k.trace.emit(TraceExit, t.id, c.index, 0)
	}
	c.returnCPU()
}

// kill releases a goroutine parked on its run token; used by the reaper
// and by Shutdown. Idempotent.
func (t *Task) kill() {
	t.killOnce.Do(func() { close(t.killCh) })
}

// grant hands the run token to the task, waking its goroutine. Called by
// the core scheduler after it has released the kernel spinlock.
func (t *Task) grant() {
	select {
	case t.runToken <- struct{}{}:
	default:
	}
}

// park hands the CPU back to core c and waits to be granted it again.
// Called with the kernel spinlock held; returns with it released, after
// the scheduler has re-elected this task.
func (t *Task) park(c *Core) blockResult {
	c.current = nil
	t.kernel.spin.Unlock()
	c.returnCPU()
	select {
	case <-t.runToken:
	case <-t.killCh:
		runtime.Goexit()
	case <-t.kernel.stopCh:
		runtime.Goexit()
	}
	return t.wakeResult
}

// Yield voluntarily gives up the remainder of the current time slice,
// moving the task to the tail of its priority's ready FIFO so equal
// priority tasks rotate.
func (t *Task) Yield() {
	k := t.kernel
	c := t.core
	k.spin.Lock()
	t.state.Store(TaskReady)
	c.ready.Push(t)
	if k.trace != nil {
		k.trace.emit(TraceYield, t.id, c.index, 0)
	}
	t.park(c)
}

// checkpoint is the simulation's preemption point: every kernel call a
// task makes passes through here on the way out, standing in for the
// return-from-interrupt context-switch window of a hardware kernel. A
// pending suspend or delete request also lands here.
func (t *Task) checkpoint() {
	c := t.core
	if c == nil {
		return
	}
	if !c.needResched.Load() && !t.suspendReq.Load() && !t.deleteReq.Load() {
		return
	}
	k := t.kernel

	if t.deleteReq.Load() {
		t.exit()
		runtime.Goexit()
	}

	k.spin.Lock()
	c.needResched.Store(false)
	if t.suspendReq.Swap(false) {
		t.state.Store(TaskSuspended)
		t.park(c)
		return
	}
	hp, ok := c.ready.HighestPriority()
	if ok && (hp > t.effPriority || (hp >= t.effPriority && t.quantumRemaining <= 0)) {
		t.state.Store(TaskReady)
		c.ready.Push(t)
		t.park(c)
		return
	}
	k.spin.Unlock()
}

// reportTaskPanic runs the configured error hook and records a
// KernelError in the history ring; it never re-panics.
func (k *Kernel) reportTaskPanic(t *Task, r any) {
	err := kerr.Wrap(kerr.CodeInvalidOperation, "task:"+t.name, panicToError(r))
	k.reportError(err)
}

func panicToError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return kerr.New(kerr.CodeInvalidOperation, "panic")
}
