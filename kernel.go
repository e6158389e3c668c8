package rtkernel

import (
	"sync"
	"time"

	"github.com/cortexk/rtkernel/health"
	"github.com/cortexk/rtkernel/kerr"
	"github.com/cortexk/rtkernel/kernlog"
)

// Kernel owns every core, the task table, the software timer wheel, and
// the shared cross-core critical section.
type Kernel struct {
	cfg *config

	cores []*Core

	tasksMu sync.Mutex
	tasks   map[uint64]*Task
	reaped  []*Task // terminated TCBs awaiting the idle reaper
	nextRR  int     // round-robin cursor for AssignRoundRobin

	spin spinlock // scheduler state lock
	crit spinlock // application critical sections (see critical.go)

	tick     *tickSubsystem
	timers   *timerWheel
	ipc      *ipcHub
	history  *kerr.History
	logger   *kernlog.Logger
	sampler  *health.Sampler
	watchdog *health.Watchdog
	trace    *Trace

	balancer *loadBalancer

	state *atomicState[CoreState] // process-wide: Idle before Start, Running after

	coresWg  sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

// New constructs a Kernel. It does not start any core; call Run to start
// the background ticker and core goroutines, or Start plus manual Tick
// calls for deterministic testing.
func New(opts ...Option) (*Kernel, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	if cfg.numCores <= 0 || cfg.numPriorities <= 0 || cfg.numPriorities > 64 {
		return nil, kerr.New(kerr.CodeInvalidConfig, "New")
	}

	k := &Kernel{
		cfg:      cfg,
		tasks:    make(map[uint64]*Task),
		state:    newAtomicState(CoreIdle),
		stopCh:   make(chan struct{}),
		logger:   cfg.logger,
		watchdog: cfg.watchdog,
	}
	if cfg.history > 0 {
		k.history = kerr.NewHistory(cfg.history)
	}
	if cfg.sampler != nil {
		k.sampler = health.NewSampler(*cfg.sampler)
	}
	k.tick = newTickSubsystem(cfg.tickRate)
	if cfg.trace > 0 {
		k.trace = newTrace(cfg.trace, k.tick)
	}
	k.timers = newTimerWheel()
	k.ipc = newIPCHub(cfg.numCores, cfg.numPriorities)
	k.balancer = newLoadBalancer(k, cfg.loadBalanceThreshold)

	k.cores = make([]*Core, cfg.numCores)
	for i := 0; i < cfg.numCores; i++ {
		k.cores[i] = newCore(k, i, cfg.numPriorities)
	}

	return k, nil
}

// Cores returns the number of configured cores.
func (k *Kernel) Cores() int { return len(k.cores) }

// Core returns the scheduler instance for core i.
func (k *Kernel) Core(i int) *Core { return k.cores[i] }

// Logger returns the kernel's structured event sink, never nil once the
// kernel is constructed (a disabled logger is substituted when none was
// configured).
func (k *Kernel) Logger() *kernlog.Logger {
	if k.logger == nil {
		k.logger = kernlog.New(nil, kernlog.LevelDisabled)
	}
	return k.logger
}

// History returns the bounded error-history ring, or nil when disabled.
func (k *Kernel) History() *kerr.History { return k.history }

// EventTrace returns the kernel event trace ring, or nil when disabled.
func (k *Kernel) EventTrace() *Trace { return k.trace }

// Start launches every core's scheduling goroutine and returns. The tick
// subsystem is NOT driven; callers either invoke Tick manually (tests) or
// use Run, which layers a background ticker on top.
func (k *Kernel) Start() error {
	if !k.state.TryTransition(CoreIdle, CoreRunning) {
		return kerr.New(kerr.CodeAlreadyRunning, "Start")
	}
	for _, c := range k.cores {
		k.coresWg.Add(1)
		go func(c *Core) {
			defer k.coresWg.Done()
			c.loop()
		}(c)
	}
	return nil
}

// Run starts the cores and a background ticker driving Tick at the
// configured rate. It blocks until Shutdown is called.
func (k *Kernel) Run() error {
	if err := k.Start(); err != nil {
		return err
	}
	ticker := time.NewTicker(k.cfg.tickRate)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			k.Tick()
		case <-k.stopCh:
			return nil
		}
	}
}

// Shutdown stops the ticker and every core goroutine, then releases any
// task goroutine parked on its run token. Safe to call more than once.
func (k *Kernel) Shutdown() {
	k.stopOnce.Do(func() {
		k.state.Store(CoreTerminating)
		close(k.stopCh)
		for _, c := range k.cores {
			c.requestStop()
		}
		k.coresWg.Wait()

		k.tasksMu.Lock()
		for _, t := range k.tasks {
			t.kill()
		}
		k.tasksMu.Unlock()
		k.state.Store(CoreTerminated)
	})
}

// Tick advances the kernel by one tick: it expires due software timers,
// wakes tasks whose delay or block deadline has elapsed, charges the
// running task's time slice for round-robin rotation, and runs the load
// balancer and configured hooks. Safe to call directly (instead of via
// Run's background ticker) for deterministic, manually-clocked tests.
func (k *Kernel) Tick() {
	n := k.tick.advance()

	// Timer callbacks run in tick-handler context, outside the kernel
	// critical section, so they may call the ISR-safe primitive surface.
	k.timers.expire(n, k)

	k.spin.Lock()
	for _, c := range k.cores {
		c.wakeDelayedLocked(n)
		c.accountTickLocked(n)
	}
	k.spin.Unlock()

	k.balancer.maybeBalance(n)

	if k.sampler != nil {
		for _, c := range k.cores {
			k.sampler.Observe(health.Sample{
				Core:     c.index,
				ReadyLen: c.ReadyLen(),
				Running:  c.CurrentTask() != nil,
			})
		}
	}
	if k.watchdog != nil {
		k.watchdog.Check(k.tick.now())
	}
	if k.cfg.tickHook != nil {
		k.cfg.tickHook(n)
	}
}

// TickCount returns the number of ticks elapsed since the kernel was
// created.
func (k *Kernel) TickCount() uint64 { return k.tick.count() }

// Uptime returns the nominal elapsed time represented by the tick count
// (ticks times the configured tick period).
func (k *Kernel) Uptime() time.Duration { return k.tick.uptime() }

// UptimeMillis returns Uptime in whole milliseconds.
func (k *Kernel) UptimeMillis() uint64 { return uint64(k.tick.uptime() / time.Millisecond) }

// Microseconds returns the hi-res 64-bit microsecond counter, maintained
// on the host monotonic clock independently of tick delivery.
func (k *Kernel) Microseconds() int64 { return k.tick.micros() }

// TaskByID looks up a task by its ID, returning false if it has been
// deleted.
func (k *Kernel) TaskByID(id uint64) (*Task, bool) {
	k.tasksMu.Lock()
	defer k.tasksMu.Unlock()
	t, ok := k.tasks[id]
	return t, ok
}

// retireTaskLocked marks t terminated, unlinks it from any queue, and
// hands the TCB to the idle reaper. The kernel spinlock must be held.
func (k *Kernel) retireTaskLocked(t *Task) {
	t.state.Store(TaskTerminated)
	if t.waitQ != nil {
		t.waitQ.Remove(t)
	}
	t.sleepGen++
	if c := t.core; c != nil && c.current == t {
		c.current = nil
	}
}

// reap queues t for the idle reaper, which releases its stack reservation
// and drops it from the task table.
func (k *Kernel) reap(t *Task) {
	k.tasksMu.Lock()
	k.reaped = append(k.reaped, t)
	k.tasksMu.Unlock()
}

// drainReaped is run from each core's idle path: terminated TCBs are
// harvested there, their stack regions returned to the pool or their
// reservations released.
func (k *Kernel) drainReaped() {
	k.tasksMu.Lock()
	reaped := k.reaped
	k.reaped = nil
	for _, t := range reaped {
		delete(k.tasks, t.id)
	}
	k.tasksMu.Unlock()
	for _, t := range reaped {
		k.releaseStack(t.stack, t.stackBytes)
		t.stack = nil
		t.kill()
	}
}

// releaseStack undoes a CreateTask stack allocation: pooled regions go
// back to the pool, accounted reservations are released.
func (k *Kernel) releaseStack(stack []byte, stackBytes int64) {
	if stack != nil {
		k.cfg.stackPool.Put(stack)
		return
	}
	if k.cfg.stackAccount != nil && stackBytes > 0 {
		k.cfg.stackAccount.Release(stackBytes)
	}
}

// reportError records err in the history ring, the error hook, and the
// structured log. Used for tier-2 (recoverable, anomalous) errors.
func (k *Kernel) reportError(err *kerr.KernelError) {
	if k.history != nil {
		k.history.Record(err)
	}
	if k.cfg.errorHook != nil {
		k.cfg.errorHook(err)
	}
	if k.logger != nil {
		k.logger.Err().Err(err).Log("kernel error")
	}
}

// fatal implements the unrecoverable tier: the error is recorded, the
// hook runs, and the kernel halts the offending context by panicking
// rather than continuing in a potentially inconsistent state.
func (k *Kernel) fatal(err *kerr.KernelError) {
	k.reportError(err)
	panic(err)
}
