package rtkernel

import (
	"time"

	"github.com/cortexk/rtkernel/health"
	"github.com/cortexk/rtkernel/kernlog"
	"github.com/cortexk/rtkernel/memacct"
)

// AssignmentStrategy selects how a newly-readied task picks its initial
// core among those its affinity mask allows.
type AssignmentStrategy int

const (
	// AssignLeastLoaded assigns to the allowed core with the lowest
	// occupancy: ready tasks plus the one running (default).
	AssignLeastLoaded AssignmentStrategy = iota
	// AssignRoundRobin cycles through allowed cores in order.
	AssignRoundRobin
	// AssignPriorityBased biases high-priority tasks toward the
	// historically less busy core and low-priority tasks toward the
	// busier one.
	AssignPriorityBased
)

// config holds the resolved kernel configuration. All of it is fixed at
// construction time; nothing here mutates after Start.
type config struct {
	numCores              int
	maxTasks              int
	tickRate              time.Duration
	loadBalanceThreshold  int
	assignmentStrategy    AssignmentStrategy
	numPriorities         int

	idleHook          func(core int)
	errorHook         func(err error)
	stackOverflowHook func(task *Task)
	tickHook          func(tick uint64)

	logger  *kernlog.Logger
	history int
	sampler *health.Config

	stackAccount *memacct.Account
	stackPool    *memacct.Pool
	watchdog     *health.Watchdog
	trace        int
}

// Option configures a Kernel at construction time.
type Option interface {
	apply(*config) error
}

type optionFunc func(*config) error

func (f optionFunc) apply(c *config) error { return f(c) }

// WithCores sets the number of simulated cores (default 2, matching the
// dual-core Cortex-M0+ target).
func WithCores(n int) Option {
	return optionFunc(func(c *config) error {
		c.numCores = n
		return nil
	})
}

// WithMaxTasks bounds the number of concurrently schedulable tasks.
func WithMaxTasks(n int) Option {
	return optionFunc(func(c *config) error {
		c.maxTasks = n
		return nil
	})
}

// WithTickRate sets the nominal duration of one tick, used by the
// background ticker goroutine started by Kernel.Run; callers driving ticks
// manually via Kernel.Tick (e.g. tests) can ignore this.
func WithTickRate(d time.Duration) Option {
	return optionFunc(func(c *config) error {
		c.tickRate = d
		return nil
	})
}

// WithLoadBalanceThreshold sets the occupancy imbalance (ready tasks plus
// the running one, in task count) that triggers migration between cores.
func WithLoadBalanceThreshold(n int) Option {
	return optionFunc(func(c *config) error {
		c.loadBalanceThreshold = n
		return nil
	})
}

// WithAssignmentStrategy sets how newly-readied tasks pick an initial core.
func WithAssignmentStrategy(s AssignmentStrategy) Option {
	return optionFunc(func(c *config) error {
		c.assignmentStrategy = s
		return nil
	})
}

// WithPriorities sets the number of distinct priority levels (default 32).
func WithPriorities(n int) Option {
	return optionFunc(func(c *config) error {
		c.numPriorities = n
		return nil
	})
}

// WithIdleHook registers a callback invoked each time a core finds no
// ready task and is about to idle.
func WithIdleHook(fn func(core int)) Option {
	return optionFunc(func(c *config) error {
		c.idleHook = fn
		return nil
	})
}

// WithErrorHook registers a callback invoked for kernel-internal errors
// that have no synchronous caller to return to (e.g. a panicking task).
func WithErrorHook(fn func(err error)) Option {
	return optionFunc(func(c *config) error {
		c.errorHook = fn
		return nil
	})
}

// WithStackOverflowHook registers a callback invoked when a task's tracked
// stack account would exceed its reserved size.
func WithStackOverflowHook(fn func(task *Task)) Option {
	return optionFunc(func(c *config) error {
		c.stackOverflowHook = fn
		return nil
	})
}

// WithTickHook registers a callback invoked on every tick, after timers and
// delayed-wake processing.
func WithTickHook(fn func(tick uint64)) Option {
	return optionFunc(func(c *config) error {
		c.tickHook = fn
		return nil
	})
}

// WithLogger attaches a structured event sink; see package kernlog. The
// default is a disabled logger (LevelDisabled): logging stays structured
// but strictly opt-in.
func WithLogger(l *kernlog.Logger) Option {
	return optionFunc(func(c *config) error {
		c.logger = l
		return nil
	})
}

// WithErrorHistory sets the capacity of the kerr.History ring attached to
// the kernel (default 64, 0 disables it).
func WithErrorHistory(capacity int) Option {
	return optionFunc(func(c *config) error {
		c.history = capacity
		return nil
	})
}

// WithHealthSampler attaches a health.Config; Kernel.Tick then feeds each
// core's ready-queue depth to the sampler once per tick. Primitive
// counters and memory figures are not sampled. nil (the default) disables
// sampling.
func WithHealthSampler(s *health.Config) Option {
	return optionFunc(func(c *config) error {
		c.sampler = s
		return nil
	})
}

// WithStackAccounting routes task stack reservations through acct, so
// current/peak/count stack figures stay queryable and CreateTask fails
// with CodeOutOfMemory once the account's limit is reached.
func WithStackAccounting(acct *memacct.Account) Option {
	return optionFunc(func(c *config) error {
		c.stackAccount = acct
		return nil
	})
}

// WithStackPool backs task stack regions with a fixed-block pool: a task
// whose stack request fits the pool's block size gets a recycled block
// as its stack region, handed back to the pool by the idle reaper when
// the task terminates. Requests larger than the block size fall back to
// plain byte accounting (see WithStackAccounting).
func WithStackPool(pool *memacct.Pool) Option {
	return optionFunc(func(c *config) error {
		c.stackPool = pool
		return nil
	})
}

// WithWatchdog attaches a health.Watchdog. The idle path feeds it on every
// pass and Kernel.Tick checks it once per tick; the watchdog's own expire
// callback decides the response.
func WithWatchdog(w *health.Watchdog) Option {
	return optionFunc(func(c *config) error {
		c.watchdog = w
		return nil
	})
}

// WithTrace enables the fixed-size kernel event trace ring with the given
// capacity (rounded up to a power of two). 0, the default, disables it.
func WithTrace(capacity int) Option {
	return optionFunc(func(c *config) error {
		c.trace = capacity
		return nil
	})
}

func resolveOptions(opts []Option) (*config, error) {
	c := &config{
		numCores:             2,
		maxTasks:             256,
		tickRate:             time.Millisecond,
		loadBalanceThreshold: 2,
		assignmentStrategy:   AssignLeastLoaded,
		numPriorities:        32,
		history:              64,
	}
	for _, o := range opts {
		if o == nil {
			continue
		}
		if err := o.apply(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}
