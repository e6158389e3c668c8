package rtkernel

import (
	"container/heap"
	"sync"
	"sync/atomic"

	"github.com/cortexk/rtkernel/kerr"
)

// TimerMode selects one-shot or periodic dispatch.
type TimerMode uint8

const (
	// OneShot timers fire once and transition to TimerExpired.
	OneShot TimerMode = iota
	// Periodic timers re-arm by adding their period to the previous
	// deadline, bounding drift to one tick regardless of handler latency.
	Periodic
)

// TimerState enumerates a software timer's lifecycle.
type TimerState uint32

const (
	TimerStopped TimerState = iota
	TimerRunning
	TimerExpired
)

func (s TimerState) String() string {
	switch s {
	case TimerStopped:
		return "Stopped"
	case TimerRunning:
		return "Running"
	case TimerExpired:
		return "Expired"
	default:
		return "Unknown"
	}
}

// Timer is a software timer dispatched from tick-handler context. Its
// callback must be bounded and may only use the ISR-safe kernel surface.
type Timer struct {
	k        *Kernel
	id       uint64
	callback func()
	wheel    *timerWheel

	// Guarded by the wheel's mutex.
	period uint64 // ticks
	mode   TimerMode
	when   uint64 // absolute next-fire deadline
	gen    uint64 // invalidates stale heap entries on stop/reset

	state *atomicState[TimerState]
}

var timerIDCounter atomic.Uint64

// ID returns the timer's unique identifier.
func (t *Timer) ID() uint64 { return t.id }

// State returns the timer's current state.
func (t *Timer) State() TimerState { return t.state.Load() }

// Period returns the timer's period in ticks.
func (t *Timer) Period() uint64 {
	t.wheel.mu.Lock()
	p := t.period
	t.wheel.mu.Unlock()
	return p
}

// timerEntry is one scheduled deadline; entries whose gen no longer
// matches their timer are stale and skipped on expiry, the same lazy
// invalidation the sleeper heap uses.
type timerEntry struct {
	when uint64
	gen  uint64
	t    *Timer
}

// timerHeap is a min-heap of timer deadlines.
type timerHeap []timerEntry

func (h timerHeap) Len() int           { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].when < h[j].when }
func (h timerHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *timerHeap) Push(x any) {
	*h = append(*h, x.(timerEntry))
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// timerWheel owns every software timer's schedule. It has its own mutex
// rather than riding the kernel spinlock so timer API calls never contend
// with scheduling, and so expiry can release it before running callbacks.
type timerWheel struct {
	mu sync.Mutex
	h  timerHeap
}

func newTimerWheel() *timerWheel {
	return &timerWheel{}
}

// NewTimer creates a stopped timer with the given period in ticks.
func (k *Kernel) NewTimer(period uint64, mode TimerMode, callback func()) (*Timer, error) {
	if period == 0 || callback == nil {
		return nil, kerr.New(kerr.CodeInvalidConfig, "NewTimer")
	}
	return &Timer{
		k:        k,
		id:       timerIDCounter.Add(1),
		callback: callback,
		wheel:    k.timers,
		period:   period,
		mode:     mode,
		state:    newAtomicState(TimerStopped),
	}, nil
}

// Start arms the timer to fire one period from now. Starting a running
// timer re-arms it, so start-stop-start equals a single start.
func (t *Timer) Start() {
	w := t.wheel
	w.mu.Lock()
	t.gen++
	t.when = t.k.tick.count() + t.period
	t.state.Store(TimerRunning)
	heap.Push(&w.h, timerEntry{when: t.when, gen: t.gen, t: t})
	w.mu.Unlock()
}

// Stop disarms the timer; its scheduled deadline becomes stale and falls
// out of the wheel unfired.
func (t *Timer) Stop() {
	w := t.wheel
	w.mu.Lock()
	t.gen++
	t.state.Store(TimerStopped)
	w.mu.Unlock()
}

// Reset is stop-then-start: the deadline moves to one full period from
// now.
func (t *Timer) Reset() { t.Start() }

// ChangePeriod updates the period and, if the timer is running, re-arms
// it with the new period from now.
func (t *Timer) ChangePeriod(period uint64) error {
	if period == 0 {
		return kerr.New(kerr.CodeInvalidConfig, "Timer.ChangePeriod")
	}
	w := t.wheel
	w.mu.Lock()
	t.period = period
	if t.state.Load() == TimerRunning {
		t.gen++
		t.when = t.k.tick.count() + period
		heap.Push(&w.h, timerEntry{when: t.when, gen: t.gen, t: t})
	}
	w.mu.Unlock()
	return nil
}

// expire dispatches every timer whose deadline has passed. Callbacks run
// in tick-handler context with the wheel unlocked; a periodic timer whose
// dispatch was late by multiple periods fires once and its deadline is
// advanced past now, avoiding a dispatch storm.
func (w *timerWheel) expire(now uint64, k *Kernel) {
	var due []*Timer
	w.mu.Lock()
	for len(w.h) > 0 && w.h[0].when <= now {
		e := heap.Pop(&w.h).(timerEntry)
		t := e.t
		if e.gen != t.gen || t.state.Load() != TimerRunning {
			continue
		}
		due = append(due, t)
		if t.mode == Periodic {
			t.when += t.period
			if t.when <= now {
				missed := (now - t.when) / t.period
				t.when += (missed + 1) * t.period
			}
			heap.Push(&w.h, timerEntry{when: t.when, gen: t.gen, t: t})
		} else {
			t.state.Store(TimerExpired)
		}
	}
	w.mu.Unlock()

	for _, t := range due {
		if k.trace != nil {
			k.trace.emit(TraceTimer, t.id, -1, t.period)
		}
		dispatchTimer(k, t)
	}
}

// dispatchTimer runs one callback with panic recovery so a misbehaving
// callback cannot take down the tick handler.
func dispatchTimer(k *Kernel, t *Timer) {
	defer func() {
		if r := recover(); r != nil {
			k.reportError(kerr.Wrap(kerr.CodeInvalidOperation, "timer", panicToError(r)))
		}
	}()
	t.callback()
}
