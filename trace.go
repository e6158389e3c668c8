package rtkernel

import (
	"sync"

	"github.com/cortexk/rtkernel/internal/ringbuf"
)

// TraceKind tags one kernel event trace record.
type TraceKind uint8

const (
	TraceSwitch TraceKind = iota
	TraceBlock
	TraceWake
	TraceYield
	TraceTimer
	TraceIPC
	TraceMigrate
	TraceExit
)

func (k TraceKind) String() string {
	switch k {
	case TraceSwitch:
		return "switch"
	case TraceBlock:
		return "block"
	case TraceWake:
		return "wake"
	case TraceYield:
		return "yield"
	case TraceTimer:
		return "timer"
	case TraceIPC:
		return "ipc"
	case TraceMigrate:
		return "migrate"
	case TraceExit:
		return "exit"
	default:
		return "unknown"
	}
}

// TraceEvent is one fixed-size trace record. Subject is the task or
// timer id the event concerns (for IPC, the message kind); Arg is
// kind-specific (priority for switch/wake, period for timer, payload word
// for IPC, source core for migrate).
type TraceEvent struct {
	Tick    uint64
	Kind    TraceKind
	Subject uint64
	Core    int32
	Arg     uint64
}

// Trace is the bounded kernel event trace: a fixed-size ring the newest
// events overwrite, cheap enough to leave enabled in production builds.
type Trace struct {
	mu    sync.Mutex
	r     *ringbuf.Ring[TraceEvent]
	ticks *tickSubsystem
}

func newTrace(capacity int, ticks *tickSubsystem) *Trace {
	p := 1
	for p < capacity {
		p <<= 1
	}
	return &Trace{r: ringbuf.New[TraceEvent](p), ticks: ticks}
}

// emit appends one record, evicting the oldest when full. Safe from any
// context, including under the kernel spinlock; the trace mutex is a
// leaf lock.
func (tr *Trace) emit(kind TraceKind, subject uint64, core int, arg uint64) {
	e := TraceEvent{
		Tick:    tr.ticks.count(),
		Kind:    kind,
		Subject: subject,
		Core:    int32(core),
		Arg:     arg,
	}
	tr.mu.Lock()
	tr.r.PushOverwrite(e)
	tr.mu.Unlock()
}

// Snapshot returns the buffered events, oldest first.
func (tr *Trace) Snapshot() []TraceEvent {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.r.Slice()
}

// Len returns the number of buffered events.
func (tr *Trace) Len() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.r.Len()
}
