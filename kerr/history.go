package kerr

import (
	"sync"

	"github.com/cortexk/rtkernel/internal/ringbuf"
)

// History is a fixed-capacity, thread-safe trailing log of KernelErrors,
// the concrete form of the optional bounded error-history ring observable.
type History struct {
	mu  sync.Mutex
	r   *ringbuf.Ring[*KernelError]
	n   int
	cap int
}

// NewHistory creates a history ring holding up to capacity records.
// capacity is rounded up to the next power of two to fit ringbuf.Ring.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 1
	}
	p := 1
	for p < capacity {
		p <<= 1
	}
	return &History{r: ringbuf.New[*KernelError](p), cap: capacity}
}

// Record appends err to the history, evicting the oldest record if full.
func (h *History) Record(err *KernelError) {
	if err == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.r.PushOverwrite(err)
	if h.n < h.cap {
		h.n++
	}
}

// Last returns the most recently recorded error, or nil if empty.
func (h *History) Last() *KernelError {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.r.Len() == 0 {
		return nil
	}
	return h.r.At(h.r.Len() - 1)
}

// Snapshot returns all recorded errors, oldest first.
func (h *History) Snapshot() []*KernelError {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.r.Slice()
}
