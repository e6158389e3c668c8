package ringbuf

import "golang.org/x/exp/constraints"

// Window is a fixed-size sliding window of ordered samples: pushing past
// capacity evicts the oldest, and Min/Max summarize the retained span.
type Window[E constraints.Ordered] struct {
	r *Ring[E]
}

// NewWindow allocates a Window retaining up to capacity samples
// (power of two).
func NewWindow[E constraints.Ordered](capacity int) *Window[E] {
	return &Window[E]{r: New[E](capacity)}
}

// Push appends a sample, evicting the oldest when full.
func (w *Window[E]) Push(v E) {
	w.r.PushOverwrite(v)
}

// Len returns the number of retained samples.
func (w *Window[E]) Len() int { return w.r.Len() }

// Max returns the largest retained sample, false when empty.
func (w *Window[E]) Max() (E, bool) {
	var best E
	if w.r.Len() == 0 {
		return best, false
	}
	best = w.r.At(0)
	for i := 1; i < w.r.Len(); i++ {
		if v := w.r.At(i); v > best {
			best = v
		}
	}
	return best, true
}

// Min returns the smallest retained sample, false when empty.
func (w *Window[E]) Min() (E, bool) {
	var best E
	if w.r.Len() == 0 {
		return best, false
	}
	best = w.r.At(0)
	for i := 1; i < w.r.Len(); i++ {
		if v := w.r.At(i); v < best {
			best = v
		}
	}
	return best, true
}
