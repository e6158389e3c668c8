package rtkernel

import "github.com/cortexk/rtkernel/kerr"

// Queue is a bounded FIFO of fixed-size items with separate send-side and
// receive-side wait queues. Item payloads are copied on send and on
// receive; no aliasing crosses the boundary. Payload order is strict
// FIFO — waiter priority only decides WHICH blocked sender's item is
// accepted next, or which blocked receiver takes the head.
type Queue[T any] struct {
	k *Kernel

	// Guarded by the kernel spinlock.
	buf   []T
	head  int
	count int
	sendQ *waitQueue
	recvQ *waitQueue

	ops      uint64
	timeouts uint64
}

// NewQueue creates a queue holding up to capacity items of type T.
func NewQueue[T any](k *Kernel, capacity int) (*Queue[T], error) {
	if capacity <= 0 {
		return nil, kerr.New(kerr.CodeInvalidConfig, "NewQueue")
	}
	return &Queue[T]{
		k:     k,
		buf:   make([]T, capacity),
		sendQ: newWaitQueue(k.cfg.numPriorities),
		recvQ: newWaitQueue(k.cfg.numPriorities),
	}, nil
}

// Stats returns the queue's operation counters.
func (q *Queue[T]) Stats() PrimitiveStats {
	q.k.spin.Lock()
	s := PrimitiveStats{Ops: q.ops, Timeouts: q.timeouts}
	q.k.spin.Unlock()
	return s
}

// Len returns the current occupancy.
func (q *Queue[T]) Len() int {
	q.k.spin.Lock()
	n := q.count
	q.k.spin.Unlock()
	return n
}

// Cap returns the queue's fixed capacity.
func (q *Queue[T]) Cap() int { return len(q.buf) }

// IsEmpty reports occupancy == 0.
func (q *Queue[T]) IsEmpty() bool { return q.Len() == 0 }

// IsFull reports occupancy == capacity.
func (q *Queue[T]) IsFull() bool { return q.Len() == len(q.buf) }

func (q *Queue[T]) pushLocked(item T) {
	q.buf[(q.head+q.count)%len(q.buf)] = item
	q.count++
}

func (q *Queue[T]) popLocked() T {
	item := q.buf[q.head]
	var zero T
	q.buf[q.head] = zero
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	return item
}

// Send copies item into the queue, blocking up to timeout ticks while it
// is full. With NoWait a full queue returns CodeQueueFull and the queue
// is left untouched.
func (q *Queue[T]) Send(t *Task, item T, timeout Timeout) error {
	k := q.k
	k.spin.Lock()
	q.ops++

	// A waiting receiver implies an empty queue; hand the item over
	// directly so it cannot be overtaken.
	if q.count == 0 {
		if w := q.recvQ.PopHighest(); w != nil {
			w.blockData = item
			w.wakeResult = blockOK
			k.readyTaskLocked(w)
			k.spin.Unlock()
			if t != nil {
				t.checkpoint()
			}
			return nil
		}
	}
	if q.count < len(q.buf) {
		q.pushLocked(item)
		k.spin.Unlock()
		return nil
	}
	if timeout == NoWait {
		k.spin.Unlock()
		return kerr.New(kerr.CodeQueueFull, "Queue.Send")
	}
	k.mustBeRunnableLocked(t, "Queue.Send")

	t.blockData = item
	switch k.blockOn(t, q.sendQ, "queue_send", timeout) {
	case blockOK:
		// A receiver accepted this task's item while draining.
		return nil
	case blockTimeout:
		k.spin.Lock()
		q.timeouts++
		t.blockData = nil
		k.spin.Unlock()
		return kerr.New(kerr.CodeTimeout, "Queue.Send")
	default:
		t.blockData = nil
		return kerr.New(kerr.CodeCancelled, "Queue.Send")
	}
}

// SendISR is the ISR-safe, never-blocking send.
func (q *Queue[T]) SendISR(item T) error {
	return q.Send(nil, item, NoWait)
}

// Receive copies the head item out, blocking up to timeout ticks while
// the queue is empty. When a blocked sender exists its item is accepted
// into the freed slot, highest-priority sender first.
func (q *Queue[T]) Receive(t *Task, timeout Timeout) (T, error) {
	k := q.k
	var zero T
	k.spin.Lock()
	q.ops++

	if q.count > 0 {
		item := q.popLocked()
		if w := q.sendQ.PopHighest(); w != nil {
			q.pushLocked(w.blockData.(T))
			w.blockData = nil
			w.wakeResult = blockOK
			k.readyTaskLocked(w)
		}
		k.spin.Unlock()
		if t != nil {
			t.checkpoint()
		}
		return item, nil
	}
	if timeout == NoWait {
		k.spin.Unlock()
		return zero, kerr.New(kerr.CodeQueueEmpty, "Queue.Receive")
	}
	k.mustBeRunnableLocked(t, "Queue.Receive")

	switch k.blockOn(t, q.recvQ, "queue_recv", timeout) {
	case blockOK:
		item := t.blockData.(T)
		t.blockData = nil
		return item, nil
	case blockTimeout:
		k.spin.Lock()
		q.timeouts++
		k.spin.Unlock()
		return zero, kerr.New(kerr.CodeTimeout, "Queue.Receive")
	default:
		return zero, kerr.New(kerr.CodeCancelled, "Queue.Receive")
	}
}

// ReceiveISR is the ISR-safe, never-blocking receive.
func (q *Queue[T]) ReceiveISR() (T, error) {
	return q.Receive(nil, NoWait)
}
