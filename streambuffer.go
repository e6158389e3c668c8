package rtkernel

import (
	"encoding/binary"

	"github.com/cortexk/rtkernel/internal/ringbuf"
	"github.com/cortexk/rtkernel/kerr"
)

// StreamBuffer is a byte (or length-prefixed message) stream between one
// logical producer side and one consumer side. Receivers park until the
// configured trigger level of bytes has accumulated or their deadline
// passes; senders park only while the buffer has zero space, writing as
// much as fits otherwise.
type StreamBuffer struct {
	k *Kernel

	// Guarded by the kernel spinlock.
	ring     *ringbuf.Ring[byte]
	capacity int // logical capacity; the ring itself is rounded to a power of two
	trigger  int
	msgMode  bool
	sendQ    *waitQueue
	recvQ    *waitQueue

	ops      uint64
	timeouts uint64
}

// msgHeaderLen is the length prefix prepended to each message-mode frame.
const msgHeaderLen = 4

func (k *Kernel) newStream(capacity, trigger int, msgMode bool) (*StreamBuffer, error) {
	if capacity <= 0 || trigger <= 0 || trigger > capacity {
		return nil, kerr.New(kerr.CodeInvalidConfig, "NewStreamBuffer")
	}
	p := 1
	for p < capacity {
		p <<= 1
	}
	return &StreamBuffer{
		k:        k,
		ring:     ringbuf.New[byte](p),
		capacity: capacity,
		trigger:  trigger,
		msgMode:  msgMode,
		sendQ:    newWaitQueue(k.cfg.numPriorities),
		recvQ:    newWaitQueue(k.cfg.numPriorities),
	}, nil
}

// NewStreamBuffer creates a byte-stream buffer with the given capacity
// and receive trigger level.
func (k *Kernel) NewStreamBuffer(capacity, trigger int) (*StreamBuffer, error) {
	return k.newStream(capacity, trigger, false)
}

// NewMessageBuffer creates a message-mode buffer: every send is framed
// with a length header and every receive returns exactly one whole
// message.
func (k *Kernel) NewMessageBuffer(capacity int) (*StreamBuffer, error) {
	return k.newStream(capacity, 1, true)
}

// Stats returns the stream buffer's operation counters.
func (b *StreamBuffer) Stats() PrimitiveStats {
	b.k.spin.Lock()
	s := PrimitiveStats{Ops: b.ops, Timeouts: b.timeouts}
	b.k.spin.Unlock()
	return s
}

// Available returns the number of buffered bytes (headers included in
// message mode).
func (b *StreamBuffer) Available() int {
	b.k.spin.Lock()
	n := b.ring.Len()
	b.k.spin.Unlock()
	return n
}

// Space returns the writable byte count.
func (b *StreamBuffer) Space() int {
	b.k.spin.Lock()
	n := b.spaceLocked()
	b.k.spin.Unlock()
	return n
}

func (b *StreamBuffer) spaceLocked() int { return b.capacity - b.ring.Len() }

// readyForReceiveLocked reports whether a receiver's unblock condition
// holds: trigger level reached, or a complete frame in message mode.
func (b *StreamBuffer) readyForReceiveLocked() bool {
	if b.msgMode {
		avail := b.ring.Len()
		if avail < msgHeaderLen {
			return false
		}
		return avail >= msgHeaderLen+int(b.peekHeaderLocked())
	}
	return b.ring.Len() >= b.trigger
}

func (b *StreamBuffer) peekHeaderLocked() uint32 {
	var hdr [msgHeaderLen]byte
	for i := range hdr {
		hdr[i] = b.ring.At(i)
	}
	return binary.LittleEndian.Uint32(hdr[:])
}

// notifyLocked wakes the appropriate side after state changed: receivers
// when the trigger condition now holds, senders when space freed up.
// Woken tasks re-evaluate their condition under the lock when they run.
func (b *StreamBuffer) notifyLocked() {
	if b.readyForReceiveLocked() {
		b.k.wakeHighestLocked(b.recvQ)
	}
	if b.spaceLocked() > 0 {
		b.k.wakeHighestLocked(b.sendQ)
	}
}

// Send writes p, blocking while the buffer has zero space (byte mode) or
// lacks room for the whole frame (message mode). It returns the number of
// bytes of p actually accepted.
func (b *StreamBuffer) Send(t *Task, p []byte, timeout Timeout) (int, error) {
	k := b.k
	if b.msgMode {
		return b.sendMessage(t, p, timeout)
	}

	written := 0
	k.spin.Lock()
	b.ops++
	for {
		if space := b.spaceLocked(); space > 0 && written < len(p) {
			n := min(space, len(p)-written)
			for i := 0; i < n; i++ {
				b.ring.Push(p[written+i])
			}
			written += n
			b.notifyLocked()
		}
		if written == len(p) {
			k.spin.Unlock()
			if t != nil {
				t.checkpoint()
			}
			return written, nil
		}
		if timeout == NoWait {
			k.spin.Unlock()
			if written == 0 {
				return 0, kerr.New(kerr.CodeQueueFull, "StreamBuffer.Send")
			}
			return written, nil
		}
		k.mustBeRunnableLocked(t, "StreamBuffer.Send")
		switch k.blockOn(t, b.sendQ, "stream_send", timeout) {
		case blockOK:
			k.spin.Lock()
		case blockTimeout:
			k.spin.Lock()
			b.timeouts++
			k.spin.Unlock()
			if written == 0 {
				return 0, kerr.New(kerr.CodeTimeout, "StreamBuffer.Send")
			}
			return written, nil
		default:
			return written, kerr.New(kerr.CodeCancelled, "StreamBuffer.Send")
		}
	}
}

// sendMessage frames p with a length header and writes it atomically:
// either the whole frame is accepted or nothing is.
func (b *StreamBuffer) sendMessage(t *Task, p []byte, timeout Timeout) (int, error) {
	k := b.k
	need := msgHeaderLen + len(p)
	if need > b.capacity {
		return 0, kerr.New(kerr.CodeInvalidOperation, "StreamBuffer.Send")
	}
	var hdr [msgHeaderLen]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(p)))

	k.spin.Lock()
	b.ops++
	for {
		if b.spaceLocked() >= need {
			for _, c := range hdr {
				b.ring.Push(c)
			}
			for _, c := range p {
				b.ring.Push(c)
			}
			b.notifyLocked()
			k.spin.Unlock()
			if t != nil {
				t.checkpoint()
			}
			return len(p), nil
		}
		if timeout == NoWait {
			k.spin.Unlock()
			return 0, kerr.New(kerr.CodeQueueFull, "StreamBuffer.Send")
		}
		k.mustBeRunnableLocked(t, "StreamBuffer.Send")
		switch k.blockOn(t, b.sendQ, "stream_send", timeout) {
		case blockOK:
			k.spin.Lock()
		case blockTimeout:
			k.spin.Lock()
			b.timeouts++
			k.spin.Unlock()
			return 0, kerr.New(kerr.CodeTimeout, "StreamBuffer.Send")
		default:
			return 0, kerr.New(kerr.CodeCancelled, "StreamBuffer.Send")
		}
	}
}

// SendISR is the ISR-safe, never-blocking send.
func (b *StreamBuffer) SendISR(p []byte) (int, error) {
	return b.Send(nil, p, NoWait)
}

// Receive reads into buf. In byte mode it parks until the trigger level
// is reached or the deadline passes, then drains up to len(buf) bytes; a
// timeout with bytes below the trigger still returns them. In message
// mode it returns exactly one whole message, failing with
// CodeInvalidOperation if buf cannot hold it.
func (b *StreamBuffer) Receive(t *Task, buf []byte, timeout Timeout) (int, error) {
	k := b.k
	k.spin.Lock()
	b.ops++
	for {
		if b.readyForReceiveLocked() {
			n := b.takeLocked(buf)
			if n < 0 {
				k.spin.Unlock()
				return 0, kerr.New(kerr.CodeInvalidOperation, "StreamBuffer.Receive")
			}
			b.notifyLocked()
			k.spin.Unlock()
			if t != nil {
				t.checkpoint()
			}
			return n, nil
		}
		if timeout == NoWait {
			n := 0
			if !b.msgMode {
				n = b.takeLocked(buf)
				b.notifyLocked()
			}
			k.spin.Unlock()
			if n == 0 {
				return 0, kerr.New(kerr.CodeQueueEmpty, "StreamBuffer.Receive")
			}
			return n, nil
		}
		k.mustBeRunnableLocked(t, "StreamBuffer.Receive")
		switch k.blockOn(t, b.recvQ, "stream_recv", timeout) {
		case blockOK:
			k.spin.Lock()
		case blockTimeout:
			k.spin.Lock()
			b.timeouts++
			n := 0
			if !b.msgMode {
				n = b.takeLocked(buf)
				b.notifyLocked()
			}
			k.spin.Unlock()
			if n == 0 {
				return 0, kerr.New(kerr.CodeTimeout, "StreamBuffer.Receive")
			}
			return n, nil
		default:
			return 0, kerr.New(kerr.CodeCancelled, "StreamBuffer.Receive")
		}
	}
}

// takeLocked drains bytes into buf: up to len(buf) in byte mode, exactly
// one frame in message mode (-1 if buf is too small for it).
func (b *StreamBuffer) takeLocked(buf []byte) int {
	if b.msgMode {
		msgLen := int(b.peekHeaderLocked())
		if msgLen > len(buf) {
			return -1
		}
		for i := 0; i < msgHeaderLen; i++ {
			b.ring.Pop()
		}
		for i := 0; i < msgLen; i++ {
			c, _ := b.ring.Pop()
			buf[i] = c
		}
		return msgLen
	}
	n := min(len(buf), b.ring.Len())
	for i := 0; i < n; i++ {
		c, _ := b.ring.Pop()
		buf[i] = c
	}
	return n
}

// ReceiveISR is the ISR-safe, never-blocking receive.
func (b *StreamBuffer) ReceiveISR(buf []byte) (int, error) {
	return b.Receive(nil, buf, NoWait)
}
