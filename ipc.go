package rtkernel

import (
	"github.com/cortexk/rtkernel/internal/ringbuf"
	"github.com/cortexk/rtkernel/kerr"
)

// IPCKind discriminates the fixed-size messages carried by the
// inter-core rings. Kinds below IPCUser are reserved for the kernel.
type IPCKind uint8

const (
	// IPCWake asks the target core to re-run its scheduler; the payload
	// task, if any, was already placed on its ready set by the sender.
	IPCWake IPCKind = iota
	// IPCMigrate notifies the target core that the load balancer moved
	// the payload task onto its ready set.
	IPCMigrate
	// IPCHealthProbe asks the target core to publish a load sample to
	// the health sampler.
	IPCHealthProbe
	// IPCUser and every kind above it is delivered to the core's user
	// mailbox, waking an IPCReceive caller.
	IPCUser
)

// IPCMessage is the fixed-size inter-core message: a kind, the sending
// core, and two payload words.
type IPCMessage struct {
	Kind IPCKind
	Src  int32
	A    uint64
	B    uint64

	// task carries the subject of kernel-internal kinds; user messages
	// never populate it.
	task *Task
}

// ipcRingCap bounds each core's hardware-FIFO ring and user mailbox.
const ipcRingCap = 64

// ipcHub owns the per-destination-core message rings: a bounded MPSC
// ring drained by the destination's scheduling loop (the IPI handler),
// and a user mailbox the drain forwards non-kernel messages into.
type ipcHub struct {
	// All state guarded by the kernel spinlock, which stands in for the
	// destination's inter-core critical section.
	rings     []*ringbuf.Ring[IPCMessage]
	mailboxes []*ringbuf.Ring[IPCMessage]
	sendQ     []*waitQueue
	recvQ     []*waitQueue
	dropped   []uint64
}

func newIPCHub(numCores, numPriorities int) *ipcHub {
	h := &ipcHub{
		rings:     make([]*ringbuf.Ring[IPCMessage], numCores),
		mailboxes: make([]*ringbuf.Ring[IPCMessage], numCores),
		sendQ:     make([]*waitQueue, numCores),
		recvQ:     make([]*waitQueue, numCores),
		dropped:   make([]uint64, numCores),
	}
	for i := 0; i < numCores; i++ {
		h.rings[i] = ringbuf.New[IPCMessage](ipcRingCap)
		h.mailboxes[i] = ringbuf.New[IPCMessage](ipcRingCap)
		h.sendQ[i] = newWaitQueue(numPriorities)
		h.recvQ[i] = newWaitQueue(numPriorities)
	}
	return h
}

// postLocked enqueues a kernel-internal message without blocking,
// counting it as dropped on overflow. Kernel spinlock held.
func (h *ipcHub) postLocked(target int, msg IPCMessage) {
	if !h.rings[target].Push(msg) {
		h.dropped[target]++
	}
}

// IPCDropped returns the number of messages discarded by non-blocking
// sends to core target since start.
func (k *Kernel) IPCDropped(target int) uint64 {
	k.spin.Lock()
	n := k.ipc.dropped[target]
	k.spin.Unlock()
	return n
}

// IPCSend copies msg into core target's ring and raises its wake IPI,
// blocking up to timeout ticks while the ring is full. Kinds below
// IPCUser are reserved.
func (k *Kernel) IPCSend(t *Task, target int, msg IPCMessage, timeout Timeout) error {
	if target < 0 || target >= len(k.cores) {
		return kerr.New(kerr.CodeInvalidConfig, "IPCSend")
	}
	if msg.Kind < IPCUser {
		return kerr.New(kerr.CodeInvalidOperation, "IPCSend")
	}
	msg.task = nil
	if t != nil && t.core != nil {
		msg.Src = int32(t.core.index)
	}

	h := k.ipc
	k.spin.Lock()
	for {
		if h.rings[target].Push(msg) {
			if k.trace != nil {
				k.trace.emit(TraceIPC, uint64(msg.Kind), target, msg.A)
			}
			k.cores[target].bell.Ring()
			k.spin.Unlock()
			if t != nil {
				t.checkpoint()
			}
			return nil
		}
		if timeout == NoWait {
			h.dropped[target]++
			k.spin.Unlock()
			return kerr.New(kerr.CodeQueueFull, "IPCSend")
		}
		k.mustBeRunnableLocked(t, "IPCSend")
		switch k.blockOn(t, h.sendQ[target], "ipc_send", timeout) {
		case blockOK:
			k.spin.Lock()
		case blockTimeout:
			return kerr.New(kerr.CodeTimeout, "IPCSend")
		default:
			return kerr.New(kerr.CodeCancelled, "IPCSend")
		}
	}
}

// IPCSendISR is the ISR-safe, never-blocking send.
func (k *Kernel) IPCSendISR(target int, msg IPCMessage) error {
	return k.IPCSend(nil, target, msg, NoWait)
}

// IPCReceive takes the next user message addressed to the calling task's
// current core, blocking up to timeout ticks while none is pending.
func (k *Kernel) IPCReceive(t *Task, timeout Timeout) (IPCMessage, error) {
	if t == nil || t.core == nil {
		return IPCMessage{}, kerr.New(kerr.CodeInvalidTask, "IPCReceive")
	}
	h := k.ipc
	core := t.core.index
	k.spin.Lock()
	if m, ok := h.mailboxes[core].Pop(); ok {
		k.spin.Unlock()
		return m, nil
	}
	if timeout == NoWait {
		k.spin.Unlock()
		return IPCMessage{}, kerr.New(kerr.CodeQueueEmpty, "IPCReceive")
	}
	k.mustBeRunnableLocked(t, "IPCReceive")
	switch k.blockOn(t, h.recvQ[core], "ipc_recv", timeout) {
	case blockOK:
		m := t.blockData.(IPCMessage)
		t.blockData = nil
		return m, nil
	case blockTimeout:
		return IPCMessage{}, kerr.New(kerr.CodeTimeout, "IPCReceive")
	default:
		return IPCMessage{}, kerr.New(kerr.CodeCancelled, "IPCReceive")
	}
}

// SendHealthProbe posts an IPCHealthProbe to core target; its IPI handler
// publishes a load sample to the health sampler.
func (k *Kernel) SendHealthProbe(target int) error {
	if target < 0 || target >= len(k.cores) {
		return kerr.New(kerr.CodeInvalidConfig, "SendHealthProbe")
	}
	k.spin.Lock()
	k.ipc.postLocked(target, IPCMessage{Kind: IPCHealthProbe, Src: -1})
	k.spin.Unlock()
	k.cores[target].bell.Ring()
	return nil
}

// drainIPC is the core's IPI handler: it empties the core's ring,
// handling kernel kinds and forwarding user messages to a waiting
// IPCReceive caller (or the mailbox), and releases senders parked on
// ring space.
func (c *Core) drainIPC() {
	k := c.kernel
	probes := 0
	k.spin.Lock()
	h := k.ipc
	for {
		m, ok := h.rings[c.index].Pop()
		if !ok {
			break
		}
		switch m.Kind {
		case IPCWake, IPCMigrate:
			// The sender already updated the ready set; the message
			// only carried the interrupt.
		case IPCHealthProbe:
			probes++
		default:
			if w := h.recvQ[c.index].PopHighest(); w != nil {
				w.blockData = m
				w.wakeResult = blockOK
				k.readyTaskLocked(w)
			} else if !h.mailboxes[c.index].Push(m) {
				h.dropped[c.index]++
			}
		}
		k.wakeHighestLocked(h.sendQ[c.index])
	}
	k.spin.Unlock()

	for ; probes > 0; probes-- {
		if k.sampler != nil {
			k.sampler.Observe(healthSampleFor(c))
		}
	}
}
