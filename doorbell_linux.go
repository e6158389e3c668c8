//go:build linux

package rtkernel

import (
	"encoding/binary"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// eventfdDoorbell backs the inter-core wake with a Linux eventfd. A
// blocking read parks the waiting core; any writer increments the counter
// and releases it. Falls back to the channel doorbell if eventfd creation
// fails.
type eventfdDoorbell struct {
	fd      int
	pending atomic.Uint32
}

func newDoorbell() doorbell {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC)
	if err != nil {
		return newChanDoorbell()
	}
	return &eventfdDoorbell{fd: fd}
}

func (d *eventfdDoorbell) Ring() {
	if !d.pending.CompareAndSwap(0, 1) {
		return
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	_, _ = unix.Write(d.fd, buf[:])
}

func (d *eventfdDoorbell) Wait() {
	var buf [8]byte
	_, _ = unix.Read(d.fd, buf[:])
	d.pending.Store(0)
}

func (d *eventfdDoorbell) Close() {
	_ = unix.Close(d.fd)
}
