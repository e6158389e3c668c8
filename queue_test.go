package rtkernel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexk/rtkernel/kerr"
)

func TestNewQueue_validation(t *testing.T) {
	k := newTestKernel(t)
	_, err := NewQueue[int](k, 0)
	assert.True(t, kerr.HasCode(err, kerr.CodeInvalidConfig))
}

func TestQueue_sendReceiveRoundTrip(t *testing.T) {
	k := newTestKernel(t)
	q, err := NewQueue[int](k, 4)
	require.NoError(t, err)

	require.NoError(t, q.SendISR(7))
	require.NoError(t, q.SendISR(8))
	assert.Equal(t, 2, q.Len())
	assert.False(t, q.IsEmpty())
	assert.False(t, q.IsFull())

	v, err := q.ReceiveISR()
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	v, err = q.ReceiveISR()
	require.NoError(t, err)
	assert.Equal(t, 8, v)
	assert.True(t, q.IsEmpty())
}

func TestQueue_noWaitBoundaries(t *testing.T) {
	k := newTestKernel(t)
	q, err := NewQueue[string](k, 1)
	require.NoError(t, err)

	_, err = q.ReceiveISR()
	assert.True(t, kerr.HasCode(err, kerr.CodeQueueEmpty))

	require.NoError(t, q.SendISR("x"))
	err = q.SendISR("y")
	assert.True(t, kerr.HasCode(err, kerr.CodeQueueFull))

	// The failed send must not have modified the queue.
	assert.Equal(t, 1, q.Len())
	v, err := q.ReceiveISR()
	require.NoError(t, err)
	assert.Equal(t, "x", v)
}

// TestQueue_blockedSenderPriorityOrder: with the queue full, a receiver
// accepts the HIGHEST-priority blocked sender's item next, while payload
// order stays FIFO.
func TestQueue_blockedSenderPriorityOrder(t *testing.T) {
	k := newTestKernel(t, WithCores(1))
	q, err := NewQueue[string](k, 1)
	require.NoError(t, err)

	require.NoError(t, q.SendISR("first"))

	a, err := k.CreateTask("A", 1024, 3, AnyCore, func(_ *Kernel, task *Task) {
		require.NoError(t, q.Send(task, "from-A", Forever))
	})
	require.NoError(t, err)
	waitState(t, a, TaskBlocked)

	b, err := k.CreateTask("B", 1024, 7, AnyCore, func(_ *Kernel, task *Task) {
		require.NoError(t, q.Send(task, "from-B", Forever))
	})
	require.NoError(t, err)
	waitState(t, b, TaskBlocked)

	var got []string
	for i := 0; i < 3; i++ {
		v, err := q.ReceiveISR()
		require.NoError(t, err)
		got = append(got, v)
	}
	assert.Equal(t, []string{"first", "from-B", "from-A"}, got,
		"B outranks A, so B's item is accepted into the freed slot first")

	waitState(t, a, TaskTerminated)
	waitState(t, b, TaskTerminated)
	assert.True(t, q.IsEmpty())
}

func TestQueue_receiverDirectHandoff(t *testing.T) {
	k := newTestKernel(t, WithCores(1))
	q, err := NewQueue[int](k, 2)
	require.NoError(t, err)

	var got int
	done := make(chan struct{})
	task, err := k.CreateTask("rx", 1024, 5, AnyCore, func(_ *Kernel, task *Task) {
		v, err := q.Receive(task, Forever)
		require.NoError(t, err)
		got = v
		close(done)
	})
	require.NoError(t, err)
	waitState(t, task, TaskBlocked)

	require.NoError(t, q.SendISR(42))
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("receiver never woke")
	}
	assert.Equal(t, 42, got)
	assert.True(t, q.IsEmpty(), "handed off directly, never buffered")
}

func TestQueue_receiveTimeout(t *testing.T) {
	k := newTestKernel(t, WithCores(1))
	q, err := NewQueue[int](k, 1)
	require.NoError(t, err)

	var got error
	done := make(chan struct{})
	task, err := k.CreateTask("rx", 1024, 5, AnyCore, func(_ *Kernel, task *Task) {
		_, got = q.Receive(task, 10)
		close(done)
	})
	require.NoError(t, err)
	waitState(t, task, TaskBlocked)

	for i := 0; i < 10; i++ {
		k.Tick()
	}
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("receive never timed out")
	}
	assert.True(t, kerr.HasCode(got, kerr.CodeTimeout))
	assert.True(t, q.IsEmpty())
}
