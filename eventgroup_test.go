package rtkernel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexk/rtkernel/kerr"
)

func TestEventGroup_setClearGet(t *testing.T) {
	k := newTestKernel(t)
	g := k.NewEventGroup()

	assert.EqualValues(t, 0, g.Get())
	g.SetISR(0x05)
	assert.EqualValues(t, 0x05, g.Get())
	prev := g.Clear(0x01)
	assert.EqualValues(t, 0x05, prev)
	assert.EqualValues(t, 0x04, g.Get())
}

func TestEventGroup_waitZeroMaskReturnsImmediately(t *testing.T) {
	k := newTestKernel(t)
	g := k.NewEventGroup()
	g.SetISR(0xA0)

	bits, err := g.Wait(nil, 0, true, false, Forever)
	require.NoError(t, err)
	assert.EqualValues(t, 0xA0, bits)
}

func TestEventGroup_waitAlreadySatisfiedAppliesClear(t *testing.T) {
	k := newTestKernel(t)
	g := k.NewEventGroup()
	g.SetISR(0x0F)

	bits, err := g.Wait(nil, 0x03, true, true, NoWait)
	require.NoError(t, err)
	assert.EqualValues(t, 0x0F, bits)
	assert.EqualValues(t, 0x0C, g.Get(), "matched bits consumed")
}

// TestEventGroup_waitAllWithClear is the incremental-arrival scenario:
// the waiter must stay parked through a partial set and wake exactly when
// the mask completes, consuming it.
func TestEventGroup_waitAllWithClear(t *testing.T) {
	k := newTestKernel(t, WithCores(1))
	g := k.NewEventGroup()

	var bits uint32
	done := make(chan struct{})
	task, err := k.CreateTask("waiter", 1024, 5, AnyCore, func(_ *Kernel, task *Task) {
		got, err := g.Wait(task, 0x0F, true, true, Forever)
		require.NoError(t, err)
		bits = got
		close(done)
	})
	require.NoError(t, err)
	waitState(t, task, TaskBlocked)

	g.SetISR(0x03)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, TaskBlocked, task.State(), "woke on a partial match")

	g.SetISR(0x0C)
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("waiter never woke after the mask completed")
	}
	assert.EqualValues(t, 0x0F, bits&0x0F)
	assert.EqualValues(t, 0, g.Get(), "clear-on-exit must consume the mask")
}

func TestEventGroup_waitAnyNoClear(t *testing.T) {
	k := newTestKernel(t, WithCores(1))
	g := k.NewEventGroup()

	done := make(chan struct{})
	task, err := k.CreateTask("any", 1024, 5, AnyCore, func(_ *Kernel, task *Task) {
		got, err := g.Wait(task, 0xF0, false, false, Forever)
		require.NoError(t, err)
		assert.NotZero(t, got&0xF0)
		close(done)
	})
	require.NoError(t, err)
	waitState(t, task, TaskBlocked)

	g.SetISR(0x40)
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("any-of waiter never woke")
	}
	assert.EqualValues(t, 0x40, g.Get(), "no clear requested")
}

// TestEventGroup_clearConsumptionOrdering: two waiters on the same bits,
// the higher-priority one clearing on exit; the lower-priority waiter
// must NOT be released by bits the first one consumed.
func TestEventGroup_clearConsumptionOrdering(t *testing.T) {
	k := newTestKernel(t, WithCores(1))
	g := k.NewEventGroup()

	hiDone := make(chan struct{})
	hi, err := k.CreateTask("hi", 1024, 8, AnyCore, func(_ *Kernel, task *Task) {
		_, err := g.Wait(task, 0x01, false, true, Forever)
		require.NoError(t, err)
		close(hiDone)
	})
	require.NoError(t, err)
	lo, err := k.CreateTask("lo", 1024, 2, AnyCore, func(_ *Kernel, task *Task) {
		_, err := g.Wait(task, 0x01, false, false, Forever)
		require.NoError(t, err)
	})
	require.NoError(t, err)
	waitState(t, hi, TaskBlocked)
	waitState(t, lo, TaskBlocked)

	g.SetISR(0x01)
	select {
	case <-hiDone:
	case <-time.After(waitFor):
		t.Fatal("high-priority waiter never woke")
	}
	waitState(t, hi, TaskTerminated)

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, TaskBlocked, lo.State(),
		"bit consumed by the higher-priority waiter must not release the lower one")

	g.SetISR(0x01)
	waitState(t, lo, TaskTerminated)
}

func TestEventGroup_waitTimeout(t *testing.T) {
	k := newTestKernel(t, WithCores(1))
	g := k.NewEventGroup()

	var got error
	done := make(chan struct{})
	task, err := k.CreateTask("expirer", 1024, 5, AnyCore, func(_ *Kernel, task *Task) {
		_, got = g.Wait(task, 0x01, true, false, 5)
		close(done)
	})
	require.NoError(t, err)
	waitState(t, task, TaskBlocked)

	for i := 0; i < 5; i++ {
		k.Tick()
	}
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("wait never timed out")
	}
	assert.True(t, kerr.HasCode(got, kerr.CodeTimeout))
}
