package rtkernel

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexk/rtkernel/kerr"
)

func TestNewTimer_validation(t *testing.T) {
	k := newTestKernel(t)
	_, err := k.NewTimer(0, OneShot, func() {})
	assert.True(t, kerr.HasCode(err, kerr.CodeInvalidConfig))
	_, err = k.NewTimer(5, OneShot, nil)
	assert.True(t, kerr.HasCode(err, kerr.CodeInvalidConfig))
}

func TestTimer_oneShot(t *testing.T) {
	k := newTestKernel(t)
	var fired atomic.Uint64
	tm, err := k.NewTimer(3, OneShot, func() { fired.Add(1) })
	require.NoError(t, err)
	assert.Equal(t, TimerStopped, tm.State())

	tm.Start()
	assert.Equal(t, TimerRunning, tm.State())

	k.Tick()
	k.Tick()
	assert.EqualValues(t, 0, fired.Load())
	k.Tick()
	assert.EqualValues(t, 1, fired.Load())
	assert.Equal(t, TimerExpired, tm.State())

	// Expired one-shots never refire.
	for i := 0; i < 10; i++ {
		k.Tick()
	}
	assert.EqualValues(t, 1, fired.Load())
}

func TestTimer_periodic(t *testing.T) {
	k := newTestKernel(t)
	var fired atomic.Uint64
	tm, err := k.NewTimer(5, Periodic, func() { fired.Add(1) })
	require.NoError(t, err)
	tm.Start()

	for i := 0; i < 20; i++ {
		k.Tick()
	}
	assert.EqualValues(t, 4, fired.Load())
	assert.Equal(t, TimerRunning, tm.State())

	tm.Stop()
	for i := 0; i < 10; i++ {
		k.Tick()
	}
	assert.EqualValues(t, 4, fired.Load())
	assert.Equal(t, TimerStopped, tm.State())
}

// TestTimer_startStopStartEqualsSingleStart: the stale first deadline
// must fall out of the wheel without firing.
func TestTimer_startStopStartEqualsSingleStart(t *testing.T) {
	k := newTestKernel(t)
	var fired atomic.Uint64
	tm, err := k.NewTimer(4, OneShot, func() { fired.Add(1) })
	require.NoError(t, err)

	tm.Start()
	k.Tick()
	tm.Stop()
	tm.Start() // re-arms 4 ticks from now (tick 1): fires at tick 5

	for i := 0; i < 3; i++ {
		k.Tick()
	}
	assert.EqualValues(t, 0, fired.Load())
	k.Tick()
	assert.EqualValues(t, 1, fired.Load())
}

// TestTimer_lateDispatchFiresOnceAndCatchesUp: a periodic timer whose
// deadline is long past fires once, with the next deadline advanced past
// now rather than replaying every missed period.
func TestTimer_lateDispatchFiresOnceAndCatchesUp(t *testing.T) {
	k := newTestKernel(t)
	var fired atomic.Uint64
	tm, err := k.NewTimer(10, Periodic, func() { fired.Add(1) })
	require.NoError(t, err)
	tm.Start() // deadline: tick 10

	// Deliver a tick handler that is 35 ticks late.
	k.timers.expire(35, k)
	assert.EqualValues(t, 1, fired.Load(), "no dispatch storm for missed periods")

	k.timers.expire(39, k)
	assert.EqualValues(t, 1, fired.Load())
	k.timers.expire(40, k)
	assert.EqualValues(t, 2, fired.Load(), "next deadline lands on the next future multiple")
}

func TestTimer_reset(t *testing.T) {
	k := newTestKernel(t)
	var fired atomic.Uint64
	tm, err := k.NewTimer(5, OneShot, func() { fired.Add(1) })
	require.NoError(t, err)
	tm.Start()

	for i := 0; i < 3; i++ {
		k.Tick()
	}
	tm.Reset() // fires at tick 8 now

	for i := 0; i < 4; i++ {
		k.Tick()
	}
	assert.EqualValues(t, 0, fired.Load())
	k.Tick()
	assert.EqualValues(t, 1, fired.Load())
}

func TestTimer_changePeriod(t *testing.T) {
	k := newTestKernel(t)
	var fired atomic.Uint64
	tm, err := k.NewTimer(100, Periodic, func() { fired.Add(1) })
	require.NoError(t, err)
	tm.Start()

	require.NoError(t, tm.ChangePeriod(2))
	assert.EqualValues(t, 2, tm.Period())
	k.Tick()
	k.Tick()
	assert.EqualValues(t, 1, fired.Load())

	assert.Error(t, tm.ChangePeriod(0))
}

func TestTimer_panickingCallbackIsContained(t *testing.T) {
	k := newTestKernel(t, WithErrorHistory(8))
	tm, err := k.NewTimer(1, OneShot, func() { panic("cb") })
	require.NoError(t, err)
	tm.Start()

	require.NotPanics(t, func() { k.Tick() })
	require.NotNil(t, k.History().Last())
	assert.Equal(t, kerr.CodeInvalidOperation, k.History().Last().Code)
}
