package rtkernel

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexk/rtkernel/kerr"
)

func TestNewSemaphore_validation(t *testing.T) {
	k := newTestKernel(t)
	_, err := k.NewSemaphore(-1, 1)
	assert.True(t, kerr.HasCode(err, kerr.CodeInvalidConfig))
	_, err = k.NewSemaphore(2, 1)
	assert.True(t, kerr.HasCode(err, kerr.CodeInvalidConfig))
	_, err = k.NewSemaphore(0, 0)
	assert.True(t, kerr.HasCode(err, kerr.CodeInvalidConfig))
}

func TestSemaphore_takeGive(t *testing.T) {
	k := newTestKernel(t, WithCores(1))
	s, err := k.NewSemaphore(1, 2)
	require.NoError(t, err)

	done := make(chan struct{})
	_, err = k.CreateTask("worker", 1024, 5, AnyCore, func(_ *Kernel, task *Task) {
		require.NoError(t, s.Take(task, Forever))
		assert.Equal(t, 0, s.Available())
		require.NoError(t, s.Give(task))
		assert.Equal(t, 1, s.Available())
		close(done)
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("worker never ran")
	}
}

func TestSemaphore_giveAtMaxOverflows(t *testing.T) {
	k := newTestKernel(t)
	s, err := k.NewSemaphore(2, 2)
	require.NoError(t, err)

	err = s.GiveISR()
	assert.True(t, kerr.HasCode(err, kerr.CodeSemaphoreOverflow))
	assert.Equal(t, 2, s.Available())
}

func TestSemaphore_takeNoWaitEmpty(t *testing.T) {
	k := newTestKernel(t)
	s, err := k.NewSemaphore(0, 1)
	require.NoError(t, err)
	err = s.Take(nil, NoWait)
	assert.True(t, kerr.HasCode(err, kerr.CodeWouldBlock))
	assert.False(t, s.IsAvailable())
}

// TestSemaphore_wakeOrderIsHighestPriorityFirst: many waiters with
// distinct priorities; each give must release exactly the highest
// remaining one.
func TestSemaphore_wakeOrderIsHighestPriorityFirst(t *testing.T) {
	k := newTestKernel(t, WithCores(1), WithPriorities(32), WithMaxTasks(64))
	s, err := k.NewSemaphore(0, 1)
	require.NoError(t, err)

	const n = 12
	var (
		mu    sync.Mutex
		order []Priority
	)
	tasks := make([]*Task, 0, n)
	for p := Priority(1); p <= n; p++ {
		task, err := k.CreateTask("waiter", 1024, p, AnyCore, func(_ *Kernel, task *Task) {
			require.NoError(t, s.Take(task, Forever))
			mu.Lock()
			order = append(order, task.BasePriority())
			mu.Unlock()
		})
		require.NoError(t, err)
		tasks = append(tasks, task)
	}
	for _, task := range tasks {
		waitState(t, task, TaskBlocked)
	}

	for i := 0; i < n; i++ {
		require.NoError(t, s.GiveISR())
		want := n - i
		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(order) == i+1 && order[i] == Priority(want)
		}, waitFor, pollTick, "give %d must release priority %d", i, want)
	}
}

// TestSemaphore_timeoutPreservesInvariants: a take that expires leaves
// the count untouched and no stray waiter behind.
func TestSemaphore_timeoutPreservesInvariants(t *testing.T) {
	k := newTestKernel(t, WithCores(1))
	s, err := k.NewSemaphore(0, 1)
	require.NoError(t, err)

	var got error
	done := make(chan struct{})
	task, err := k.CreateTask("expirer", 1024, 5, AnyCore, func(_ *Kernel, task *Task) {
		got = s.Take(task, 100)
		close(done)
	})
	require.NoError(t, err)
	waitState(t, task, TaskBlocked)

	for i := 0; i < 99; i++ {
		k.Tick()
	}
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, TaskBlocked, task.State(), "woke before tick 100")

	k.Tick()
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("take never timed out")
	}
	assert.True(t, kerr.HasCode(got, kerr.CodeTimeout))
	assert.Equal(t, 0, s.Available())

	// No stray waiter: a give now must bump the count, not wake anyone.
	require.NoError(t, s.GiveISR())
	assert.Equal(t, 1, s.Available())
}

// TestSemaphore_giveFromTimerCallback exercises the ISR-safe surface
// from tick-handler context.
func TestSemaphore_giveFromTimerCallback(t *testing.T) {
	k := newTestKernel(t, WithCores(1))
	s, err := k.NewSemaphore(0, 1)
	require.NoError(t, err)

	done := make(chan struct{})
	task, err := k.CreateTask("taker", 1024, 5, AnyCore, func(_ *Kernel, task *Task) {
		require.NoError(t, s.Take(task, Forever))
		close(done)
	})
	require.NoError(t, err)
	waitState(t, task, TaskBlocked)

	timer, err := k.NewTimer(3, OneShot, func() { _ = s.GiveISR() })
	require.NoError(t, err)
	timer.Start()

	tickUntil(t, k, func() bool {
		select {
		case <-done:
			return true
		default:
			return false
		}
	})
	assert.Equal(t, TimerExpired, timer.State())
}
