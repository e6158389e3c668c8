package rtkernel

import (
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// spinTask returns an entry that yields in a loop until stop is set,
// counting iterations.
func spinTask(stop *atomic.Bool, n *atomic.Uint64) func(*Kernel, *Task) {
	return func(_ *Kernel, task *Task) {
		for !stop.Load() {
			if n != nil {
				n.Add(1)
			}
			task.Yield()
		}
	}
}

func TestSMP_bothCoresRunTasks(t *testing.T) {
	k := newTestKernel(t, WithCores(2))

	var stop atomic.Bool
	t.Cleanup(func() { stop.Store(true) })

	a, err := k.CreateTask("a", 1024, 5, CoreMaskFor(0), spinTask(&stop, nil))
	require.NoError(t, err)
	b, err := k.CreateTask("b", 1024, 5, CoreMaskFor(1), spinTask(&stop, nil))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return a.Core() == 0 && b.Core() == 1 &&
			a.Stats().ContextSwitches > 10 && b.Stats().ContextSwitches > 10
	}, waitFor, pollTick, "pinned tasks must run on their own cores in parallel")
}

func TestSMP_leastLoadedPlacement(t *testing.T) {
	k := newTestKernel(t, WithCores(2), WithAssignmentStrategy(AssignLeastLoaded))

	var stop atomic.Bool
	t.Cleanup(func() { stop.Store(true) })

	// Saturate core 0, then an Any task must land on core 1.
	_, err := k.CreateTask("pinned", 1024, 5, CoreMaskFor(0), spinTask(&stop, nil))
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)

	free, err := k.CreateTask("free", 1024, 5, AnyCore, spinTask(&stop, nil))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return free.Core() == 1 }, waitFor, pollTick)
}

// TestSMP_loadBalancerMigratesAnyTask: an any-affinity task created on
// the core that later becomes hot must be migrated to the cool one.
func TestSMP_loadBalancerMigratesAnyTask(t *testing.T) {
	k := newTestKernel(t, WithCores(2),
		WithAssignmentStrategy(AssignRoundRobin),
		WithLoadBalanceThreshold(2))

	var stop atomic.Bool
	t.Cleanup(func() { stop.Store(true) })

	// RR places the first Any task on core 0...
	victim, err := k.CreateTask("victim", 1024, 1, AnyCore, spinTask(&stop, nil))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return victim.Core() == 0 }, waitFor, pollTick)

	// ...then three pinned spinners make core 0 hot while core 1 idles.
	for i := 0; i < 3; i++ {
		_, err := k.CreateTask("weight", 1024, 5, CoreMaskFor(0), spinTask(&stop, nil))
		require.NoError(t, err)
	}

	tickUntil(t, k, func() bool {
		count, _ := k.Migrations()
		return count > 0 && victim.Core() == 1
	})

	s := k.Stats()
	assert.Greater(t, s.Cores[1].MigrationsIn, uint64(0))
	assert.Greater(t, s.Cores[0].MigrationsOut, uint64(0))
}

// TestSMP_affinityIsNeverViolated: a task pinned to core 1 stays there
// no matter how imbalanced the cores get.
func TestSMP_affinityIsNeverViolated(t *testing.T) {
	k := newTestKernel(t, WithCores(2), WithLoadBalanceThreshold(1))

	var stop atomic.Bool
	t.Cleanup(func() { stop.Store(true) })

	pinned, err := k.CreateTask("pinned", 1024, 1, CoreMaskFor(1), spinTask(&stop, nil))
	require.NoError(t, err)

	// Pile more pinned work onto core 1; core 0 stays idle. Nothing is
	// eligible to migrate, so the imbalance must persist.
	for i := 0; i < 3; i++ {
		_, err := k.CreateTask("more", 1024, 2, CoreMaskFor(1), spinTask(&stop, nil))
		require.NoError(t, err)
	}

	for i := 0; i < 64; i++ {
		k.Tick()
		assert.Equal(t, 1, pinned.Core(), "affinity violated at tick %d", i)
	}
	count, _ := k.Migrations()
	assert.EqualValues(t, 0, count)
}

// TestSMP_mutexHolderIsNotMigrated: holding a mutex disqualifies a task
// from migration even when it is the only any-affinity candidate.
func TestSMP_mutexHolderIsNotMigrated(t *testing.T) {
	k := newTestKernel(t, WithCores(2),
		WithAssignmentStrategy(AssignRoundRobin),
		WithLoadBalanceThreshold(2))
	m := k.NewMutex()

	var stop atomic.Bool
	t.Cleanup(func() { stop.Store(true) })

	locked := make(chan struct{})
	holder, err := k.CreateTask("holder", 1024, 1, AnyCore, func(_ *Kernel, task *Task) {
		require.NoError(t, m.Lock(task, Forever))
		close(locked)
		for !stop.Load() {
			task.Yield()
		}
		require.NoError(t, m.Unlock(task))
	})
	require.NoError(t, err)
	<-locked
	require.Equal(t, 0, holder.Core())

	for i := 0; i < 3; i++ {
		_, err := k.CreateTask("weight", 1024, 5, CoreMaskFor(0), spinTask(&stop, nil))
		require.NoError(t, err)
	}

	for i := 0; i < 64; i++ {
		k.Tick()
	}
	count, _ := k.Migrations()
	assert.EqualValues(t, 0, count, "a mutex holder is never a migration victim")
	assert.Equal(t, 0, holder.Core())
}

func TestSMP_coreLoadPercent(t *testing.T) {
	k := newTestKernel(t, WithCores(2))

	var stop atomic.Bool
	t.Cleanup(func() { stop.Store(true) })
	// Hog the CPU without yielding so core 0 stays busy for every tick.
	_, err := k.CreateTask("busy", 1024, 5, CoreMaskFor(0), func(_ *Kernel, _ *Task) {
		for !stop.Load() {
			runtime.Gosched()
		}
	})
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)

	for i := 0; i < 3*loadWindowTicks; i++ {
		k.Tick()
	}
	assert.Greater(t, k.Core(0).LoadPercent(), 50)
	peak, ok := k.Core(0).PeakLoadPercent()
	require.True(t, ok)
	assert.GreaterOrEqual(t, peak, k.Core(0).LoadPercent())
	assert.Less(t, k.Core(1).LoadPercent(), 50)
}
