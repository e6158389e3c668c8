package rtkernel

import "github.com/cortexk/rtkernel/health"

// balanceIntervalTicks is how often the load balancer compares per-core
// load.
const balanceIntervalTicks = 16

// loadBalancer periodically evens out occupancy (ready tasks plus the
// running one) between cores by
// migrating the lowest-priority any-affinity task from the hottest core
// to the coolest, at a safe point: the victim is not running and holds no
// mutex. The migration itself happens under the kernel spinlock; the
// destination core learns about it through an IPCMigrate message plus its
// wake IPI.
type loadBalancer struct {
	k         *Kernel
	threshold int

	// Guarded by the kernel spinlock.
	migrations    uint64
	lastMigration uint64
}

func newLoadBalancer(k *Kernel, threshold int) *loadBalancer {
	return &loadBalancer{k: k, threshold: threshold}
}

// maybeBalance runs from Kernel.Tick every balanceIntervalTicks.
func (b *loadBalancer) maybeBalance(now uint64) {
	k := b.k
	if b.threshold <= 0 || len(k.cores) < 2 || now%balanceIntervalTicks != 0 {
		return
	}

	k.spin.Lock()
	hot, cool := k.cores[0], k.cores[0]
	for _, c := range k.cores[1:] {
		if c.occupancyLocked() > hot.occupancyLocked() {
			hot = c
		}
		if c.occupancyLocked() < cool.occupancyLocked() {
			cool = c
		}
	}
	if hot == cool || hot.occupancyLocked()-cool.occupancyLocked() < b.threshold {
		k.spin.Unlock()
		return
	}

	victim := hot.ready.lowestMatching(func(t *Task) bool {
		return t.affinity.Allows(cool.index) && len(t.ownedMutexes) == 0
	})
	if victim == nil {
		k.spin.Unlock()
		return
	}

	hot.ready.Remove(victim)
	victim.core = cool
	cool.ready.Push(victim)
	hot.migrationsOut++
	cool.migrationsIn++
	b.migrations++
	b.lastMigration = now
	k.ipc.postLocked(cool.index, IPCMessage{
		Kind: IPCMigrate,
		Src:  int32(hot.index),
		A:    victim.id,
		task: victim,
	})
	if k.trace != nil {
		k.trace.emit(TraceMigrate, victim.id, cool.index, uint64(hot.index))
	}
	k.spin.Unlock()
	cool.bell.Ring()
}

// Migrations returns the total number of balancer migrations and the
// tick of the most recent one.
func (k *Kernel) Migrations() (count, lastTick uint64) {
	k.spin.Lock()
	count, lastTick = k.balancer.migrations, k.balancer.lastMigration
	k.spin.Unlock()
	return count, lastTick
}

// healthSampleFor builds the load sample a core publishes in response to
// an IPCHealthProbe.
func healthSampleFor(c *Core) health.Sample {
	return health.Sample{
		Core:     c.index,
		ReadyLen: c.ReadyLen(),
		Running:  c.CurrentTask() != nil,
	}
}
