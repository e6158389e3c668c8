package rtkernel

// PrimitiveStats is a point-in-time copy of one primitive's operation
// counters.
type PrimitiveStats struct {
	Ops      uint64
	Timeouts uint64
}

// CoreStats is a point-in-time copy of one core's accounting.
type CoreStats struct {
	Index           int
	State           CoreState
	LoadPercent     int
	ReadyTasks      int
	ContextSwitches uint64
	MigrationsIn    uint64
	MigrationsOut   uint64
}

// MemoryStats mirrors the stack account attached via WithStackAccounting.
type MemoryStats struct {
	CurrentBytes     int64
	PeakBytes        int64
	Allocations      int64
	FailedReserves   int64
}

// KernelStats is the observables snapshot: per-core figures, migration
// totals, tick count, and (when stack accounting is enabled) memory
// figures.
type KernelStats struct {
	Ticks          uint64
	Tasks          int
	Cores          []CoreStats
	Migrations     uint64
	LastMigration  uint64
	Memory         MemoryStats
}

// Stats assembles a consistent snapshot under the kernel spinlock.
func (k *Kernel) Stats() KernelStats {
	k.tasksMu.Lock()
	tasks := len(k.tasks)
	k.tasksMu.Unlock()

	s := KernelStats{
		Ticks: k.tick.count(),
		Tasks: tasks,
	}
	k.spin.Lock()
	for _, c := range k.cores {
		s.Cores = append(s.Cores, CoreStats{
			Index:           c.index,
			State:           c.state.Load(),
			LoadPercent:     int(c.loadPercent.Load()),
			ReadyTasks:      c.ready.Len(),
			ContextSwitches: c.switchCount,
			MigrationsIn:    c.migrationsIn,
			MigrationsOut:   c.migrationsOut,
		})
	}
	s.Migrations = k.balancer.migrations
	s.LastMigration = k.balancer.lastMigration
	k.spin.Unlock()

	if a := k.cfg.stackAccount; a != nil {
		s.Memory = MemoryStats{
			CurrentBytes:   a.Current(),
			PeakBytes:      a.Peak(),
			Allocations:    a.Count(),
			FailedReserves: a.Failed(),
		}
	}
	return s
}
