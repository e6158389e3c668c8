// Package rtkernel is a preemptive, priority-based real-time kernel core
// for a dual-core microcontroller, reproduced as a host-simulatable
// library: "cores" are goroutines running a tick-driven scheduling loop,
// and "tasks" are goroutines gated by a run-token handoff so only the
// scheduler-elected task executes at a time.
//
// # Architecture
//
//   - Scheduler: one ready set per core (per-priority FIFOs threaded
//     through a priority bitmap, O(1) highest-ready election), strict
//     priority with round-robin rotation among equals on every tick.
//   - Blocking: a unified block/wake contract shared by every primitive;
//     waiters queue in (effective-priority, FIFO) order and the highest
//     is woken in O(1) regardless of waiter count.
//   - Primitives: mutex with transitive priority inheritance, counting
//     semaphore, bounded queue, event group, stream/message buffer.
//   - Time: a manually-steppable tick subsystem (Kernel.Tick), a
//     min-heap software timer wheel dispatched in tick context, and a
//     hi-res microsecond counter off the host monotonic clock.
//   - SMP: per-core schedulers, task affinity masks, a periodic load
//     balancer, and bounded inter-core message rings drained by each
//     core's wake-IPI handler.
//
// Preemption occurs at kernel-call boundaries: every kernel call a task
// makes doubles as the return-from-interrupt window in which a pending
// reschedule, suspend, or delete request lands. A task that makes no
// kernel calls is never preempted; real-time behavior therefore depends
// on tasks interacting with the kernel, exactly as it depends on
// interrupt delivery on hardware.
//
// # Usage
//
//	k, _ := rtkernel.New(rtkernel.WithCores(2))
//	k.Start()
//	defer k.Shutdown()
//
//	sem, _ := k.NewSemaphore(0, 1)
//	k.CreateTask("worker", 4096, 5, rtkernel.AnyCore, func(k *rtkernel.Kernel, t *rtkernel.Task) {
//		for {
//			if err := sem.Take(t, rtkernel.Forever); err != nil {
//				return
//			}
//			// ... work ...
//		}
//	})
//
// Drive time with Kernel.Run (background ticker) or deterministically
// with explicit Kernel.Tick calls.
package rtkernel
