// Package health provides the kernel's health/alerts/watchdog glue: a
// periodic sampler that tracks per-core load against configured
// thresholds via streaming P² percentile estimation, and a watchdog-feed
// contract for the idle task.
package health

import (
	"sync"
	"time"
)

// Config configures a Sampler.
type Config struct {
	// Interval records the intended time between samples. The kernel does
	// not read it: Kernel.Tick observes every core once per tick.
	Interval time.Duration
	// LoadThreshold triggers OnAlert("core_overloaded", ...) when a core's
	// ready-queue depth P95 reaches or exceeds it.
	LoadThreshold int
	// OnAlert is invoked with a short alert name and a free-form detail
	// string whenever a threshold is crossed.
	OnAlert func(name, detail string)
}

// Sample is one core's point-in-time load observation.
type Sample struct {
	Core      int
	ReadyLen  int
	Running   bool
	MemBytes  int64
}

// Sampler aggregates Samples into streaming ready-queue-depth
// percentiles per core, avoiding the need to retain a full history for
// threshold checks.
type Sampler struct {
	mu     sync.Mutex
	cfg    Config
	byCore map[int]*loadStats
}

// NewSampler creates a Sampler from cfg. A zero-value Config disables
// alerting but still tracks percentiles.
func NewSampler(cfg Config) *Sampler {
	return &Sampler{cfg: cfg, byCore: make(map[int]*loadStats)}
}

// Observe records one core's load sample and fires OnAlert if configured
// thresholds are exceeded.
func (s *Sampler) Observe(sample Sample) {
	s.mu.Lock()
	stats, ok := s.byCore[sample.Core]
	if !ok {
		stats = newLoadStats()
		s.byCore[sample.Core] = stats
	}
	stats.observe(float64(sample.ReadyLen))
	p95 := stats.p95()
	s.mu.Unlock()

	if s.cfg.OnAlert != nil && s.cfg.LoadThreshold > 0 && int(p95) >= s.cfg.LoadThreshold {
		s.cfg.OnAlert("core_overloaded", formatCoreLoad(sample.Core, p95))
	}
}

// Percentiles returns the (p50, p95, p99) ready-queue depth for a core, or
// zeros if it has never been observed.
func (s *Sampler) Percentiles(core int) (p50, p95, p99 float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats, ok := s.byCore[core]
	if !ok {
		return 0, 0, 0
	}
	return stats.p50(), stats.p95(), stats.p99()
}

func formatCoreLoad(core int, p95 float64) string {
	return "core " + itoa(core) + " ready-queue p95=" + ftoa(p95)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func ftoa(f float64) string {
	return itoa(int(f))
}

// Watchdog models the feed/miss contract for the hardware watchdog timer
// named in the hardware-contract observable. Register programming is out
// of scope; this only tracks whether the idle task is feeding it on time.
type Watchdog struct {
	mu          sync.Mutex
	missLimit   int
	misses      int
	lastFed     time.Time
	period      time.Duration
	onExpire    func()
}

// NewWatchdog creates a Watchdog that expects Feed at least once per
// period, tolerating up to missLimit consecutive missed periods before
// calling onExpire.
func NewWatchdog(period time.Duration, missLimit int, onExpire func()) *Watchdog {
	return &Watchdog{period: period, missLimit: missLimit, onExpire: onExpire, lastFed: time.Time{}}
}

// Feed resets the miss counter; called by the idle task on every pass.
func (w *Watchdog) Feed(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastFed = now
	w.misses = 0
}

// Check should be called once per period by the kernel's tick or health
// driver; it increments the miss counter if no feed arrived since the last
// Check, and fires onExpire once the limit is exceeded.
func (w *Watchdog) Check(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.lastFed.IsZero() {
		w.lastFed = now
		return
	}
	if now.Sub(w.lastFed) < w.period {
		return
	}
	w.misses++
	w.lastFed = now
	if w.misses > w.missLimit && w.onExpire != nil {
		w.onExpire()
	}
}
