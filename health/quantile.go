package health

// depthQuantile is a constant-memory streaming estimate of one quantile
// of observed ready-queue depth, using the P² marker technique (Jain &
// Chlamtac, CACM 1985): five markers track the running minimum, the
// target quantile, its half-way neighbours, and the maximum, and are
// nudged parabolically toward their ideal stream positions as depths
// arrive. No observation history is retained, so a sampler can run for
// the device's whole uptime.
//
// Not safe for concurrent use; the Sampler serializes access.
type depthQuantile struct {
	target float64    // quantile in [0,1], e.g. 0.95
	height [5]float64 // marker heights (estimated depth values)
	pos    [5]float64 // actual marker positions within the stream, 1-based
	want   [5]float64 // ideal marker positions
	step   [5]float64 // ideal-position increment per observation
	seen   int
	warmup [5]float64 // first observations, kept sorted, before markers exist
}

func newDepthQuantile(target float64) *depthQuantile {
	if target < 0 {
		target = 0
	}
	if target > 1 {
		target = 1
	}
	return &depthQuantile{
		target: target,
		step:   [5]float64{0, target / 2, target, (1 + target) / 2, 1},
	}
}

// observe folds one depth sample into the estimate.
func (q *depthQuantile) observe(x float64) {
	q.seen++

	// The first five samples seed the markers; keep them sorted as they
	// arrive so value() can answer before the markers exist.
	if q.seen <= 5 {
		i := q.seen - 1
		for i > 0 && q.warmup[i-1] > x {
			q.warmup[i] = q.warmup[i-1]
			i--
		}
		q.warmup[i] = x
		if q.seen == 5 {
			q.height = q.warmup
			q.pos = [5]float64{1, 2, 3, 4, 5}
			p := q.target
			q.want = [5]float64{1, 1 + 2*p, 1 + 4*p, 3 + 2*p, 5}
		}
		return
	}

	// Locate the cell the sample falls into, stretching the end markers
	// when it is a new extreme.
	var cell int
	switch {
	case x < q.height[0]:
		q.height[0] = x
		cell = 0
	case x >= q.height[4]:
		q.height[4] = x
		cell = 3
	default:
		for cell = 0; cell < 3; cell++ {
			if x < q.height[cell+1] {
				break
			}
		}
	}

	for i := cell + 1; i < 5; i++ {
		q.pos[i]++
	}
	for i := range q.want {
		q.want[i] += q.step[i]
	}

	// Nudge the three interior markers toward their ideal positions.
	for i := 1; i <= 3; i++ {
		d := q.want[i] - q.pos[i]
		if (d >= 1 && q.pos[i+1]-q.pos[i] > 1) || (d <= -1 && q.pos[i-1]-q.pos[i] < -1) {
			s := 1.0
			if d < 0 {
				s = -1.0
			}
			q.height[i] = q.adjust(i, s)
			q.pos[i] += s
		}
	}
}

// adjust moves marker i one position in direction s, preferring the
// piecewise-parabolic prediction and falling back to linear
// interpolation when the parabola would cross a neighbour.
func (q *depthQuantile) adjust(i int, s float64) float64 {
	up := (q.pos[i] - q.pos[i-1] + s) * (q.height[i+1] - q.height[i]) / (q.pos[i+1] - q.pos[i])
	down := (q.pos[i+1] - q.pos[i] - s) * (q.height[i] - q.height[i-1]) / (q.pos[i] - q.pos[i-1])
	h := q.height[i] + s/(q.pos[i+1]-q.pos[i-1])*(up+down)
	if h <= q.height[i-1] || h >= q.height[i+1] {
		if s > 0 {
			h = q.height[i] + (q.height[i+1]-q.height[i])/(q.pos[i+1]-q.pos[i])
		} else {
			h = q.height[i] - (q.height[i-1]-q.height[i])/(q.pos[i-1]-q.pos[i])
		}
	}
	return h
}

// value returns the current estimate: the middle marker once the
// estimator is warm, before that the sorted warm-up sample at the
// target's rank (index truncated, no interpolation).
func (q *depthQuantile) value() float64 {
	switch {
	case q.seen == 0:
		return 0
	case q.seen < 5:
		idx := int(q.target * float64(q.seen-1))
		return q.warmup[idx]
	default:
		return q.height[2]
	}
}

// loadStats is one core's ready-queue depth distribution: the three
// quantiles the health thresholds compare against.
type loadStats struct {
	median *depthQuantile
	tail95 *depthQuantile
	tail99 *depthQuantile
}

func newLoadStats() *loadStats {
	return &loadStats{
		median: newDepthQuantile(0.50),
		tail95: newDepthQuantile(0.95),
		tail99: newDepthQuantile(0.99),
	}
}

func (s *loadStats) observe(depth float64) {
	s.median.observe(depth)
	s.tail95.observe(depth)
	s.tail99.observe(depth)
}

func (s *loadStats) p50() float64 { return s.median.value() }
func (s *loadStats) p95() float64 { return s.tail95.value() }
func (s *loadStats) p99() float64 { return s.tail99.value() }
