// Package ratecalc implements the sliding-window byte rate counter and the
// token-bucket interval budget the pacer spends from. The rate counter is a
// fixed-size ring buffer allocated once at construction (spec.md §5: no
// ring buffer resizes after startup).
package ratecalc

// windowMs is the sliding-window width every RateCalculator covers.
const windowMs = 1000

// RateCalculator is a circular buffer of per-millisecond byte counts over a
// 1000ms window, with a running total. Grounded on the teacher's
// MetricsCollector windowed counters (pkg/rtp/metrics_collector.go),
// generalized into a fixed-size ring instead of a growable slice.
type RateCalculator struct {
	buckets  [windowMs]uint64
	total    uint64
	oldestMs int64 // ms timestamp the buckets array currently starts at (buckets[oldestMs % windowMs] is the oldest slot)
	started  bool
}

// NewRateCalculator returns a ready-to-use, zeroed calculator.
func NewRateCalculator() *RateCalculator {
	return &RateCalculator{}
}

// Update records size bytes at time nowMs. Out-of-order updates into the
// past (nowMs before the window's current floor) are rejected and leave the
// calculator unchanged.
func (r *RateCalculator) Update(size int, nowMs int64) bool {
	if !r.started {
		r.oldestMs = nowMs - windowMs + 1
		r.started = true
	}
	if nowMs < r.oldestMs {
		return false
	}
	r.advance(nowMs)
	idx := ((nowMs % windowMs) + windowMs) % windowMs
	r.buckets[idx] += uint64(size)
	r.total += uint64(size)
	return true
}

// advance slides the window forward to cover nowMs, evicting and
// zero-subtracting any buckets that fall outside the new 1000ms span.
func (r *RateCalculator) advance(nowMs int64) {
	newOldest := nowMs - windowMs + 1
	if newOldest <= r.oldestMs {
		return
	}
	evict := newOldest - r.oldestMs
	if evict > windowMs {
		evict = windowMs
	}
	for i := int64(0); i < evict; i++ {
		idx := ((r.oldestMs + i) % windowMs + windowMs) % windowMs
		r.total -= r.buckets[idx]
		r.buckets[idx] = 0
	}
	r.oldestMs = newOldest
}

// Rate returns the running total over the current window as bytes/sec,
// after advancing the window to nowMs (without recording a new sample).
func (r *RateCalculator) Rate(nowMs int64) uint64 {
	if !r.started {
		return 0
	}
	r.advance(nowMs)
	return r.total
}

// GetRate is an alias for Rate kept for symmetry with the teacher's
// Get-prefixed accessor naming in pkg/rtp/metrics.go.
func (r *RateCalculator) GetRate(nowMs int64) uint64 { return r.Rate(nowMs) }
