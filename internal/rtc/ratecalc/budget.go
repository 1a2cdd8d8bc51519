package ratecalc

// IntervalBudget is a token bucket tracking bytes available to send over a
// target bitrate, capped at windowMs worth of that rate. Grounded on
// spec.md §3's "Interval budget" data model and the pacer algorithm in
// spec.md §4.6.
type IntervalBudget struct {
	targetRateBps int64 // bits per second
	windowMs      int64
	capBytes      int64
	remaining     int64 // bytes; may go negative after an overspend
	lastUpdateMs  int64
	started       bool
}

// NewIntervalBudget returns a budget targeting targetRateBps bits/sec, with
// a reservoir capped at windowMs worth of that rate.
func NewIntervalBudget(targetRateBps int64, windowMs int64) *IntervalBudget {
	b := &IntervalBudget{targetRateBps: targetRateBps, windowMs: windowMs}
	b.capBytes = b.bytesForDuration(windowMs)
	return b
}

func (b *IntervalBudget) bytesForDuration(ms int64) int64 {
	return b.targetRateBps * ms / 8000
}

// SetTargetRate updates the target bitrate and recomputes the cap, without
// touching the current remaining balance.
func (b *IntervalBudget) SetTargetRate(targetRateBps int64) {
	b.targetRateBps = targetRateBps
	b.capBytes = b.bytesForDuration(b.windowMs)
	if b.remaining > b.capBytes {
		b.remaining = b.capBytes
	}
}

// Update advances the budget to nowMs, refilling it by the elapsed time
// since the last call, never exceeding the cap. The first call seeds the
// clock and refills nothing.
func (b *IntervalBudget) Update(nowMs int64) {
	if !b.started {
		b.lastUpdateMs = nowMs
		b.started = true
		return
	}
	elapsed := nowMs - b.lastUpdateMs
	if elapsed <= 0 {
		return
	}
	b.lastUpdateMs = nowMs
	b.remaining += b.bytesForDuration(elapsed)
	if b.remaining > b.capBytes {
		b.remaining = b.capBytes
	}
}

// Consume debits size bytes from the budget. The balance may go negative;
// callers check Remaining()/HasBudget() before deciding whether to send.
func (b *IntervalBudget) Consume(size int) {
	b.remaining -= int64(size)
}

// Remaining returns the current byte balance (possibly negative).
func (b *IntervalBudget) Remaining() int64 { return b.remaining }

// HasBudget reports whether at least one more byte can be sent without
// going negative.
func (b *IntervalBudget) HasBudget() bool { return b.remaining > 0 }

// Cap returns the maximum byte balance the budget can hold.
func (b *IntervalBudget) Cap() int64 { return b.capBytes }
