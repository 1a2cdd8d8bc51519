// Package monitor implements the send-stream quality score of spec.md
// §4.9: a windowed loss/repair histogram reduced to a weighted-average
// published score, with threshold-transition callbacks.
package monitor

const (
	// MaxRepairedPacketRetransmission caps how many retransmissions of a
	// single packet count toward the repaired-rate numerator.
	MaxRepairedPacketRetransmission = 2
	// historyLen is the length of the bucketed score histogram.
	historyLen = 8
)

// Monitor tracks one send stream's score across successive RR intervals.
type Monitor struct {
	history      [historyLen]int // bucket indices 0-10, most recent at head (index 0)
	filled       int

	prevReportedLoss int64
	score            float64

	thresholds []int
	lastBucket int
	onTransition func(oldBucket, newBucket int)
}

// New returns a Monitor with score initialized to a perfect 100.
func New() *Monitor {
	m := &Monitor{lastBucket: 10}
	for i := range m.history {
		m.history[i] = 10
	}
	m.filled = historyLen
	m.score = 100
	return m
}

// SetThresholds configures score-bucket values (0-10) at which
// OnTransition fires when the published bucket crosses one.
func (m *Monitor) SetThresholds(thresholds []int, cb func(oldBucket, newBucket int)) {
	m.thresholds = thresholds
	m.onTransition = cb
}

// Update folds in one RR interval's observations: reportedLoss/sourceLoss
// are cumulative lost-packet counts (this call computes the delta since
// the previous call), repairedInInterval is the count of retransmissions
// served during the interval (at most MaxRepairedPacketRetransmission of
// them for any one packet), and totalInInterval is the number of packets
// expected.
func (m *Monitor) Update(reportedLoss, sourceLoss int64, repairedInInterval, totalInInterval int) {
	lossDelta := reportedLoss - m.prevReportedLoss
	m.prevReportedLoss = reportedLoss
	adjustedLoss := lossDelta - sourceLoss
	if adjustedLoss < 0 {
		adjustedLoss = 0
	}

	var lossPct, repairedPct float64
	if totalInInterval > 0 {
		lossPct = float64(adjustedLoss) / float64(totalInInterval) * 100
		repairedPct = float64(repairedInInterval) / float64(totalInInterval) * 100
	}

	scoreRaw := 100 + lossPct*-1.0 + repairedPct*0.5
	if scoreRaw < 0 {
		scoreRaw = 0
	} else if scoreRaw > 100 {
		scoreRaw = 100
	}
	bucket := int(scoreRaw/10 + 0.5)
	if bucket > 10 {
		bucket = 10
	}

	copy(m.history[1:], m.history[:historyLen-1])
	m.history[0] = bucket
	if m.filled < historyLen {
		m.filled++
	}

	m.recompute()
}

// recompute derives the published score as a weighted average over the
// filled history, weight i for the i-th oldest of n samples (i.e. newer
// samples carry more weight).
func (m *Monitor) recompute() {
	n := m.filled
	var weighted, weightSum float64
	for i := 0; i < n; i++ {
		// history[0] is newest; oldest-of-n has weight 1, newest has weight n.
		weight := float64(n - i)
		weighted += weight * float64(m.history[i]*10)
		weightSum += weight
	}
	if weightSum > 0 {
		m.score = weighted / weightSum
	}

	newBucket := int(m.score/10 + 0.5)
	if newBucket > 10 {
		newBucket = 10
	}
	if m.crossesThreshold(m.lastBucket, newBucket) && m.onTransition != nil {
		m.onTransition(m.lastBucket, newBucket)
	}
	m.lastBucket = newBucket
}

func (m *Monitor) crossesThreshold(old, new_ int) bool {
	if old == new_ {
		return false
	}
	for _, th := range m.thresholds {
		if (old >= th) != (new_ >= th) {
			return true
		}
	}
	return false
}

// Score returns the current published score, 0-100.
func (m *Monitor) Score() float64 { return m.score }
