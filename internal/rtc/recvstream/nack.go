package recvstream

import "github.com/arzzra/sfu-worker/internal/rtc/rtcp"

const (
	// MaxNackPackets bounds how many outstanding missing sequence numbers
	// the generator will track before giving up and requesting a keyframe.
	MaxNackPackets = 1000
	// MaxPacketAge bounds the sequence-number gap between the earliest
	// outstanding entry and the newest before giving up the same way.
	MaxPacketAge = 10000
	// MaxRetries is how many times a single missing sequence number is
	// re-requested before it's dropped silently.
	MaxRetries = 8
	// DefaultNackIntervalMs is a 40ms NACK emission period. nackGenerator
	// does not schedule itself and nothing in this module reads this
	// constant: internal/rtc/worker generates NACKs only when it emits
	// compound RTCP.
	DefaultNackIntervalMs = 40
	// DefaultRTTMs is used when no RTT measurement is available yet.
	DefaultRTTMs = 100
)

type nackEntry struct {
	seq       uint16
	retries   int
	sentAtMs  int64
	createdAt int64
}

// nackGenerator tracks missing sequence numbers for one receive stream and
// packs periodic retransmission requests, per spec.md §4.4.
type nackGenerator struct {
	entries    []*nackEntry // insertion order
	index      map[uint16]*nackEntry
	haveLast   bool
	lastSeq    uint16
	keyframeRequested bool
}

func newNackGenerator() *nackGenerator {
	return &nackGenerator{index: make(map[uint16]*nackEntry)}
}

func (g *nackGenerator) remove(seq uint16) {
	if e, ok := g.index[seq]; ok {
		delete(g.index, seq)
		for i, o := range g.entries {
			if o == e {
				g.entries = append(g.entries[:i], g.entries[i+1:]...)
				break
			}
		}
	}
}

func (g *nackGenerator) clear() {
	g.entries = nil
	g.index = make(map[uint16]*nackEntry)
}

// onReceive records an accepted packet, marking any gap before it as
// missing and escalating to a keyframe request if the backlog overflows.
func (g *nackGenerator) onReceive(seq uint16, nowMs int64) {
	g.remove(seq)

	if g.haveLast {
		gap := seq - g.lastSeq // uint16 wraparound arithmetic
		if gap > 1 && gap < MaxDropout {
			for s := g.lastSeq + 1; s != seq; s++ {
				e := &nackEntry{seq: s, createdAt: nowMs}
				g.entries = append(g.entries, e)
				g.index[s] = e
			}
		}
	}
	g.haveLast = true
	g.lastSeq = seq

	if len(g.entries) > MaxNackPackets || g.ageExceeds(MaxPacketAge, seq) {
		g.clear()
		g.keyframeRequested = true
	}
}

func (g *nackGenerator) ageExceeds(maxAge uint16, currentSeq uint16) bool {
	if len(g.entries) == 0 {
		return false
	}
	earliest := g.entries[0].seq
	return currentSeq-earliest > maxAge
}

// TakeKeyframeRequest reports and clears whether a keyframe (PLI) escalation
// is pending.
func (g *nackGenerator) TakeKeyframeRequest() bool {
	r := g.keyframeRequested
	g.keyframeRequested = false
	return r
}

// Generate packs entries eligible for (re)request at nowMs, given rtt (or
// DefaultRTTMs if rtt <= 0), into NACK pairs, and advances their retry
// bookkeeping. Entries that reach MaxRetries are dropped with no further
// signal.
func (g *nackGenerator) Generate(nowMs int64, rtt int64) []rtcp.NackPair {
	if rtt <= 0 {
		rtt = DefaultRTTMs
	}
	var due []uint16
	var survivors []*nackEntry
	for _, e := range g.entries {
		if e.retries >= MaxRetries {
			delete(g.index, e.seq)
			continue // dropped silently
		}
		survivors = append(survivors, e)
		if nowMs-e.sentAtMs >= rtt {
			due = append(due, e.seq)
			e.retries++
			e.sentAtMs = nowMs
		}
	}
	g.entries = survivors
	if len(due) == 0 {
		return nil
	}
	return rtcp.PackNackPairs(due)
}

// Pending returns the number of currently tracked missing sequence numbers.
func (g *nackGenerator) Pending() int { return len(g.entries) }
