package pacer

// defaultProbeChunk bounds how many bytes a single RecommendedProbeSize call
// asks for at once, so probing ramps in packet-sized steps rather than in
// one lump covering the whole cluster target.
const defaultProbeChunk = 1200

// Cluster is one probe burst: spec.md §3's "Prober cluster" data model.
type Cluster struct {
	ID            int
	TargetBitrate int64
	MinProbes     int
	MinBytes      int
	SentProbes    int
	SentBytes     int
	TimeStartedMs int64
}

// Prober schedules bandwidth-probing bursts for the pacer. Exactly one
// cluster is active at a time; a new cluster replaces any unfinished one.
type Prober struct {
	active *Cluster
	nextID int
}

// NewProber returns a Prober with no active cluster.
func NewProber() *Prober {
	return &Prober{}
}

// StartCluster begins a new probe cluster and returns its id.
func (p *Prober) StartCluster(targetBitrate int64, minProbes, minBytes int, nowMs int64) int {
	p.nextID++
	p.active = &Cluster{
		ID:            p.nextID,
		TargetBitrate: targetBitrate,
		MinProbes:     minProbes,
		MinBytes:      minBytes,
		TimeStartedMs: nowMs,
	}
	return p.active.ID
}

// ActiveCluster returns the currently live cluster, if any.
func (p *Prober) ActiveCluster() (Cluster, bool) {
	if p.active == nil {
		return Cluster{}, false
	}
	return *p.active, true
}

// RecommendedProbeSize returns the number of bytes the pacer should try to
// send for the active cluster this tick, 0 if no cluster is active or the
// active cluster has already met both its minProbes and minBytes targets.
func (p *Prober) RecommendedProbeSize() int {
	if p.active == nil {
		return 0
	}
	if p.active.SentProbes >= p.active.MinProbes && p.active.SentBytes >= p.active.MinBytes {
		p.active = nil
		return 0
	}
	remaining := p.active.MinBytes - p.active.SentBytes
	if remaining <= 0 {
		remaining = defaultProbeChunk
	}
	if remaining > defaultProbeChunk {
		remaining = defaultProbeChunk
	}
	return remaining
}

// OnPacketSent records a send of size bytes against the active cluster,
// completing and clearing it once both thresholds are met.
func (p *Prober) OnPacketSent(size int, nowMs int64) {
	if p.active == nil {
		return
	}
	p.active.SentProbes++
	p.active.SentBytes += size
	if p.active.SentProbes >= p.active.MinProbes && p.active.SentBytes >= p.active.MinBytes {
		p.active = nil
	}
}

// IsProbing reports whether a cluster is currently live.
func (p *Prober) IsProbing() bool { return p.active != nil }
