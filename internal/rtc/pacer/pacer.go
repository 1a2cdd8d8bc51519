// Package pacer implements the token-bucket media/padding scheduler and
// probe scheduler of spec.md §4.6 (C9): it meters outgoing packets to a
// target bitrate while honoring a congestion window, and drives the Prober
// to inject padding bursts that measure available capacity.
package pacer

import "github.com/arzzra/sfu-worker/internal/rtc/ratecalc"

// budgetWindowMs is the reservoir width for both interval budgets; it only
// bounds how much unspent budget can accumulate while the queue is empty,
// not the long-run rate, which is governed by the configured bps.
const budgetWindowMs = 1000

// Packet is one unit the pacer can send: raw bytes plus whether it is audio
// (audio may optionally bypass the media budget, spec.md §4.6).
type Packet struct {
	Data    []byte
	IsAudio bool
}

// Source is the upstream packet router the pacer pulls from. Next yields
// the next packet for a probe cluster (clusterID != 0) or the normal queue
// (clusterID == 0); Padding yields a padding-only RTP packet of
// approximately size bytes, or nil if none is available. Requeue returns a
// packet Next already dequeued back to the front of the source, used when
// the pacer pulls a packet it then finds it cannot afford to send this
// tick (spec.md §4.6's budget check must never silently drop a packet).
type Source interface {
	Next(clusterID int) (Packet, bool)
	Padding(size int) []byte
	Requeue(pkt Packet)
}

// SendFunc is invoked once per packet the pacer actually sends.
type SendFunc func(pkt Packet, probeClusterID, probeClusterMinProbes, probeClusterMinBytes int)

// Pacer implements the C9 scheduling algorithm.
type Pacer struct {
	media   *ratecalc.IntervalBudget
	padding *ratecalc.IntervalBudget
	prober  *Prober
	source  Source

	bypassAudioBudget bool
	congestionWindow  int64 // bytes; < 0 means unlimited
	outstandingBytes  int64

	paused       bool
	started      bool
	lastProcess  int64
}

// New returns a Pacer targeting pacingRateBps for media and paddingRateBps
// for padding, pulling packets from source.
func New(pacingRateBps, paddingRateBps int64, source Source) *Pacer {
	return &Pacer{
		media:            ratecalc.NewIntervalBudget(pacingRateBps, budgetWindowMs),
		padding:          ratecalc.NewIntervalBudget(paddingRateBps, budgetWindowMs),
		prober:           NewProber(),
		source:           source,
		congestionWindow: -1,
	}
}

// SetPacingRate updates the media budget's target bitrate.
func (p *Pacer) SetPacingRate(bps int64) { p.media.SetTargetRate(bps) }

// SetPaddingRate updates the padding budget's target bitrate.
func (p *Pacer) SetPaddingRate(bps int64) { p.padding.SetTargetRate(bps) }

// SetAudioBypassesBudget configures whether audio packets skip the media
// budget check entirely.
func (p *Pacer) SetAudioBypassesBudget(bypass bool) { p.bypassAudioBudget = bypass }

// SetCongestionWindow sets the outstanding-bytes ceiling; a negative value
// disables congestion gating.
func (p *Pacer) SetCongestionWindow(bytes int64) { p.congestionWindow = bytes }

// SetOutstandingBytes updates the bytes currently in flight, as tracked by
// the caller's RTT/ack bookkeeping.
func (p *Pacer) SetOutstandingBytes(bytes int64) { p.outstandingBytes = bytes }

// Pause stops all sending; Resume re-enables it.
func (p *Pacer) Pause()  { p.paused = true }
func (p *Pacer) Resume() { p.paused = false }
func (p *Pacer) Paused() bool { return p.paused }

// StartProbeCluster begins a new probe cluster via the embedded Prober.
func (p *Pacer) StartProbeCluster(targetBitrate int64, minProbes, minBytes int, nowMs int64) int {
	return p.prober.StartCluster(targetBitrate, minProbes, minBytes, nowMs)
}

func (p *Pacer) congested() bool {
	return p.congestionWindow >= 0 && p.outstandingBytes > p.congestionWindow
}

// Process runs one pacer tick per spec.md §4.6's six-step algorithm.
func (p *Pacer) Process(nowMs int64, send SendFunc) {
	if !p.started {
		p.lastProcess = nowMs
		p.started = true
	}
	p.media.Update(nowMs)
	p.padding.Update(nowMs)
	p.lastProcess = nowMs

	if p.paused {
		return
	}
	if p.congested() {
		return
	}

	cluster, probing := p.prober.ActiveCluster()

	for p.media.HasBudget() || p.bypassAudioBudget {
		cid := 0
		if probing {
			cid = cluster.ID
		}
		pkt, ok := p.source.Next(cid)
		if !ok {
			break
		}
		size := len(pkt.Data)
		if !(pkt.IsAudio && p.bypassAudioBudget) {
			if !p.media.HasBudget() {
				p.source.Requeue(pkt)
				break
			}
			p.media.Consume(size)
		}
		p.prober.OnPacketSent(size, nowMs)
		if send != nil {
			minProbes, minBytes := 0, 0
			if probing {
				minProbes, minBytes = cluster.MinProbes, cluster.MinBytes
			}
			send(pkt, cid, minProbes, minBytes)
		}
		cluster, probing = p.prober.ActiveCluster()
	}

	if probing {
		for {
			want := p.prober.RecommendedProbeSize()
			if want <= 0 || !p.padding.HasBudget() {
				break
			}
			data := p.source.Padding(want)
			if data == nil {
				break
			}
			p.padding.Consume(len(data))
			p.prober.OnPacketSent(len(data), nowMs)
			if send != nil {
				send(Packet{Data: data}, cluster.ID, cluster.MinProbes, cluster.MinBytes)
			}
			if !p.prober.IsProbing() {
				break
			}
		}
	}
}

// TimeUntilNextProcess reports a suggested delay in ms before the next
// Process call: 0 before the first Process call or once 5ms have passed
// since the last one, otherwise the rest of that 5ms tick. The budgets
// are not consulted, since the budget model refills continuously rather
// than in discrete chunks.
func (p *Pacer) TimeUntilNextProcess(nowMs int64) int64 {
	const minTickMs = 5
	if !p.started {
		return 0
	}
	elapsed := nowMs - p.lastProcess
	if elapsed >= minTickMs {
		return 0
	}
	return minTickMs - elapsed
}
