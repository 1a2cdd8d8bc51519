// Package sendstream implements the send-stream state and bounded
// retransmission buffer of spec.md §4.5: forwarded-packet bookkeeping for
// SR generation plus a fixed-size ring of recently sent packets served back
// out on NACK.
package sendstream

import (
	"github.com/arzzra/sfu-worker/internal/rtc/monitor"
	"github.com/arzzra/sfu-worker/internal/rtc/packet"
	"github.com/arzzra/sfu-worker/internal/rtc/rtcp"
)

// Default retransmission age limits, spec.md §3.
const (
	MaxRetransmissionDelayMsVideo = 1000
	MaxRetransmissionDelayMsAudio = 200
	// rtxTailScratch is the reserved tail capacity per slot that absorbs
	// RTX's 2-byte payload expansion without reallocating (spec.md §5).
	rtxTailScratch = 200
)

// Slot is one retransmission-buffer entry.
type Slot struct {
	seq           uint16
	timestampMs   int64
	buf           []byte // owned copy, with rtxTailScratch reserved capacity
	pkt           *packet.Packet
	rtxEncoded    bool
	resentAtMs    int64
	resends       int
	inUse         bool
}

// Stream is per-SSRC send state plus its retransmission ring buffer.
type Stream struct {
	SSRC   uint32
	IsAudio bool

	slots []Slot // fixed size N, indexed by seq % N

	haveRange bool
	minSeq    uint16
	maxSeq    uint16

	packetCount uint32
	octetCount  uint32
	clockRate   uint32
	baseTs      uint32
	baseTsSetMs int64

	rtxSSRC uint32
	rtxSeq  uint16

	paused bool

	repairedCount uint32
}

// New returns a Stream with a retransmission ring of n slots (n should
// comfortably cover the stream's expected RTT-driven NACK window).
func New(ssrc uint32, n int, isAudio bool) *Stream {
	return &Stream{SSRC: ssrc, IsAudio: isAudio, slots: make([]Slot, n)}
}

func (s *Stream) maxAgeMs() int64 {
	if s.IsAudio {
		return MaxRetransmissionDelayMsAudio
	}
	return MaxRetransmissionDelayMsVideo
}

// Pause stops ReceiveNack from serving retransmissions while keeping the
// buffer intact. Resume re-enables it.
func (s *Stream) Pause()  { s.paused = true }
func (s *Stream) Resume() { s.paused = false }
func (s *Stream) Paused() bool { return s.paused }

// Insert records a forwarded packet into the retransmission buffer, per
// spec.md §4.5. p's bytes are copied into an owned buffer with reserved
// RTX tail scratch; p itself is not retained.
func (s *Stream) Insert(p *packet.Packet, nowMs int64) {
	n := len(s.slots)
	seq := p.SequenceNumber()

	s.evictStale(nowMs)

	idx := int(seq) % n
	buf := make([]byte, p.Size(), p.Size()+rtxTailScratch)
	copy(buf, p.Buffer()[:p.Size()])
	s.slots[idx] = Slot{
		seq: seq, timestampMs: nowMs, buf: buf, pkt: packet.Parse(buf), inUse: true,
	}

	if !s.haveRange {
		s.minSeq, s.maxSeq = seq, seq
		s.haveRange = true
	} else if delta := int16(seq - s.maxSeq); delta > 0 {
		// seq is newer than the current window's high end; slide it forward.
		s.maxSeq = seq
		if int(s.maxSeq-s.minSeq) >= n {
			s.minSeq = s.maxSeq - uint16(n) + 1
		}
	}

	s.packetCount++
	s.octetCount += uint32(len(p.Payload()))
}

// evictStale drops slots whose age would exceed the retransmission age
// limit once seq becomes the new maxSeq, keeping ring occupancy honest
// ahead of reuse.
func (s *Stream) evictStale(nowMs int64) {
	maxAge := s.maxAgeMs()
	for i := range s.slots {
		sl := &s.slots[i]
		if sl.inUse && nowMs-sl.timestampMs > maxAge {
			*sl = Slot{}
		}
	}
}

// lookup returns the slot for seq if present, not stale, and matching.
func (s *Stream) lookup(seq uint16, nowMs int64) (*Slot, bool) {
	n := len(s.slots)
	idx := int(seq) % n
	sl := &s.slots[idx]
	if !sl.inUse || sl.seq != seq {
		return nil, false
	}
	if nowMs-sl.timestampMs > s.maxAgeMs() {
		*sl = Slot{}
		return nil, false
	}
	return sl, true
}

// ReceiveNack serves retransmissions for the sequence numbers a NACK
// describes. emit is called with the RTX-encoded wire bytes for each slot
// actually resent. rtxPT/rtxSSRC parameterize RFC 4588 encoding; rtt
// rate-limits repeat resends of the same slot.
func (s *Stream) ReceiveNack(pairs []rtcp.NackPair, nowMs int64, rtt int64, rtxPT uint8, emit func([]byte)) {
	if s.paused {
		return
	}
	if rtt <= 0 {
		rtt = 100
	}
	for _, seq := range rtcp.ExpandNackPairs(pairs) {
		sl, ok := s.lookup(seq, nowMs)
		if !ok {
			continue
		}
		if nowMs-sl.resentAtMs < rtt {
			continue
		}
		if !sl.rtxEncoded {
			if !sl.pkt.EncodeRTX(rtxPT, s.rtxSSRC, s.nextRtxSeq()) {
				continue
			}
			sl.rtxEncoded = true
		}
		sl.resentAtMs = nowMs
		sl.resends++
		if sl.resends <= monitor.MaxRepairedPacketRetransmission {
			s.repairedCount++
		}
		emit(append([]byte(nil), sl.pkt.Serialize()...))
	}
}

// DrainRepaired returns the count of retransmissions served via ReceiveNack
// since the last call, counting at most
// monitor.MaxRepairedPacketRetransmission for any one packet, and resets it, for per-RR-interval repaired-loss accounting
// (spec.md §4.9's monitor score credits repaired packets).
func (s *Stream) DrainRepaired() int64 {
	n := int64(s.repairedCount)
	s.repairedCount = 0
	return n
}

func (s *Stream) nextRtxSeq() uint16 {
	seq := s.rtxSeq
	s.rtxSeq++
	return seq
}

// SetRtxSSRC configures the SSRC used for RTX-encoded retransmissions.
func (s *Stream) SetRtxSSRC(ssrc uint32) { s.rtxSSRC = ssrc }

// PacketCount and OctetCount report the running totals used for SR
// generation.
func (s *Stream) PacketCount() uint32 { return s.packetCount }
func (s *Stream) OctetCount() uint32  { return s.octetCount }

// SetClock records the RTP clock rate and a (timestamp, wallclockMs)
// anchor used to interpolate the RTP timestamp carried in sender reports.
func (s *Stream) SetClock(clockRate uint32, baseTs uint32, nowMs int64) {
	s.clockRate = clockRate
	s.baseTs = baseTs
	s.baseTsSetMs = nowMs
}

// GetRtcpSenderReport packs {ssrc, ntp, rtpTs, packetCount, octetCount} at
// nowMs (spec.md §4.5), interpolating the RTP timestamp from the clock
// anchor set via SetClock.
func (s *Stream) GetRtcpSenderReport(ntp uint64, nowMs int64) rtcp.SenderReport {
	rtpTs := s.baseTs
	if s.clockRate > 0 {
		elapsedMs := nowMs - s.baseTsSetMs
		rtpTs = s.baseTs + uint32(elapsedMs*int64(s.clockRate)/1000)
	}
	return rtcp.SenderReport{
		SSRC:        s.SSRC,
		NTPTime:     ntp,
		RTPTime:     rtpTs,
		PacketCount: s.packetCount,
		OctetCount:  s.octetCount,
	}
}
