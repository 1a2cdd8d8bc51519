// Package recvstream implements the receive-stream sequence tracking,
// jitter accounting and NACK generation of spec.md §4.3/§4.4, grounded on
// the teacher's RFC 3550 Appendix A helpers in pkg/rtp/rtcp.go
// (CalculateJitter, CalculateFractionLost) and its RTCPStatistics fields
// (SeqNumCycles, BadSeqNum, LastSeqNum).
package recvstream

import "github.com/arzzra/sfu-worker/internal/rtc/rtcp"

const (
	// MaxDropout bounds how far ahead of maxSeq a sequence number may jump
	// and still be accepted as in-order (RFC 3550 Appendix A.1).
	MaxDropout = 3000
	// MaxMisorder bounds how far behind maxSeq a sequence number may land
	// and still be accepted as a reorder.
	MaxMisorder = 100
	// jitterShift is the fixed-point smoothing divisor of RFC 3550 §6.4.1.
	jitterShift = 16
)

// Stream holds per-SSRC receive state (spec.md §3 "Receive stream state").
type Stream struct {
	SSRC uint32

	started bool
	baseSeq uint16
	maxSeq  uint16
	cycles  uint32
	badSeq  uint32 // sentinel = MaxDropout+1 when unset

	packetsReceived uint64
	packetsLost     int64 // running estimate, clamped to ±2^23 on report

	maxPacketTs uint32
	maxPacketMs int64

	jitter       float64
	prevTransit  int64
	haveTransit  bool

	lastSrTimestamp  uint32 // middle 32 bits of last received SR NTP
	lastSrReceivedMs int64

	expectedPrior uint64
	receivedPrior uint64

	nack *nackGenerator
}

// New returns a Stream for ssrc with its NACK generator wired up, rtt
// defaulting to 100ms per spec.md §4.4 until updated externally.
func New(ssrc uint32) *Stream {
	return &Stream{SSRC: ssrc, nack: newNackGenerator()}
}

// initSeq seeds state from the first observed sequence number.
func (s *Stream) initSeq(seq uint16) {
	s.baseSeq = seq
	s.maxSeq = seq
	s.cycles = 0
	s.badSeq = MaxDropout + 1
	s.packetsLost = 0
	s.expectedPrior = 0
	s.receivedPrior = 0
}

// ReceivePacket applies RFC 3550 Appendix A.1's sequence-validity state
// machine to an incoming packet's sequence number, and on acceptance
// updates jitter from its RTP timestamp against arrivalRtpTs (arrival time
// expressed in the stream's RTP clock units). Returns whether the packet
// was accepted.
func (s *Stream) ReceivePacket(seq uint16, rtpTimestamp uint32, arrivalRtpTs uint32, nowMs int64) bool {
	if !s.started {
		s.initSeq(seq)
		s.started = true
		s.accept(seq, rtpTimestamp, arrivalRtpTs, nowMs)
		return true
	}

	udelta := seq - s.maxSeq // wraps modulo 2^16 by uint16 arithmetic

	switch {
	case udelta > 0 && udelta < MaxDropout:
		if seq < s.maxSeq {
			s.cycles++
		}
		s.maxSeq = seq
		s.accept(seq, rtpTimestamp, arrivalRtpTs, nowMs)
		return true
	case udelta >= uint16(0xFFFF-MaxMisorder+1):
		// Old packet within the misorder tolerance: accepted but doesn't
		// advance maxSeq.
		s.accept(seq, rtpTimestamp, arrivalRtpTs, nowMs)
		return true
	default:
		if uint32(seq) == s.badSeq {
			s.initSeq(seq)
			s.started = true
			s.accept(seq, rtpTimestamp, arrivalRtpTs, nowMs)
			return true
		}
		s.badSeq = (uint32(seq) + 1) & 0xFFFF
		return false
	}
}

func (s *Stream) accept(seq uint16, rtpTimestamp uint32, arrivalRtpTs uint32, nowMs int64) {
	s.packetsReceived++
	s.maxPacketTs = rtpTimestamp
	s.maxPacketMs = nowMs

	transit := int64(arrivalRtpTs) - int64(rtpTimestamp)
	if s.haveTransit {
		d := transit - s.prevTransit
		if d < 0 {
			d = -d
		}
		s.jitter += (float64(d) - s.jitter) / jitterShift
	}
	s.prevTransit = transit
	s.haveTransit = true

	s.nack.onReceive(seq, nowMs)
}

// extendedMaxSeq returns (cycles<<16)|maxSeq.
func (s *Stream) extendedMaxSeq() uint32 {
	return s.cycles<<16 | uint32(s.maxSeq)
}

// expected returns the total count of sequence numbers that should have
// arrived since baseSeq.
func (s *Stream) expected() uint64 {
	return uint64(s.extendedMaxSeq()) - uint64(s.baseSeq) + 1
}

// ReceiverReport is the packed content of an RFC 3550 reception report
// block for this stream.
type ReceiverReport struct {
	SSRC               uint32
	FractionLost       uint8
	PacketsLost        int32 // clamped to signed 24-bit
	ExtHighestSeq      uint32
	Jitter             uint32
	LSR                uint32
	DLSR               uint32
}

// GetRtcpReceiverReport computes a reception report block from the
// sliding expectedPrior/receivedPrior snapshot (spec.md §4.3).
func (s *Stream) GetRtcpReceiverReport(nowMs int64) ReceiverReport {
	expected := s.expected()
	received := s.packetsReceived

	expectedInterval := expected - s.expectedPrior
	receivedInterval := received - s.receivedPrior
	s.expectedPrior = expected
	s.receivedPrior = received

	lostInterval := int64(expectedInterval) - int64(receivedInterval)

	var fraction uint8
	if expectedInterval != 0 && lostInterval > 0 {
		fraction = uint8((lostInterval << 8) / int64(expectedInterval))
	}

	totalLost := int64(expected) - int64(received)
	const clamp = 1 << 23
	if totalLost > clamp-1 {
		totalLost = clamp - 1
	} else if totalLost < -clamp {
		totalLost = -clamp
	}

	var dlsr uint32
	if s.lastSrReceivedMs != 0 {
		dlsr = uint32((nowMs - s.lastSrReceivedMs) * 65536 / 1000)
	}

	return ReceiverReport{
		SSRC:          s.SSRC,
		FractionLost:  fraction,
		PacketsLost:   int32(totalLost),
		ExtHighestSeq: s.extendedMaxSeq(),
		Jitter:        uint32(s.jitter),
		LSR:           s.lastSrTimestamp,
		DLSR:          dlsr,
	}
}

// ReceiveRtcpSenderReport records the mid-32 bits of the sender's NTP
// timestamp and the local arrival time, used for the next DLSR computation.
func (s *Stream) ReceiveRtcpSenderReport(ntpTimestamp uint64, nowMs int64) {
	s.lastSrTimestamp = uint32(ntpTimestamp >> 16)
	s.lastSrReceivedMs = nowMs
}

// Jitter returns the current fixed-point (Q4.0 truncated) jitter estimate.
func (s *Stream) Jitter() uint32 { return uint32(s.jitter) }

// PacketsReceived returns the total count of accepted packets.
func (s *Stream) PacketsReceived() uint64 { return s.packetsReceived }

// GenerateNacks packs due NACK items from this stream's generator, per
// spec.md §4.4's periodic emission policy.
func (s *Stream) GenerateNacks(nowMs int64, rttMs int64) []rtcp.NackPair {
	return s.nack.Generate(nowMs, rttMs)
}

// TakeKeyframeRequest reports and clears whether the NACK generator has
// escalated to requesting a keyframe (PLI) due to backlog overflow.
func (s *Stream) TakeKeyframeRequest() bool {
	return s.nack.TakeKeyframeRequest()
}

// PendingNacks returns the number of currently tracked missing sequence
// numbers.
func (s *Stream) PendingNacks() int { return s.nack.Pending() }
