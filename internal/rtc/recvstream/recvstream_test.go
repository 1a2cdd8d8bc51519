package recvstream

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReceivePacketFirstInitializes(t *testing.T) {
	s := New(1)
	require.True(t, s.ReceivePacket(100, 0, 0, 0))
	require.EqualValues(t, 100, s.maxSeq)
	require.EqualValues(t, 100, s.baseSeq)
}

func TestReceivePacketInOrderAdvancesMaxSeq(t *testing.T) {
	s := New(1)
	s.ReceivePacket(100, 0, 0, 0)
	require.True(t, s.ReceivePacket(101, 160, 160, 20))
	require.EqualValues(t, 101, s.maxSeq)
	require.EqualValues(t, 2, s.PacketsReceived())
}

func TestReceivePacketReorderWithinToleranceAccepted(t *testing.T) {
	s := New(1)
	s.ReceivePacket(100, 0, 0, 0)
	s.ReceivePacket(102, 0, 0, 0)
	// 101 arrives late, within MaxMisorder tolerance behind maxSeq=102
	require.True(t, s.ReceivePacket(101, 0, 0, 0))
	require.EqualValues(t, 102, s.maxSeq) // does not regress
}

func TestReceivePacketBigJumpRejectsThenResetsOnRepeat(t *testing.T) {
	s := New(1)
	s.ReceivePacket(100, 0, 0, 0)
	// a jump far beyond MaxDropout is rejected the first time
	require.False(t, s.ReceivePacket(40000, 0, 0, 0))
	// the source continuing the jump matches badSeq (40000+1) and triggers
	// a reset-accept
	require.True(t, s.ReceivePacket(40001, 0, 0, 0))
	require.EqualValues(t, 40001, s.maxSeq)
}

func TestJitterAccumulates(t *testing.T) {
	s := New(1)
	s.ReceivePacket(1, 0, 1000, 0)
	s.ReceivePacket(2, 160, 1160, 20) // perfectly paced: transit delta 0
	require.EqualValues(t, 0, s.Jitter())
	s.ReceivePacket(3, 320, 1500, 40) // transit jumps, jitter should move off zero
	require.Greater(t, s.Jitter(), uint32(0))
}

func TestGetRtcpReceiverReportFractionLost(t *testing.T) {
	s := New(1)
	s.ReceivePacket(1, 0, 0, 0)
	s.ReceivePacket(2, 0, 0, 0)
	// seq 3 missing
	s.ReceivePacket(4, 0, 0, 0)

	rr := s.GetRtcpReceiverReport(100)
	require.EqualValues(t, 1, rr.SSRC)
	require.Greater(t, rr.FractionLost, uint8(0))
	require.EqualValues(t, 4, rr.ExtHighestSeq)
}

func TestReceiveRtcpSenderReportFeedsDLSR(t *testing.T) {
	s := New(1)
	s.ReceivePacket(1, 0, 0, 0)
	s.ReceiveRtcpSenderReport(0x1122334455667788, 1000)
	rr := s.GetRtcpReceiverReport(1500)
	require.EqualValues(t, uint32(0x33445566), rr.LSR)
	require.Greater(t, rr.DLSR, uint32(0))
}

func TestNackGeneratorTracksGapAndGenerates(t *testing.T) {
	s := New(1)
	s.ReceivePacket(1, 0, 0, 0)
	s.ReceivePacket(2, 0, 0, 0)
	s.ReceivePacket(6, 0, 0, 0) // seq 3,4,5 missing
	require.Equal(t, 3, s.PendingNacks())

	pairs := s.GenerateNacks(1000, 0) // rtt<=0 -> DefaultRTTMs
	require.NotEmpty(t, pairs)
	require.EqualValues(t, 3, pairs[0].PID)

	// immediately generating again shouldn't re-emit (rate limited by rtt)
	again := s.GenerateNacks(1000, 0)
	require.Empty(t, again)
}

func TestNackGeneratorRecoversOnReceive(t *testing.T) {
	s := New(1)
	s.ReceivePacket(1, 0, 0, 0)
	s.ReceivePacket(3, 0, 0, 0) // seq 2 missing
	require.Equal(t, 1, s.PendingNacks())
	s.ReceivePacket(2, 0, 0, 0) // late arrival recovers it
	require.Equal(t, 0, s.PendingNacks())
}

func TestNackGeneratorEscalatesToKeyframeOnOverflow(t *testing.T) {
	s := New(1)
	s.ReceivePacket(0, 0, 0, 0)
	s.ReceivePacket(MaxNackPackets+50, 0, 0, 0)
	require.True(t, s.TakeKeyframeRequest())
	require.Equal(t, 0, s.PendingNacks())
	// the flag is consumed, a second read reports false
	require.False(t, s.TakeKeyframeRequest())
}
