package compound

import (
	"testing"

	"github.com/arzzra/sfu-worker/internal/rtc/rtcp"
	"github.com/stretchr/testify/require"
)

func TestRtcpIntervalClampsToVideoBounds(t *testing.T) {
	// Very high send rate drives the raw ratio below the lower bound.
	ms := RtcpIntervalMs(false, 10_000_000, 1.0)
	require.Equal(t, float64(videoLowerMs), ms)

	// Very low send rate drives the raw ratio above the upper bound.
	ms = RtcpIntervalMs(false, 1000, 1.0)
	require.Equal(t, float64(videoUpperMs), ms)
}

func TestRtcpIntervalClampsToAudioUpperBound(t *testing.T) {
	ms := RtcpIntervalMs(true, 1000, 1.0)
	require.Equal(t, float64(audioUpperMs), ms)
}

func TestRtcpIntervalAppliesJitterFactor(t *testing.T) {
	base := RtcpIntervalMs(false, 360000, 1.0)
	jittered := RtcpIntervalMs(false, 360000, 0.5)
	require.InDelta(t, base*0.5, jittered, 0.001)
}

func TestBuildSenderCompoundStartsWithSR(t *testing.T) {
	r := SendStreamReport{
		SSRC:  1234,
		CNAME: "stream-1@host",
		SR:    rtcp.SenderReport{SSRC: 1234, NTPTime: 1, RTPTime: 2, PacketCount: 3, OctetCount: 4},
	}
	data := BuildSenderCompound(r)
	require.NotNil(t, data)

	packets := rtcp.Parse(data)
	require.Len(t, packets, 2)
	require.Equal(t, uint8(rtcp.TypeSR), packets[0].Type())
	require.Equal(t, uint8(rtcp.TypeSDES), packets[1].Type())
}

func TestBuildReceiverCompoundsCapsAt31Reports(t *testing.T) {
	reports := make([]rtcp.ReceptionReport, 70)
	for i := range reports {
		reports[i] = rtcp.ReceptionReport{SSRC: uint32(i + 1)}
	}

	compounds := BuildReceiverCompounds(999, reports)
	require.Len(t, compounds, 3) // 31 + 31 + 8

	for _, c := range compounds {
		packets := rtcp.Parse(c)
		require.Len(t, packets, 1)
		rr, ok := packets[0].(*rtcp.ReceiverReport)
		require.True(t, ok)
		require.LessOrEqual(t, len(rr.ReceptionReports), MaxReportsPerRR)
	}
}

func TestBuildReceiverCompoundsEmitsEmptyRRWhenNoReports(t *testing.T) {
	compounds := BuildReceiverCompounds(999, nil)
	require.Len(t, compounds, 1)

	packets := rtcp.Parse(compounds[0])
	require.Len(t, packets, 1)
	rr, ok := packets[0].(*rtcp.ReceiverReport)
	require.True(t, ok)
	require.Equal(t, uint32(999), rr.SSRC)
	require.Empty(t, rr.ReceptionReports)
}
