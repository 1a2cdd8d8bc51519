package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	// Use a unique subsystem per test so promauto registrations on the
	// default registry never collide across table-driven runs.
	return New(Config{Enabled: true, Namespace: "sfu_test", Subsystem: t.Name()})
}

func TestDisabledCollectorMethodsAreNoOps(t *testing.T) {
	c := New(Config{Enabled: false})
	require.NotPanics(t, func() {
		c.PacketIn("video", 100)
		c.PacketOut("audio", 50)
		c.PacketDropped("duplicate_ssrc")
		c.NackSent()
		c.NackReceived()
		c.RetransmitSent()
		c.PliSent()
		c.FirSent()
		c.SetPacerBudget(1000)
		c.SetPacerPaused(true)
		c.SetAvailableBitrate(500000)
		c.SetStreamScore("12345", 8.5)
		c.ObserveRoundTrip(10 * time.Millisecond)
	})
	snap := c.Snapshot()
	require.Zero(t, snap.TotalPacketsIn)
	require.Zero(t, snap.TotalPacketsOut)
	require.Zero(t, snap.TotalDropped)
}

func TestPacketInIncrementsCounterAndSnapshot(t *testing.T) {
	c := newTestCollector(t)
	c.PacketIn("video", 1200)
	c.PacketIn("audio", 160)

	require.Equal(t, float64(2), testutil.ToFloat64(c.packetsIn.WithLabelValues("video"))+testutil.ToFloat64(c.packetsIn.WithLabelValues("audio")))
	require.Equal(t, float64(1200), testutil.ToFloat64(c.bytesIn.WithLabelValues("video")))
	require.EqualValues(t, 2, c.Snapshot().TotalPacketsIn)
}

func TestPacketOutIncrementsCounterAndSnapshot(t *testing.T) {
	c := newTestCollector(t)
	c.PacketOut("video", 1200)

	require.Equal(t, float64(1), testutil.ToFloat64(c.packetsOut.WithLabelValues("video")))
	require.EqualValues(t, 1, c.Snapshot().TotalPacketsOut)
}

func TestPacketDroppedTracksReasonLabel(t *testing.T) {
	c := newTestCollector(t)
	c.PacketDropped("jitter_buffer_full")
	c.PacketDropped("jitter_buffer_full")
	c.PacketDropped("duplicate_ssrc")

	require.Equal(t, float64(2), testutil.ToFloat64(c.packetsDropped.WithLabelValues("jitter_buffer_full")))
	require.Equal(t, float64(1), testutil.ToFloat64(c.packetsDropped.WithLabelValues("duplicate_ssrc")))
	require.EqualValues(t, 3, c.Snapshot().TotalDropped)
}

func TestFeedbackCounters(t *testing.T) {
	c := newTestCollector(t)
	c.NackSent()
	c.NackSent()
	c.NackReceived()
	c.RetransmitSent()
	c.PliSent()
	c.FirSent()

	require.Equal(t, float64(2), testutil.ToFloat64(c.nacksSent))
	require.Equal(t, float64(1), testutil.ToFloat64(c.nacksReceived))
	require.Equal(t, float64(1), testutil.ToFloat64(c.retransmitsSent))
	require.Equal(t, float64(1), testutil.ToFloat64(c.pliSent))
	require.Equal(t, float64(1), testutil.ToFloat64(c.firSent))
}

func TestGauges(t *testing.T) {
	c := newTestCollector(t)
	c.SetPacerBudget(4096)
	c.SetPacerPaused(true)
	c.SetAvailableBitrate(750000)
	c.SetStreamScore("999", 7)

	require.Equal(t, float64(4096), testutil.ToFloat64(c.pacerQueueBytes))
	require.Equal(t, float64(1), testutil.ToFloat64(c.pacerPaused))
	require.Equal(t, float64(750000), testutil.ToFloat64(c.availableBitrateBps))
	require.Equal(t, float64(7), testutil.ToFloat64(c.streamScore.WithLabelValues("999")))

	c.SetPacerPaused(false)
	require.Equal(t, float64(0), testutil.ToFloat64(c.pacerPaused))
}

func TestObserveRoundTripRecordsHistogram(t *testing.T) {
	c := newTestCollector(t)
	c.ObserveRoundTrip(20 * time.Millisecond)

	require.EqualValues(t, 1, testutil.CollectAndCount(c.rtcpRoundTripSeconds))
}

func TestRTTTrackerResolvesRoundTripFromLSRDLSR(t *testing.T) {
	tr := newRTTTracker()
	sentAt := time.Now().Add(-100 * time.Millisecond)
	tr.recordSR(42, sentAt)

	// Peer held the report for 20ms (DLSR in 1/65536s units) before
	// replying; the remaining ~80ms is the round trip.
	dlsrUnits := uint32((20 * time.Millisecond).Seconds() * 65536)
	rtt, ok := tr.resolve(42, 1, dlsrUnits, time.Now())
	require.True(t, ok)
	require.InDelta(t, 80*time.Millisecond, rtt, float64(15*time.Millisecond))
}

func TestRTTTrackerRejectsUnknownSSRC(t *testing.T) {
	tr := newRTTTracker()
	_, ok := tr.resolve(99, 1, 0, time.Now())
	require.False(t, ok)
}

func TestRTTTrackerRejectsZeroLSR(t *testing.T) {
	tr := newRTTTracker()
	tr.recordSR(1, time.Now())
	_, ok := tr.resolve(1, 0, 0, time.Now())
	require.False(t, ok)
}
