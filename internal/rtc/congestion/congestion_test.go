package congestion

import (
	"testing"

	"github.com/arzzra/sfu-worker/internal/rtc/rtcp"
	"github.com/stretchr/testify/require"
)

func feedTCC(e *Estimator, baseSeq uint16, n int, sendIntervalMs int64, recvDeltaMs int64, probation bool, startMs int64) (*rtcp.TCC, int64) {
	nowMs := startMs
	statuses := make([]rtcp.TCCStatus, n)
	deltas := make([]int16, n)
	for i := 0; i < n; i++ {
		e.RecordSent(baseSeq+uint16(i), 1200, probation, nowMs)
		statuses[i] = rtcp.TCCReceivedSmall
		deltas[i] = int16(recvDeltaMs * 4) // 250us units
		nowMs += sendIntervalMs
	}
	return &rtcp.TCC{
		BaseSequenceNumber: baseSeq,
		ReferenceTime:      0,
		Statuses:           statuses,
		Deltas:             deltas,
	}, nowMs
}

func TestAvailableBitrateIncreasesWhenRatioNearOne(t *testing.T) {
	e := New()
	tcc, lastSend := feedTCC(e, 0, 25, 10, 10, false, 1000)
	e.ReceiveRtcpTransportFeedback(tcc, lastSend)

	require.Greater(t, e.AvailableBitrate(), int64(0))
}

func TestAvailableBitrateDecreasesWhenReceiveLagsSend(t *testing.T) {
	e := New()
	// First establish a healthy baseline.
	tcc1, last1 := feedTCC(e, 0, 25, 10, 10, false, 1000)
	e.ReceiveRtcpTransportFeedback(tcc1, last1)
	baseline := e.AvailableBitrate()
	require.Greater(t, baseline, int64(0))

	// Now simulate congestion: receive-side deltas stretch out far more
	// than the send interval, dropping the receive bitrate well below the
	// send bitrate and outside the 0.75-1.25 ratio band.
	tcc2, last2 := feedTCC(e, 100, 25, 10, 40, false, last1+1000)
	e.ReceiveRtcpTransportFeedback(tcc2, last2)

	require.Less(t, e.AvailableBitrate(), baseline)
}

func TestRunBelowThresholdDoesNotRecompute(t *testing.T) {
	e := New()
	tcc, last := feedTCC(e, 0, 5, 10, 10, false, 1000) // below minRealRun=20, no probation
	e.ReceiveRtcpTransportFeedback(tcc, last)
	require.Zero(t, e.AvailableBitrate())
}

func TestProbationRunThresholdIsLower(t *testing.T) {
	e := New()
	tcc, last := feedTCC(e, 0, 3, 60, 60, true, 1000) // probation, >=2 and >=100ms span
	e.ReceiveRtcpTransportFeedback(tcc, last)
	require.Greater(t, e.AvailableBitrate(), int64(0))
}

func TestREMBUsedAsDirectHint(t *testing.T) {
	e := New()
	var notified int64 = -1
	e.SetOnAvailableBitrateChange(func(bps int64) { notified = bps })

	remb := &rtcp.Remb{Bitrate: 500000}
	e.ReceiveREMB(remb, 0)

	require.EqualValues(t, 500000, e.AvailableBitrate())
	require.EqualValues(t, 500000, notified)
}

func TestAvailableBitrateChangeNotificationIsThrottled(t *testing.T) {
	e := New()
	var calls int
	e.SetOnAvailableBitrateChange(func(bps int64) { calls++ })

	e.ReceiveREMB(&rtcp.Remb{Bitrate: 100000}, 0)
	e.ReceiveREMB(&rtcp.Remb{Bitrate: 200000}, 500) // within 2s window, suppressed
	require.Equal(t, 1, calls)

	e.ReceiveREMB(&rtcp.Remb{Bitrate: 300000}, 2500) // past the 2s window
	require.Equal(t, 2, calls)
}
