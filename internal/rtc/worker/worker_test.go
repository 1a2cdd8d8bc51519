package worker

import (
	"testing"
	"time"

	"github.com/arzzra/sfu-worker/internal/rtc/listener"
	"github.com/arzzra/sfu-worker/internal/rtc/metrics"
	"github.com/arzzra/sfu-worker/internal/rtc/rtcp"
	pionrtp "github.com/pion/rtp"
	"github.com/stretchr/testify/require"
)

func rtpBytes(t *testing.T, ssrc uint32, seq uint16, payload []byte) []byte {
	t.Helper()
	p := pionrtp.Packet{
		Header: pionrtp.Header{
			Version:        2,
			PayloadType:    96,
			SequenceNumber: seq,
			Timestamp:      0x1000,
			SSRC:           ssrc,
		},
		Payload: payload,
	}
	raw, err := p.Marshal()
	require.NoError(t, err)
	return raw
}

func newTestWorker() *Worker {
	return New(Config{Metrics: metrics.New(metrics.Config{Enabled: false})})
}

func TestAddProducerRejectsSSRCCollision(t *testing.T) {
	w := newTestWorker()
	require.NoError(t, w.AddProducer(1, 100, "mid-a", []listener.Encoding{{SSRC: 111}}))
	err := w.AddProducer(1, 200, "mid-b", []listener.Encoding{{SSRC: 111}})
	require.Error(t, err)
}

func TestAddConsumerRejectsUnknownProducer(t *testing.T) {
	w := newTestWorker()
	err := w.AddConsumer(1, 1000, 999, 555, 556, 97, false, 200, "cname")
	require.Error(t, err)
}

func TestHandleRTPRejectsUnknownTransport(t *testing.T) {
	w := newTestWorker()
	err := w.HandleRTP(42, rtpBytes(t, 111, 1, []byte{1, 2}), 0)
	require.Error(t, err)
}

func TestHandleRTPRejectsMalformedPacket(t *testing.T) {
	w := newTestWorker()
	w.AddTransport(1, 1_000_000, 50_000)
	err := w.HandleRTP(1, []byte{0x01, 0x02}, 0)
	require.Error(t, err)
}

func TestHandleRTPForwardsToRegisteredConsumers(t *testing.T) {
	w := newTestWorker()
	w.AddTransport(1, 1_000_000, 50_000)
	require.NoError(t, w.AddProducer(1, 100, "mid-a", []listener.Encoding{{SSRC: 111}}))
	require.NoError(t, w.AddConsumer(1, 1000, 100, 555, 556, 97, false, 200, "cname-1"))
	require.NoError(t, w.AddConsumer(1, 1001, 100, 777, 778, 97, false, 200, "cname-2"))

	require.NoError(t, w.HandleRTP(1, rtpBytes(t, 111, 1, []byte{1, 2, 3, 4}), 0))

	// The pacer's token bucket starts empty and only accrues budget as time
	// elapses between Process calls, so the first Tick only arms it.
	var sent [][]byte
	w.Tick(1, 0, func(data []byte) { sent = append(sent, data) })
	require.Empty(t, sent)

	w.Tick(1, 100, func(data []byte) { sent = append(sent, data) })
	require.Len(t, sent, 2)
}

func TestHandleRTPDropsPacketsFromUnresolvedSSRC(t *testing.T) {
	w := newTestWorker()
	w.AddTransport(1, 1_000_000, 50_000)
	err := w.HandleRTP(1, rtpBytes(t, 999, 1, []byte{1, 2}), 0)
	require.Error(t, err)
}

func TestRemoveProducerDropsItsConsumers(t *testing.T) {
	w := newTestWorker()
	w.AddTransport(1, 1_000_000, 50_000)
	require.NoError(t, w.AddProducer(1, 100, "mid-a", []listener.Encoding{{SSRC: 111}}))
	require.NoError(t, w.AddConsumer(1, 1000, 100, 555, 556, 97, false, 200, "cname"))

	w.RemoveProducer(100)

	require.Empty(t, w.consumers)
	require.Empty(t, w.byProducer[100])

	err := w.AddConsumer(1, 1001, 100, 555, 556, 97, false, 200, "cname")
	require.Error(t, err)
}

func TestPauseResumeConsumerGatesRetransmission(t *testing.T) {
	w := newTestWorker()
	w.AddTransport(1, 1_000_000, 50_000)
	require.NoError(t, w.AddProducer(1, 100, "mid-a", []listener.Encoding{{SSRC: 111}}))
	require.NoError(t, w.AddConsumer(1, 1000, 100, 555, 556, 97, false, 200, "cname"))

	w.PauseConsumer(1000)
	require.True(t, w.consumers[1000].send.Paused())
	w.ResumeConsumer(1000)
	require.False(t, w.consumers[1000].send.Paused())
}

func TestHandleRTCPDispatchesNackToMatchingConsumer(t *testing.T) {
	w := newTestWorker()
	w.AddTransport(1, 1_000_000, 50_000)
	require.NoError(t, w.AddProducer(1, 100, "mid-a", []listener.Encoding{{SSRC: 111}}))
	require.NoError(t, w.AddConsumer(1, 1000, 100, 555, 556, 97, false, 200, "cname"))
	require.NoError(t, w.HandleRTP(1, rtpBytes(t, 111, 1, []byte{1, 2, 3, 4}), 0))

	var sent [][]byte
	w.Tick(1, 0, func(data []byte) { sent = append(sent, data) }) // arms the pacer's budget clock
	require.Empty(t, sent)
	w.Tick(1, 100, func(data []byte) { sent = append(sent, data) })
	require.Len(t, sent, 1) // drains the packet just forwarded above

	nack := &rtcp.Nack{
		FeedbackHeader: rtcp.FeedbackHeader{SenderSSRC: 1, MediaSSRC: 555},
		Pairs:          []rtcp.NackPair{{PID: 1, BLP: 0}},
	}
	require.NoError(t, w.HandleRTCP(1, nack.Marshal(), 110))

	sent = nil
	w.Tick(1, 200, func(data []byte) { sent = append(sent, data) })
	require.NotEmpty(t, sent)
}

func TestHandleRTCPUpdatesReceiverReportTiming(t *testing.T) {
	w := newTestWorker()
	w.AddTransport(1, 1_000_000, 50_000)
	require.NoError(t, w.AddProducer(1, 100, "mid-a", []listener.Encoding{{SSRC: 111}}))
	require.NoError(t, w.HandleRTP(1, rtpBytes(t, 111, 1, []byte{1, 2, 3, 4}), 0))

	sr := &rtcp.SenderReport{SSRC: 111, NTPTime: rtcp.NTPTime(time.Now()), RTPTime: 0x1000}
	require.NoError(t, w.HandleRTCP(1, sr.Marshal(), 0))

	prod := w.producers[100]
	require.NotNil(t, prod.recv[111])
}

func TestHandleRTCPUpdatesConsumerScoreFromReceiverReport(t *testing.T) {
	w := newTestWorker()
	w.AddTransport(1, 1_000_000, 50_000)
	require.NoError(t, w.AddProducer(1, 100, "mid-a", []listener.Encoding{{SSRC: 111}}))
	require.NoError(t, w.AddConsumer(1, 1000, 100, 555, 556, 97, false, 200, "cname"))

	rr := &rtcp.ReceiverReport{
		SSRC:             1,
		ReceptionReports: []rtcp.ReceptionReport{{SSRC: 555, FractionLost: 0, PacketsLost: 0}},
	}
	require.NoError(t, w.HandleRTCP(1, rr.Marshal(), 0))

	require.InDelta(t, 100.0, w.consumers[1000].mon.Score(), 0.01)
}

func TestHandleRTCPDegradesScoreOnLossyReceiverReport(t *testing.T) {
	w := newTestWorker()
	w.AddTransport(1, 1_000_000, 50_000)
	require.NoError(t, w.AddProducer(1, 100, "mid-a", []listener.Encoding{{SSRC: 111}}))
	require.NoError(t, w.AddConsumer(1, 1000, 100, 555, 556, 97, false, 200, "cname"))

	baseline := &rtcp.ReceiverReport{
		SSRC:             1,
		ReceptionReports: []rtcp.ReceptionReport{{SSRC: 555, HighestSeqReceived: 100}},
	}
	require.NoError(t, w.HandleRTCP(1, baseline.Marshal(), 0))
	require.InDelta(t, 100.0, w.consumers[1000].mon.Score(), 0.01, "first RR only seeds the sequence baseline")

	lossy := &rtcp.ReceiverReport{
		SSRC: 1,
		ReceptionReports: []rtcp.ReceptionReport{
			{SSRC: 555, FractionLost: 128, PacketsLost: 50, HighestSeqReceived: 200},
		},
	}
	require.NoError(t, w.HandleRTCP(1, lossy.Marshal(), 1000))
	require.Less(t, w.consumers[1000].mon.Score(), 100.0, "50 lost of 100 expected packets must move the score")
}

func TestHandleRTCPResolvesRTTFromSenderReportRoundTrip(t *testing.T) {
	w := newTestWorker()
	w.AddTransport(1, 1_000_000, 50_000)
	require.NoError(t, w.AddProducer(1, 100, "mid-a", []listener.Encoding{{SSRC: 111}}))
	require.NoError(t, w.AddConsumer(1, 1000, 100, 555, 556, 97, false, 200, "cname"))

	var sent [][]byte
	w.Tick(1, 0, func(data []byte) { sent = append(sent, data) })
	w.Tick(1, 10_000, func(data []byte) { sent = append(sent, data) })
	require.NotEmpty(t, sent, "the compound RTCP tick must have emitted the consumer's SR")

	var sr *rtcp.SenderReport
	for _, datagram := range sent {
		for _, pkt := range rtcp.Parse(datagram) {
			if v, ok := pkt.(*rtcp.SenderReport); ok {
				sr = v
			}
		}
	}
	require.NotNil(t, sr, "expected the consumer's SSRC to appear in a sender report")

	rr := &rtcp.ReceiverReport{
		SSRC: 1,
		ReceptionReports: []rtcp.ReceptionReport{
			{SSRC: 555, LastSR: uint32(sr.NTPTime >> 16), DelaySinceLastSR: 0},
		},
	}
	require.NoError(t, w.HandleRTCP(1, rr.Marshal(), 10_050))

	require.Greater(t, w.transports[1].rttMs, int64(0))
}

func TestTickWithheldsRTCPUntilIntervalElapses(t *testing.T) {
	w := newTestWorker()
	w.AddTransport(1, 1_000_000, 50_000)
	require.NoError(t, w.AddProducer(1, 100, "mid-a", []listener.Encoding{{SSRC: 111}}))
	require.NoError(t, w.AddConsumer(1, 1000, 100, 555, 556, 97, false, 200, "cname"))

	var sent int
	w.Tick(1, 0, func(data []byte) { sent++ })
	require.Zero(t, sent, "RTCP interval has not elapsed on the very first tick")

	sent = 0
	w.Tick(1, 1, func(data []byte) { sent++ })
	require.Zero(t, sent, "RTCP interval should not have elapsed after 1ms")

	sent = 0
	w.Tick(1, 10_000, func(data []byte) { sent++ })
	require.NotZero(t, sent, "RTCP interval should have elapsed after 10s")
}
