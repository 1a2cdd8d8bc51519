// Package worker ties the core components (C1-C11) together into the
// single-threaded event loop of spec.md §5: RTP ingress is demultiplexed
// by the listener, tracked by a receive stream, forwarded through each
// consumer's send stream and pacer, and RTCP ingress updates congestion
// control, the stream monitor, and SR/RR timing state. Nothing here
// suspends; the caller's own event loop supplies ticks and socket data.
package worker

import (
	"math/rand"
	"time"

	"github.com/arzzra/sfu-worker/internal/rtc/compound"
	"github.com/arzzra/sfu-worker/internal/rtc/congestion"
	"github.com/arzzra/sfu-worker/internal/rtc/errs"
	"github.com/arzzra/sfu-worker/internal/rtc/listener"
	"github.com/arzzra/sfu-worker/internal/rtc/logging"
	"github.com/arzzra/sfu-worker/internal/rtc/metrics"
	"github.com/arzzra/sfu-worker/internal/rtc/monitor"
	"github.com/arzzra/sfu-worker/internal/rtc/pacer"
	"github.com/arzzra/sfu-worker/internal/rtc/packet"
	"github.com/arzzra/sfu-worker/internal/rtc/ratecalc"
	"github.com/arzzra/sfu-worker/internal/rtc/recvstream"
	"github.com/arzzra/sfu-worker/internal/rtc/rtcp"
	"github.com/arzzra/sfu-worker/internal/rtc/sendstream"
)

var log = logging.Component("worker")

// ExtensionIDs names the header-extension ids the listener resolves MID
// and RID from, supplied externally per spec.md §3 ("Known extensions are
// identified by URI → id mapping supplied externally").
type ExtensionIDs struct {
	MID uint8
	RID uint8
}

// ProducerID and ConsumerID are the opaque handles spec.md §5 requires for
// cross-component references ("resolved by handle, never by direct
// pointer chase").
type ProducerID uint64
type ConsumerID uint64
type TransportID uint64

// Producer is one ingress source: its receive-stream state plus the
// listener encodings that route packets to it.
type Producer struct {
	ID        ProducerID
	Transport TransportID
	Mid       string
	Encodings []listener.Encoding

	recv map[uint32]*recvstream.Stream // keyed by encoding SSRC (not RTX SSRC)
}

// Consumer is one egress sink fed from a single producer: its send-stream
// retransmission buffer, quality monitor, and RTX parameters.
type Consumer struct {
	ID        ConsumerID
	Transport TransportID
	Producer  ProducerID
	SSRC      uint32
	RtxSSRC   uint32
	RtxPT     uint8
	send      *sendstream.Stream
	mon       *monitor.Monitor
	cname     string

	lastHighestSeq     uint32
	haveLastHighestSeq bool
}

// transportState is the per-transport egress/feedback machinery: a pacer
// draining a FIFO of encoded packets, a congestion estimator fed from
// RTCP, and the compound-RTCP scheduling clock.
type transportState struct {
	pacer      *pacer.Pacer
	congestion *congestion.Estimator
	queue      *egressQueue
	sendRate   *ratecalc.RateCalculator
	lastRtcpMs int64
	nextSeq    uint16 // wide sequence number counter for TCC bookkeeping

	// rttMs is the most recent round trip resolved from a consumer's SR/RR
	// exchange (RFC 3550 §6.4.1), shared across the transport's NACK
	// rate-limiting call sites. 0 until the first RR arrives.
	rttMs int64
}

// defaultRttMs is the fallback used for NACK rate-limiting before any real
// round trip has been resolved for a transport, per spec.md §4.4's "if
// unknown, default to 100 ms".
const defaultRttMs = 100

func (ts *transportState) rtt() int64 {
	if ts.rttMs > 0 {
		return ts.rttMs
	}
	return defaultRttMs
}

// Worker is one single-threaded event-loop instance owning an independent
// set of transports, producers, and consumers (spec.md §5: "Multiple
// workers may run in the same process, each owning an independent set of
// transports").
type Worker struct {
	extIDs ExtensionIDs

	listener *listener.Listener

	producers  map[ProducerID]*Producer
	consumers  map[ConsumerID]*Consumer
	byProducer map[ProducerID][]ConsumerID

	transports map[TransportID]*transportState

	metrics *metrics.Collector
}

// Config configures a new Worker.
type Config struct {
	ExtensionIDs ExtensionIDs
	Metrics      *metrics.Collector // nil uses a disabled no-op collector
}

// New returns an empty Worker ready to register transports, producers, and
// consumers.
func New(cfg Config) *Worker {
	m := cfg.Metrics
	if m == nil {
		m = metrics.New(metrics.Config{Enabled: false})
	}
	return &Worker{
		extIDs:     cfg.ExtensionIDs,
		listener:   listener.New(),
		producers:  make(map[ProducerID]*Producer),
		consumers:  make(map[ConsumerID]*Consumer),
		byProducer: make(map[ProducerID][]ConsumerID),
		transports: make(map[TransportID]*transportState),
		metrics:    m,
	}
}

// AddTransport registers a transport's pacer and congestion estimator.
// pacingRateBps/paddingRateBps seed the pacer's two interval budgets
// (spec.md §4.6).
func (w *Worker) AddTransport(id TransportID, pacingRateBps, paddingRateBps int64) *transportState {
	q := newEgressQueue()
	ts := &transportState{
		pacer:      pacer.New(pacingRateBps, paddingRateBps, q),
		congestion: congestion.New(),
		queue:      q,
		sendRate:   ratecalc.NewRateCalculator(),
	}
	w.transports[id] = ts
	return ts
}

// SetAvailableBitrateListener installs a callback invoked whenever a
// transport's congestion-controlled available bitrate changes, also
// mirroring it into the metrics collector.
func (w *Worker) SetAvailableBitrateListener(id TransportID, cb func(bps int64)) {
	ts, ok := w.transports[id]
	if !ok {
		return
	}
	ts.congestion.SetOnAvailableBitrateChange(func(bps int64) {
		w.metrics.SetAvailableBitrate(bps)
		if cb != nil {
			cb(bps)
		}
	})
}

// AddProducer registers an ingress source and its listener encodings.
// Rolls back (returns an Invariant error) on any SSRC collision, per
// spec.md §4.8.
func (w *Worker) AddProducer(transportID TransportID, id ProducerID, mid string, encodings []listener.Encoding) error {
	if !w.listener.AddProducer(id, mid, encodings) {
		log.Printf("add_producer refused: ssrc collision for producer %d", id)
		return errs.Invariant("worker.add_producer", errProducerCollision)
	}
	p := &Producer{
		ID:        id,
		Transport: transportID,
		Mid:       mid,
		Encodings: encodings,
		recv:      make(map[uint32]*recvstream.Stream),
	}
	for _, e := range encodings {
		p.recv[e.SSRC] = recvstream.New(e.SSRC)
	}
	w.producers[id] = p
	return nil
}

// RemoveProducer unregisters a producer and every consumer fed from it.
func (w *Worker) RemoveProducer(id ProducerID) {
	w.listener.RemoveProducer(id)
	for _, cid := range w.byProducer[id] {
		delete(w.consumers, cid)
	}
	delete(w.byProducer, id)
	delete(w.producers, id)
}

// AddConsumer registers an egress sink fed from producerID, with a
// retransmission ring of ringSize slots (spec.md §4.5).
func (w *Worker) AddConsumer(transportID TransportID, id ConsumerID, producerID ProducerID, ssrc, rtxSSRC uint32, rtxPT uint8, isAudio bool, ringSize int, cname string) error {
	if _, ok := w.producers[producerID]; !ok {
		return errs.Invariant("worker.add_consumer", errUnknownProducer)
	}
	s := sendstream.New(ssrc, ringSize, isAudio)
	s.SetRtxSSRC(rtxSSRC)
	c := &Consumer{
		ID: id, Transport: transportID, Producer: producerID,
		SSRC: ssrc, RtxSSRC: rtxSSRC, RtxPT: rtxPT,
		send: s, mon: monitor.New(), cname: cname,
	}
	w.consumers[id] = c
	w.byProducer[producerID] = append(w.byProducer[producerID], id)
	return nil
}

// RemoveConsumer unregisters a single egress sink.
func (w *Worker) RemoveConsumer(id ConsumerID) {
	c, ok := w.consumers[id]
	if !ok {
		return
	}
	ids := w.byProducer[c.Producer]
	for i, cid := range ids {
		if cid == id {
			w.byProducer[c.Producer] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	delete(w.consumers, id)
}

// PauseConsumer / ResumeConsumer gate retransmission serving without
// discarding the buffer (spec.md §4.5).
func (w *Worker) PauseConsumer(id ConsumerID) {
	if c, ok := w.consumers[id]; ok {
		c.send.Pause()
	}
}
func (w *Worker) ResumeConsumer(id ConsumerID) {
	if c, ok := w.consumers[id]; ok {
		c.send.Resume()
	}
}

// HandleRTP ingests one RTP datagram on transportID: parses it, resolves
// its producer via the listener (SSRC, then MID, then RID extension),
// tracks receive-stream state, and forwards a clone to every consumer fed
// from that producer by enqueuing it on that consumer's transport's pacer.
func (w *Worker) HandleRTP(transportID TransportID, buf []byte, nowMs int64) error {
	_, ok := w.transports[transportID]
	if !ok {
		return errs.Invariant("worker.handle_rtp", errUnknownTransport)
	}

	p := packet.Parse(buf)
	if p == nil {
		w.metrics.PacketDropped("parse_error")
		log.Printf("dropped malformed RTP packet on transport %d", transportID)
		return errs.Parse("worker.handle_rtp", errMalformedPacket)
	}

	mid, rid := w.extractMidRid(p)
	producerHandle, ok := w.listener.GetProducer(p.SSRC(), mid, rid)
	if !ok {
		w.metrics.PacketDropped("unresolved_ssrc")
		return errs.Invariant("worker.handle_rtp", errUnresolvedSSRC)
	}
	producerID := producerHandle.(ProducerID)
	prod, ok := w.producers[producerID]
	if !ok {
		return errs.Invariant("worker.handle_rtp", errUnknownProducer)
	}

	recv, ok := prod.recv[p.SSRC()]
	if !ok {
		recv = recvstream.New(p.SSRC())
		prod.recv[p.SSRC()] = recv
	}

	arrival := arrivalRtpTimestamp(p, nowMs)
	accepted := recv.ReceivePacket(p.SequenceNumber(), p.Timestamp(), arrival, nowMs)
	w.metrics.PacketIn("rtp", p.Size())
	if !accepted {
		w.metrics.PacketDropped("bad_sequence_number")
		return nil
	}

	// p is shared across every consumer fed from this producer (spec.md §5);
	// each consumer's retransmission buffer keeps its own copy via Insert,
	// so p itself is never mutated here.
	wireCopy := append([]byte(nil), p.Serialize()...)
	for _, cid := range w.byProducer[producerID] {
		c, ok := w.consumers[cid]
		if !ok {
			continue
		}
		c.send.Insert(p, nowMs)
		if cts := w.transports[c.Transport]; cts != nil {
			cts.queue.Enqueue(pacer.Packet{Data: append([]byte(nil), wireCopy...), IsAudio: c.send.IsAudio})
		}
	}
	return nil
}

// HandleRTCP ingests one compound RTCP datagram on transportID, updating
// receive/send stream timing, the congestion estimator, and stream
// monitors.
func (w *Worker) HandleRTCP(transportID TransportID, buf []byte, nowMs int64) error {
	ts, ok := w.transports[transportID]
	if !ok {
		return errs.Invariant("worker.handle_rtcp", errUnknownTransport)
	}
	w.metrics.PacketIn("rtcp", len(buf))

	for _, pkt := range rtcp.Parse(buf) {
		switch v := pkt.(type) {
		case *rtcp.SenderReport:
			w.applySenderReport(v, nowMs)
		case *rtcp.ReceiverReport:
			w.applyReceiverReports(v.ReceptionReports, nowMs)
		case *rtcp.Nack:
			w.applyNack(v, nowMs)
		case *rtcp.Remb:
			ts.congestion.ReceiveREMB(v, nowMs)
		case *rtcp.TCC:
			ts.congestion.ReceiveRtcpTransportFeedback(v, nowMs)
		}
	}
	return nil
}

func (w *Worker) applySenderReport(sr *rtcp.SenderReport, nowMs int64) {
	for _, prod := range w.producers {
		if recv, ok := prod.recv[sr.SSRC]; ok {
			recv.ReceiveRtcpSenderReport(sr.NTPTime, nowMs)
		}
	}
}

func (w *Worker) applyReceiverReports(reports []rtcp.ReceptionReport, nowMs int64) {
	now := time.UnixMilli(nowMs)
	for _, rr := range reports {
		for _, c := range w.consumers {
			if c.SSRC != rr.SSRC {
				continue
			}

			var total int
			if c.haveLastHighestSeq {
				total = int(rr.HighestSeqReceived - c.lastHighestSeq)
			}
			c.lastHighestSeq = rr.HighestSeqReceived
			c.haveLastHighestSeq = true

			repaired := int(c.send.DrainRepaired())
			c.mon.Update(int64(rr.PacketsLost), 0, repaired, total)
			w.metrics.SetStreamScore(ssrcLabel(rr.SSRC), c.mon.Score())

			if d, ok := w.metrics.RecognizeRTT(c.SSRC, rr.LastSR, rr.DelaySinceLastSR, now); ok {
				if ts := w.transports[c.Transport]; ts != nil {
					ts.rttMs = d.Milliseconds()
				}
			}
		}
	}
}

func (w *Worker) applyNack(n *rtcp.Nack, nowMs int64) {
	for _, c := range w.consumers {
		if c.SSRC != n.MediaSSRC {
			continue
		}
		rtt := int64(defaultRttMs)
		if ts := w.transports[c.Transport]; ts != nil {
			rtt = ts.rtt()
		}
		w.metrics.NackReceived()
		c.send.ReceiveNack(n.Pairs, nowMs, rtt, c.RtxPT, func(encoded []byte) {
			w.metrics.RetransmitSent()
			ts := w.transports[c.Transport]
			if ts != nil {
				ts.queue.Enqueue(pacer.Packet{Data: encoded, IsAudio: c.send.IsAudio})
			}
		})
	}
}

// Tick drives the per-transport pacer and, once its interval elapses,
// assembles and flushes outgoing compound RTCP for every producer/consumer
// on that transport (spec.md §4.6, §4.10). send receives each outgoing
// wire-format datagram (RTP from the pacer, RTCP compounds) for the
// caller's secure channel to encrypt and transmit.
func (w *Worker) Tick(transportID TransportID, nowMs int64, send func(data []byte)) {
	ts, ok := w.transports[transportID]
	if !ok {
		return
	}

	ts.pacer.Process(nowMs, func(pkt pacer.Packet, probeClusterID, probeMinProbes, probeMinBytes int) {
		w.metrics.PacketOut(kindOf(pkt.IsAudio), len(pkt.Data))
		ts.sendRate.Update(len(pkt.Data), nowMs)
		ts.congestion.RecordSent(ts.nextSeq, len(pkt.Data), probeClusterID != 0, nowMs)
		ts.nextSeq++
		send(pkt.Data)
	})
	w.metrics.SetAvailableBitrate(ts.congestion.AvailableBitrate())

	isAudio := w.transportIsAudioOnly(transportID)
	jitter := rtcpIntervalJitterMin + rand.Float64()*(rtcpIntervalJitterMax-rtcpIntervalJitterMin)
	interval := compound.RtcpIntervalMs(isAudio, float64(ts.sendRate.Rate(nowMs))*8, jitter)
	if float64(nowMs-ts.lastRtcpMs) < interval {
		return
	}
	ts.lastRtcpMs = nowMs
	w.emitRtcp(transportID, nowMs, send)
}

// rtcpIntervalJitterMin/Max bound the ×0.5-1.5 jitter factor spec.md §4.10
// applies to the derived RTCP interval, avoiding feedback synchronization
// across transports.
const (
	rtcpIntervalJitterMin = 0.5
	rtcpIntervalJitterMax = 1.5
)

// transportIsAudioOnly reports whether every consumer currently registered
// on transportID is audio, used to pick the RTCP interval's media-kind
// bounds (spec.md §4.10 gives audio and video separate floor/ceiling pairs).
// Mixed-media transports are treated as video, whose 1000ms ceiling keeps
// RTCP more frequent than audio's 5000ms one.
func (w *Worker) transportIsAudioOnly(transportID TransportID) bool {
	found := false
	for _, c := range w.consumers {
		if c.Transport != transportID {
			continue
		}
		found = true
		if !c.send.IsAudio {
			return false
		}
	}
	return found
}

func (w *Worker) emitRtcp(transportID TransportID, nowMs int64, send func(data []byte)) {
	now := time.UnixMilli(nowMs)
	ntp := rtcp.NTPTime(now)
	ts := w.transports[transportID]

	for _, c := range w.consumers {
		if c.Transport != transportID {
			continue
		}
		sr := c.send.GetRtcpSenderReport(ntp, nowMs)
		out := compound.BuildSenderCompound(compound.SendStreamReport{SSRC: c.SSRC, CNAME: c.cname, SR: sr})
		if out != nil {
			w.metrics.RecordSRSent(c.SSRC, now)
			send(out)
			w.metrics.PacketOut("rtcp", len(out))
		}
	}

	rtt := int64(defaultRttMs)
	if ts != nil {
		rtt = ts.rtt()
	}
	for _, prod := range w.producers {
		if prod.Transport != transportID {
			continue
		}
		var reports []rtcp.ReceptionReport
		for ssrc, recv := range prod.recv {
			rr := recv.GetRtcpReceiverReport(nowMs)
			reports = append(reports, rtcp.ReceptionReport{
				SSRC: ssrc, FractionLost: rr.FractionLost, PacketsLost: rr.PacketsLost,
				HighestSeqReceived: rr.ExtHighestSeq, Jitter: rr.Jitter, LastSR: rr.LSR, DelaySinceLastSR: rr.DLSR,
			})
			if n := recv.GenerateNacks(nowMs, rtt); len(n) > 0 {
				nackPkt := &rtcp.Nack{FeedbackHeader: rtcp.FeedbackHeader{SenderSSRC: ssrc, MediaSSRC: ssrc}, Pairs: n}
				send(nackPkt.Marshal())
				w.metrics.NackSent()
			}
		}
		for _, out := range compound.BuildReceiverCompounds(uint32(prod.ID), reports) {
			send(out)
			w.metrics.PacketOut("rtcp", len(out))
		}
	}
}

func kindOf(isAudio bool) string {
	if isAudio {
		return "audio"
	}
	return "video"
}

func ssrcLabel(ssrc uint32) string {
	const hex = "0123456789abcdef"
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = hex[ssrc&0xF]
		ssrc >>= 4
	}
	return string(b)
}

func (w *Worker) extractMidRid(p *packet.Packet) (mid, rid string) {
	if w.extIDs.MID != 0 {
		if v, ok := p.GetExtension(w.extIDs.MID); ok {
			mid = string(v)
		}
	}
	if w.extIDs.RID != 0 {
		if v, ok := p.GetExtension(w.extIDs.RID); ok {
			rid = string(v)
		}
	}
	return mid, rid
}

// arrivalRtpTimestamp converts a local wall-clock arrival into the
// stream's RTP clock units for jitter computation, mirroring spec.md's
// RTP-timestamp-domain jitter formula operating purely on RTP units. Every
// stream uses a fixed 90kHz (video) clock; the stream's negotiated clock
// rate is not consulted.
func arrivalRtpTimestamp(p *packet.Packet, nowMs int64) uint32 {
	const clockRate = 90000
	return uint32(nowMs * clockRate / 1000)
}
