// Package metrics exports Prometheus counters/gauges/histograms for the
// worker core's components, the way the teacher's dialog package exports
// SIP metrics: one collector, grouped by component, all no-ops when
// disabled so callers never branch on a nil pointer.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config controls metric registration.
type Config struct {
	// Enabled turns metric collection on. When false, Collector methods
	// are cheap no-ops and nothing is registered with Prometheus.
	Enabled bool

	Namespace string
	Subsystem string
}

// DefaultConfig returns the worker's usual namespace/subsystem.
func DefaultConfig() Config {
	return Config{Enabled: true, Namespace: "sfu", Subsystem: "worker"}
}

// Collector is the worker core's metrics sink: packet/byte counters per
// direction, NACK and retransmission counts, pacer budget state,
// congestion-control bitrate estimates, and per-stream quality scores.
type Collector struct {
	enabled bool

	packetsIn       *prometheus.CounterVec // labels: kind (audio|video|rtcp)
	packetsOut      *prometheus.CounterVec
	bytesIn         *prometheus.CounterVec
	bytesOut        *prometheus.CounterVec
	packetsDropped  *prometheus.CounterVec // labels: reason
	nacksSent       prometheus.Counter
	nacksReceived   prometheus.Counter
	retransmitsSent prometheus.Counter
	pliSent         prometheus.Counter
	firSent         prometheus.Counter

	pacerQueueBytes      prometheus.Gauge
	pacerPaused          prometheus.Gauge
	availableBitrateBps  prometheus.Gauge
	streamScore          *prometheus.GaugeVec // labels: ssrc
	rtcpRoundTripSeconds prometheus.Histogram

	// Fast-path atomics mirroring the Prometheus counters, read back via
	// Snapshot without touching the Prometheus registry on the hot path.
	totalPacketsIn  int64
	totalPacketsOut int64
	totalDropped    int64

	rtt *rttTracker
}

// New builds and registers a Collector's metrics. A disabled Config
// returns a Collector whose methods do nothing.
func New(cfg Config) *Collector {
	if !cfg.Enabled {
		return &Collector{enabled: false, rtt: newRTTTracker()}
	}

	c := &Collector{enabled: true, rtt: newRTTTracker()}
	ns, sub := cfg.Namespace, cfg.Subsystem

	c.packetsIn = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub, Name: "packets_in_total",
		Help: "Packets received from transports, by kind.",
	}, []string{"kind"})
	c.packetsOut = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub, Name: "packets_out_total",
		Help: "Packets sent to transports, by kind.",
	}, []string{"kind"})
	c.bytesIn = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub, Name: "bytes_in_total",
		Help: "Bytes received from transports, by kind.",
	}, []string{"kind"})
	c.bytesOut = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub, Name: "bytes_out_total",
		Help: "Bytes sent to transports, by kind.",
	}, []string{"kind"})
	c.packetsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub, Name: "packets_dropped_total",
		Help: "Packets dropped before forwarding, by reason.",
	}, []string{"reason"})

	c.nacksSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub, Name: "nacks_sent_total",
		Help: "NACK feedback packets sent to producers.",
	})
	c.nacksReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub, Name: "nacks_received_total",
		Help: "NACK feedback packets received from consumers.",
	})
	c.retransmitsSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub, Name: "retransmits_sent_total",
		Help: "RTX packets served from the retransmission buffer.",
	})
	c.pliSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub, Name: "pli_sent_total",
		Help: "Picture loss indications sent to producers.",
	})
	c.firSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub, Name: "fir_sent_total",
		Help: "Full intra requests sent to producers.",
	})

	c.pacerQueueBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: ns, Subsystem: sub, Name: "pacer_budget_bytes",
		Help: "Remaining media send budget in the pacer's current interval.",
	})
	c.pacerPaused = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: ns, Subsystem: sub, Name: "pacer_paused",
		Help: "1 if the pacer is paused, 0 otherwise.",
	})
	c.availableBitrateBps = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: ns, Subsystem: sub, Name: "available_bitrate_bps",
		Help: "Current congestion-control available bitrate estimate.",
	})
	c.streamScore = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: ns, Subsystem: sub, Name: "stream_score",
		Help: "Quality score (0-100) of a monitored RTP stream.",
	}, []string{"ssrc"})
	c.rtcpRoundTripSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: ns, Subsystem: sub, Name: "rtcp_round_trip_seconds",
		Help:    "Round trip time computed from SR/RR last-SR/delay fields.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
	})

	return c
}

// PacketIn records one received packet of the given kind ("audio",
// "video", "rtcp").
func (c *Collector) PacketIn(kind string, bytes int) {
	if !c.enabled {
		return
	}
	c.packetsIn.WithLabelValues(kind).Inc()
	c.bytesIn.WithLabelValues(kind).Add(float64(bytes))
	atomic.AddInt64(&c.totalPacketsIn, 1)
}

// PacketOut records one sent packet of the given kind.
func (c *Collector) PacketOut(kind string, bytes int) {
	if !c.enabled {
		return
	}
	c.packetsOut.WithLabelValues(kind).Inc()
	c.bytesOut.WithLabelValues(kind).Add(float64(bytes))
	atomic.AddInt64(&c.totalPacketsOut, 1)
}

// PacketDropped records one packet dropped for the given reason (e.g.
// "sctpsendbufferfull", "duplicate_ssrc", "jitter_buffer_full").
func (c *Collector) PacketDropped(reason string) {
	if !c.enabled {
		return
	}
	c.packetsDropped.WithLabelValues(reason).Inc()
	atomic.AddInt64(&c.totalDropped, 1)
}

// NackSent records one NACK feedback packet sent upstream.
func (c *Collector) NackSent() {
	if c.enabled {
		c.nacksSent.Inc()
	}
}

// NackReceived records one NACK feedback packet received from a consumer.
func (c *Collector) NackReceived() {
	if c.enabled {
		c.nacksReceived.Inc()
	}
}

// RetransmitSent records one packet served from the RTX buffer.
func (c *Collector) RetransmitSent() {
	if c.enabled {
		c.retransmitsSent.Inc()
	}
}

// PliSent records one picture loss indication sent upstream.
func (c *Collector) PliSent() {
	if c.enabled {
		c.pliSent.Inc()
	}
}

// FirSent records one full intra request sent upstream.
func (c *Collector) FirSent() {
	if c.enabled {
		c.firSent.Inc()
	}
}

// SetPacerBudget reports the pacer's remaining send budget for the
// current interval.
func (c *Collector) SetPacerBudget(bytes int64) {
	if c.enabled {
		c.pacerQueueBytes.Set(float64(bytes))
	}
}

// SetPacerPaused reports whether the pacer is currently paused.
func (c *Collector) SetPacerPaused(paused bool) {
	if !c.enabled {
		return
	}
	if paused {
		c.pacerPaused.Set(1)
	} else {
		c.pacerPaused.Set(0)
	}
}

// SetAvailableBitrate reports the congestion controller's current
// available-bitrate estimate.
func (c *Collector) SetAvailableBitrate(bps int64) {
	if c.enabled {
		c.availableBitrateBps.Set(float64(bps))
	}
}

// SetStreamScore reports a monitored stream's quality score, keyed by its
// SSRC formatted as a decimal string label.
func (c *Collector) SetStreamScore(ssrc string, score float64) {
	if c.enabled {
		c.streamScore.WithLabelValues(ssrc).Set(score)
	}
}

// ObserveRoundTrip records one RTCP-derived round trip measurement.
func (c *Collector) ObserveRoundTrip(d time.Duration) {
	if c.enabled {
		c.rtcpRoundTripSeconds.Observe(d.Seconds())
	}
}

// RecordSRSent notes the time a sender report carrying ssrc was sent, so a
// later RecognizeRTT call against the matching RR's LSR/DLSR fields can
// recover the round trip to that SSRC's peer (RFC 3550 §6.4.1).
func (c *Collector) RecordSRSent(ssrc uint32, at time.Time) {
	c.rtt.recordSR(ssrc, at)
}

// RecognizeRTT resolves the round trip time for ssrc from a receiver
// report's LastSR/DelaySinceLastSR fields, observing it into the round trip
// histogram when enabled. ok is false until a matching SR has been recorded.
func (c *Collector) RecognizeRTT(ssrc uint32, lsr, dlsr uint32, now time.Time) (time.Duration, bool) {
	d, ok := c.rtt.resolve(ssrc, lsr, dlsr, now)
	if ok {
		c.ObserveRoundTrip(d)
	}
	return d, ok
}

// Snapshot is a point-in-time read of the fast-path atomic counters,
// useful for logging or a getStats control-channel response without
// touching the Prometheus registry.
type Snapshot struct {
	TotalPacketsIn  int64
	TotalPacketsOut int64
	TotalDropped    int64
}

// Snapshot returns the current fast-path counters.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		TotalPacketsIn:  atomic.LoadInt64(&c.totalPacketsIn),
		TotalPacketsOut: atomic.LoadInt64(&c.totalPacketsOut),
		TotalDropped:    atomic.LoadInt64(&c.totalDropped),
	}
}

// rttTracker keeps the send time of the most recent SR per SSRC and
// resolves a report's LSR/DLSR echo against it, the way a receiver
// recovers round trip time from a sender report's NTP mid-timestamp. Kept here rather than in the rtcp package since it's a
// metrics-only concern: nothing else in the core needs round trip time.
type rttTracker struct {
	mu   sync.Mutex
	sent map[uint32]time.Time // SSRC -> time the SR carrying it was sent
}

func newRTTTracker() *rttTracker {
	return &rttTracker{sent: make(map[uint32]time.Time)}
}

func (t *rttTracker) recordSR(ssrc uint32, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent[ssrc] = at
}

// resolve computes the round trip from a report's LSR/DLSR fields, where
// lsr is the 32-bit middle of the original SR's NTP timestamp and dlsr is
// the delay the peer held the report before replying, both in 1/65536s
// units per RFC 3550 §6.4.1. lsr is only checked for zero (no SR received
// yet); it is not matched against a recorded send, so the round trip is
// measured from the most recent SR sent for ssrc.
func (t *rttTracker) resolve(ssrc uint32, lsr, dlsr uint32, now time.Time) (time.Duration, bool) {
	if lsr == 0 {
		return 0, false
	}
	t.mu.Lock()
	sentAt, ok := t.sent[ssrc]
	t.mu.Unlock()
	if !ok {
		return 0, false
	}
	roundTrip := now.Sub(sentAt) - durationFromNTPUnits(dlsr)
	if roundTrip < 0 {
		return 0, false
	}
	return roundTrip, true
}

func durationFromNTPUnits(units uint32) time.Duration {
	return time.Duration(units) * time.Second / 65536
}
