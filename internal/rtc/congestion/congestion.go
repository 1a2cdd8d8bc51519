// Package congestion implements the available-bitrate estimator of
// spec.md §4.7 (C10): it aligns a sender-side record of sent packets
// against transport-wide congestion control (TCC) receive-time feedback,
// and tracks REMB as a direct per-peer hint.
package congestion

import "github.com/arzzra/sfu-worker/internal/rtc/rtcp"

// AvailableBitrateEventIntervalMs throttles OnAvailableBitrateChange
// notifications.
const AvailableBitrateEventIntervalMs = 2000

// minProbationRun and minRealRun are the run-accumulation thresholds before
// a ratio recompute is allowed; minRunDurationMs is the minimum elapsed
// send-time span the run must also cover.
const (
	minProbationRun  = 2
	minRealRun       = 20
	minRunDurationMs = 100
)

type sentRecord struct {
	sentAtMs  int64
	size      int
	probation bool
}

// Estimator tracks one transport's available send bitrate.
type Estimator struct {
	history map[uint16]sentRecord

	runStarted        bool
	runStartSendMs    int64
	runLastSendMs     int64
	runProbationCount int
	runRealCount      int
	runSendBytes      int64

	availableBitrate int64 // bps
	rembBitrate      int64 // bps, 0 if none received yet
	haveRemb         bool

	lastNotifyMs  int64
	haveNotified  bool
	onChange      func(bps int64)
}

// New returns an Estimator with no history and an unset available bitrate.
func New() *Estimator {
	return &Estimator{history: make(map[uint16]sentRecord)}
}

// SetOnAvailableBitrateChange installs the throttled change callback.
func (e *Estimator) SetOnAvailableBitrateChange(cb func(bps int64)) {
	e.onChange = cb
}

// RecordSent notes that a packet identified by wideSeq (the transport-wide
// sequence number TCC feedback will reference) was sent at nowMs with the
// given wire size. probation marks packets sent during the initial
// bandwidth-probing ramp-up, which the spec counts toward a smaller run
// threshold than steady-state ("real") packets.
func (e *Estimator) RecordSent(wideSeq uint16, size int, probation bool, nowMs int64) {
	e.history[wideSeq] = sentRecord{sentAtMs: nowMs, size: size, probation: probation}
	if len(e.history) > 4096 {
		e.pruneOlderThan(nowMs - 10000)
	}
}

func (e *Estimator) pruneOlderThan(cutoffMs int64) {
	for k, v := range e.history {
		if v.sentAtMs < cutoffMs {
			delete(e.history, k)
		}
	}
}

// ReceiveRtcpTransportFeedback folds in one TCC feedback message: for each
// received packet it looks up the matching sent record by wide sequence
// number, accumulates it into the current run, and recomputes the
// available bitrate once the run crosses its accumulation threshold.
func (e *Estimator) ReceiveRtcpTransportFeedback(tcc *rtcp.TCC, nowMs int64) {
	receiveTimeUs := int64(tcc.ReferenceTime) * 64000
	deltaIdx := 0
	var runRecvBytes int64
	var runFirstRecvMs, runLastRecvMs int64
	haveRecvSpan := false

	for i, status := range tcc.Statuses {
		if status == rtcp.TCCNotReceived {
			continue
		}
		if deltaIdx >= len(tcc.Deltas) {
			break
		}
		receiveTimeUs += int64(tcc.Deltas[deltaIdx]) * 250
		deltaIdx++

		wideSeq := tcc.BaseSequenceNumber + uint16(i)
		rec, ok := e.history[wideSeq]
		if !ok {
			continue
		}
		delete(e.history, wideSeq)

		recvMs := receiveTimeUs / 1000
		if !haveRecvSpan {
			runFirstRecvMs = recvMs
			haveRecvSpan = true
		}
		runLastRecvMs = recvMs
		runRecvBytes += int64(rec.size)

		if !e.runStarted {
			e.runStartSendMs = rec.sentAtMs
			e.runStarted = true
		}
		e.runLastSendMs = rec.sentAtMs
		e.runSendBytes += int64(rec.size)
		if rec.probation {
			e.runProbationCount++
		} else {
			e.runRealCount++
		}
	}

	if !e.runStarted {
		return
	}

	sendSpanMs := e.runLastSendMs - e.runStartSendMs
	thresholdMet := e.runProbationCount >= minProbationRun || e.runRealCount >= minRealRun
	if !thresholdMet || sendSpanMs < minRunDurationMs {
		return
	}

	recvSpanMs := runLastRecvMs - runFirstRecvMs
	e.recompute(e.runSendBytes, sendSpanMs, runRecvBytes, recvSpanMs, nowMs)
	e.resetRun()
}

func (e *Estimator) resetRun() {
	e.runStarted = false
	e.runStartSendMs = 0
	e.runLastSendMs = 0
	e.runProbationCount = 0
	e.runRealCount = 0
	e.runSendBytes = 0
}

// recompute applies the ratio-based increase/decrease policy of spec.md
// §4.7 and notifies listeners, throttled to AvailableBitrateEventIntervalMs.
func (e *Estimator) recompute(sendBytes, sendSpanMs, recvBytes, recvSpanMs int64, nowMs int64) {
	if sendSpanMs <= 0 {
		sendSpanMs = 1
	}
	if recvSpanMs <= 0 {
		recvSpanMs = sendSpanMs
	}
	sendBitrate := bitsPerSecond(sendBytes, sendSpanMs)
	recvBitrate := bitsPerSecond(recvBytes, recvSpanMs)
	if sendBitrate == 0 {
		return
	}
	ratio := float64(recvBitrate) / float64(sendBitrate)

	prev := e.availableBitrate
	if ratio >= 0.75 && ratio <= 1.25 {
		if sendBitrate > e.availableBitrate {
			e.availableBitrate = sendBitrate
		}
	} else {
		target := sendBitrate
		if recvBitrate < target {
			target = recvBitrate
		}
		if e.availableBitrate == 0 || target < e.availableBitrate {
			e.availableBitrate = target
		}
	}

	if e.availableBitrate != prev {
		e.notify(nowMs)
	}
}

func bitsPerSecond(bytes, ms int64) int64 {
	if ms <= 0 {
		return 0
	}
	return bytes * 8 * 1000 / ms
}

func (e *Estimator) notify(nowMs int64) {
	if e.onChange == nil {
		return
	}
	if e.haveNotified && nowMs-e.lastNotifyMs < AvailableBitrateEventIntervalMs {
		return
	}
	e.lastNotifyMs = nowMs
	e.haveNotified = true
	e.onChange(e.AvailableBitrate())
}

// ReceiveREMB folds in a REMB hint: per spec.md §4.7 this is used directly
// as the per-peer available-bitrate hint, with no smoothing.
func (e *Estimator) ReceiveREMB(remb *rtcp.Remb, nowMs int64) {
	e.rembBitrate = int64(remb.Bitrate)
	e.haveRemb = true
	e.notify(nowMs)
}

// AvailableBitrate returns the current estimate: the REMB hint if one has
// been received and is lower than the TCC-derived estimate (REMB acts as a
// direct ceiling hint), otherwise the TCC-derived estimate.
func (e *Estimator) AvailableBitrate() int64 {
	if e.haveRemb && (e.availableBitrate == 0 || e.rembBitrate < e.availableBitrate) {
		return e.rembBitrate
	}
	return e.availableBitrate
}
