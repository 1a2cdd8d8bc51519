package worker

import (
	"sync"

	"github.com/arzzra/sfu-worker/internal/rtc/pacer"
)

// egressQueue is the pacer.Source backing one transport: a plain FIFO of
// already-encoded packets (RTP or RTX) waiting to be paced out. Probe
// clusters draw from the same FIFO (spec.md §4.6 doesn't require a
// separate probe-only queue); padding is zero-payload filler since this
// core generates no real redundant data to pad with.
type egressQueue struct {
	mu    sync.Mutex
	items []pacer.Packet
}

func newEgressQueue() *egressQueue {
	return &egressQueue{}
}

// Enqueue appends one packet ready to be paced out.
func (q *egressQueue) Enqueue(pkt pacer.Packet) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, pkt)
}

// Next implements pacer.Source.
func (q *egressQueue) Next(clusterID int) (pacer.Packet, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return pacer.Packet{}, false
	}
	pkt := q.items[0]
	q.items = q.items[1:]
	return pkt, true
}

// Requeue implements pacer.Source: pushes pkt back to the front of the
// queue, preserving send order for a packet the pacer dequeued but could
// not afford to send this tick.
func (q *egressQueue) Requeue(pkt pacer.Packet) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append([]pacer.Packet{pkt}, q.items...)
}

// Padding implements pacer.Source: synthesizes a zero-payload filler
// packet of approximately size bytes, used only to probe available
// bandwidth (spec.md §4.6), never delivered as real media.
func (q *egressQueue) Padding(size int) []byte {
	if size <= 0 {
		return nil
	}
	return make([]byte, size)
}
