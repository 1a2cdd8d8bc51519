// Package listener implements the RtpListener of spec.md §4.8: SSRC/MID/RID
// demultiplexing tables routing incoming RTP packets to a producer handle.
package listener

// Producer is the opaque handle routing targets; callers define identity
// via a comparable type (e.g. an int id or a pointer), matching spec.md
// §5's handle-based cross-component reference policy.
type Producer = any

// Encoding names one simulcast/SVC layer's SSRC/RTX-SSRC pair and optional
// RID for a producer.
type Encoding struct {
	SSRC    uint32
	RTXSSRC uint32
	RID     string
}

// Listener holds the three demux tables described in spec.md §3.
type Listener struct {
	ssrcTable map[uint32]Producer
	midTable  map[string]Producer
	ridTable  map[string]Producer
}

// New returns an empty Listener.
func New() *Listener {
	return &Listener{
		ssrcTable: make(map[uint32]Producer),
		midTable:  make(map[string]Producer),
		ridTable:  make(map[string]Producer),
	}
}

// AddProducer inserts p's encodings' SSRC/RTX-SSRC into ssrcTable, its mid
// into midTable, and each encoding's rid into ridTable. Any SSRC collision
// reverts every partial insertion made for p in this call. A RID collision
// is tolerated only if mid is non-empty (MID-level demux wins per
// spec.md §4.8); an SSRC collision is never tolerated.
func (l *Listener) AddProducer(p Producer, mid string, encodings []Encoding) bool {
	var insertedSSRCs []uint32
	var insertedRIDs []string
	rollback := func() {
		for _, s := range insertedSSRCs {
			delete(l.ssrcTable, s)
		}
	}

	for _, e := range encodings {
		if _, exists := l.ssrcTable[e.SSRC]; exists {
			rollback()
			return false
		}
		if e.RTXSSRC != 0 {
			if _, exists := l.ssrcTable[e.RTXSSRC]; exists {
				rollback()
				return false
			}
		}
	}

	for _, e := range encodings {
		l.ssrcTable[e.SSRC] = p
		insertedSSRCs = append(insertedSSRCs, e.SSRC)
		if e.RTXSSRC != 0 {
			l.ssrcTable[e.RTXSSRC] = p
			insertedSSRCs = append(insertedSSRCs, e.RTXSSRC)
		}
	}

	if mid != "" {
		l.midTable[mid] = p
	}

	for _, e := range encodings {
		if e.RID == "" {
			continue
		}
		if _, exists := l.ridTable[e.RID]; exists && mid == "" {
			rollback()
			for _, r := range insertedRIDs {
				delete(l.ridTable, r)
			}
			delete(l.midTable, mid)
			return false
		}
		l.ridTable[e.RID] = p
		insertedRIDs = append(insertedRIDs, e.RID)
	}

	return true
}

// GetProducer resolves a producer for an incoming packet's ssrc, with mid
// and rid supplied by the caller after parsing the relevant header
// extensions (spec.md §4.8: SSRC first, then MID with SSRC-table seeding,
// then RID). When resolution succeeds via mid or rid, the ssrc is cached
// into ssrcTable so subsequent packets hit the fast path.
func (l *Listener) GetProducer(ssrc uint32, mid string, rid string) (Producer, bool) {
	if p, ok := l.ssrcTable[ssrc]; ok {
		return p, true
	}
	if mid != "" {
		if p, ok := l.midTable[mid]; ok {
			l.ssrcTable[ssrc] = p
			return p, true
		}
	}
	if rid != "" {
		if p, ok := l.ridTable[rid]; ok {
			l.ssrcTable[ssrc] = p
			return p, true
		}
	}
	return nil, false
}

// RemoveProducer linearly scans all three tables and removes every entry
// pointing at p.
func (l *Listener) RemoveProducer(p Producer) {
	for k, v := range l.ssrcTable {
		if v == p {
			delete(l.ssrcTable, k)
		}
	}
	for k, v := range l.midTable {
		if v == p {
			delete(l.midTable, k)
		}
	}
	for k, v := range l.ridTable {
		if v == p {
			delete(l.ridTable, k)
		}
	}
}
