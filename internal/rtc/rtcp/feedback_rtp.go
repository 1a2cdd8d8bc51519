package rtcp

import "encoding/binary"

// FeedbackHeader is the 8-byte SSRC pair common to every RTPFB/PSFB packet
// (RFC 4585 §6.1).
type FeedbackHeader struct {
	SenderSSRC uint32
	MediaSSRC  uint32
}

func parseFeedbackHeader(chunk []byte) (FeedbackHeader, bool) {
	if len(chunk) < 12 {
		return FeedbackHeader{}, false
	}
	return FeedbackHeader{
		SenderSSRC: binary.BigEndian.Uint32(chunk[4:8]),
		MediaSSRC:  binary.BigEndian.Uint32(chunk[8:12]),
	}, true
}

func putFeedbackHeader(buf []byte, fmtBits uint8, pt uint8, h FeedbackHeader) {
	putHeader(buf, false, fmtBits, pt, 0) // length patched by caller via full Marshal
	binary.BigEndian.PutUint32(buf[4:8], h.SenderSSRC)
	binary.BigEndian.PutUint32(buf[8:12], h.MediaSSRC)
}

// NackPair is a single FCI entry, RFC 4585 §6.2.1: PID is the first lost
// sequence number, BLP is a bitmask of the following 16 sequence numbers
// (bit 0 = PID+1).
type NackPair struct {
	PID uint16
	BLP uint16
}

// Nack is the generic NACK feedback message (RFC 4585 §6.2.1).
type Nack struct {
	FeedbackHeader
	Pairs []NackPair
}

func (p *Nack) Type() uint8 { return TypeRTPFB }
func (p *Nack) Size() int   { return 12 + len(p.Pairs)*4 }

func (p *Nack) Marshal() []byte {
	buf := make([]byte, p.Size())
	putFeedbackHeader(buf, FmtNack, TypeRTPFB, p.FeedbackHeader)
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(buf)/4-1))
	off := 12
	for _, pr := range p.Pairs {
		binary.BigEndian.PutUint16(buf[off:], pr.PID)
		binary.BigEndian.PutUint16(buf[off+2:], pr.BLP)
		off += 4
	}
	return buf
}

func parseNack(chunk []byte) (Packet, bool) {
	fh, ok := parseFeedbackHeader(chunk)
	if !ok {
		return nil, false
	}
	body := chunk[12:]
	if len(body)%4 != 0 {
		return nil, false
	}
	n := len(body) / 4
	pairs := make([]NackPair, n)
	for i := 0; i < n; i++ {
		pairs[i] = NackPair{
			PID: binary.BigEndian.Uint16(body[i*4:]),
			BLP: binary.BigEndian.Uint16(body[i*4+2:]),
		}
	}
	return &Nack{FeedbackHeader: fh, Pairs: pairs}, true
}

// ExpandNackPairs turns PID+BLP pairs into the flat list of lost sequence
// numbers they describe.
func ExpandNackPairs(pairs []NackPair) []uint16 {
	var out []uint16
	for _, pr := range pairs {
		out = append(out, pr.PID)
		for bit := 0; bit < 16; bit++ {
			if pr.BLP&(1<<uint(bit)) != 0 {
				out = append(out, pr.PID+uint16(bit)+1)
			}
		}
	}
	return out
}

// PackNackPairs groups a sorted, deduplicated list of lost sequence numbers
// into the fewest PID+BLP pairs (each pair covers PID and the following 16
// sequence numbers).
func PackNackPairs(lost []uint16) []NackPair {
	var pairs []NackPair
	i := 0
	for i < len(lost) {
		pid := lost[i]
		var blp uint16
		j := i + 1
		for j < len(lost) {
			delta := lost[j] - pid
			if delta == 0 || delta > 16 {
				break
			}
			blp |= 1 << uint(delta-1)
			j++
		}
		pairs = append(pairs, NackPair{PID: pid, BLP: blp})
		i = j
	}
	return pairs
}

// bitrateExpMantissa encodes a bitrate as the exponent/18-bit-mantissa pair
// REMB (RFC draft-alvestrand-rmcat-remb) carries; TMMBR/TMMBN (RFC 5104
// §4.2.1.2) narrow it to their 17-bit mantissa via tmmbExpMantissa.
// The encoding is lossy above 2^18-1 bps: values round down to the nearest
// representable mantissa*2^exponent.
func bitrateExpMantissa(bps uint64) (exp uint8, mantissa uint32) {
	for mantissa = uint32(bps); mantissa > 0x3FFFF; mantissa >>= 1 {
		exp++
	}
	return exp, mantissa
}

func bitrateFromExpMantissa(exp uint8, mantissa uint32) uint64 {
	return uint64(mantissa) << exp
}

// tmmbExpMantissa is bitrateExpMantissa narrowed to the 17-bit mantissa
// field of TMMBR/TMMBN.
func tmmbExpMantissa(bps uint64) (exp uint8, mantissa uint32) {
	exp, mantissa = bitrateExpMantissa(bps)
	for mantissa > 0x1FFFF {
		mantissa >>= 1
		exp++
	}
	return exp, mantissa
}

// Tmmbr is RFC 5104 §4.2.1, Temporary Maximum Media Stream Bit Rate Request.
type Tmmbr struct {
	FeedbackHeader
	SSRC              uint32
	MaxBitrate        uint64 // bps, lossily rounded through exp/mantissa on Marshal
	MeasuredOverhead  uint32 // bytes/s, 9-bit field
}

func (p *Tmmbr) Type() uint8 { return TypeRTPFB }
func (p *Tmmbr) Size() int   { return 20 }

func (p *Tmmbr) Marshal() []byte {
	buf := make([]byte, 20)
	putFeedbackHeader(buf, FmtTMMBR, TypeRTPFB, p.FeedbackHeader)
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(buf)/4-1))
	binary.BigEndian.PutUint32(buf[12:16], p.SSRC)
	exp, mantissa := tmmbExpMantissa(p.MaxBitrate)
	word := uint32(exp&0x3F)<<26 | (mantissa&0x1FFFF)<<9 | (p.MeasuredOverhead & 0x1FF)
	binary.BigEndian.PutUint32(buf[16:20], word)
	return buf
}

func parseTmmbrLike(chunk []byte) (FeedbackHeader, uint32, uint64, uint32, bool) {
	fh, ok := parseFeedbackHeader(chunk)
	if !ok || len(chunk) < 20 {
		return FeedbackHeader{}, 0, 0, 0, false
	}
	ssrc := binary.BigEndian.Uint32(chunk[12:16])
	word := binary.BigEndian.Uint32(chunk[16:20])
	exp := uint8(word >> 26 & 0x3F)
	mantissa := word >> 9 & 0x1FFFF
	overhead := word & 0x1FF
	return fh, ssrc, bitrateFromExpMantissa(exp, mantissa), overhead, true
}

func parseTmmbr(chunk []byte) (Packet, bool) {
	fh, ssrc, bitrate, overhead, ok := parseTmmbrLike(chunk)
	if !ok {
		return nil, false
	}
	return &Tmmbr{FeedbackHeader: fh, SSRC: ssrc, MaxBitrate: bitrate, MeasuredOverhead: overhead}, true
}

// Tmmbn is RFC 5104 §4.2.2, the bounding-set notification response to Tmmbr.
type Tmmbn struct {
	FeedbackHeader
	SSRC             uint32
	MaxBitrate       uint64
	MeasuredOverhead uint32
}

func (p *Tmmbn) Type() uint8 { return TypeRTPFB }
func (p *Tmmbn) Size() int   { return 20 }

func (p *Tmmbn) Marshal() []byte {
	buf := make([]byte, 20)
	putFeedbackHeader(buf, FmtTMMBN, TypeRTPFB, p.FeedbackHeader)
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(buf)/4-1))
	binary.BigEndian.PutUint32(buf[12:16], p.SSRC)
	exp, mantissa := tmmbExpMantissa(p.MaxBitrate)
	word := uint32(exp&0x3F)<<26 | (mantissa&0x1FFFF)<<9 | (p.MeasuredOverhead & 0x1FF)
	binary.BigEndian.PutUint32(buf[16:20], word)
	return buf
}

func parseTmmbn(chunk []byte) (Packet, bool) {
	fh, ssrc, bitrate, overhead, ok := parseTmmbrLike(chunk)
	if !ok {
		return nil, false
	}
	return &Tmmbn{FeedbackHeader: fh, SSRC: ssrc, MaxBitrate: bitrate, MeasuredOverhead: overhead}, true
}

// SRReq is RFC 6051's Rapid Resynchronisation Request: bare feedback header,
// no FCI.
type SRReq struct {
	FeedbackHeader
}

func (p *SRReq) Type() uint8 { return TypeRTPFB }
func (p *SRReq) Size() int   { return 12 }
func (p *SRReq) Marshal() []byte {
	buf := make([]byte, 12)
	putFeedbackHeader(buf, FmtSRReq, TypeRTPFB, p.FeedbackHeader)
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(buf)/4-1))
	return buf
}

func parseSRReq(chunk []byte) (Packet, bool) {
	fh, ok := parseFeedbackHeader(chunk)
	if !ok {
		return nil, false
	}
	return &SRReq{FeedbackHeader: fh}, true
}

// TLLEI is RFC 6642's Transport-Layer Third-Party Loss Early Indication. Its
// FCI is the same PID+BLP pair list as NACK.
type TLLEI struct {
	FeedbackHeader
	Pairs []NackPair
}

func (p *TLLEI) Type() uint8 { return TypeRTPFB }
func (p *TLLEI) Size() int   { return 12 + len(p.Pairs)*4 }

func (p *TLLEI) Marshal() []byte {
	buf := make([]byte, p.Size())
	putFeedbackHeader(buf, FmtTLLEI, TypeRTPFB, p.FeedbackHeader)
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(buf)/4-1))
	off := 12
	for _, pr := range p.Pairs {
		binary.BigEndian.PutUint16(buf[off:], pr.PID)
		binary.BigEndian.PutUint16(buf[off+2:], pr.BLP)
		off += 4
	}
	return buf
}

func parseTLLEI(chunk []byte) (Packet, bool) {
	fh, ok := parseFeedbackHeader(chunk)
	if !ok {
		return nil, false
	}
	body := chunk[12:]
	if len(body)%4 != 0 {
		return nil, false
	}
	n := len(body) / 4
	pairs := make([]NackPair, n)
	for i := 0; i < n; i++ {
		pairs[i] = NackPair{PID: binary.BigEndian.Uint16(body[i*4:]), BLP: binary.BigEndian.Uint16(body[i*4+2:])}
	}
	return &TLLEI{FeedbackHeader: fh, Pairs: pairs}, true
}

// ECNFeedback is RFC 6679's minimal ECN feedback report: counters only, no
// per-packet FCI.
type ECNFeedback struct {
	FeedbackHeader
	ExtendedHighestSeq uint32
	ECTCount           uint32
	ECESum             uint32
	NonECTCount        uint32
	LostPackets        uint32
}

func (p *ECNFeedback) Type() uint8 { return TypeRTPFB }
func (p *ECNFeedback) Size() int   { return 32 }

func (p *ECNFeedback) Marshal() []byte {
	buf := make([]byte, 32)
	putFeedbackHeader(buf, FmtECN, TypeRTPFB, p.FeedbackHeader)
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(buf)/4-1))
	binary.BigEndian.PutUint32(buf[12:16], p.ExtendedHighestSeq)
	binary.BigEndian.PutUint32(buf[16:20], p.ECTCount)
	binary.BigEndian.PutUint32(buf[20:24], p.ECESum)
	binary.BigEndian.PutUint32(buf[24:28], p.NonECTCount)
	binary.BigEndian.PutUint32(buf[28:32], p.LostPackets)
	return buf
}

func parseECN(chunk []byte) (Packet, bool) {
	fh, ok := parseFeedbackHeader(chunk)
	if !ok || len(chunk) < 32 {
		return nil, false
	}
	return &ECNFeedback{
		FeedbackHeader:     fh,
		ExtendedHighestSeq: binary.BigEndian.Uint32(chunk[12:16]),
		ECTCount:           binary.BigEndian.Uint32(chunk[16:20]),
		ECESum:             binary.BigEndian.Uint32(chunk[20:24]),
		NonECTCount:        binary.BigEndian.Uint32(chunk[24:28]),
		LostPackets:        binary.BigEndian.Uint32(chunk[28:32]),
	}, true
}

// TCCStatus is a per-packet receive status symbol in a transport-wide
// congestion control feedback message.
type TCCStatus uint8

const (
	TCCNotReceived     TCCStatus = 0
	TCCReceivedSmall   TCCStatus = 1
	TCCReceivedLarge   TCCStatus = 2
)

// TCC is the transport-wide congestion control feedback message
// (draft-holmer-rmcat-transport-wide-cc-extensions §3.1).
type TCC struct {
	FeedbackHeader
	BaseSequenceNumber uint16
	ReferenceTime      uint32 // 24-bit, 64ms units
	FbPktCount         uint8
	Statuses           []TCCStatus
	// Deltas holds one entry per status that is not TCCNotReceived, in
	// order, in 250us ticks. Small-delta entries are non-negative and fit
	// in a byte; large-delta entries may be negative.
	Deltas []int16
}

func (p *TCC) Type() uint8 { return TypeRTPFB }

func tccChunks(statuses []TCCStatus) [][2]byte {
	var chunks [][2]byte
	i := 0
	for i < len(statuses) {
		sym := statuses[i]
		run := 1
		for i+run < len(statuses) && statuses[i+run] == sym && run < 0x1FFF {
			run++
		}
		if run >= 7 {
			word := uint16(sym&0x03)<<13 | uint16(run)
			chunks = append(chunks, [2]byte{byte(word >> 8), byte(word)})
			i += run
			continue
		}
		// emit a 2-bit status vector chunk covering up to 7 symbols
		n := len(statuses) - i
		if n > 7 {
			n = 7
		}
		var word uint16 = 0x8000 | 0x4000 // T=1, S=1 (2-bit symbols)
		for k := 0; k < n; k++ {
			word |= uint16(statuses[i+k]&0x03) << uint(12-2*k)
		}
		chunks = append(chunks, [2]byte{byte(word >> 8), byte(word)})
		i += n
	}
	return chunks
}

func (p *TCC) Size() int {
	chunks := tccChunks(p.Statuses)
	size := 12 + 8 + len(chunks)*2
	for _, d := range p.Deltas {
		if d >= 0 && d <= 255 {
			size++
		} else {
			size += 2
		}
	}
	return padTo4(size)
}

func (p *TCC) Marshal() []byte {
	chunks := tccChunks(p.Statuses)
	raw := 20 + len(chunks)*2
	deltaOffsets := make([]int, len(p.Deltas))
	off := raw
	for i, d := range p.Deltas {
		deltaOffsets[i] = off
		if d >= 0 && d <= 255 {
			off++
		} else {
			off += 2
		}
	}
	buf := make([]byte, padTo4(off))
	putFeedbackHeader(buf, FmtTCC, TypeRTPFB, p.FeedbackHeader)
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(buf)/4-1))
	binary.BigEndian.PutUint16(buf[12:14], p.BaseSequenceNumber)
	binary.BigEndian.PutUint16(buf[14:16], uint16(len(p.Statuses)))
	refAndCount := p.ReferenceTime<<8 | uint32(p.FbPktCount)
	buf[16] = byte(refAndCount >> 24)
	buf[17] = byte(refAndCount >> 16)
	buf[18] = byte(refAndCount >> 8)
	buf[19] = byte(refAndCount)
	o := 20
	for _, c := range chunks {
		buf[o] = c[0]
		buf[o+1] = c[1]
		o += 2
	}
	for i, d := range p.Deltas {
		at := deltaOffsets[i]
		if d >= 0 && d <= 255 {
			buf[at] = byte(d)
		} else {
			binary.BigEndian.PutUint16(buf[at:], uint16(d))
		}
	}
	return buf
}

func parseTCC(chunk []byte) (Packet, bool) {
	fh, ok := parseFeedbackHeader(chunk)
	if !ok || len(chunk) < 20 {
		return nil, false
	}
	baseSeq := binary.BigEndian.Uint16(chunk[12:14])
	count := binary.BigEndian.Uint16(chunk[14:16])
	word := uint32(chunk[16])<<24 | uint32(chunk[17])<<16 | uint32(chunk[18])<<8 | uint32(chunk[19])
	refTime := word >> 8
	fbCount := uint8(word)

	off := 20
	statuses := make([]TCCStatus, 0, count)
	for len(statuses) < int(count) {
		if off+2 > len(chunk) {
			return nil, false
		}
		word := binary.BigEndian.Uint16(chunk[off:])
		off += 2
		if word&0x8000 == 0 {
			sym := TCCStatus(word >> 13 & 0x03)
			run := int(word & 0x1FFF)
			for i := 0; i < run && len(statuses) < int(count); i++ {
				statuses = append(statuses, sym)
			}
			continue
		}
		twoBit := word&0x4000 != 0
		if twoBit {
			for k := 0; k < 7 && len(statuses) < int(count); k++ {
				sym := TCCStatus(word >> uint(12-2*k) & 0x03)
				statuses = append(statuses, sym)
			}
		} else {
			for k := 0; k < 14 && len(statuses) < int(count); k++ {
				sym := TCCStatus(word >> uint(13-k) & 0x01)
				statuses = append(statuses, sym)
			}
		}
	}

	deltas := make([]int16, 0, len(statuses))
	for _, s := range statuses {
		switch s {
		case TCCReceivedSmall:
			if off >= len(chunk) {
				return nil, false
			}
			deltas = append(deltas, int16(chunk[off]))
			off++
		case TCCReceivedLarge:
			if off+2 > len(chunk) {
				return nil, false
			}
			deltas = append(deltas, int16(binary.BigEndian.Uint16(chunk[off:])))
			off += 2
		}
	}

	return &TCC{
		FeedbackHeader:     fh,
		BaseSequenceNumber: baseSeq,
		ReferenceTime:      refTime,
		FbPktCount:         fbCount,
		Statuses:           statuses,
		Deltas:             deltas,
	}, true
}

func parseRTPFB(hdr Header, chunk []byte) (Packet, bool) {
	switch hdr.Count {
	case FmtNack:
		return parseNack(chunk)
	case FmtTMMBR:
		return parseTmmbr(chunk)
	case FmtTMMBN:
		return parseTmmbn(chunk)
	case FmtSRReq:
		return parseSRReq(chunk)
	case FmtTLLEI:
		return parseTLLEI(chunk)
	case FmtECN:
		return parseECN(chunk)
	case FmtTCC:
		return parseTCC(chunk)
	default:
		return nil, false
	}
}
