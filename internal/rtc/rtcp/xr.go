package rtcp

import "encoding/binary"

// XR report block types we decode structurally (RFC 3611). Anything else is
// kept as an opaque block so it round-trips without being understood.
const (
	xrBlockReceiverReferenceTime uint8 = 4
	xrBlockDLRR                  uint8 = 5
)

// ReceiverReferenceTimeBlock is RFC 3611 §4.4.
type ReceiverReferenceTimeBlock struct {
	NTPTimestamp uint64
}

// DLRRSubBlock is a single sub-block of a DLRR report, RFC 3611 §4.5.
type DLRRSubBlock struct {
	SSRC   uint32
	LastRR uint32
	Delay  uint32
}

// DLRRBlock is RFC 3611 §4.5.
type DLRRBlock struct {
	SubBlocks []DLRRSubBlock
}

// XRBlock is one report block within an XR packet. Exactly one of
// ReceiverReferenceTime, DLRR or Opaque is populated, selected by BlockType.
type XRBlock struct {
	BlockType             uint8
	ReceiverReferenceTime *ReceiverReferenceTimeBlock
	DLRR                  *DLRRBlock
	Opaque                []byte // raw type-specific bytes for unrecognized block types
}

func (b XRBlock) size() int {
	switch b.BlockType {
	case xrBlockReceiverReferenceTime:
		return 4 + 8
	case xrBlockDLRR:
		return 4 + len(b.DLRR.SubBlocks)*12
	default:
		return 4 + len(b.Opaque)
	}
}

func (b XRBlock) marshal(buf []byte) {
	buf[0] = b.BlockType
	buf[1] = 0 // type-specific, unused by the block kinds we emit
	switch b.BlockType {
	case xrBlockReceiverReferenceTime:
		binary.BigEndian.PutUint16(buf[2:4], 2)
		binary.BigEndian.PutUint64(buf[4:12], b.ReceiverReferenceTime.NTPTimestamp)
	case xrBlockDLRR:
		binary.BigEndian.PutUint16(buf[2:4], uint16(len(b.DLRR.SubBlocks)*3))
		off := 4
		for _, s := range b.DLRR.SubBlocks {
			binary.BigEndian.PutUint32(buf[off:], s.SSRC)
			binary.BigEndian.PutUint32(buf[off+4:], s.LastRR)
			binary.BigEndian.PutUint32(buf[off+8:], s.Delay)
			off += 12
		}
	default:
		binary.BigEndian.PutUint16(buf[2:4], uint16(len(b.Opaque)/4))
		copy(buf[4:], b.Opaque)
	}
}

func parseXRBlock(data []byte) (XRBlock, int, bool) {
	if len(data) < 4 {
		return XRBlock{}, 0, false
	}
	blockType := data[0]
	words := binary.BigEndian.Uint16(data[2:4])
	bodyLen := int(words) * 4
	if 4+bodyLen > len(data) {
		return XRBlock{}, 0, false
	}
	body := data[4 : 4+bodyLen]
	switch blockType {
	case xrBlockReceiverReferenceTime:
		if bodyLen < 8 {
			return XRBlock{}, 0, false
		}
		return XRBlock{BlockType: blockType, ReceiverReferenceTime: &ReceiverReferenceTimeBlock{
			NTPTimestamp: binary.BigEndian.Uint64(body[0:8]),
		}}, 4 + bodyLen, true
	case xrBlockDLRR:
		if bodyLen%12 != 0 {
			return XRBlock{}, 0, false
		}
		n := bodyLen / 12
		subs := make([]DLRRSubBlock, n)
		for i := 0; i < n; i++ {
			b := body[i*12:]
			subs[i] = DLRRSubBlock{
				SSRC:   binary.BigEndian.Uint32(b[0:4]),
				LastRR: binary.BigEndian.Uint32(b[4:8]),
				Delay:  binary.BigEndian.Uint32(b[8:12]),
			}
		}
		return XRBlock{BlockType: blockType, DLRR: &DLRRBlock{SubBlocks: subs}}, 4 + bodyLen, true
	default:
		opaque := append([]byte(nil), body...)
		return XRBlock{BlockType: blockType, Opaque: opaque}, 4 + bodyLen, true
	}
}

// ExtendedReport is RFC 3611's XR packet: a sender SSRC plus a chain of
// typed report blocks.
type ExtendedReport struct {
	SenderSSRC uint32
	Blocks     []XRBlock
}

func (p *ExtendedReport) Type() uint8 { return TypeXR }

func (p *ExtendedReport) Size() int {
	size := 8
	for _, b := range p.Blocks {
		size += b.size()
	}
	return size
}

func (p *ExtendedReport) Marshal() []byte {
	buf := make([]byte, p.Size())
	putHeader(buf, false, 0, TypeXR, len(buf))
	binary.BigEndian.PutUint32(buf[4:8], p.SenderSSRC)
	off := 8
	for _, b := range p.Blocks {
		b.marshal(buf[off:])
		off += b.size()
	}
	return buf
}

func parseXR(hdr Header, chunk []byte) (Packet, bool) {
	if len(chunk) < 8 {
		return nil, false
	}
	ssrc := binary.BigEndian.Uint32(chunk[4:8])
	var blocks []XRBlock
	off := 8
	for off < len(chunk) {
		b, n, ok := parseXRBlock(chunk[off:])
		if !ok {
			return nil, false
		}
		blocks = append(blocks, b)
		off += n
	}
	return &ExtendedReport{SenderSSRC: ssrc, Blocks: blocks}, true
}
