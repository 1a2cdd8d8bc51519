package rtcp

import "encoding/binary"

// SDESItem is a single {type, text} element within an SDES chunk.
type SDESItem struct {
	Type uint8
	Text string
}

// SDESChunk is one source's SDES items, RFC 3550 §6.5.
type SDESChunk struct {
	SSRC  uint32
	Items []SDESItem
}

func (c *SDESChunk) rawSize() int {
	size := 4
	for _, it := range c.Items {
		size += 2 + len(it.Text)
	}
	size++ // mandatory null octet terminator
	return size
}

// SourceDescription is RFC 3550 §6.5.
type SourceDescription struct {
	Chunks []SDESChunk
}

func (p *SourceDescription) Type() uint8 { return TypeSDES }

func (p *SourceDescription) Size() int {
	size := 4
	for _, c := range p.Chunks {
		size += padTo4(c.rawSize())
	}
	return size
}

func (p *SourceDescription) Marshal() []byte {
	buf := make([]byte, p.Size())
	putHeader(buf, false, uint8(len(p.Chunks)), TypeSDES, len(buf))
	off := 4
	for _, c := range p.Chunks {
		start := off
		binary.BigEndian.PutUint32(buf[off:], c.SSRC)
		off += 4
		for _, it := range c.Items {
			buf[off] = it.Type
			buf[off+1] = uint8(len(it.Text))
			off += 2
			copy(buf[off:], it.Text)
			off += len(it.Text)
		}
		buf[off] = 0 // terminator
		off++
		chunkLen := off - start
		off = start + padTo4(chunkLen)
	}
	return buf
}

func parseSDES(hdr Header, chunk []byte) (Packet, bool) {
	off := 4
	chunks := make([]SDESChunk, 0, hdr.Count)
	for i := 0; i < int(hdr.Count); i++ {
		start := off
		if off+4 > len(chunk) {
			return nil, false
		}
		ssrc := binary.BigEndian.Uint32(chunk[off:])
		off += 4
		var items []SDESItem
		for {
			if off >= len(chunk) {
				return nil, false
			}
			t := chunk[off]
			off++
			if t == 0 {
				break
			}
			if off >= len(chunk) {
				return nil, false
			}
			n := int(chunk[off])
			off++
			if off+n > len(chunk) {
				return nil, false
			}
			items = append(items, SDESItem{Type: t, Text: string(chunk[off : off+n])})
			off += n
		}
		consumed := off - start
		off = start + padTo4(consumed)
		chunks = append(chunks, SDESChunk{SSRC: ssrc, Items: items})
	}
	return &SourceDescription{Chunks: chunks}, true
}
