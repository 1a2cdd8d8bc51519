// Package packet implements the RTP wire codec: parsing, validation, in-place
// mutation and serialization of RTP packets per RFC 3550 §5, including
// one-byte and two-byte header extensions per RFC 8285.
//
// A Packet is a byte-aligned view over a buffer it never owns. All mutation
// operations are in place and atomic: they either fully succeed or leave the
// packet unchanged. The caller decides buffer ownership and lifetime.
package packet

import (
	"encoding/binary"
)

const (
	// FixedHeaderSize is the mandatory RTP header size before CSRCs,
	// extensions and payload (RFC 3550 §5.1).
	FixedHeaderSize = 12

	version = 2

	oneByteExtensionProfile = 0xBEDE
	twoByteExtensionProfile = 0x1000 // top 12 bits fixed, low 4 bits free (0x1000-0x100F)
	twoByteExtensionMask    = 0xFFF0

	oneByteStopID = 15
	maxCSRC       = 15
)

// ExtensionMode selects the header-extension wire form.
type ExtensionMode uint8

const (
	// ExtensionModeNone means no extension block is present.
	ExtensionModeNone ExtensionMode = iota
	// ExtensionModeOneByte is RFC 8285's one-byte form (profile 0xBEDE).
	ExtensionModeOneByte
	// ExtensionModeTwoByte is RFC 8285's two-byte form (profile 0x100X).
	ExtensionModeTwoByte
)

// Extension is a single decoded header-extension element: an id and a view
// into the packet's buffer holding its value.
type Extension struct {
	ID    uint8
	Value []byte

	// headerOffset is the absolute buffer offset of the id/length byte(s)
	// preceding Value; valueOffset is the absolute offset of Value[0]. Both
	// are used only by SetExtensionLength to grow/shrink a single item in
	// place without disturbing its neighbors.
	headerOffset int
	valueOffset  int
}

// Packet is a parsed view over a borrowed RTP datagram.
type Packet struct {
	buffer []byte // the entire borrowed wire image, length == Size()

	padding        bool
	extensionFlag  bool
	marker         bool
	payloadType    uint8
	csrcCount      uint8
	sequenceNumber uint16
	timestamp      uint32
	ssrc           uint32
	csrcs          []uint32

	extMode    ExtensionMode
	extProfile uint16
	// extTable indexes one-byte ids 1..14 (index 0 unused); nil entries mean absent.
	extTable [15]*Extension
	// extMap indexes two-byte ids 0..255, built lazily (nil unless extMode is two-byte).
	extMap map[uint8]*Extension
	// extOrder preserves insertion order for iteration / re-serialization parity.
	extOrder []uint8

	extHeaderOffset int // offset of the 4-byte profile+length header, -1 if absent
	extValueOffset  int // offset of the first byte of extension value area
	extValueLen     int // length in bytes of the extension value area (multiple of 4)

	payloadOffset  int
	payloadLength  int
	payloadPadding uint8
}

// Size returns the total wire size of the packet, including any padding.
func (p *Packet) Size() int { return len(p.buffer) }

// Buffer returns the backing buffer. Callers must not retain it beyond the
// packet's lifetime unless they cloned it first.
func (p *Packet) Buffer() []byte { return p.buffer }

// Marker reports the RTP marker bit.
func (p *Packet) Marker() bool { return p.marker }

// PayloadType returns the 7-bit payload type.
func (p *Packet) PayloadType() uint8 { return p.payloadType }

// SequenceNumber returns the 16-bit sequence number.
func (p *Packet) SequenceNumber() uint16 { return p.sequenceNumber }

// Timestamp returns the 32-bit RTP timestamp.
func (p *Packet) Timestamp() uint32 { return p.timestamp }

// SSRC returns the 32-bit synchronization source identifier.
func (p *Packet) SSRC() uint32 { return p.ssrc }

// CSRCs returns the contributing source list (0-15 entries).
func (p *Packet) CSRCs() []uint32 { return p.csrcs }

// Payload returns the payload slice, excluding padding.
func (p *Packet) Payload() []byte {
	return p.buffer[p.payloadOffset : p.payloadOffset+p.payloadLength]
}

// PayloadPadding returns the number of padding bytes (0 if the padding flag
// is unset).
func (p *Packet) PayloadPadding() uint8 { return p.payloadPadding }

// HasPadding reports the padding flag.
func (p *Packet) HasPadding() bool { return p.padding }

// HeaderExtension reports whether an extension block is present and, if so,
// its wire form.
func (p *Packet) HeaderExtension() (ExtensionMode, bool) {
	return p.extMode, p.extMode != ExtensionModeNone
}

// GetExtension returns the decoded value for id, or (nil, false) if absent.
func (p *Packet) GetExtension(id uint8) ([]byte, bool) {
	switch p.extMode {
	case ExtensionModeOneByte:
		if id == 0 || id > 14 {
			return nil, false
		}
		e := p.extTable[id]
		if e == nil {
			return nil, false
		}
		return e.Value, true
	case ExtensionModeTwoByte:
		e, ok := p.extMap[id]
		if !ok {
			return nil, false
		}
		return e.Value, true
	default:
		return nil, false
	}
}

// Parse decodes an RTP packet view over buf. buf is borrowed: the returned
// Packet's Payload/Extension slices alias it. Returns nil on any malformed
// input; never reads past len(buf).
func Parse(buf []byte) *Packet {
	if len(buf) < FixedHeaderSize {
		return nil
	}
	if (buf[0]>>6)&0x03 != version {
		return nil
	}

	p := &Packet{
		padding:        buf[0]&0x20 != 0,
		extensionFlag:  buf[0]&0x10 != 0,
		csrcCount:      buf[0] & 0x0F,
		marker:         buf[1]&0x80 != 0,
		payloadType:    buf[1] & 0x7F,
		sequenceNumber: binary.BigEndian.Uint16(buf[2:4]),
		timestamp:      binary.BigEndian.Uint32(buf[4:8]),
		ssrc:           binary.BigEndian.Uint32(buf[8:12]),
		extHeaderOffset: -1,
	}

	offset := FixedHeaderSize
	if int(p.csrcCount) > maxCSRC {
		return nil
	}
	csrcEnd := offset + int(p.csrcCount)*4
	if csrcEnd > len(buf) {
		return nil
	}
	if p.csrcCount > 0 {
		p.csrcs = make([]uint32, p.csrcCount)
		for i := 0; i < int(p.csrcCount); i++ {
			p.csrcs[i] = binary.BigEndian.Uint32(buf[offset+i*4 : offset+i*4+4])
		}
	}
	offset = csrcEnd

	if p.extensionFlag {
		if offset+4 > len(buf) {
			return nil
		}
		p.extProfile = binary.BigEndian.Uint16(buf[offset : offset+2])
		extWords := binary.BigEndian.Uint16(buf[offset+2 : offset+4])
		extLen := int(extWords) * 4
		p.extHeaderOffset = offset
		valueOffset := offset + 4
		if valueOffset+extLen > len(buf) {
			return nil
		}
		p.extValueOffset = valueOffset
		p.extValueLen = extLen
		decodeItems := true
		switch {
		case p.extProfile == oneByteExtensionProfile:
			p.extMode = ExtensionModeOneByte
		case p.extProfile&twoByteExtensionMask == twoByteExtensionProfile:
			p.extMode = ExtensionModeTwoByte
		default:
			// Unknown profile: keep the block opaque (preserved byte-for-byte
			// on Clone/Serialize) but don't attempt to decode items.
			p.extMode = ExtensionModeOneByte
			p.extProfile = oneByteExtensionProfile
			decodeItems = false
		}
		if decodeItems {
			parseExtensionItems(p, buf)
		}
		offset = valueOffset + extLen
	}

	p.payloadOffset = offset
	remaining := len(buf) - offset
	if remaining < 0 {
		return nil
	}

	if p.padding {
		if remaining == 0 {
			return nil
		}
		pad := buf[len(buf)-1]
		if pad == 0 || int(pad) > remaining {
			return nil
		}
		p.payloadPadding = pad
		p.payloadLength = remaining - int(pad)
	} else {
		p.payloadLength = remaining
	}

	p.buffer = buf
	return p
}

// parseExtensionItems walks the extension value area and populates the
// id->value table. A malformed length field aborts extension parsing but
// does not invalidate the packet (per spec.md §4.1).
func parseExtensionItems(p *Packet, buf []byte) {
	area := buf[p.extValueOffset : p.extValueOffset+p.extValueLen]
	i := 0
	switch p.extMode {
	case ExtensionModeOneByte:
		for i < len(area) {
			b := area[i]
			if b == 0 {
				i++ // padding
				continue
			}
			id := b >> 4
			if id == oneByteStopID {
				return
			}
			length := int(b&0x0F) + 1
			hdrOffset := p.extValueOffset + i
			i++
			if i+length > len(area) {
				return
			}
			e := &Extension{ID: id, Value: area[i : i+length], headerOffset: hdrOffset, valueOffset: p.extValueOffset + i}
			if id >= 1 && id <= 14 {
				p.extTable[id] = e
				p.extOrder = append(p.extOrder, id)
			}
			i += length
		}
	case ExtensionModeTwoByte:
		if p.extMap == nil {
			p.extMap = make(map[uint8]*Extension)
		}
		for i+2 <= len(area) {
			id := area[i]
			length := int(area[i+1])
			hdrOffset := p.extValueOffset + i
			i += 2
			if id == 0 {
				continue // alignment padding
			}
			if i+length > len(area) {
				return
			}
			e := &Extension{ID: id, Value: area[i : i+length], headerOffset: hdrOffset, valueOffset: p.extValueOffset + i}
			p.extMap[id] = e
			p.extOrder = append(p.extOrder, id)
			i += length
		}
	}
}

// --- single-field mutations ---

// SetMarker sets the marker bit in place.
func (p *Packet) SetMarker(m bool) {
	p.marker = m
	if m {
		p.buffer[1] |= 0x80
	} else {
		p.buffer[1] &^= 0x80
	}
}

// SetPayloadType sets the 7-bit payload type in place.
func (p *Packet) SetPayloadType(pt uint8) {
	p.payloadType = pt & 0x7F
	p.buffer[1] = (p.buffer[1] & 0x80) | p.payloadType
}

// SetSequenceNumber sets the sequence number in place.
func (p *Packet) SetSequenceNumber(seq uint16) {
	p.sequenceNumber = seq
	binary.BigEndian.PutUint16(p.buffer[2:4], seq)
}

// SetTimestamp sets the RTP timestamp in place.
func (p *Packet) SetTimestamp(ts uint32) {
	p.timestamp = ts
	binary.BigEndian.PutUint32(p.buffer[4:8], ts)
}

// SetSSRC sets the SSRC in place.
func (p *Packet) SetSSRC(ssrc uint32) {
	p.ssrc = ssrc
	binary.BigEndian.PutUint32(p.buffer[8:12], ssrc)
}

// Serialize returns the packet's current wire image. Since every mutation
// keeps buffer and declared size in lockstep, this is simply the borrowed
// buffer truncated to GetSize().
func (p *Packet) Serialize() []byte { return p.buffer[:p.GetSize()] }

// GetSize recomputes the packet's declared total size from its fields; used
// by invariant checks and tests. It must always equal Size().
func (p *Packet) GetSize() int {
	size := FixedHeaderSize + int(p.csrcCount)*4
	if p.extensionFlag {
		size += 4 + p.extValueLen
	}
	size += p.payloadLength + int(p.payloadPadding)
	return size
}
