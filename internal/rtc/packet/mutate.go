package packet

import "encoding/binary"

// resizeBuffer returns the packet's buffer resliced to newSize, reusing
// pre-reserved capacity (the tail scratch described in spec.md §5) when
// growing. Returns ok=false without mutating anything if the caller's
// buffer doesn't have enough reserved capacity.
func (p *Packet) resizeBuffer(newSize int) (buf []byte, ok bool) {
	if newSize < FixedHeaderSize {
		return nil, false
	}
	if newSize > cap(p.buffer) {
		return nil, false
	}
	return p.buffer[:newSize], true
}

// SetExtensions rewrites the header-extension block to exactly the provided
// items, in the given wire mode. Items with id=0, a one-byte id of 15, a
// one-byte length outside [1,16], or a two-byte length outside [0,255] are
// silently dropped. The payload is shifted by the resulting size delta and
// the block is padded to a 4-byte boundary. Atomic: returns false and leaves
// the packet unchanged if the caller's buffer lacks room to grow into.
func (p *Packet) SetExtensions(mode ExtensionMode, items []Extension) bool {
	kept := make([]Extension, 0, len(items))
	for _, it := range items {
		if it.ID == 0 {
			continue
		}
		switch mode {
		case ExtensionModeOneByte:
			if it.ID == oneByteStopID || len(it.Value) == 0 || len(it.Value) > 16 {
				continue
			}
		case ExtensionModeTwoByte:
			if len(it.Value) > 255 {
				continue
			}
		default:
			continue
		}
		kept = append(kept, it)
	}

	var rawLen int
	switch mode {
	case ExtensionModeOneByte:
		for _, it := range kept {
			rawLen += 1 + len(it.Value)
		}
	case ExtensionModeTwoByte:
		for _, it := range kept {
			rawLen += 2 + len(it.Value)
		}
	}
	paddedLen := (rawLen + 3) &^ 3

	headerBytes := 0
	if mode != ExtensionModeNone && len(kept) > 0 {
		headerBytes = 4
	} else {
		mode = ExtensionModeNone
		paddedLen = 0
	}

	csrcBytes := int(p.csrcCount) * 4
	newPayloadOffset := FixedHeaderSize + csrcBytes + headerBytes + paddedLen
	tailLen := p.payloadLength + int(p.payloadPadding)
	newSize := newPayloadOffset + tailLen

	tail := make([]byte, tailLen)
	copy(tail, p.buffer[p.payloadOffset:p.payloadOffset+tailLen])

	newBuf, ok := p.resizeBuffer(newSize)
	if !ok {
		return false
	}

	for i := FixedHeaderSize + csrcBytes; i < newPayloadOffset; i++ {
		newBuf[i] = 0
	}

	if mode != ExtensionModeNone {
		var profile uint16
		if mode == ExtensionModeOneByte {
			profile = oneByteExtensionProfile
		} else {
			profile = twoByteExtensionProfile
		}
		binary.BigEndian.PutUint16(newBuf[FixedHeaderSize+csrcBytes:], profile)
		binary.BigEndian.PutUint16(newBuf[FixedHeaderSize+csrcBytes+2:], uint16(paddedLen/4))

		offset := FixedHeaderSize + csrcBytes + 4
		for _, it := range kept {
			if mode == ExtensionModeOneByte {
				newBuf[offset] = (it.ID << 4) | uint8(len(it.Value)-1)
				offset++
				copy(newBuf[offset:], it.Value)
				offset += len(it.Value)
			} else {
				newBuf[offset] = it.ID
				newBuf[offset+1] = uint8(len(it.Value))
				offset += 2
				copy(newBuf[offset:], it.Value)
				offset += len(it.Value)
			}
		}
		newBuf[0] |= 0x10
	} else {
		newBuf[0] &^= 0x10
	}

	copy(newBuf[newPayloadOffset:], tail)

	reparsed := Parse(newBuf)
	if reparsed == nil {
		return false
	}
	*p = *reparsed
	return true
}

// SetExtensionLength shrinks or grows an already-present extension's value
// length in place, without disturbing neighboring items. Shrinking zeroes
// the trailing bytes being dropped. Growing only succeeds if the bytes
// immediately following the value (up to the requested growth) lie within
// the extension block and are all zero (the "pre-reserved room" spec.md §4.1
// requires the caller to have left). Fails (returns false, unchanged) if the
// extension is absent or growth would overflow that reserved room.
func (p *Packet) SetExtensionLength(id uint8, newLen int) bool {
	var e *Extension
	switch p.extMode {
	case ExtensionModeOneByte:
		if id < 1 || id > 14 {
			return false
		}
		e = p.extTable[id]
		if e == nil || newLen < 1 || newLen > 16 {
			return false
		}
	case ExtensionModeTwoByte:
		if p.extMap == nil {
			return false
		}
		var ok bool
		e, ok = p.extMap[id]
		if !ok || newLen < 0 || newLen > 255 {
			return false
		}
	default:
		return false
	}

	oldLen := len(e.Value)
	if newLen == oldLen {
		return true
	}

	blockEnd := p.extValueOffset + p.extValueLen

	if newLen < oldLen {
		for i := e.valueOffset + newLen; i < e.valueOffset+oldLen; i++ {
			p.buffer[i] = 0
		}
	} else {
		growBy := newLen - oldLen
		growStart := e.valueOffset + oldLen
		growEnd := growStart + growBy
		if growEnd > blockEnd {
			return false
		}
		for i := growStart; i < growEnd; i++ {
			if p.buffer[i] != 0 {
				return false
			}
		}
	}

	if p.extMode == ExtensionModeOneByte {
		p.buffer[e.headerOffset] = (id << 4) | uint8(newLen-1)
	} else {
		p.buffer[e.headerOffset+1] = uint8(newLen)
	}
	e.Value = p.buffer[e.valueOffset : e.valueOffset+newLen]
	return true
}

// ShiftPayload inserts (expand=true) or removes (expand=false) shift bytes
// at offset within the payload. Expanding clears the padding flag (spec.md
// §4.1). Atomic: returns false and leaves the packet unchanged if shift is
// non-positive, offset is out of range, or growth overflows reserved
// capacity.
func (p *Packet) ShiftPayload(offset, shift int, expand bool) bool {
	if shift <= 0 || offset < 0 || offset > p.payloadLength {
		return false
	}

	if expand {
		newPayloadLen := p.payloadLength + shift
		newSize := p.payloadOffset + newPayloadLen
		newBuf, ok := p.resizeBuffer(newSize)
		if !ok {
			return false
		}
		src := make([]byte, p.payloadLength-offset)
		copy(src, p.buffer[p.payloadOffset+offset:p.payloadOffset+p.payloadLength])
		dstStart := p.payloadOffset + offset + shift
		copy(newBuf[dstStart:], src)
		for i := p.payloadOffset + offset; i < dstStart; i++ {
			newBuf[i] = 0
		}
		newBuf[0] &^= 0x20

		reparsed := Parse(newBuf)
		if reparsed == nil {
			return false
		}
		*p = *reparsed
		return true
	}

	if offset+shift > p.payloadLength {
		return false
	}
	newPayloadLen := p.payloadLength - shift
	newSize := p.payloadOffset + newPayloadLen + int(p.payloadPadding)

	tail := make([]byte, p.payloadLength-offset-shift+int(p.payloadPadding))
	copy(tail, p.buffer[p.payloadOffset+offset+shift:p.payloadOffset+p.payloadLength+int(p.payloadPadding)])
	copy(p.buffer[p.payloadOffset+offset:], tail)

	newBuf := p.buffer[:newSize]
	reparsed := Parse(newBuf)
	if reparsed == nil {
		return false
	}
	*p = *reparsed
	return true
}

// SetPayloadLength resizes the payload to newLen, padded up to a 4-byte
// boundary with zero filler, and clears the RTP padding flag. The padding
// bytes inserted for alignment become part of the payload, not RTP padding.
func (p *Packet) SetPayloadLength(newLen int) bool {
	if newLen < 0 {
		return false
	}
	padded := (newLen + 3) &^ 3
	newSize := p.payloadOffset + padded
	newBuf, ok := p.resizeBuffer(newSize)
	if !ok {
		return false
	}
	for i := p.payloadOffset + newLen; i < newSize; i++ {
		newBuf[i] = 0
	}
	newBuf[0] &^= 0x20

	reparsed := Parse(newBuf)
	if reparsed == nil {
		return false
	}
	*p = *reparsed
	return true
}

// Clone copies this packet's header, CSRCs, extension block, payload and
// padding into dst, returning a new Packet view over it. dst must be at
// least Size() bytes; Clone uses exactly Size() bytes of it.
func Clone(p *Packet, dst []byte) *Packet {
	if len(dst) < p.Size() {
		return nil
	}
	n := copy(dst, p.buffer[:p.Size()])
	return Parse(dst[:n])
}

// EncodeRTX rewrites the packet in place into an RFC 4588 RTX packet: the
// original sequence number is prepended to the payload, then payload type,
// SSRC and sequence number are replaced. Padding is removed. Requires
// cap(buffer) to have at least 2 bytes of reserved tail room; atomic.
func (p *Packet) EncodeRTX(rtxPT uint8, rtxSSRC uint32, rtxSeq uint16) bool {
	originalSeq := p.sequenceNumber
	if !p.ShiftPayload(0, 2, true) {
		return false
	}
	binary.BigEndian.PutUint16(p.buffer[p.payloadOffset:p.payloadOffset+2], originalSeq)
	p.SetPayloadType(rtxPT)
	p.SetSSRC(rtxSSRC)
	p.SetSequenceNumber(rtxSeq)
	return true
}

// DecodeRTX reverses EncodeRTX: restores the original payload type, SSRC and
// sequence number (supplied by the caller from stream state) and strips the
// prepended original-sequence-number field. Rejects packets whose payload is
// shorter than 2 bytes.
func (p *Packet) DecodeRTX(originalPT uint8, originalSSRC uint32) bool {
	if p.payloadLength < 2 {
		return false
	}
	originalSeq := binary.BigEndian.Uint16(p.buffer[p.payloadOffset : p.payloadOffset+2])
	if !p.ShiftPayload(0, 2, false) {
		return false
	}
	p.SetPayloadType(originalPT)
	p.SetSSRC(originalSSRC)
	p.SetSequenceNumber(originalSeq)
	return true
}
