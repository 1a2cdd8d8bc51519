// Package rtcp implements the RTCP wire codec: the common 4-byte header and
// every packet-type family named in spec.md §1/§4.2 — SR, RR, SDES, BYE, XR,
// Feedback-PS (PLI, SLI, RPSI, FIR, TSTR, TSTN, VBCM, PSLEI, AFB/REMB) and
// Feedback-RTP (NACK, TMMBR, TMMBN, SR-REQ, TLLEI, ECN, TCC).
//
// Packet variants are modeled as a tagged union with a common header struct;
// Parse dispatches on the packet-type byte rather than via virtual dispatch
// (spec.md §9).
package rtcp

import "encoding/binary"

// Packet types per RFC 3550 §6.1 and the feedback/XR extensions.
const (
	TypeSR    uint8 = 200
	TypeRR    uint8 = 201
	TypeSDES  uint8 = 202
	TypeBye   uint8 = 203
	TypeApp   uint8 = 204
	TypeRTPFB uint8 = 205 // Transport layer feedback (RFC 4585)
	TypePSFB  uint8 = 206 // Payload-specific feedback (RFC 4585)
	TypeXR    uint8 = 207
)

// RTPFB (Feedback-RTP) message types, carried in the common header's 5-bit
// count field.
const (
	FmtNack  uint8 = 1
	FmtTMMBR uint8 = 3
	FmtTMMBN uint8 = 4
	FmtSRReq uint8 = 5
	FmtTLLEI uint8 = 6
	FmtECN   uint8 = 8
	FmtTCC   uint8 = 15
)

// PSFB (Feedback-PS) message types.
const (
	FmtPLI   uint8 = 1
	FmtSLI   uint8 = 2
	FmtRPSI  uint8 = 3
	FmtFIR   uint8 = 4
	FmtTSTR  uint8 = 5
	FmtTSTN  uint8 = 6
	FmtVBCM  uint8 = 7
	FmtPSLEI uint8 = 8
	FmtAFB   uint8 = 15
)

// SDES item types, RFC 3550 §6.5.
const (
	SDESCNAME uint8 = 1
	SDESName  uint8 = 2
	SDESEmail uint8 = 3
	SDESPhone uint8 = 4
	SDESLoc   uint8 = 5
	SDESTool  uint8 = 6
	SDESNote  uint8 = 7
	SDESPriv  uint8 = 8
)

// Header is the common 4-byte RTCP header (RFC 3550 §6.1).
type Header struct {
	Padding bool
	Count   uint8 // reception report count, source count, or feedback message type
	Type    uint8
	Length  uint16 // size in 32-bit words, minus one
}

func parseHeader(data []byte) (Header, bool) {
	if len(data) < 4 {
		return Header{}, false
	}
	if (data[0]>>6)&0x03 != 2 {
		return Header{}, false
	}
	return Header{
		Padding: data[0]&0x20 != 0,
		Count:   data[0] & 0x1F,
		Type:    data[1],
		Length:  binary.BigEndian.Uint16(data[2:4]),
	}, true
}

func putHeader(buf []byte, padding bool, count uint8, pt uint8, totalBytes int) {
	b0 := byte(2 << 6)
	if padding {
		b0 |= 0x20
	}
	b0 |= count & 0x1F
	buf[0] = b0
	buf[1] = pt
	binary.BigEndian.PutUint16(buf[2:4], uint16(totalBytes/4-1))
}

// Packet is the interface implemented by every RTCP packet variant.
type Packet interface {
	// Type returns the packet's RTCP packet type byte.
	Type() uint8
	// Marshal serializes the packet, including its own 4-byte header.
	Marshal() []byte
	// Size returns the serialized size in bytes (always a multiple of 4).
	Size() int
}

// IsRTCP reports whether data looks like an RTCP packet per RFC 5761's
// demultiplexing rule: version 2 and packet type in [192, 223].
func IsRTCP(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	if (data[0]>>6)&0x03 != 2 {
		return false
	}
	return data[1] >= 192 && data[1] <= 223
}

// Parse walks a compound RTCP datagram, returning every packet successfully
// decoded up to (but not including) the first malformed entry. Earlier
// successfully parsed packets remain valid even if a later one is malformed.
func Parse(data []byte) []Packet {
	var packets []Packet
	for len(data) >= 4 {
		hdr, ok := parseHeader(data)
		if !ok {
			break
		}
		size := (int(hdr.Length) + 1) * 4
		if size > len(data) {
			break
		}
		chunk := data[:size]
		pkt, ok := parseOne(hdr, chunk)
		if !ok {
			break
		}
		packets = append(packets, pkt)
		data = data[size:]
	}
	return packets
}

func parseOne(hdr Header, chunk []byte) (Packet, bool) {
	switch hdr.Type {
	case TypeSR:
		return parseSenderReport(hdr, chunk)
	case TypeRR:
		return parseReceiverReport(hdr, chunk)
	case TypeSDES:
		return parseSDES(hdr, chunk)
	case TypeBye:
		return parseBye(hdr, chunk)
	case TypeXR:
		return parseXR(hdr, chunk)
	case TypeRTPFB:
		return parseRTPFB(hdr, chunk)
	case TypePSFB:
		return parsePSFB(hdr, chunk)
	default:
		return nil, false
	}
}

// padTo4 returns n rounded up to the nearest multiple of 4.
func padTo4(n int) int { return (n + 3) &^ 3 }
