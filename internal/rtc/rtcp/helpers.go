package rtcp

import "time"

// ntpEpochOffset is the number of seconds between the NTP epoch (1900-01-01)
// and the Unix epoch (1970-01-01).
const ntpEpochOffset = 2208988800

// NTPTime converts a wall-clock time to a 64-bit NTP timestamp (32.32 fixed
// point seconds), as carried in SenderReport.NTPTime.
func NTPTime(t time.Time) uint64 {
	secs := uint64(t.Unix()+ntpEpochOffset) << 32
	frac := uint64(t.Nanosecond()) << 32 / 1e9
	return secs | frac
}

// NTPTimeToGo converts an NTP 32.32 timestamp back to a wall-clock time.
func NTPTimeToGo(ntp uint64) time.Time {
	secs := int64(ntp>>32) - ntpEpochOffset
	frac := ntp & 0xFFFFFFFF
	nsec := int64(frac * 1e9 >> 32)
	return time.Unix(secs, nsec).UTC()
}

// CompoundSize returns the total wire size of packets marshaled back to back.
func CompoundSize(packets []Packet) int {
	size := 0
	for _, p := range packets {
		size += p.Size()
	}
	return size
}

// Marshal serializes packets back to back into a single compound RTCP
// datagram (RFC 3550 §6.1 requires at least SR/RR first; callers are
// responsible for ordering).
func Marshal(packets []Packet) []byte {
	buf := make([]byte, CompoundSize(packets))
	off := 0
	for _, p := range packets {
		copy(buf[off:], p.Marshal())
		off += p.Size()
	}
	return buf
}
