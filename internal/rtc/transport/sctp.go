package transport

import "github.com/arzzra/sfu-worker/internal/rtc/errs"

// Message is the SCTP application-message envelope of spec.md §6. The
// core never parses the payload; it only routes by StreamID/PPID and
// honors the reliability knobs on the way out.
type Message struct {
	StreamID uint16
	PPID     uint32
	Ordered  bool

	// At most one of these is meaningful, matching the SCTP PR-SCTP
	// reliability policy; a value of 0 on both means reliable, ordered (or
	// unordered, per Ordered) delivery with no partial-reliability limit.
	MaxPacketLifeTimeMs uint32
	MaxRetransmits      uint16

	Payload []byte
}

// SCTPChannel is the collaborator interface the core drives: sends are
// flow-controlled by a bufferedAmount signal, receives deliver Messages
// as they arrive. Not parsed by the core (spec.md §6).
type SCTPChannel interface {
	Send(Message) error
	BufferedAmount() int
	OnMessage(func(Message))
	Close() error
}

// BufferedSendLimit is the bufferedAmount ceiling past which Send refuses
// new messages with a KindResourceExhausted error rather than growing the
// collaborator's send queue unbounded.
const BufferedSendLimit = 16 * 1024 * 1024

// GuardedSend wraps an SCTPChannel's Send with the bufferedAmount check
// spec.md §7 names for ResourceExhausted: "SCTP send buffer full ...
// notification emitted to the owning consumer (sctpsendbufferfull)".
func GuardedSend(ch SCTPChannel, msg Message) error {
	if ch.BufferedAmount() >= BufferedSendLimit {
		return errs.ResourceExhausted("transport.sctp.send", nil, "sctpsendbufferfull")
	}
	return ch.Send(msg)
}
