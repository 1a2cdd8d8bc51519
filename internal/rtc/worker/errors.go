package worker

import "errors"

var (
	errProducerCollision = errors.New("producer encoding collides with an existing SSRC")
	errUnknownProducer   = errors.New("unknown producer id")
	errUnknownTransport  = errors.New("unknown transport id")
	errUnresolvedSSRC    = errors.New("packet does not resolve to a known producer")
	errMalformedPacket   = errors.New("malformed RTP packet")
)
