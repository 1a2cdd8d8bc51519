// Package logging is the worker core's minimal diagnostic shim.
//
// The hot path (packet parse, stream accounting, pacer ticks) never logs on
// the common case; these helpers exist for the rare branches worth a line —
// a dropped malformed packet, a refused invariant, an escalated fatal error —
// mirroring how the reference RTP stack calls straight into the standard
// library logger rather than carrying a structured-logging dependency into
// a package that otherwise has none.
package logging

import "log"

// Component returns a logger prefixed with the given component name, e.g.
// "[recvstream]".
func Component(name string) *log.Logger {
	return log.New(log.Writer(), "["+name+"] ", log.LstdFlags)
}
