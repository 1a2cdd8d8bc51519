// Package transport implements the external interfaces of spec.md §6: the
// ingress secure datagram channel's opaque lifecycle, the SCTP channel
// envelope, and the OS socket tuning both are built on.
package transport

import (
	"context"
	"sync"

	"github.com/looplab/fsm"

	"github.com/arzzra/sfu-worker/internal/rtc/errs"
)

// Lifecycle state names, spec.md §6: "the core treats the DTLS handshake
// state as an opaque lifecycle: {new, connecting, connected, failed,
// closed}; only in connected may RTP/RTCP flow."
const (
	StateNew        = "new"
	StateConnecting = "connecting"
	StateConnected  = "connected"
	StateFailed     = "failed"
	StateClosed     = "closed"
)

const (
	eventConnect   = "connect"
	eventEstablish = "establish"
	eventFail      = "fail"
	eventClose     = "close"
)

// Lifecycle wraps a looplab/fsm state machine over the five states above,
// guarding the operations that are only valid once connected.
type Lifecycle struct {
	mu  sync.Mutex
	fsm *fsm.FSM

	onStateChange func(old, new string)
}

// NewLifecycle returns a Lifecycle starting in StateNew.
func NewLifecycle() *Lifecycle {
	l := &Lifecycle{}
	l.fsm = fsm.NewFSM(
		StateNew,
		fsm.Events{
			{Name: eventConnect, Src: []string{StateNew}, Dst: StateConnecting},
			{Name: eventEstablish, Src: []string{StateConnecting}, Dst: StateConnected},
			{Name: eventFail, Src: []string{StateNew, StateConnecting, StateConnected}, Dst: StateFailed},
			{Name: eventClose, Src: []string{StateNew, StateConnecting, StateConnected, StateFailed}, Dst: StateClosed},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				if l.onStateChange != nil {
					l.onStateChange(e.Src, e.Dst)
				}
			},
		},
	)
	return l
}

// OnStateChange installs a callback fired on every state transition.
func (l *Lifecycle) OnStateChange(cb func(old, new string)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onStateChange = cb
}

// State returns the current lifecycle state.
func (l *Lifecycle) State() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fsm.Current()
}

// Connect transitions new -> connecting.
func (l *Lifecycle) Connect() error { return l.fire(eventConnect) }

// Establish transitions connecting -> connected.
func (l *Lifecycle) Establish() error { return l.fire(eventEstablish) }

// Fail transitions any non-terminal state -> failed.
func (l *Lifecycle) Fail() error { return l.fire(eventFail) }

// Close transitions any state other than closed -> closed.
func (l *Lifecycle) Close() error { return l.fire(eventClose) }

func (l *Lifecycle) fire(event string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.fsm.Event(context.Background(), event); err != nil {
		return errs.Invariant("transport.lifecycle."+event, err)
	}
	return nil
}

// CanFlow reports whether RTP/RTCP may flow, i.e. the channel is connected.
func (l *Lifecycle) CanFlow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fsm.Current() == StateConnected
}
