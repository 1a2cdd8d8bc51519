package transport

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arzzra/sfu-worker/internal/rtc/errs"
)

func TestLifecycleHappyPath(t *testing.T) {
	l := NewLifecycle()
	require.Equal(t, StateNew, l.State())

	var transitions [][2]string
	l.OnStateChange(func(old, new string) { transitions = append(transitions, [2]string{old, new}) })

	require.NoError(t, l.Connect())
	require.Equal(t, StateConnecting, l.State())
	require.False(t, l.CanFlow())

	require.NoError(t, l.Establish())
	require.Equal(t, StateConnected, l.State())
	require.True(t, l.CanFlow())

	require.NoError(t, l.Close())
	require.Equal(t, StateClosed, l.State())
	require.False(t, l.CanFlow())

	require.Equal(t, [][2]string{
		{StateNew, StateConnecting},
		{StateConnecting, StateConnected},
		{StateConnected, StateClosed},
	}, transitions)
}

func TestLifecycleFailFromConnecting(t *testing.T) {
	l := NewLifecycle()
	require.NoError(t, l.Connect())
	require.NoError(t, l.Fail())
	require.Equal(t, StateFailed, l.State())
	require.False(t, l.CanFlow())
}

func TestLifecycleFailFromConnected(t *testing.T) {
	l := NewLifecycle()
	require.NoError(t, l.Connect())
	require.NoError(t, l.Establish())
	require.NoError(t, l.Fail())
	require.Equal(t, StateFailed, l.State())
}

func TestLifecycleCloseFromFailed(t *testing.T) {
	l := NewLifecycle()
	require.NoError(t, l.Connect())
	require.NoError(t, l.Fail())
	require.NoError(t, l.Close())
	require.Equal(t, StateClosed, l.State())
}

func TestLifecycleRejectsInvalidTransition(t *testing.T) {
	l := NewLifecycle()
	// Establish is only valid from connecting, not new.
	err := l.Establish()
	require.Error(t, err)
	require.Equal(t, StateNew, l.State())

	var rtcErr *errs.Error
	require.ErrorAs(t, err, &rtcErr)
	require.Equal(t, errs.KindInvariant, rtcErr.Kind())
}

func TestLifecycleRejectsEventsAfterClose(t *testing.T) {
	l := NewLifecycle()
	require.NoError(t, l.Connect())
	require.NoError(t, l.Establish())
	require.NoError(t, l.Close())

	require.Error(t, l.Connect())
	require.Equal(t, StateClosed, l.State())
}

func TestSocketConfigApplyDefaults(t *testing.T) {
	var c SocketConfig
	c.LocalAddr = "127.0.0.1:0"
	c.ApplyDefaults()
	require.Equal(t, DefaultBufferSize, c.BufferSize)
	require.Equal(t, DefaultRecvTimeout, c.ReceiveTimeout)
	require.Equal(t, DefaultSendTimeout, c.SendTimeout)
}

func TestSocketConfigApplyDefaultsPreservesExplicitValues(t *testing.T) {
	c := SocketConfig{LocalAddr: "127.0.0.1:0", BufferSize: 2048}
	c.ApplyDefaults()
	require.Equal(t, 2048, c.BufferSize)
}

func TestSocketConfigValidateRequiresLocalAddr(t *testing.T) {
	c := SocketConfig{}
	err := c.Validate()
	require.Error(t, err)
	var rtcErr *errs.Error
	require.ErrorAs(t, err, &rtcErr)
	require.Equal(t, errs.KindInvariant, rtcErr.Kind())
}

func TestSocketConfigValidateRejectsNegativeBufferSize(t *testing.T) {
	c := SocketConfig{LocalAddr: "127.0.0.1:0", BufferSize: -1}
	require.Error(t, c.Validate())
}

func TestSocketConfigValidateRejectsOutOfRangeDSCP(t *testing.T) {
	c := SocketConfig{LocalAddr: "127.0.0.1:0", BufferSize: DefaultBufferSize, DSCP: 64}
	require.Error(t, c.Validate())
}

func TestSocketConfigValidateAcceptsWellFormedConfig(t *testing.T) {
	c := SocketConfig{LocalAddr: "127.0.0.1:0", BufferSize: DefaultBufferSize, DSCP: DSCPExpeditedForwarding}
	require.NoError(t, c.Validate())
}

// fakeSCTPChannel is a minimal in-memory SCTPChannel for exercising
// GuardedSend's bufferedAmount gate without any real transport.
type fakeSCTPChannel struct {
	buffered int
	sent     []Message
	handler  func(Message)
}

func (f *fakeSCTPChannel) Send(m Message) error {
	f.sent = append(f.sent, m)
	f.buffered += len(m.Payload)
	return nil
}

func (f *fakeSCTPChannel) BufferedAmount() int { return f.buffered }

func (f *fakeSCTPChannel) OnMessage(cb func(Message)) { f.handler = cb }

func (f *fakeSCTPChannel) Close() error { return nil }

func TestGuardedSendForwardsUnderLimit(t *testing.T) {
	ch := &fakeSCTPChannel{}
	msg := Message{StreamID: 3, PPID: 51, Ordered: true, Payload: []byte("hello")}
	require.NoError(t, GuardedSend(ch, msg))
	require.Len(t, ch.sent, 1)
	require.Equal(t, msg, ch.sent[0])
}

func TestGuardedSendRejectsWhenBufferedAmountAtLimit(t *testing.T) {
	ch := &fakeSCTPChannel{buffered: BufferedSendLimit}
	err := GuardedSend(ch, Message{StreamID: 1, Payload: []byte("x")})
	require.Error(t, err)
	require.Empty(t, ch.sent)

	var rtcErr *errs.Error
	require.ErrorAs(t, err, &rtcErr)
	require.Equal(t, errs.KindResourceExhausted, rtcErr.Kind())
	require.Equal(t, "sctpsendbufferfull", rtcErr.Notify)
}

func TestSCTPChannelDeliversMessagesViaCallback(t *testing.T) {
	ch := &fakeSCTPChannel{}
	var received Message
	ch.OnMessage(func(m Message) { received = m })

	in := Message{StreamID: 7, PPID: 51, MaxRetransmits: 3, Payload: []byte("payload")}
	ch.handler(in)
	require.Equal(t, in, received)
}
