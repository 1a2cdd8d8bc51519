package transport

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/pion/dtls/v2"

	"github.com/arzzra/sfu-worker/internal/rtc/errs"
)

var errNotConnected = errors.New("secure channel is not in the connected state")

// SecureChannelConfig configures the DTLS collaborator that delivers
// plaintext RTP/RTCP byte slices to the core (spec.md §6).
type SecureChannelConfig struct {
	Socket           SocketConfig
	DTLS             *dtls.Config
	HandshakeTimeout time.Duration
}

// ApplyDefaults fills in handshake timeout and socket defaults.
func (c *SecureChannelConfig) ApplyDefaults() {
	c.Socket.ApplyDefaults()
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 30 * time.Second
	}
}

// SecureChannel is the ingress secure datagram channel of spec.md §6: it
// owns the DTLS handshake lifecycle and, once connected, exchanges
// plaintext RTP/RTCP byte slices with the core. The handshake state is
// treated as opaque by callers beyond the Lifecycle's five states.
type SecureChannel struct {
	conn      net.Conn
	dtlsConn  *dtls.Conn
	lifecycle *Lifecycle
	config    SecureChannelConfig
	stats     Statistics
}

// NewSecureChannel opens the underlying tuned UDP socket and returns a
// channel in StateNew; call ConnectClient or ConnectServer to perform the
// DTLS handshake.
func NewSecureChannel(config SecureChannelConfig) (*SecureChannel, error) {
	config.ApplyDefaults()
	conn, err := DialUDP(config.Socket)
	if err != nil {
		return nil, err
	}
	return &SecureChannel{conn: conn, config: config, lifecycle: NewLifecycle()}, nil
}

// Lifecycle exposes the channel's connection state machine.
func (c *SecureChannel) Lifecycle() *Lifecycle { return c.lifecycle }

// ConnectClient performs the DTLS handshake as a client.
func (c *SecureChannel) ConnectClient(ctx context.Context) error {
	if err := c.lifecycle.Connect(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.config.HandshakeTimeout)
	defer cancel()

	dtlsConn, err := dtls.ClientWithContext(ctx, c.conn, c.config.DTLS)
	if err != nil {
		_ = c.lifecycle.Fail()
		return errs.Fatal("transport.dtls.client_handshake", err)
	}
	c.dtlsConn = dtlsConn
	c.stats.ConnectedAt = time.Now()
	return c.lifecycle.Establish()
}

// ConnectServer performs the DTLS handshake as a server, blocking for the
// first peer handshake to complete.
func (c *SecureChannel) ConnectServer(ctx context.Context) error {
	if err := c.lifecycle.Connect(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.config.HandshakeTimeout)
	defer cancel()

	dtlsConn, err := dtls.ServerWithContext(ctx, c.conn, c.config.DTLS)
	if err != nil {
		_ = c.lifecycle.Fail()
		return errs.Fatal("transport.dtls.server_handshake", err)
	}
	c.dtlsConn = dtlsConn
	c.stats.ConnectedAt = time.Now()
	return c.lifecycle.Establish()
}

// Send writes a plaintext RTP/RTCP byte slice through the DTLS channel.
// Only valid once the lifecycle is connected (spec.md §6); called while
// not connected, it returns a KindInvariant error without touching state.
func (c *SecureChannel) Send(b []byte) error {
	if !c.lifecycle.CanFlow() {
		return errs.Invariant("transport.dtls.send", errNotConnected)
	}
	n, err := c.dtlsConn.Write(b)
	if err != nil {
		c.stats.ErrorsSend++
		return errs.Fatal("transport.dtls.send", err)
	}
	c.stats.PacketsSent++
	c.stats.BytesSent += uint64(n)
	return nil
}

// Receive reads one plaintext RTP/RTCP byte slice, blocking until data
// arrives, ctx's deadline (if it has one) passes, or the channel closes.
// Cancelling a ctx that has no deadline does not end the read.
func (c *SecureChannel) Receive(ctx context.Context, buf []byte) (int, error) {
	if !c.lifecycle.CanFlow() {
		return 0, errs.Invariant("transport.dtls.receive", errNotConnected)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.dtlsConn.SetReadDeadline(deadline)
	}
	n, err := c.dtlsConn.Read(buf)
	if err != nil {
		c.stats.ErrorsReceive++
		return 0, errs.Fatal("transport.dtls.receive", err)
	}
	c.stats.PacketsReceived++
	c.stats.BytesReceived += uint64(n)
	return n, nil
}

// Close tears down the DTLS connection and the underlying socket,
// transitioning the lifecycle to closed regardless of its prior state.
func (c *SecureChannel) Close() error {
	defer c.lifecycle.Close()
	if c.dtlsConn != nil {
		_ = c.dtlsConn.Close()
	}
	return c.conn.Close()
}

// Stats returns a snapshot of the channel's send/receive counters.
func (c *SecureChannel) Stats() Statistics { return c.stats }
