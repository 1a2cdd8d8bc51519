package transport

import (
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/arzzra/sfu-worker/internal/rtc/errs"
)

// Socket tuning constants for the media UDP path, sized for RTP/RTCP
// rather than bulk transfer: small enough to keep latency low, large
// enough to absorb a short burst without drops.
const (
	DefaultBufferSize  = 1500 // one Ethernet MTU, unfragmented
	VoiceRecvBufBytes  = 1 << 16
	VoiceSendBufBytes  = 1 << 16
	DefaultRecvTimeout = 100 * time.Millisecond
	DefaultSendTimeout = 50 * time.Millisecond

	// DSCP classes per RFC 4594.
	DSCPExpeditedForwarding = 46 // EF, interactive audio
	DSCPAssuredForwarding41 = 34 // AF41, video
	DSCPBestEffort          = 0
)

// SocketConfig configures OS-level tuning applied to a media UDP socket.
type SocketConfig struct {
	LocalAddr      string
	RemoteAddr     string // empty binds a listening socket instead of dialing
	BufferSize     int
	ReusePort      bool
	DSCP           int
	BindToDevice   string
	ReceiveTimeout time.Duration
	SendTimeout    time.Duration
}

// ApplyDefaults fills unset fields with the media-path defaults above.
func (c *SocketConfig) ApplyDefaults() {
	if c.BufferSize == 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.ReceiveTimeout == 0 {
		c.ReceiveTimeout = DefaultRecvTimeout
	}
	if c.SendTimeout == 0 {
		c.SendTimeout = DefaultSendTimeout
	}
}

// Validate checks the config for internal consistency.
func (c *SocketConfig) Validate() error {
	if c.LocalAddr == "" {
		return errs.Invariant("transport.socket.validate", fmt.Errorf("local address required"))
	}
	if c.BufferSize < 0 {
		return errs.Invariant("transport.socket.validate", fmt.Errorf("buffer size cannot be negative"))
	}
	if c.DSCP < 0 || c.DSCP > 63 {
		return errs.Invariant("transport.socket.validate", fmt.Errorf("DSCP must be in range 0-63"))
	}
	return nil
}

// DialUDP opens a tuned UDP socket per config: dials RemoteAddr if set,
// otherwise listens on LocalAddr.
func DialUDP(config SocketConfig) (*net.UDPConn, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	localAddr, err := net.ResolveUDPAddr("udp", config.LocalAddr)
	if err != nil {
		return nil, errs.Invariant("transport.socket.dial", fmt.Errorf("resolve local addr %q: %w", config.LocalAddr, err))
	}

	var conn *net.UDPConn
	if config.RemoteAddr != "" {
		remoteAddr, err := net.ResolveUDPAddr("udp", config.RemoteAddr)
		if err != nil {
			return nil, errs.Invariant("transport.socket.dial", fmt.Errorf("resolve remote addr %q: %w", config.RemoteAddr, err))
		}
		conn, err = net.DialUDP("udp", localAddr, remoteAddr)
		if err != nil {
			return nil, errs.Fatal("transport.socket.dial", err)
		}
	} else {
		conn, err = net.ListenUDP("udp", localAddr)
		if err != nil {
			return nil, errs.Fatal("transport.socket.listen", err)
		}
	}

	if err := tuneForMedia(conn, config); err != nil {
		conn.Close()
		return nil, errs.Fatal("transport.socket.tune", err)
	}
	return conn, nil
}

func tuneForMedia(conn *net.UDPConn, config SocketConfig) error {
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("syscall conn: %w", err)
	}
	var sockErr error
	err = rawConn.Control(func(fd uintptr) {
		sockErr = applyMediaSockOpts(int(fd), config)
	})
	if err != nil {
		return fmt.Errorf("control fd: %w", err)
	}
	return sockErr
}

func applyMediaSockOpts(fd int, config SocketConfig) error {
	recvBuf := VoiceRecvBufBytes
	sendBuf := VoiceSendBufBytes
	if config.BufferSize > DefaultBufferSize {
		recvBuf = config.BufferSize * 4
		sendBuf = config.BufferSize * 2
	}
	if err := syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_RCVBUF, recvBuf); err != nil {
		return fmt.Errorf("SO_RCVBUF: %w", err)
	}
	if err := syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_SNDBUF, sendBuf); err != nil {
		return fmt.Errorf("SO_SNDBUF: %w", err)
	}
	if config.DSCP > 0 {
		if err := setSockOptDSCP(fd, config.DSCP); err != nil {
			return fmt.Errorf("DSCP: %w", err)
		}
	}
	if config.ReusePort {
		if err := setSockOptReusePort(fd); err != nil {
			return fmt.Errorf("SO_REUSEPORT: %w", err)
		}
	}
	if config.BindToDevice != "" {
		if err := setSockOptBindToDevice(fd, config.BindToDevice); err != nil {
			return fmt.Errorf("bind to device %s: %w", config.BindToDevice, err)
		}
	}
	return setSockOptVoiceOptimizations(fd)
}

// Statistics tracks per-transport send/receive counters, reported through
// getStats on the control channel (spec.md §6).
type Statistics struct {
	PacketsSent     uint64
	PacketsReceived uint64
	BytesSent       uint64
	BytesReceived   uint64
	ErrorsSend      uint64
	ErrorsReceive   uint64
	ConnectedAt     time.Time
}

// Uptime returns time elapsed since ConnectedAt, or 0 if not yet connected.
func (s *Statistics) Uptime() time.Duration {
	if s.ConnectedAt.IsZero() {
		return 0
	}
	return time.Since(s.ConnectedAt)
}
