//go:build windows

package transport

import (
	"syscall"

	"golang.org/x/sys/windows"
)

// setSockOptReusePort on Windows there is no SO_REUSEPORT, SO_REUSEADDR is
// the closest equivalent.
func setSockOptReusePort(fd int) error {
	return syscall.SetsockoptInt(syscall.Handle(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
}

// setSockOptBindToDevice is a no-op on Windows: binding to an interface
// requires dialing/listening on that interface's IP directly.
func setSockOptBindToDevice(fd int, device string) error {
	return nil
}

// setSockOptVoiceOptimizations applies Windows-specific tuning.
func setSockOptVoiceOptimizations(fd int) error {
	handle := syscall.Handle(fd)
	_ = syscall.SetsockoptInt(handle, syscall.SOL_SOCKET, syscall.SO_KEEPALIVE, 1)
	_ = windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_RCVBUF, VoiceRecvBufBytes)
	_ = windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_SNDBUF, VoiceSendBufBytes)
	return nil
}

// setSockOptDSCP marks outgoing packets with the given DSCP class.
func setSockOptDSCP(fd, dscp int) error {
	handle := syscall.Handle(fd)
	tos := dscp << 2
	if err := syscall.SetsockoptInt(handle, syscall.IPPROTO_IP, syscall.IP_TOS, tos); err != nil {
		return nil // Windows commonly requires admin rights for QoS marking
	}
	_ = syscall.SetsockoptInt(handle, syscall.IPPROTO_IPV6, windows.IPV6_TCLASS, tos)
	return nil
}
