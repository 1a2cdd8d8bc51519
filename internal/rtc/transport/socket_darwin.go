//go:build darwin

package transport

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// setSockOptReusePort enables address/port reuse on macOS.
func setSockOptReusePort(fd int) error {
	if err := syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1); err != nil {
		return err
	}
	_ = syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	return nil
}

// setSockOptBindToDevice is a no-op on macOS: there is no SO_BINDTODEVICE
// equivalent, interface binding must happen via a specific local IP at
// dial/listen time instead.
func setSockOptBindToDevice(fd int, device string) error {
	return nil
}

// setSockOptVoiceOptimizations applies macOS-specific tuning.
func setSockOptVoiceOptimizations(fd int) error {
	_ = syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, unix.SO_NOSIGPIPE, 1)
	return nil
}

// setSockOptDSCP marks outgoing packets with the given DSCP class.
func setSockOptDSCP(fd, dscp int) error {
	tos := dscp << 2
	if err := syscall.SetsockoptInt(fd, syscall.IPPROTO_IP, syscall.IP_TOS, tos); err != nil {
		return nil // macOS may require elevated privileges for some TOS values
	}
	_ = syscall.SetsockoptInt(fd, syscall.IPPROTO_IPV6, unix.IPV6_TCLASS, tos)
	return nil
}
