//go:build linux

package transport

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// setSockOptReusePort enables SO_REUSEPORT so multiple worker processes
// can share one listening port with kernel-level load distribution.
func setSockOptReusePort(fd int) error {
	return syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, unix.SO_REUSEPORT, 1)
}

// setSockOptBindToDevice pins the socket to a specific network interface.
func setSockOptBindToDevice(fd int, device string) error {
	return syscall.SetsockoptString(fd, syscall.SOL_SOCKET, unix.SO_BINDTODEVICE, device)
}

// setSockOptVoiceOptimizations applies Linux-specific low-latency tuning.
func setSockOptVoiceOptimizations(fd int) error {
	_ = syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, unix.SO_PRIORITY, 6)
	_ = syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, unix.SO_BUSY_POLL, 50)
	return nil
}

// setSockOptDSCP marks outgoing packets with the given DSCP class.
func setSockOptDSCP(fd, dscp int) error {
	tos := dscp << 2
	if err := syscall.SetsockoptInt(fd, syscall.IPPROTO_IP, syscall.IP_TOS, tos); err != nil {
		return nil // containers commonly restrict IP_TOS; not fatal to media flow
	}
	_ = syscall.SetsockoptInt(fd, syscall.IPPROTO_IPV6, unix.IPV6_TCLASS, tos)
	return nil
}
