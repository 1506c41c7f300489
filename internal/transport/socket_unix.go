//go:build !windows

package transport

import "golang.org/x/sys/unix"

// setSocketOptions applies SO_REUSEADDR, which every platform this
// package targets supports.
func setSocketOptions(fd uintptr) error {
	return unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
}

// setReusePort applies SO_REUSEPORT so several responders/queriers on the
// same host can bind port 5353 concurrently (Linux, BSD, macOS).
func setReusePort(fd uintptr) error {
	return unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
}
