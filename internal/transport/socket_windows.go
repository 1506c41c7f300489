//go:build windows

package transport

import "syscall"

// setSocketOptions applies SO_REUSEADDR. Windows has no SO_REUSEPORT
// equivalent.
func setSocketOptions(fd uintptr) error {
	return syscall.SetsockoptInt(syscall.Handle(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
}

// setReusePort is a no-op on Windows; SO_REUSEPORT does not exist there.
func setReusePort(fd uintptr) error {
	return nil
}
