//go:build linux

package connio

import (
	"syscall"
)

// setReuseAddrAndPort is a net.ListenConfig.Control hook enabling
// SO_REUSEADDR and SO_REUSEPORT before bind, so a restarted Router can
// rebind its listen port immediately.
func setReuseAddrAndPort(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		if err := syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1); err != nil {
			sockErr = err
			return
		}
		if err := syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, unixSOReusePort, 1); err != nil {
			sockErr = err
			return
		}
	})
	if err != nil {
		return err
	}
	return sockErr
}

// unixSOReusePort is SO_REUSEPORT's value on Linux; the syscall package
// does not export it directly.
const unixSOReusePort = 0xf
