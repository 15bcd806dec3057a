//go:build !linux

package connio

import "syscall"

// setReuseAddrAndPort is a no-op outside Linux: SO_REUSEPORT has no
// portable equivalent, so a restarted Router on other platforms simply
// waits out TIME_WAIT like any other listener.
func setReuseAddrAndPort(_, _ string, _ syscall.RawConn) error {
	return nil
}
