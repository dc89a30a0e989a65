//go:build linux || freebsd || darwin || aix || dragonfly || netbsd || openbsd
// +build linux freebsd darwin aix dragonfly netbsd openbsd

package tcp

import (
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

// reuseControl is used as a net.ListenConfig.Control so that the control
// listener can rebind the same port/address across process restarts without
// waiting out TIME_WAIT. Passive listeners are bound without it.
func reuseControl(_, _ string, c syscall.RawConn) error {
	var errSetOpts error

	err := c.Control(func(fd uintptr) {
		errSetOpts = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		if errSetOpts != nil {
			return
		}

		errSetOpts = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
	if err != nil {
		return fmt.Errorf("cftp/tcp: unable to set socket options: %w", err)
	}

	if errSetOpts != nil {
		return fmt.Errorf("cftp/tcp: unable to set socket options: %w", errSetOpts)
	}

	return nil
}
