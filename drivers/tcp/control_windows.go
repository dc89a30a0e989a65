package tcp

import (
	"syscall"

	"golang.org/x/sys/windows"
)

// reuseControl is used as a net.ListenConfig.Control on Windows, which has no
// SO_REUSEPORT equivalent.
func reuseControl(_, _ string, c syscall.RawConn) error {
	var errSetOpts error

	err := c.Control(func(fd uintptr) {
		errSetOpts = windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}

	return errSetOpts
}
