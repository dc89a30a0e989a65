package cftp

import (
	"crypto/tls"
	"errors"
	"io"
	"net"
	"time"
)

// errUpgradeBroken is returned by every I/O method once a control
// connection's TLS upgrade has failed. There is no going back to plaintext
// once a handshake has been attempted on the wire: the stream may already
// have consumed bytes that belonged to the negotiation, so continuing in
// any state risks desyncing the client and server.
var errUpgradeBroken = errors.New("cftp: TLS upgrade failed, connection is unusable")

// connState is the three-way state a control connection can be in.
type connState int

const (
	connPlain connState = iota
	connTLS
	connUpgradeBroken
)

// controlConn wraps the control-channel net.Conn so that an in-band AUTH
// TLS can swap the underlying transport without the session driver above
// it needing to know the difference. Once upgraded, it never reverts.
type controlConn struct {
	state connState
	plain net.Conn
	tls   *tls.Conn
}

// newControlConn wraps an already-accepted connection in its plaintext
// state.
func newControlConn(c net.Conn) *controlConn {
	return &controlConn{state: connPlain, plain: c}
}

// current returns the net.Conn this wrapper should currently read/write
// through, or nil if the upgrade is broken.
func (c *controlConn) current() net.Conn {
	switch c.state {
	case connTLS:
		return c.tls
	case connPlain:
		return c.plain
	default:
		return nil
	}
}

// UpgradeToTLS swaps the plaintext connection for a TLS server-side
// connection and performs the handshake immediately, so a failure is
// reported to the caller rather than surfacing later as a confusing read
// error. On failure the connection is left in connUpgradeBroken: every
// subsequent Read/Write returns errUpgradeBroken instead of silently
// falling back to plaintext.
//
// Calling this again once the connection is already TLS is a no-op: it
// returns nil without touching the handshake, so a second AUTH TLS doesn't
// tear down a working connection. Only a connection left broken by a prior
// failed handshake reports ErrPreviousUpgradeFailure.
func (c *controlConn) UpgradeToTLS(config *tls.Config) error {
	switch c.state {
	case connTLS:
		return nil
	case connUpgradeBroken:
		return ErrPreviousUpgradeFailure
	}

	tlsConn := tls.Server(c.plain, config)

	if err := tlsConn.Handshake(); err != nil {
		c.state = connUpgradeBroken
		return err
	}

	c.tls = tlsConn
	c.state = connTLS

	return nil
}

// IsTLS reports whether the control channel is currently TLS-protected.
func (c *controlConn) IsTLS() bool {
	return c.state == connTLS
}

// SetReadDeadline passes a read deadline through to the underlying
// connection, used by the session driver's idle timeout.
func (c *controlConn) SetReadDeadline(t time.Time) error {
	conn := c.current()
	if conn == nil {
		return errUpgradeBroken
	}

	return conn.SetReadDeadline(t)
}

func (c *controlConn) Read(b []byte) (int, error) {
	conn := c.current()
	if conn == nil {
		return 0, errUpgradeBroken
	}

	return conn.Read(b)
}

func (c *controlConn) Write(b []byte) (int, error) {
	conn := c.current()
	if conn == nil {
		return 0, errUpgradeBroken
	}

	return conn.Write(b)
}

func (c *controlConn) Close() error {
	conn := c.current()
	if conn == nil {
		return c.plain.Close()
	}

	return conn.Close()
}

var _ io.ReadWriteCloser = (*controlConn)(nil)
