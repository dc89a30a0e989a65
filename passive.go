package cftp

import (
	"context"
	"io"
	"net"
)

// PassiveFactory creates the single data-channel stream a passive-mode
// transfer will use. It is consumed exactly once: after CreateData returns
// a non-nil stream, the factory is done and may release any listening
// socket it was holding.
type PassiveFactory[S io.ReadWriteCloser] interface {
	// CreateData blocks until a client connects to the passive address (or
	// ctx is done) and returns the resulting stream.
	CreateData(ctx context.Context) (S, error)
}

// PassiveConn pairs a PassiveFactory with the address the client should be
// told to connect to. It is produced by Handler.PassiveConn and consumed by the
// session driver, which calls CreateData at most once per PASV/transfer
// pair.
type PassiveConn[S io.ReadWriteCloser] struct {
	addr    net.Addr
	factory PassiveFactory[S]
}

// NewPassiveConn builds a PassiveConn from a resolved address and the
// factory that will hand out its one data stream.
func NewPassiveConn[S io.ReadWriteCloser](addr net.Addr, factory PassiveFactory[S]) PassiveConn[S] {
	return PassiveConn[S]{addr: addr, factory: factory}
}

// CreateData delegates to the wrapped factory. Calling it more than once is
// a driver bug; factories are single-shot and may behave arbitrarily (most
// will simply error) on a second call.
func (p PassiveConn[S]) CreateData(ctx context.Context) (S, error) {
	return p.factory.CreateData(ctx)
}

// Reply renders the 227 response a client should receive for this passive
// connection, or nil if the address isn't IPv4 (PASV has no IPv6 form; the
// session driver should fall back to a "can't do passive" error in that
// case rather than send a garbage reply).
func (p PassiveConn[S]) Reply() Response {
	tcpAddr, ok := p.addr.(*net.TCPAddr)
	if !ok {
		return nil
	}

	ip4 := tcpAddr.IP.To4()
	if ip4 == nil {
		return nil
	}

	var ip [4]byte
	copy(ip[:], ip4)

	return EnteringPassiveMode{IP: ip, Port: Port(tcpAddr.Port)}
}
