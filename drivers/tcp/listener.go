package tcp

import (
	"context"
	"net"
)

// Listener accepts control-channel connections on a TCP address, with
// SO_REUSEADDR/SO_REUSEPORT set where the platform supports it so a
// restarted daemon can rebind immediately.
type Listener struct {
	ln net.Listener
}

// NewListener binds address ("host:port", port 0 for an ephemeral port).
func NewListener(ctx context.Context, address string) (*Listener, error) {
	lc := net.ListenConfig{Control: reuseControl}

	ln, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}

	return &Listener{ln: ln}, nil
}

// Addr returns the address the listener is bound to.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Close stops accepting new connections.
func (l *Listener) Close() error { return l.ln.Close() }

// Serve accepts connections until the listener is closed or ctx is done,
// handing each one to handle on its own goroutine. It returns nil when
// ctx's cancellation is what stopped the loop.
func (l *Listener) Serve(ctx context.Context, handle func(net.Conn)) error {
	go func() {
		<-ctx.Done()
		_ = l.ln.Close()
	}()

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return err
		}

		go handle(conn)
	}
}
