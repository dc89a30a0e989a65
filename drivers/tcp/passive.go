package tcp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/nullptr-oss/cftp"
)

// ErrNoAvailableListeningPort is returned when no port within a configured
// PortRange could be bound after a reasonable number of attempts.
var ErrNoAvailableListeningPort = errors.New("cftp/tcp: could not find any port to listen on")

// PortRange restricts passive listeners to a fixed span of ports, e.g. to
// satisfy a firewall rule. A nil *PortRange (the Factory default) means any
// ephemeral port is acceptable.
type PortRange struct {
	Start int
	End   int
}

// Factory builds PassiveConn[net.Conn] values backed by real TCP listeners.
// One Factory is typically shared across all sessions served by a Listener;
// each PASV call binds its own listener and is torn down after one accept.
type Factory struct {
	portRange     *PortRange
	tlsConfig     *tls.Config
	acceptTimeout time.Duration
	publicIP      string
	resolveIP     func(ctx context.Context) (string, error)
}

// Option configures a Factory.
type Option func(*Factory)

// WithPortRange restricts passive listeners to the given port span.
func WithPortRange(r PortRange) Option {
	return func(f *Factory) { f.portRange = &r }
}

// WithTLS wraps every passive listener in a TLS server, for FTPS data
// connections.
func WithTLS(cfg *tls.Config) Option {
	return func(f *Factory) { f.tlsConfig = cfg }
}

// WithAcceptTimeout bounds how long a passive listener waits for the client
// to connect back before CreateData fails.
func WithAcceptTimeout(d time.Duration) Option {
	return func(f *Factory) { f.acceptTimeout = d }
}

// WithPublicIP fixes the IP advertised in PASV replies, for servers behind
// a NAT whose external address can't be derived from the socket itself.
func WithPublicIP(ip string) Option {
	return func(f *Factory) { f.publicIP = ip }
}

// WithPublicIPResolver overrides how the advertised IP is determined,
// taking precedence over WithPublicIP.
func WithPublicIPResolver(resolve func(ctx context.Context) (string, error)) Option {
	return func(f *Factory) { f.resolveIP = resolve }
}

// NewFactory builds a Factory with the given options.
func NewFactory(opts ...Option) *Factory {
	f := &Factory{}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Listen binds one passive listener and returns the PassiveConn a session
// should hand back from Handler.PassiveConn. localAddr is the control
// connection's local address, used to derive the advertised IP when no
// fixed IP or resolver was configured.
func (f *Factory) Listen(ctx context.Context, localAddr net.Addr) (cftp.PassiveConn[net.Conn], error) {
	tcpListener, err := f.bind()
	if err != nil {
		return cftp.PassiveConn[net.Conn]{}, err
	}

	ip, err := f.resolvePublicIP(ctx, localAddr)
	if err != nil {
		_ = tcpListener.Close()
		return cftp.PassiveConn[net.Conn]{}, err
	}

	parsedIP := net.ParseIP(ip)
	if parsedIP == nil {
		_ = tcpListener.Close()
		return cftp.PassiveConn[net.Conn]{}, fmt.Errorf("cftp/tcp: invalid public IP %q", ip)
	}

	addr := &net.TCPAddr{IP: parsedIP, Port: tcpListener.Addr().(*net.TCPAddr).Port}

	var listener net.Listener = tcpListener
	if f.tlsConfig != nil {
		listener = tls.NewListener(tcpListener, f.tlsConfig)
	}

	sf := &singleShotFactory{
		listener:    listener,
		tcpListener: tcpListener,
		timeout:     f.acceptTimeout,
	}

	return cftp.NewPassiveConn[net.Conn](addr, sf), nil
}

func (f *Factory) bind() (*net.TCPListener, error) {
	if f.portRange == nil {
		addr, err := net.ResolveTCPAddr("tcp", ":0")
		if err != nil {
			return nil, err
		}

		return net.ListenTCP("tcp", addr)
	}

	nbAttempts := f.portRange.End - f.portRange.Start
	if nbAttempts < 10 {
		nbAttempts = 10
	} else if nbAttempts > 1000 {
		nbAttempts = 1000
	}

	span := f.portRange.End - f.portRange.Start + 1

	for i := 0; i < nbAttempts; i++ {
		// nolint: gosec
		port := f.portRange.Start + rand.Intn(span)

		laddr, err := net.ResolveTCPAddr("tcp", fmt.Sprintf("0.0.0.0:%d", port))
		if err != nil {
			continue
		}

		ln, err := net.ListenTCP("tcp", laddr)
		if err == nil {
			return ln, nil
		}
	}

	return nil, ErrNoAvailableListeningPort
}

func (f *Factory) resolvePublicIP(ctx context.Context, localAddr net.Addr) (string, error) {
	if f.resolveIP != nil {
		return f.resolveIP(ctx)
	}

	if f.publicIP != "" {
		return f.publicIP, nil
	}

	host, _, err := net.SplitHostPort(localAddr.String())
	if err != nil {
		return "", fmt.Errorf("cftp/tcp: could not derive public IP from %q: %w", localAddr, err)
	}

	return strings.TrimSuffix(host, "]"), nil
}

// singleShotFactory implements cftp.PassiveFactory[net.Conn] around one bound
// listener, torn down after its one accepted connection (or on error).
type singleShotFactory struct {
	listener    net.Listener
	tcpListener *net.TCPListener
	timeout     time.Duration
}

func (s *singleShotFactory) CreateData(ctx context.Context) (net.Conn, error) {
	if s.timeout > 0 {
		if err := s.tcpListener.SetDeadline(time.Now().Add(s.timeout)); err != nil {
			_ = s.listener.Close()
			return nil, fmt.Errorf("cftp/tcp: failed to set accept deadline: %w", err)
		}
	}

	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			_ = s.listener.Close()
		case <-done:
		}
	}()

	conn, err := s.listener.Accept()

	_ = s.listener.Close()

	if err != nil {
		return nil, err
	}

	return conn, nil
}
