package cftp

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// testHandler is a minimal, in-memory Handler[net.Conn] used to drive the
// session state machine in tests.
type testHandler struct {
	mu sync.Mutex

	cwd          string
	hasCwd       bool
	listing      []FileListing
	lsErr        error
	renameErr    error
	renamedFrom  string
	renamedTo    string
	authUser     string
	authPass     string
	authOK       bool
	authErr      error
	passiveAddr  net.Addr
	passiveConns chan net.Conn
}

func newTestHandler() *testHandler {
	return &testHandler{
		cwd:          "/",
		hasCwd:       true,
		authOK:       true,
		passiveAddr:  &net.TCPAddr{IP: net.ParseIP("127.0.0.1").To4(), Port: 4000},
		passiveConns: make(chan net.Conn, 1),
	}
}

func (h *testHandler) Welcome(ctx context.Context) string { return DefaultWelcome }

func (h *testHandler) Authenticate(ctx context.Context, username, password string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.authUser, h.authPass = username, password

	return h.authOK, h.authErr
}

func (h *testHandler) Cwd(ctx context.Context) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.cwd, h.hasCwd
}

func (h *testHandler) SetCwd(ctx context.Context, path string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.cwd = path
	h.hasCwd = true

	return true
}

func (h *testHandler) Ls(ctx context.Context) ([]FileListing, error) {
	return h.listing, h.lsErr
}

func (h *testHandler) Rename(ctx context.Context, from, to string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.renamedFrom, h.renamedTo = from, to

	return h.renameErr
}

type testPassiveFactory struct {
	h *testHandler
}

func (f *testPassiveFactory) CreateData(ctx context.Context) (net.Conn, error) {
	return <-f.h.passiveConns, nil
}

func (h *testHandler) PassiveConn(ctx context.Context) (PassiveConn[net.Conn], error) {
	return NewPassiveConn[net.Conn](h.passiveAddr, &testPassiveFactory{h: h}), nil
}

func (h *testHandler) OSInfo(ctx context.Context) string { return DefaultOSInfo }

func (h *testHandler) Features(ctx context.Context) map[string]struct{} { return nil }

func (h *testHandler) Read(ctx context.Context, path string, w io.Writer) error {
	_, err := w.Write([]byte("file contents"))
	return err
}

func (h *testHandler) Write(ctx context.Context, path string, r io.Reader) error {
	_, err := io.ReadAll(r)
	return err
}

// sessionFixture wires a Session[net.Conn] to one end of a net.Pipe and
// runs it in the background, leaving the test to drive the other end as
// the client.
type sessionFixture struct {
	client  net.Conn
	handler *testHandler
	reader  *bufio.Reader
	done    chan error
}

func newSessionFixture(t *testing.T, tlsPolicy *TLSPolicy) *sessionFixture {
	t.Helper()

	serverConn, clientConn := net.Pipe()
	handler := newTestHandler()
	sess := NewSession[net.Conn](serverConn, handler, tlsPolicy)

	f := &sessionFixture{
		client:  clientConn,
		handler: handler,
		reader:  bufio.NewReader(clientConn),
		done:    make(chan error, 1),
	}

	go func() { f.done <- sess.Run(context.Background()) }()

	return f
}

func (f *sessionFixture) sendLine(t *testing.T, line string) {
	t.Helper()

	_, err := f.client.Write([]byte(line + "\r\n"))
	require.NoError(t, err)
}

func (f *sessionFixture) readReply(t *testing.T) string {
	t.Helper()

	line, err := f.reader.ReadString('\n')
	require.NoError(t, err)

	return strings.TrimRight(line, "\r\n")
}

func (f *sessionFixture) close() {
	_ = f.client.Close()
}

func TestSessionAnonymousListing(t *testing.T) {
	f := newSessionFixture(t, nil)
	defer f.close()

	require.Equal(t, "220 cftp by nullptr", f.readReply(t))

	f.sendLine(t, "USER anonymous")
	require.Equal(t, "331 Need password", f.readReply(t))

	f.sendLine(t, "PASS guest")
	require.Equal(t, "230 User logged in", f.readReply(t))

	f.sendLine(t, "PASV")
	reply := f.readReply(t)
	require.True(t, strings.HasPrefix(reply, "227 (127,0,0,1,"))

	f.handler.listing = []FileListing{{
		Name: "file1.txt", IsDir: false, Permissions: 0o644, Size: 1234,
		Modified: time.Now(), Owner: "user", Group: "group",
	}}

	dataServer, dataClient := net.Pipe()
	f.handler.passiveConns <- dataServer

	f.sendLine(t, "LIST")
	require.Equal(t, "150 Opening data connection", f.readReply(t))

	dataReader := bufio.NewReader(dataClient)
	lsLine, err := dataReader.ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, lsLine, "file1.txt")
	require.True(t, strings.HasPrefix(lsLine, "-rw-r--r--"))

	require.Equal(t, "226 Closing data connection", f.readReply(t))
}

func TestSessionRenameSequence(t *testing.T) {
	f := newSessionFixture(t, nil)
	defer f.close()

	f.readReply(t)
	f.sendLine(t, "USER alice")
	f.readReply(t)
	f.sendLine(t, "PASS pw")
	f.readReply(t)

	f.sendLine(t, "RNFR /a.txt")
	require.Equal(t, "350 File action pending", f.readReply(t))

	f.sendLine(t, "RNTO /b.txt")
	require.Equal(t, "200 Rename successful", f.readReply(t))
	require.Equal(t, "/a.txt", f.handler.renamedFrom)
	require.Equal(t, "/b.txt", f.handler.renamedTo)
}

func TestSessionRenameWithoutSource(t *testing.T) {
	f := newSessionFixture(t, nil)
	defer f.close()

	f.readReply(t)
	f.sendLine(t, "USER alice")
	f.readReply(t)
	f.sendLine(t, "PASS pw")
	f.readReply(t)

	f.sendLine(t, "RNTO /b.txt")
	require.Equal(t, "503 RNFR required first", f.readReply(t))
}

func TestSessionPlaintextForbiddenUser(t *testing.T) {
	serverCert, err := tls.X509KeyPair(localhostCert, localhostKey)
	require.NoError(t, err)

	policy := &TLSPolicy{
		Config:         &tls.Config{Certificates: []tls.Certificate{serverCert}},
		AllowPlaintext: false,
	}

	f := newSessionFixture(t, policy)
	defer f.close()

	f.readReply(t)
	f.sendLine(t, "USER alice")
	require.Equal(t, "530 Please use AUTH TLS before sending USER command.", f.readReply(t))
}

func TestSessionAuthTLSUpgradeThenLogin(t *testing.T) {
	serverCert, err := tls.X509KeyPair(localhostCert, localhostKey)
	require.NoError(t, err)

	policy := &TLSPolicy{
		Config:         &tls.Config{Certificates: []tls.Certificate{serverCert}},
		AllowPlaintext: false,
	}

	f := newSessionFixture(t, policy)
	defer f.close()

	f.readReply(t)
	f.sendLine(t, "AUTH TLS")
	require.Equal(t, "234 Starting TLS negotiation.", f.readReply(t))

	clientTLS := tls.Client(f.client, &tls.Config{InsecureSkipVerify: true})
	require.NoError(t, clientTLS.Handshake())

	tlsReader := bufio.NewReader(clientTLS)

	_, err = clientTLS.Write([]byte("USER alice\r\n"))
	require.NoError(t, err)

	line, err := tlsReader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "331 Need password", strings.TrimRight(line, "\r\n"))

	_, err = clientTLS.Write([]byte("PASS pw\r\n"))
	require.NoError(t, err)

	line, err = tlsReader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "230 User logged in", strings.TrimRight(line, "\r\n"))
}

func TestSessionAuthTLSTwiceIsNoop(t *testing.T) {
	serverCert, err := tls.X509KeyPair(localhostCert, localhostKey)
	require.NoError(t, err)

	policy := &TLSPolicy{
		Config: &tls.Config{Certificates: []tls.Certificate{serverCert}},
	}

	f := newSessionFixture(t, policy)
	defer f.close()

	f.readReply(t)
	f.sendLine(t, "AUTH TLS")
	require.Equal(t, "234 Starting TLS negotiation.", f.readReply(t))

	clientTLS := tls.Client(f.client, &tls.Config{InsecureSkipVerify: true})
	require.NoError(t, clientTLS.Handshake())

	tlsReader := bufio.NewReader(clientTLS)

	_, err = clientTLS.Write([]byte("AUTH TLS\r\n"))
	require.NoError(t, err)

	line, err := tlsReader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "234 Already using TLS", strings.TrimRight(line, "\r\n"))

	// The session must still be alive and accepting commands afterward,
	// not terminated the way a genuine upgrade failure would be.
	_, err = clientTLS.Write([]byte("USER alice\r\n"))
	require.NoError(t, err)

	line, err = tlsReader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "331 Need password", strings.TrimRight(line, "\r\n"))
}

func TestSessionUnrecognizedCommandPreAuthTerminates(t *testing.T) {
	f := newSessionFixture(t, nil)
	defer f.close()

	f.readReply(t)
	f.sendLine(t, "NOOP")
	require.Equal(t, "503 Please login with USER and PASS", f.readReply(t))

	err := <-f.done
	require.NoError(t, err)
}

func TestSessionUnrecognizedCommandPostAuthContinues(t *testing.T) {
	f := newSessionFixture(t, nil)
	defer f.close()

	f.readReply(t)
	f.sendLine(t, "USER alice")
	f.readReply(t)
	f.sendLine(t, "PASS pw")
	f.readReply(t)

	f.sendLine(t, "NOOP")
	reply := f.readReply(t)
	require.True(t, strings.HasPrefix(reply, "502 "))

	f.sendLine(t, "SYST")
	require.Equal(t, fmt.Sprintf("215 %s", DefaultOSInfo), f.readReply(t))
}
