package cftp

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	golog "github.com/fclairamb/go-log"
	lognoop "github.com/fclairamb/go-log/noop"
)

// TLSPolicy configures whether and how a session may upgrade to TLS. A nil
// *TLSPolicy passed to NewSession means TLS is not available at all: AUTH
// always replies 502 with ErrTLSNotConfigured's message, and AllowPlaintext
// is implicitly true.
type TLSPolicy struct {
	// Config is the server-side TLS configuration used for both the
	// explicit AUTH TLS upgrade and implicit TLS.
	Config *tls.Config

	// Implicit, when true, performs the TLS handshake immediately on
	// accept rather than waiting for AUTH TLS.
	Implicit bool

	// AllowPlaintext, when false, refuses USER over a non-TLS transport.
	AllowPlaintext bool
}

type authPhase int

const (
	authAwaitingUser authPhase = iota
	authAwaitingPass
	authAuthenticated
)

var defaultFeatures = map[string]struct{}{
	"UTF8": {}, "SIZE": {}, "MDTM": {}, "MFMT": {}, "MLST": {}, "MLSD": {},
}

// Session drives one control-channel connection end to end: accept,
// optional implicit TLS, pre-authentication, password exchange, and the
// post-login command loop. S is the data-stream type produced by the
// handler's passive factory.
type Session[S io.ReadWriteCloser] struct {
	conn    *controlConn
	reader  *bufio.Reader
	writer  *bufio.Writer
	handler Handler[S]
	tls     *TLSPolicy
	logger  golog.Logger

	idleTimeout time.Duration

	authPhase      authPhase
	username       string
	passiveConn    *PassiveConn[S]
	pendingRenFrom *string
}

// SessionOption configures optional Session behavior.
type SessionOption[S io.ReadWriteCloser] func(*Session[S])

// WithLogger overrides the session's logger, which defaults to a no-op.
func WithLogger[S io.ReadWriteCloser](l golog.Logger) SessionOption[S] {
	return func(s *Session[S]) { s.logger = l }
}

// WithIdleTimeout arms a read deadline of d before each command read, so
// Run returns the read's timeout error if no command line arrives in time.
// Zero (the default) disables the timeout.
func WithIdleTimeout[S io.ReadWriteCloser](d time.Duration) SessionOption[S] {
	return func(s *Session[S]) { s.idleTimeout = d }
}

// NewSession wraps an accepted connection for one handler instance.
// tlsPolicy may be nil to disable TLS entirely.
func NewSession[S io.ReadWriteCloser](conn net.Conn, handler Handler[S], tlsPolicy *TLSPolicy, opts ...SessionOption[S]) *Session[S] {
	s := &Session[S]{
		conn:    newControlConn(conn),
		handler: handler,
		tls:     tlsPolicy,
		logger:  lognoop.NewNoOpLogger(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Run drives the session to completion. A nil return means the session
// ended cleanly (client disconnect, or a protocol rule terminated it); a
// non-nil return means a fatal transport or TLS error occurred and the
// caller should log it and close the underlying connection.
func (s *Session[S]) Run(ctx context.Context) error {
	if s.tls != nil && s.tls.Implicit {
		if err := s.conn.UpgradeToTLS(s.tls.Config); err != nil {
			s.logger.Error("implicit TLS handshake failed", "err", err)
			return err
		}
	}

	s.reader = bufio.NewReader(s.conn)
	s.writer = bufio.NewWriter(s.conn)

	if err := s.writeResponse(ReadyForNewUser{Message: s.handler.Welcome(ctx)}); err != nil {
		return err
	}

	if err := s.runPhaseA(ctx); err != nil || s.authPhase != authAwaitingPass {
		return err
	}

	if err := s.runPhaseB(ctx); err != nil || s.authPhase != authAuthenticated {
		return err
	}

	return s.runPhaseC(ctx)
}

// readLine blocks for one CRLF-terminated control-channel line, with the
// idle timeout (if any) armed around the read. io.EOF and an all-whitespace
// line both mean "clean disconnect" to the caller; any other error is
// fatal.
func (s *Session[S]) readLine() (string, error) {
	if s.idleTimeout > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.idleTimeout)); err != nil {
			s.logger.Error("failed to set read deadline", "err", err)
		}
	}

	line, err := s.reader.ReadString('\n')
	if err != nil {
		return "", err
	}

	return strings.TrimRight(line, "\r\n"), nil
}

func (s *Session[S]) writeResponse(r Response) error {
	if _, err := s.writer.Write(Encode(r)); err != nil {
		return err
	}

	return s.writer.Flush()
}

// isCleanDisconnect reports whether err/line represent an ordinary session
// end rather than a transport failure.
func isCleanDisconnect(line string, err error) bool {
	if errors.Is(err, io.EOF) {
		return true
	}

	return err == nil && strings.TrimSpace(line) == ""
}

func (s *Session[S]) runPhaseA(ctx context.Context) error {
	for {
		line, err := s.readLine()
		if isCleanDisconnect(line, err) {
			return nil
		}

		if err != nil {
			s.logger.Error("control read error", "err", err)
			return err
		}

		// A command that doesn't even parse is, in this phase, just as
		// fatal as a recognized-but-wrong-phase one: only AUTH, USER and
		// OPTS may appear before login, so any other input terminates
		// the session with 503 rather than continuing past a 502.
		cmd, perr := Parse(line)
		if perr != nil {
			_ = s.writeResponse(SimpleMsg(StatusBadSequence, "Please login with USER and PASS"))
			return nil
		}

		switch c := cmd.(type) {
		case CmdAuth:
			done, err := s.handleAuthPreLogin(c)
			if err != nil || done {
				return err
			}
		case CmdUser:
			if s.tls != nil && !s.conn.IsTLS() && !s.tls.AllowPlaintext {
				if err := s.writeResponse(SimpleMsg(StatusNotLoggedIn, "Please use AUTH TLS before sending USER command.")); err != nil {
					return err
				}

				continue
			}

			s.username = c.Username
			s.authPhase = authAwaitingPass

			return nil
		case CmdOpts:
			if err := s.writeResponse(SimpleMsg(StatusOK, "OK")); err != nil {
				return err
			}
		default:
			_ = s.writeResponse(SimpleMsg(StatusBadSequence, "Please login with USER and PASS"))
			return nil
		}
	}
}

// handleAuthPreLogin processes one AUTH command seen during Phase A. The
// bool return is true only when the caller must stop iterating: the 234
// reply could not be written or the TLS handshake failed, and the returned
// error is then fatal. On a successful upgrade it rebuilds the reader and
// writer over the TLS connection and returns false, so Phase A goes on
// reading commands.
func (s *Session[S]) handleAuthPreLogin(c CmdAuth) (bool, error) {
	if s.tls == nil || s.tls.Config == nil {
		return false, s.writeResponse(SimpleMsg(StatusCommandNotImplemented, ErrTLSNotConfigured.Error()))
	}

	if c.Type != AuthTypeTLS {
		return false, s.writeResponse(SimpleMsg(StatusCommandNotImplemented, "unsupported AUTH type"))
	}

	if s.conn.IsTLS() {
		s.logger.Warn("AUTH TLS received on an already-upgraded connection, ignoring")
		return false, s.writeResponse(SimpleMsg(StatusAuthSuccess, "Already using TLS"))
	}

	if err := s.writeResponse(SimpleMsg(StatusAuthSuccess, "Starting TLS negotiation.")); err != nil {
		return true, err
	}

	if err := s.conn.UpgradeToTLS(s.tls.Config); err != nil {
		s.logger.Error("AUTH TLS handshake failed", "err", err)
		return true, err
	}

	s.reader = bufio.NewReader(s.conn)
	s.writer = bufio.NewWriter(s.conn)

	return false, nil
}

func (s *Session[S]) runPhaseB(ctx context.Context) error {
	if err := s.writeResponse(SimpleMsg(StatusNeedPassword, "Need password")); err != nil {
		return err
	}

	line, err := s.readLine()
	if isCleanDisconnect(line, err) {
		return nil
	}

	if err != nil {
		s.logger.Error("control read error", "err", err)
		return err
	}

	cmd, perr := Parse(line)
	if perr != nil {
		return s.writeResponse(SimpleMsg(StatusBadSequence, "Please login with USER and PASS"))
	}

	passCmd, ok := cmd.(CmdPass)
	if !ok {
		return s.writeResponse(SimpleMsg(StatusBadSequence, "PASS required after USER"))
	}

	authed, authErr := s.handler.Authenticate(ctx, s.username, passCmd.Password)
	if authErr != nil {
		s.logger.Info("authentication error", "user", s.username, "err", authErr)
		return s.writeResponse(SimpleMsg(StatusNotLoggedIn, "Authentication failed"))
	}

	if !authed {
		return s.writeResponse(SimpleMsg(StatusNotLoggedIn, "Authentication failed"))
	}

	s.authPhase = authAuthenticated

	return s.writeResponse(SimpleMsg(StatusUserLoggedIn, "User logged in"))
}

func (s *Session[S]) runPhaseC(ctx context.Context) error {
	for {
		line, err := s.readLine()
		if isCleanDisconnect(line, err) {
			return nil
		}

		if err != nil {
			s.logger.Error("control read error", "err", err)
			return err
		}

		cmd, perr := Parse(line)
		if perr != nil {
			if err := s.writeResponse(SimpleMsg(StatusCommandNotImplemented, perr.Error())); err != nil {
				return err
			}

			continue
		}

		if err := s.dispatch(ctx, cmd); err != nil {
			return err
		}
	}
}

func (s *Session[S]) dispatch(ctx context.Context, cmd Command) error {
	switch c := cmd.(type) {
	case CmdPwd:
		return s.handlePwd(ctx)
	case CmdCwd:
		return s.handleCwd(ctx, c)
	case CmdType:
		return s.writeResponse(SimpleMsg(StatusOK, "Type set"))
	case CmdPasv:
		return s.handlePasv(ctx)
	case CmdList:
		return s.handleList(ctx)
	case CmdRetr:
		return s.handleRetr(ctx, c)
	case CmdStor:
		return s.handleStor(ctx, c)
	case CmdSyst:
		return s.writeResponse(NameSystemType{Message: s.handler.OSInfo(ctx)})
	case CmdFeat:
		return s.handleFeat(ctx)
	case CmdOpts, CmdUtf8, CmdPbsz:
		return s.writeResponse(SimpleMsg(StatusOK, "OK"))
	case CmdAuth, CmdUser, CmdPass:
		return s.writeResponse(SimpleMsg(StatusBadSequence, "Bad sequence of commands"))
	case CmdRnfr:
		path := c.Path
		s.pendingRenFrom = &path

		return s.writeResponse(SimpleMsg(StatusFileActionPending, "File action pending"))
	case CmdRnto:
		return s.handleRnto(ctx, c)
	default:
		return s.writeResponse(SimpleMsg(StatusCommandNotImplemented, "Unknown command"))
	}
}

func (s *Session[S]) handlePwd(ctx context.Context) error {
	path, ok := s.handler.Cwd(ctx)
	if !ok {
		return s.writeResponse(SimpleMsg(StatusFileUnavailable, "No current directory"))
	}

	return s.writeResponse(DirectoryCreated{Path: normalizePath(path)})
}

func (s *Session[S]) handleCwd(ctx context.Context, c CmdCwd) error {
	if s.handler.SetCwd(ctx, c.Path) {
		return s.writeResponse(SimpleMsg(StatusOK, "Directory changed"))
	}

	return s.writeResponse(SimpleMsg(StatusFileUnavailable, "No such directory"))
}

func (s *Session[S]) handlePasv(ctx context.Context) error {
	pc, err := s.handler.PassiveConn(ctx)
	if err != nil {
		return s.writeResponse(SimpleMsg(StatusCommandNotImplemented, err.Error()))
	}

	reply := pc.Reply()
	if reply == nil {
		return s.writeResponse(SimpleMsg(StatusCommandNotImplemented, "passive address is not IPv4"))
	}

	if err := s.writeResponse(reply); err != nil {
		return err
	}

	s.passiveConn = &pc

	return nil
}

// takeData consumes the current passive factory and accepts its one data
// stream. Callers must check s.passiveConn != nil first; the factory is
// cleared here regardless of whether CreateData eventually succeeds.
func (s *Session[S]) takeData(ctx context.Context) (S, error) {
	pc := *s.passiveConn
	s.passiveConn = nil

	return pc.CreateData(ctx)
}

func (s *Session[S]) handleList(ctx context.Context) error {
	if s.passiveConn == nil {
		return s.writeResponse(SimpleMsg(StatusCommandNotImplemented, "No passive connection established"))
	}

	if err := s.writeResponse(SimpleMsg(StatusOpeningDataConn, "Opening data connection")); err != nil {
		return err
	}

	data, err := s.takeData(ctx)
	if err != nil {
		return s.writeResponse(SimpleMsg(StatusCantOpenDataConn, err.Error()))
	}

	entries, lsErr := s.handler.Ls(ctx)
	if lsErr != nil {
		_ = data.Close()
		return s.writeResponse(SimpleMsg(StatusClosingDataConnNoTransfer, lsErr.Error()))
	}

	now := time.Now()

	var writeErr error

	for _, entry := range entries {
		if _, writeErr = io.WriteString(data, entry.Line(now)+"\r\n"); writeErr != nil {
			break
		}
	}

	_ = data.Close()

	if writeErr != nil {
		return s.writeResponse(SimpleMsg(StatusClosingDataConnNoTransfer, writeErr.Error()))
	}

	return s.writeResponse(SimpleMsg(StatusClosingDataConnSuccess, "Closing data connection"))
}

func (s *Session[S]) handleRetr(ctx context.Context, c CmdRetr) error {
	if s.passiveConn == nil {
		return s.writeResponse(SimpleMsg(StatusCommandNotImplemented, "No passive connection established"))
	}

	if err := s.writeResponse(SimpleMsg(StatusOpeningDataConn, "Opening data connection")); err != nil {
		return err
	}

	data, err := s.takeData(ctx)
	if err != nil {
		return s.writeResponse(SimpleMsg(StatusCantOpenDataConn, err.Error()))
	}

	readErr := s.handler.Read(ctx, c.Path, data)
	_ = data.Close()

	if readErr != nil {
		return s.writeResponse(SimpleMsg(StatusFileUnavailable, readErr.Error()))
	}

	return s.writeResponse(SimpleMsg(StatusClosingDataConnSuccess, "Transfer complete"))
}

func (s *Session[S]) handleStor(ctx context.Context, c CmdStor) error {
	if s.passiveConn == nil {
		return s.writeResponse(SimpleMsg(StatusCommandNotImplemented, "No passive connection established"))
	}

	if err := s.writeResponse(SimpleMsg(StatusOpeningDataConn, "Opening data connection")); err != nil {
		return err
	}

	data, err := s.takeData(ctx)
	if err != nil {
		return s.writeResponse(SimpleMsg(StatusCantOpenDataConn, err.Error()))
	}

	writeErr := s.handler.Write(ctx, c.Path, data)
	_ = data.Close()

	if writeErr != nil {
		return s.writeResponse(SimpleMsg(StatusFileUnavailable, writeErr.Error()))
	}

	return s.writeResponse(SimpleMsg(StatusClosingDataConnSuccess, "Transfer complete"))
}

func (s *Session[S]) handleFeat(ctx context.Context) error {
	merged := make(map[string]struct{}, len(defaultFeatures))

	for k := range defaultFeatures {
		merged[k] = struct{}{}
	}

	for k := range s.handler.Features(ctx) {
		merged[k] = struct{}{}
	}

	return s.writeResponse(RespFeatures{Features: merged})
}

func (s *Session[S]) handleRnto(ctx context.Context, c CmdRnto) error {
	if s.pendingRenFrom == nil {
		return s.writeResponse(SimpleMsg(StatusBadSequence, "RNFR required first"))
	}

	from := *s.pendingRenFrom
	s.pendingRenFrom = nil

	if err := s.handler.Rename(ctx, from, c.Path); err != nil {
		return s.writeResponse(IntoResponse(err))
	}

	return s.writeResponse(SimpleMsg(StatusOK, "Rename successful"))
}
