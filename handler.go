package cftp

import (
	"context"
	"fmt"
	"io"
	"time"
)

// HandlerError is a handler-authored error that knows how to render itself
// as a control-channel Response. Handlers return plain errors from their
// methods; the session driver renders a failed Rename with IntoResponse,
// which falls back to a generic 451 for errors that don't implement this.
// Errors from the other handler methods get the fixed reply code of the
// command that hit them.
type HandlerError interface {
	error
	IntoResponse() Response
}

// IntoResponse renders any error as a Response: HandlerError values render
// themselves, everything else becomes a generic local-error reply carrying
// the error's message.
func IntoResponse(err error) Response {
	if err == nil {
		return Simple(StatusOK)
	}

	if he, ok := err.(HandlerError); ok {
		return he.IntoResponse()
	}

	return SimpleMsg(StatusLocalError, err.Error())
}

// Handler is the pluggable contract a session drives: authentication,
// directory navigation, listing, renaming and file transfer, plus the data
// channel factory for passive transfers. S is the data-stream type the
// passive factory produces; the control channel itself is always a
// net.Conn, since crypto/tls requires one.
type Handler[S io.ReadWriteCloser] interface {
	// Welcome returns the banner sent in the initial 220 reply.
	Welcome(ctx context.Context) string

	// Authenticate checks a username/password pair. A false result with a
	// nil error means "credentials rejected"; a non-nil error is logged.
	// Both are reported to the client as the same 530 reply.
	Authenticate(ctx context.Context, username, password string) (bool, error)

	// Cwd returns the client's current working directory, or ok=false if
	// none is established (in which case PWD replies 550).
	Cwd(ctx context.Context) (path string, ok bool)

	// SetCwd attempts to change the working directory, returning whether
	// the target exists and is a directory.
	SetCwd(ctx context.Context, path string) bool

	// Ls lists the current working directory's contents.
	Ls(ctx context.Context) ([]FileListing, error)

	// Rename moves from to to.
	Rename(ctx context.Context, from, to string) error

	// PassiveConn opens a new passive data channel, returning its address
	// and a single-shot factory for the eventual client connection.
	PassiveConn(ctx context.Context) (PassiveConn[S], error)

	// OSInfo is the SYST reply payload. DefaultOSInfo holds the usual
	// value for handlers that have nothing else to report.
	OSInfo(ctx context.Context) string

	// Features is the set of FEAT tokens this handler supports beyond the
	// ones the session driver always advertises.
	Features(ctx context.Context) map[string]struct{}

	// Read streams path's contents to w (the data connection).
	Read(ctx context.Context, path string, w io.Writer) error

	// Write streams path's contents from r (the data connection).
	Write(ctx context.Context, path string, r io.Reader) error
}

// FileListing is one entry of a directory listing, rendered by Line in the
// Unix "ls -l" style every common FTP client expects.
type FileListing struct {
	Name        string
	IsDir       bool
	Permissions uint16 // a subset of the standard rwxrwxrwx bits
	Size        uint64
	Modified    time.Time
	Owner       string
	Group       string
}

const sixMonths = 6 * 30 * 24 * time.Hour

// Line renders this entry the way "ls -l" would, with the standard
// recent-file/old-file switch between a HH:MM timestamp and a bare year.
func (fl FileListing) Line(now time.Time) string {
	ftype := byte('-')
	if fl.IsDir {
		ftype = 'd'
	}

	perms := [9]byte{'-', '-', '-', '-', '-', '-', '-', '-', '-'}
	bits := []struct {
		mask uint16
		ch   byte
	}{
		{0o400, 'r'}, {0o200, 'w'}, {0o100, 'x'},
		{0o040, 'r'}, {0o020, 'w'}, {0o010, 'x'},
		{0o004, 'r'}, {0o002, 'w'}, {0o001, 'x'},
	}

	for i, b := range bits {
		if fl.Permissions&b.mask != 0 {
			perms[i] = b.ch
		}
	}

	var timeOrYear string
	if now.Sub(fl.Modified).Abs() < sixMonths {
		timeOrYear = fl.Modified.Format("15:04")
	} else {
		timeOrYear = fmt.Sprintf("%4d", fl.Modified.Year())
	}

	return fmt.Sprintf("%c%s %2d %s %s %8d %s %2d %s %s",
		ftype, string(perms[:]), 1, fl.Owner, fl.Group, fl.Size,
		fl.Modified.Format("Jan"), fl.Modified.Day(), timeOrYear, fl.Name,
	)
}

// DefaultOSInfo is the SYST payload handlers use unless they have a reason
// to report something else.
const DefaultOSInfo = "UNIX Type: L8"

// DefaultWelcome is the banner sent in the initial 220 reply by default.
const DefaultWelcome = "cftp by nullptr"
