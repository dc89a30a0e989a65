package afero

import (
	"errors"
	"net"

	aferofs "github.com/spf13/afero"

	"github.com/nullptr-oss/cftp"
	"github.com/nullptr-oss/cftp/drivers/tcp"
)

// Account is one user's credentials and the subdirectory of the Driver's
// root filesystem they are jailed to.
type Account struct {
	Password string
	Dir      string // relative to the Driver's root, "" means the root itself
}

// Driver authenticates users against a fixed account table and hands out a
// Handler per connection, each jailed to its account's directory via
// afero.NewBasePathFs: one long-lived object producing one session-scoped
// handler per connection.
type Driver struct {
	root     aferofs.Fs
	accounts map[string]Account
	passive  *tcp.Factory
	welcome  string
}

// NewDriver builds a Driver rooted at root, authenticating against accounts
// and handing out passive data connections from passive.
func NewDriver(root aferofs.Fs, accounts map[string]Account, passive *tcp.Factory, welcome string) *Driver {
	if welcome == "" {
		welcome = cftp.DefaultWelcome
	}

	return &Driver{root: root, accounts: accounts, passive: passive, welcome: welcome}
}

// ErrNotAuthenticated is returned by Handler methods that touch the
// filesystem before Authenticate has succeeded.
var ErrNotAuthenticated = errors.New("cftp/afero: session is not authenticated")

// NewSession builds a Handler for one accepted connection. localAddr is the
// control connection's local address, forwarded to the passive factory so
// it can derive the IP advertised in PASV replies.
func (d *Driver) NewSession(localAddr net.Addr) *Handler {
	return &Handler{driver: d, localAddr: localAddr, cwd: "/"}
}

var _ cftp.Handler[net.Conn] = (*Handler)(nil)

func rootedFS(root aferofs.Fs, acct Account) (aferofs.Fs, error) {
	dir := acct.Dir
	if dir == "" {
		dir = "/"
	}

	fs := aferofs.NewBasePathFs(root, dir)

	if err := fs.MkdirAll("/", 0o755); err != nil {
		return nil, err
	}

	return fs, nil
}
