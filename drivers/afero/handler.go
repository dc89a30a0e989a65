package afero

import (
	"context"
	"io"
	"net"
	"os"
	"path"
	"strings"
	"sync"

	aferofs "github.com/spf13/afero"

	"github.com/nullptr-oss/cftp"
)

// Handler is one connection's view of a Driver: unauthenticated until
// Authenticate succeeds, after which every other method operates on an
// afero.Fs jailed to the account's directory.
type Handler struct {
	driver    *Driver
	localAddr net.Addr

	mu   sync.Mutex
	fs   aferofs.Fs
	cwd  string
	user string
}

func (h *Handler) Welcome(ctx context.Context) string {
	return h.driver.welcome
}

func (h *Handler) Authenticate(ctx context.Context, username, password string) (bool, error) {
	acct, ok := h.driver.accounts[username]
	if !ok || acct.Password != password {
		return false, nil
	}

	fs, err := rootedFS(h.driver.root, acct)
	if err != nil {
		return false, err
	}

	h.mu.Lock()
	h.fs = fs
	h.cwd = "/"
	h.user = username
	h.mu.Unlock()

	return true, nil
}

func (h *Handler) currentFS() aferofs.Fs {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.fs
}

func (h *Handler) Cwd(ctx context.Context) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.fs == nil {
		return "", false
	}

	return h.cwd, true
}

func (h *Handler) SetCwd(ctx context.Context, p string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.fs == nil {
		return false
	}

	target := resolvePath(h.cwd, p)

	info, err := h.fs.Stat(target)
	if err != nil || !info.IsDir() {
		return false
	}

	h.cwd = target

	return true
}

func (h *Handler) Ls(ctx context.Context) ([]cftp.FileListing, error) {
	fs := h.currentFS()
	if fs == nil {
		return nil, ErrNotAuthenticated
	}

	h.mu.Lock()
	cwd := h.cwd
	h.mu.Unlock()

	entries, err := aferofs.ReadDir(fs, cwd)
	if err != nil {
		return nil, err
	}

	listings := make([]cftp.FileListing, 0, len(entries))

	for _, e := range entries {
		listings = append(listings, cftp.FileListing{
			Name:        e.Name(),
			IsDir:       e.IsDir(),
			Permissions: uint16(e.Mode().Perm()),
			Size:        uint64(e.Size()),
			Modified:    e.ModTime(),
			Owner:       h.user,
			Group:       h.user,
		})
	}

	return listings, nil
}

func (h *Handler) Rename(ctx context.Context, from, to string) error {
	fs := h.currentFS()
	if fs == nil {
		return ErrNotAuthenticated
	}

	h.mu.Lock()
	cwd := h.cwd
	h.mu.Unlock()

	return fs.Rename(resolvePath(cwd, from), resolvePath(cwd, to))
}

func (h *Handler) PassiveConn(ctx context.Context) (cftp.PassiveConn[net.Conn], error) {
	return h.driver.passive.Listen(ctx, h.localAddr)
}

func (h *Handler) OSInfo(ctx context.Context) string {
	return cftp.DefaultOSInfo
}

func (h *Handler) Features(ctx context.Context) map[string]struct{} {
	return nil
}

func (h *Handler) Read(ctx context.Context, p string, w io.Writer) error {
	fs := h.currentFS()
	if fs == nil {
		return ErrNotAuthenticated
	}

	h.mu.Lock()
	cwd := h.cwd
	h.mu.Unlock()

	f, err := fs.Open(resolvePath(cwd, p))
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(w, f)

	return err
}

func (h *Handler) Write(ctx context.Context, p string, r io.Reader) error {
	fs := h.currentFS()
	if fs == nil {
		return ErrNotAuthenticated
	}

	h.mu.Lock()
	cwd := h.cwd
	h.mu.Unlock()

	f, err := fs.OpenFile(resolvePath(cwd, p), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(f, r)

	return err
}

// resolvePath resolves an FTP path argument against the session's current
// directory: absolute arguments replace it outright, relative ones join it.
func resolvePath(cwd, arg string) string {
	if strings.HasPrefix(arg, "/") {
		return path.Clean(arg)
	}

	return path.Clean(path.Join(cwd, arg))
}
