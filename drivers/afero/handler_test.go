package afero

import (
	"bytes"
	"context"
	"net"
	"testing"

	aferofs "github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func newTestDriver() *Driver {
	root := aferofs.NewMemMapFs()

	accounts := map[string]Account{
		"alice": {Password: "wonderland", Dir: "alice"},
	}

	return NewDriver(root, accounts, nil, "")
}

func TestHandlerAuthenticateJailsToAccountDir(t *testing.T) {
	ctx := context.Background()
	d := newTestDriver()
	h := d.NewSession(&net.TCPAddr{})

	ok, err := h.Authenticate(ctx, "alice", "wrong")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = h.Authenticate(ctx, "alice", "wonderland")
	require.NoError(t, err)
	require.True(t, ok)

	cwd, hasCwd := h.Cwd(ctx)
	require.True(t, hasCwd)
	require.Equal(t, "/", cwd)
}

func TestHandlerCwdBeforeAuthenticateHasNoDirectory(t *testing.T) {
	ctx := context.Background()
	h := newTestDriver().NewSession(&net.TCPAddr{})

	_, ok := h.Cwd(ctx)
	require.False(t, ok)
}

func TestHandlerWriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	d := newTestDriver()
	h := d.NewSession(&net.TCPAddr{})

	ok, err := h.Authenticate(ctx, "alice", "wonderland")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, h.Write(ctx, "hello.txt", bytes.NewBufferString("hi there")))

	var buf bytes.Buffer
	require.NoError(t, h.Read(ctx, "hello.txt", &buf))
	require.Equal(t, "hi there", buf.String())

	listing, err := h.Ls(ctx)
	require.NoError(t, err)
	require.Len(t, listing, 1)
	require.Equal(t, "hello.txt", listing[0].Name)
}

func TestHandlerSetCwdAndRename(t *testing.T) {
	ctx := context.Background()
	d := newTestDriver()
	h := d.NewSession(&net.TCPAddr{})

	ok, err := h.Authenticate(ctx, "alice", "wonderland")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, h.Write(ctx, "a.txt", bytes.NewBufferString("x")))
	require.NoError(t, h.Rename(ctx, "a.txt", "b.txt"))

	var buf bytes.Buffer
	require.NoError(t, h.Read(ctx, "b.txt", &buf))
	require.Equal(t, "x", buf.String())

	require.False(t, h.SetCwd(ctx, "/nonexistent"))
}

func TestHandlerJailPreventsEscapingBaseDir(t *testing.T) {
	ctx := context.Background()
	root := aferofs.NewMemMapFs()
	require.NoError(t, aferofs.WriteFile(root, "/secret.txt", []byte("top secret"), 0o644))

	accounts := map[string]Account{"alice": {Password: "wonderland", Dir: "alice"}}
	d := NewDriver(root, accounts, nil, "")
	h := d.NewSession(&net.TCPAddr{})

	ok, err := h.Authenticate(ctx, "alice", "wonderland")
	require.NoError(t, err)
	require.True(t, ok)

	err = h.Read(ctx, "/../secret.txt", &bytes.Buffer{})
	require.Error(t, err)
}
