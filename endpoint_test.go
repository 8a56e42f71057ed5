package svctl

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolverDirPrecedence(t *testing.T) {
	t.Setenv(SocketDirEnv, "/from/env")
	assert.Equal(t, "/explicit", NewResolver("/explicit").Dir)
	assert.Equal(t, "/from/env", NewResolver("").Dir)

	t.Setenv(SocketDirEnv, "")
	assert.Equal(t, DefaultSocketDir, NewResolver("").Dir)
}

func TestResolve(t *testing.T) {
	r := NewResolver("/fm-sockets")

	ep, err := r.Resolve("frappe-bench")
	require.NoError(t, err)
	assert.Equal(t, "/fm-sockets/frappe-bench.sock", ep.SocketPath)
	assert.Equal(t, "frappe-bench", ep.Service)
	assert.False(t, ep.Exists())

	for _, bad := range []string{"", ".", "..", "a/b", "../x"} {
		_, err := r.Resolve(bad)
		assert.ErrorIs(t, err, ErrInvalidService, bad)
	}
}

func TestServices(t *testing.T) {
	dir := socketDir(t)

	l, err := net.Listen("unix", filepath.Join(dir, "live.sock"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	staleSocket(t, dir, "stale")
	touchSocket(t, dir, ".hidden")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), nil, 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "dir.sock"), 0o755))

	r := NewResolver(dir)
	services, err := r.Services()
	require.NoError(t, err)
	require.Len(t, services, 2)

	assert.Equal(t, "live", services[0].Name)
	assert.True(t, services[0].Reachable)
	assert.True(t, services[0].Endpoint.Exists())
	assert.Equal(t, "stale", services[1].Name)
	assert.False(t, services[1].Reachable)

	names, err := r.ServiceNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"live"}, names, "stale socket files are not services")
}

func TestServiceNamesOnlyLiveSockets(t *testing.T) {
	dir := socketDir(t)
	staleSocket(t, dir, "stale")

	names, err := NewResolver(dir).ServiceNames()
	require.NoError(t, err)
	assert.Empty(t, names)

	touchSocket(t, dir, "live")
	names, err = NewResolver(dir).ServiceNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"live"}, names)
}

func TestServicesMissingDir(t *testing.T) {
	services, err := NewResolver(filepath.Join(t.TempDir(), "absent")).Services()
	require.NoError(t, err)
	assert.Empty(t, services)
}
