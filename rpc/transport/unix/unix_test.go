package unix

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ValentinKolb/tKV/rpc/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// socketDir returns a short directory, socket paths are limited to about 100 bytes
func socketDir(t *testing.T) string {
	dir, err := os.MkdirTemp("", "tkv")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return dir
}

func TestUnixTransport(t *testing.T) {
	path := filepath.Join(socketDir(t), "tkv.sock")

	srv := NewUnixServerTransport()
	srv.RegisterHandler(func(dbID uint64, req []byte) []byte {
		return append([]byte{byte(dbID)}, req...)
	})
	done := make(chan error, 1)
	go func() {
		done <- srv.Listen(common.ServerConfig{Transport: common.ServerTransportConfig{Endpoint: path}})
	}()
	require.NotNil(t, srv.Addr())
	t.Cleanup(func() {
		assert.NoError(t, srv.Close())
		assert.NoError(t, <-done)
	})

	c := NewUnixClientTransport()
	require.NoError(t, c.Connect(common.ClientConfig{
		TimeoutSecond: 5,
		Transport: common.ClientTransportConfig{
			Endpoints:  []string{path},
			SocketConf: common.SocketConf{WriteBufferSize: 64 * 1024, ReadBufferSize: 64 * 1024},
		},
	}))
	defer c.Close()

	resp, err := c.Send(3, []byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, append([]byte{3}, "ping"...), resp)
}

func TestUnixDialer(t *testing.T) {
	dir := socketDir(t)

	_, err := dialer{}.Connect(filepath.Join(dir, "missing.sock"))
	assert.True(t, os.IsNotExist(err))

	file := filepath.Join(dir, "plain")
	require.NoError(t, os.WriteFile(file, nil, 0o600))
	_, err = dialer{}.Connect(file)
	assert.ErrorContains(t, err, "not a unix socket")
}

func TestRemoveStaleSocket(t *testing.T) {
	dir := socketDir(t)

	assert.NoError(t, removeStaleSocket(filepath.Join(dir, "missing.sock")))

	file := filepath.Join(dir, "plain")
	require.NoError(t, os.WriteFile(file, []byte("data"), 0o600))
	assert.ErrorContains(t, removeStaleSocket(file), "not a unix socket")
	_, err := os.Stat(file)
	assert.NoError(t, err, "a regular file must be kept")
}
