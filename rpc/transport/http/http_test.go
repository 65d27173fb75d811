package http

import (
	"bytes"
	"io"
	"net/http"
	"testing"

	"github.com/ValentinKolb/tKV/rpc/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T) string {
	srv := NewHttpServerTransport()
	srv.RegisterHandler(func(dbID uint64, req []byte) []byte {
		return append([]byte{byte(dbID)}, req...)
	})
	done := make(chan error, 1)
	go func() {
		done <- srv.Listen(common.ServerConfig{Transport: common.ServerTransportConfig{Endpoint: "127.0.0.1:0"}})
	}()
	addr := srv.Addr()
	require.NotNil(t, addr)
	t.Cleanup(func() {
		assert.NoError(t, srv.Close())
		assert.NoError(t, <-done)
	})
	return addr.String()
}

func TestHttpTransport(t *testing.T) {
	endpoint := startServer(t)

	c := NewHttpClientTransport()
	require.NoError(t, c.Connect(common.ClientConfig{
		TimeoutSecond: 5,
		Transport:     common.ClientTransportConfig{Endpoints: []string{endpoint}, RetryCount: 2},
	}))
	defer c.Close()

	resp, err := c.Send(7, []byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, append([]byte{7}, "ping"...), resp)

	t.Run("InvalidDatabaseID", func(t *testing.T) {
		r, err := http.Post("http://"+endpoint+"/abc", "application/octet-stream", bytes.NewReader(nil))
		require.NoError(t, err)
		defer r.Body.Close()
		assert.Equal(t, http.StatusBadRequest, r.StatusCode)
	})

	t.Run("Metrics", func(t *testing.T) {
		r, err := http.Get("http://" + endpoint + "/metrics")
		require.NoError(t, err)
		defer r.Body.Close()
		assert.Equal(t, http.StatusOK, r.StatusCode)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "tkv_ops_total")
	})
}

func TestHttpClientErrors(t *testing.T) {
	c := NewHttpClientTransport()
	_, err := c.Send(1, nil)
	assert.Error(t, err, "not connected")

	assert.Error(t, c.Connect(common.ClientConfig{}))

	require.NoError(t, c.Connect(common.ClientConfig{
		Transport: common.ClientTransportConfig{Endpoints: []string{"127.0.0.1:1"}, RetryCount: 2},
	}))
	_, err = c.Send(1, []byte("ping"))
	assert.Error(t, err)
}
