package client

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/tKV/lib/kvdb"
	"github.com/ValentinKolb/tKV/lib/store"
	storetesting "github.com/ValentinKolb/tKV/lib/store/testing"
	"github.com/ValentinKolb/tKV/rpc/common"
	"github.com/ValentinKolb/tKV/rpc/serializer"
	"github.com/ValentinKolb/tKV/rpc/server"
	"github.com/ValentinKolb/tKV/rpc/transport"
	"github.com/ValentinKolb/tKV/rpc/transport/http"
	"github.com/ValentinKolb/tKV/rpc/transport/tcp"
	"github.com/ValentinKolb/tKV/rpc/transport/unix"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	if err := kvdb.Init("", "engine=memory", "logging.level=error"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	code := m.Run()
	kvdb.Fini()
	os.Exit(code)
}

const (
	storeDB = 1
	lockDB  = 2
)

var counter atomic.Uint64

// transportPair creates matching server and client transports
type transportPair struct {
	name     string
	server   func() transport.IRPCServerTransport
	client   func() transport.IRPCClientTransport
	endpoint func(t testing.TB) string
}

func loopback(testing.TB) string { return "127.0.0.1:0" }

func socketPath(t testing.TB) string {
	// t.TempDir paths can exceed the socket path limit
	dir, err := os.MkdirTemp("", "tkv")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, "rpc.sock")
}

var transports = []transportPair{
	{"tcp", tcp.NewTCPServerTransport, tcp.NewTCPClientTransport, loopback},
	{"unix", unix.NewUnixServerTransport, unix.NewUnixClientTransport, socketPath},
	{"http", http.NewHttpServerTransport, http.NewHttpClientTransport, loopback},
}

// startServer serves a fresh store database and a fresh lock database and returns the client config
func startServer(t testing.TB, tp transportPair, ser serializer.IRPCSerializer) common.ClientConfig {
	n := counter.Add(1)
	storeHome := fmt.Sprintf("rpc-store-%d", n)
	lockHome := fmt.Sprintf("rpc-lock-%d", n)

	srv := server.NewRPCServer(common.ServerConfig{
		Databases: []common.DatabaseConfig{
			{ID: storeDB, Home: storeHome, Type: common.DatabaseTypeStore, Create: true},
			{ID: lockDB, Home: lockHome, Type: common.DatabaseTypeLockMgr, Create: true},
		},
		Transport:     common.ServerTransportConfig{Endpoint: tp.endpoint(t), WorkersPerConn: 8},
		TimeoutSecond: 5,
		LogLevel:      "error",
	}, tp.server(), ser)

	served := make(chan error, 1)
	go func() { served <- srv.Serve() }()

	addr := srv.Addr()
	require.NotNil(t, addr, "server failed to start")
	t.Cleanup(func() {
		assert.NoError(t, srv.Close())
		assert.NoError(t, <-served)
		_ = kvdb.Drop(storeHome)
		_ = kvdb.Drop(lockHome)
	})

	return common.ClientConfig{
		TimeoutSecond: 5,
		Transport: common.ClientTransportConfig{
			Endpoints:              []string{addr.String()},
			ConnectionsPerEndpoint: 2,
			RetryCount:             2,
		},
	}
}

func newClient(t testing.TB, tp transportPair, ser serializer.IRPCSerializer) store.IStore {
	config := startServer(t, tp, ser)
	clientTransport := tp.client()
	s, err := NewRPCStore(storeDB, config, clientTransport, ser)
	require.NoError(t, err)
	t.Cleanup(func() { _ = clientTransport.Close() })
	return s
}

func TestRPCStore(t *testing.T) {
	for _, tp := range transports {
		t.Run(tp.name, func(t *testing.T) {
			storetesting.RunStoreTests(t, "RPCStore", func(t testing.TB) store.IStore {
				return newClient(t, tp, serializer.NewBinarySerializer())
			})
		})
	}
}

func TestRPCStoreSerializers(t *testing.T) {
	for _, name := range []string{"json", "gob"} {
		ser, err := serializer.ByName(name)
		require.NoError(t, err)
		t.Run(name, func(t *testing.T) {
			storetesting.RunStoreTests(t, "RPCStore", func(t testing.TB) store.IStore {
				return newClient(t, transports[0], ser)
			})
		})
	}
}

func TestRPCLockMgr(t *testing.T) {
	for _, tp := range transports {
		t.Run(tp.name, func(t *testing.T) {
			ser := serializer.NewBinarySerializer()
			config := startServer(t, tp, ser)
			clientTransport := tp.client()
			locks, err := NewRPCLockMgr(lockDB, config, clientTransport, ser)
			require.NoError(t, err)
			defer clientTransport.Close()

			ok, owner, err := locks.AcquireLock("res", 0)
			require.NoError(t, err)
			require.True(t, ok)
			assert.NotEmpty(t, owner)

			ok, _, err = locks.AcquireLock("res", 0)
			require.NoError(t, err)
			assert.False(t, ok)

			ok, err = locks.ReleaseLock("res", []byte("someone else"))
			require.NoError(t, err)
			assert.False(t, ok)

			ok, err = locks.ReleaseLock("res", owner)
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestRPCErrors(t *testing.T) {
	ser := serializer.NewBinarySerializer()
	config := startServer(t, transports[0], ser)

	t.Run("UnknownDatabase", func(t *testing.T) {
		clientTransport := tcp.NewTCPClientTransport()
		s, err := NewRPCStore(42, config, clientTransport, ser)
		require.NoError(t, err)
		defer clientTransport.Close()

		_, err = s.KVSNames()
		assert.Equal(t, kvdb.CodeNotFound, kvdb.CodeOf(err))
	})

	t.Run("WrongDatabaseType", func(t *testing.T) {
		clientTransport := tcp.NewTCPClientTransport()
		locks, err := NewRPCLockMgr(storeDB, config, clientTransport, ser)
		require.NoError(t, err)
		defer clientTransport.Close()

		_, _, err = locks.AcquireLock("res", 0)
		assert.Equal(t, kvdb.CodeInvalid, kvdb.CodeOf(err))
	})

	t.Run("ErrorsKeepTheirOperation", func(t *testing.T) {
		clientTransport := tcp.NewTCPClientTransport()
		s, err := NewRPCStore(storeDB, config, clientTransport, ser)
		require.NoError(t, err)
		defer clientTransport.Close()

		err = s.KVSDrop("missing")
		var kErr *kvdb.Error
		require.ErrorAs(t, err, &kErr)
		assert.Equal(t, kvdb.CodeNotFound, kErr.Code)
		assert.NotEmpty(t, kErr.Op)
	})

	t.Run("ClosedTransport", func(t *testing.T) {
		clientTransport := tcp.NewTCPClientTransport()
		s, err := NewRPCStore(storeDB, config, clientTransport, ser)
		require.NoError(t, err)
		require.NoError(t, clientTransport.Close())

		_, err = s.KVSNames()
		assert.Equal(t, kvdb.CodeEngine, kvdb.CodeOf(err))
	})

	t.Run("NoServer", func(t *testing.T) {
		clientTransport := tcp.NewTCPClientTransport()
		_, err := NewRPCStore(storeDB, common.ClientConfig{
			Transport: common.ClientTransportConfig{Endpoints: []string{"127.0.0.1:1"}},
		}, clientTransport, ser)
		assert.Error(t, err)
	})
}
