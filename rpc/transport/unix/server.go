package unix

import (
	"fmt"
	"github.com/ValentinKolb/tKV/rpc/common"
	"github.com/ValentinKolb/tKV/rpc/transport"
	"github.com/ValentinKolb/tKV/rpc/transport/base"
	"net"
	"os"
)

// defaultBufferSize is the request buffer size if the config does not set one
const defaultBufferSize = 64 * 1024

// listener creates the socket file and accepts connections on it
type listener struct{}

func (listener) GetName() string { return "unix" }

func (listener) Listen(config common.ServerTransportConfig) (net.Listener, error) {
	path := config.Endpoint
	if err := removeStaleSocket(path); err != nil {
		return nil, err
	}

	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", path, err)
	}
	// the socket file is removed again when the listener is closed
	ln.SetUnlinkOnClose(true)
	return ln, nil
}

func (listener) UpgradeConnection(conn net.Conn, config common.ServerTransportConfig) error {
	return upgrade(conn, config.SocketConf)
}

// NewUnixServerTransport creates a Unix socket server transport with 64 KB request buffers by default
func NewUnixServerTransport() transport.IRPCServerTransport {
	return base.NewBaseServerTransport(listener{}, defaultBufferSize)
}

// removeStaleSocket removes a socket file left over at path. Any other file is an error.
func removeStaleSocket(path string) error {
	info, err := os.Lstat(path)
	switch {
	case os.IsNotExist(err):
		return nil
	case err != nil:
		return err
	case info.Mode()&os.ModeSocket == 0:
		return fmt.Errorf("%s exists and is not a unix socket", path)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to remove stale socket %s: %w", path, err)
	}
	return nil
}

// upgrade applies the socket buffer sizes to a Unix connection
func upgrade(conn net.Conn, sock common.SocketConf) error {
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return nil
	}
	if sock.WriteBufferSize > 0 {
		if err := unixConn.SetWriteBuffer(sock.WriteBufferSize); err != nil {
			return err
		}
	}
	if sock.ReadBufferSize > 0 {
		if err := unixConn.SetReadBuffer(sock.ReadBufferSize); err != nil {
			return err
		}
	}
	return nil
}
