package tcp

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/tKV/rpc/common"
	"github.com/ValentinKolb/tKV/rpc/transport"
	"github.com/ValentinKolb/tKV/rpc/transport/base"
	"net"
)

// defaultBufferSize is the request buffer size if the config does not set one
const defaultBufferSize = 512 * 1024

// listener accepts TCP connections for the base server transport
type listener struct {
	net.ListenConfig
}

func (l *listener) GetName() string { return "tcp" }

func (l *listener) Listen(config common.ServerTransportConfig) (net.Listener, error) {
	ln, err := l.ListenConfig.Listen(context.Background(), "tcp", config.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", config.Endpoint, err)
	}
	return ln, nil
}

func (l *listener) UpgradeConnection(conn net.Conn, config common.ServerTransportConfig) error {
	return upgrade(conn, config.SocketConf, config.TCPConf)
}

// NewTCPServerTransport creates a TCP server transport with 512 KB request buffers by default
func NewTCPServerTransport() transport.IRPCServerTransport {
	// KeepAlive -1 leaves keepalive to the --tcp-keepalive option
	return base.NewBaseServerTransport(&listener{net.ListenConfig{KeepAlive: -1}}, defaultBufferSize)
}
