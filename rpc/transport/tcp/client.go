package tcp

import (
	"github.com/ValentinKolb/tKV/rpc/common"
	"github.com/ValentinKolb/tKV/rpc/transport"
	"github.com/ValentinKolb/tKV/rpc/transport/base"
	"net"
	"time"
)

const dialTimeout = 5 * time.Second

// dialer opens TCP connections, socket options are applied afterward by UpgradeConnection
type dialer struct {
	net.Dialer
}

func (d *dialer) GetName() string { return "tcp" }

func (d *dialer) Connect(endpoint string) (net.Conn, error) {
	return d.Dial("tcp", endpoint)
}

func (d *dialer) UpgradeConnection(conn net.Conn, config common.ClientTransportConfig) error {
	return upgrade(conn, config.SocketConf, config.TCPConf)
}

// NewTCPClientTransport creates a TCP client transport. Dialing an endpoint gives up after 5 seconds.
func NewTCPClientTransport() transport.IRPCClientTransport {
	// KeepAlive -1 leaves keepalive to the --transport-tcp-keepalive option
	return base.NewBaseClientTransport(&dialer{net.Dialer{Timeout: dialTimeout, KeepAlive: -1}})
}
