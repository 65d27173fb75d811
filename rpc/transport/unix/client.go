package unix

import (
	"fmt"
	"github.com/ValentinKolb/tKV/rpc/common"
	"github.com/ValentinKolb/tKV/rpc/transport"
	"github.com/ValentinKolb/tKV/rpc/transport/base"
	"net"
	"os"
)

// dialer opens connections to a Unix socket file
type dialer struct{}

func (dialer) GetName() string { return "unix" }

func (dialer) Connect(path string) (net.Conn, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Mode()&os.ModeSocket == 0 {
		return nil, fmt.Errorf("%s is not a unix socket", path)
	}
	conn, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (dialer) UpgradeConnection(conn net.Conn, config common.ClientTransportConfig) error {
	return upgrade(conn, config.SocketConf)
}

// NewUnixClientTransport creates a client transport for Unix sockets, endpoints are socket paths
func NewUnixClientTransport() transport.IRPCClientTransport {
	return base.NewBaseClientTransport(dialer{})
}
