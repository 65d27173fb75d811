package util

import (
	"encoding/hex"
	"fmt"
	"github.com/ValentinKolb/tKV/lib/kvdb"
	"github.com/ValentinKolb/tKV/lib/lockmgr"
	"github.com/ValentinKolb/tKV/lib/store"
	"github.com/ValentinKolb/tKV/rpc/client"
	"github.com/ValentinKolb/tKV/rpc/common"
	"github.com/ValentinKolb/tKV/rpc/serializer"
	"github.com/ValentinKolb/tKV/rpc/transport"
	"github.com/ValentinKolb/tKV/rpc/transport/http"
	"github.com/ValentinKolb/tKV/rpc/transport/tcp"
	"github.com/ValentinKolb/tKV/rpc/transport/unix"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"strings"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		if lineWidth > 0 && lineWidth+1+len(word) > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}
		currentLine.WriteString(word)
		lineWidth += len(word)
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}
	return strings.Join(wrappedLines, "\n")
}

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

// InitConfig loads the .env files and maps TKV_<FLAG> environment variables to flags
func InitConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("tkv")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// --------------------------------------------------------------------------
// RPC Client
// --------------------------------------------------------------------------

// SetupRPCClientFlags adds common RPC connection flags to a command.
// defaultDB is the database id used when --db is not given.
func SetupRPCClientFlags(cmd *cobra.Command, defaultDB uint64) {
	key := "timeout"
	cmd.PersistentFlags().Int(key, 10, WrapString("The timeout in seconds of the client"))

	key = "db"
	cmd.PersistentFlags().Uint64(key, defaultDB, WrapString("ID of the database to connect to"))

	key = "transport-endpoints"
	cmd.PersistentFlags().String(key, "localhost:8080", WrapString("The address of the tKV server. For transports that support load balancing, multiple endpoints can be specified as a comma-separated list"))

	key = "transport-conn-per-endpoint"
	cmd.PersistentFlags().Int(key, 1, WrapString("Simultaneous connections per endpoint (tcp, unix)"))

	key = "transport-retries"
	cmd.PersistentFlags().Int(key, 3, WrapString("How many times to try sending a request. A request is never sent again once it was written"))

	key = "transport-write-buffer"
	cmd.PersistentFlags().Int(key, 512, WrapString("The size of the socket write buffer (in KB, ignored for http)"))

	key = "transport-read-buffer"
	cmd.PersistentFlags().Int(key, 512, WrapString("The size of the socket read buffer (in KB, ignored for http)"))

	key = "transport-tcp-nodelay"
	cmd.PersistentFlags().Bool(key, true, WrapString("Whether to enable TCP_NODELAY (tcp only)"))

	key = "transport-tcp-keepalive"
	cmd.PersistentFlags().Int(key, 0, WrapString("The keepalive interval (in seconds, tcp only, 0 disables it)"))

	key = "transport-tcp-linger"
	cmd.PersistentFlags().Int(key, 0, WrapString("The linger time (in seconds, tcp only, 0 keeps the OS default)"))
}

// GetClientConfig reads client configuration from viper
func GetClientConfig() *common.ClientConfig {
	return &common.ClientConfig{
		TimeoutSecond: viper.GetInt("timeout"),
		Transport: common.ClientTransportConfig{
			RetryCount:             viper.GetInt("transport-retries"),
			Endpoints:              strings.Split(viper.GetString("transport-endpoints"), ","),
			ConnectionsPerEndpoint: viper.GetInt("transport-conn-per-endpoint"),
			SocketConf: common.SocketConf{
				WriteBufferSize: viper.GetInt("transport-write-buffer") * 1024,
				ReadBufferSize:  viper.GetInt("transport-read-buffer") * 1024,
			},
			TCPConf: common.TCPConf{
				TCPKeepAliveSec: viper.GetInt("transport-tcp-keepalive"),
				TCPLingerSec:    viper.GetInt("transport-tcp-linger"),
				TCPNoDelay:      viper.GetBool("transport-tcp-nodelay"),
			},
		},
	}
}

// GetSerializer creates a serializer based on configuration
func GetSerializer() (serializer.IRPCSerializer, error) {
	return serializer.ByName(viper.GetString("serializer"))
}

// GetTransport creates a client transport based on configuration
func GetTransport() (transport.IRPCClientTransport, error) {
	switch viper.GetString("transport") {
	case "http":
		return http.NewHttpClientTransport(), nil
	case "tcp":
		return tcp.NewTCPClientTransport(), nil
	case "unix":
		return unix.NewUnixClientTransport(), nil
	default:
		return nil, fmt.Errorf("invalid transport %s (expected one of: http, tcp, unix)", viper.GetString("transport"))
	}
}

// GetServerTransport creates a server transport based on configuration
func GetServerTransport() (transport.IRPCServerTransport, error) {
	switch viper.GetString("transport") {
	case "http":
		return http.NewHttpServerTransport(), nil
	case "tcp":
		return tcp.NewTCPServerTransport(), nil
	case "unix":
		return unix.NewUnixServerTransport(), nil
	default:
		return nil, fmt.Errorf("invalid transport %s (expected one of: http, tcp, unix)", viper.GetString("transport"))
	}
}

// GetDatabaseID retrieves the configured database id
func GetDatabaseID() uint64 {
	return viper.GetUint64("db")
}

// NewRPCStore connects a store client to the configured database.
// The returned transport has to be closed by the caller.
func NewRPCStore() (store.IStore, transport.IRPCClientTransport, error) {
	config := GetClientConfig()
	s, err := GetSerializer()
	if err != nil {
		return nil, nil, err
	}
	t, err := GetTransport()
	if err != nil {
		return nil, nil, err
	}
	st, err := client.NewRPCStore(GetDatabaseID(), *config, t, s)
	if err != nil {
		_ = t.Close()
		return nil, nil, err
	}
	return st, t, nil
}

// NewRPCLockMgr connects a lock manager client to the configured database
func NewRPCLockMgr() (lockmgr.ILockManager, transport.IRPCClientTransport, error) {
	config := GetClientConfig()
	s, err := GetSerializer()
	if err != nil {
		return nil, nil, err
	}
	t, err := GetTransport()
	if err != nil {
		return nil, nil, err
	}
	locks, err := client.NewRPCLockMgr(GetDatabaseID(), *config, t, s)
	if err != nil {
		_ = t.Close()
		return nil, nil, err
	}
	return locks, t, nil
}

// --------------------------------------------------------------------------
// Local KVDB
// --------------------------------------------------------------------------

// SetupKVDBFlags adds the flags of commands that open a KVDB home directly
func SetupKVDBFlags(cmd *cobra.Command) {
	key := "kvdb-config"
	cmd.PersistentFlags().String(key, "", WrapString("Optional kvdb runtime config file (YAML, JSON or TOML)"))

	key = "kvdb-param"
	cmd.PersistentFlags().StringSlice(key, nil, WrapString("kvdb runtime params as key=value (e.g. engine=pebble), can be repeated"))

	key = "db-param"
	cmd.PersistentFlags().StringSlice(key, nil, WrapString("KVDB open params as key=value (e.g. read_only=true), can be repeated"))

	key = "log-level"
	cmd.PersistentFlags().String(key, "warn", WrapString("The log level of the kvdb runtime (debug, info, warn, error)"))
}

// WithKVDB initializes the kvdb runtime, opens home and runs fn.
// The KVDB is closed and the runtime finalized afterward.
func WithKVDB(home string, fn func(db *kvdb.KVDB) error) error {
	return WithRuntime(func() error {
		db, err := kvdb.Open(home, viper.GetStringSlice("db-param")...)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		return fn(db)
	})
}

// WithRuntime runs fn between kvdb.Init and kvdb.Fini
func WithRuntime(fn func() error) error {
	params := append([]string{"logging.level=" + common.KVDBLogLevel(viper.GetString("log-level"))}, viper.GetStringSlice("kvdb-param")...)
	if err := kvdb.Init(viper.GetString("kvdb-config"), params...); err != nil {
		return err
	}
	defer kvdb.Fini()
	return fn()
}

// --------------------------------------------------------------------------
// Encoding
// --------------------------------------------------------------------------

// SetupEncodingFlags adds the --hex flag
func SetupEncodingFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().Bool("hex", false, WrapString("Keys and values on the command line and in the output are hex encoded"))
}

// Decode converts a command line argument to bytes
func Decode(arg string) ([]byte, error) {
	if !viper.GetBool("hex") {
		return []byte(arg), nil
	}
	b, err := hex.DecodeString(arg)
	if err != nil {
		return nil, fmt.Errorf("invalid hex argument %q: %w", arg, err)
	}
	return b, nil
}

// Encode converts bytes for the output
func Encode(b []byte) string {
	if viper.GetBool("hex") {
		return hex.EncodeToString(b)
	}
	return string(b)
}
