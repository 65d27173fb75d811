package serve

import (
	"fmt"
	cmdUtil "github.com/ValentinKolb/tKV/cmd/util"
	"github.com/ValentinKolb/tKV/rpc/common"
	"github.com/ValentinKolb/tKV/rpc/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:   "serve",
		Short: "Start the tKV server",
		Long: `Start the tKV server with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is TKV_<flag> (e.g. TKV_TIMEOUT=15).

Every served database is a KVDB home addressed by a numeric id. Database ids are given as ID=TYPE:HOME, where TYPE is store (the full key-value interface) or lockmgr (a lock manager backed by the KVDB).`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	key := "databases"
	ServeCmd.PersistentFlags().String(key, "1=store:data/store,2=lockmgr:data/locks", cmdUtil.WrapString("Comma-separated list of databases to serve. Format: ID=TYPE:HOME where TYPE is one of: store, lockmgr"))

	key = "create"
	ServeCmd.PersistentFlags().Bool(key, true, cmdUtil.WrapString("Create KVDB homes that do not exist yet"))

	key = "db-param"
	ServeCmd.PersistentFlags().StringSlice(key, nil, cmdUtil.WrapString("KVDB open params as key=value applied to every database (e.g. durability.enabled=false), can be repeated"))

	key = "lock-kvs"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Name of the KVS holding the locks of lockmgr databases (empty for the default)"))

	key = "kvdb-config"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Optional kvdb runtime config file (YAML, JSON or TOML)"))

	key = "kvdb-param"
	ServeCmd.PersistentFlags().StringSlice(key, nil, cmdUtil.WrapString("kvdb runtime params as key=value (e.g. engine=memory, socket.enabled=true), can be repeated"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 5, cmdUtil.WrapString("Timeout in seconds for writing a response (0 disables it)"))

	key = "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:8080", cmdUtil.WrapString("The address on which the API will listen (e.g. localhost:8080, /tmp/tkv.sock, ...)"))

	key = "workers"
	ServeCmd.PersistentFlags().Int(key, 32, cmdUtil.WrapString("Requests processed in parallel per connection (tcp, unix)"))

	key = "buffer-size"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("Size of the pooled request buffers in KB (tcp, unix, 0 for the transport default)"))

	key = "socket-write-buffer"
	ServeCmd.PersistentFlags().Int(key, 512, cmdUtil.WrapString("The size of the socket write buffer (in KB, ignored for http)"))

	key = "socket-read-buffer"
	ServeCmd.PersistentFlags().Int(key, 512, cmdUtil.WrapString("The size of the socket read buffer (in KB, ignored for http)"))

	key = "tcp-nodelay"
	ServeCmd.PersistentFlags().Bool(key, true, cmdUtil.WrapString("Whether to enable TCP_NODELAY (tcp only)"))

	key = "tcp-keepalive"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("The keepalive interval (in seconds, tcp only, 0 disables it)"))

	key = "tcp-linger"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("The linger time (in seconds, tcp only, 0 keeps the OS default)"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	dbs, err := parseDatabases(
		viper.GetString("databases"),
		viper.GetBool("create"),
		viper.GetStringSlice("db-param"),
		viper.GetString("lock-kvs"),
	)
	if err != nil {
		return err
	}

	serveCmdConfig.Databases = dbs
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.LogLevel = viper.GetString("log-level")
	serveCmdConfig.KVDBConfigFile = viper.GetString("kvdb-config")
	serveCmdConfig.KVDBParams = viper.GetStringSlice("kvdb-param")
	serveCmdConfig.Transport = common.ServerTransportConfig{
		Endpoint:       viper.GetString("endpoint"),
		WorkersPerConn: viper.GetInt("workers"),
		BufferSize:     viper.GetInt("buffer-size") * 1024,
		SocketConf: common.SocketConf{
			WriteBufferSize: viper.GetInt("socket-write-buffer") * 1024,
			ReadBufferSize:  viper.GetInt("socket-read-buffer") * 1024,
		},
		TCPConf: common.TCPConf{
			TCPNoDelay:      viper.GetBool("tcp-nodelay"),
			TCPKeepAliveSec: viper.GetInt("tcp-keepalive"),
			TCPLingerSec:    viper.GetInt("tcp-linger"),
		},
	}

	return serveCmdConfig.Validate()
}

// parseDatabases parses a list of ID=TYPE:HOME entries
func parseDatabases(list string, create bool, params []string, lockKVS string) ([]common.DatabaseConfig, error) {
	var dbs []common.DatabaseConfig
	for _, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		id, rest, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("invalid database format: %s (expected ID=TYPE:HOME)", entry)
		}
		typ, home, ok := strings.Cut(rest, ":")
		if !ok || strings.TrimSpace(home) == "" {
			return nil, fmt.Errorf("invalid database format: %s (expected ID=TYPE:HOME)", entry)
		}

		dbID, err := strconv.ParseUint(strings.TrimSpace(id), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid database ID %s: %v", id, err)
		}
		dbType, err := common.ParseDatabaseType(typ)
		if err != nil {
			return nil, err
		}

		dbs = append(dbs, common.DatabaseConfig{
			ID:      dbID,
			Home:    strings.TrimSpace(home),
			Type:    dbType,
			Create:  create,
			Params:  params,
			LockKVS: lockKVS,
		})
	}
	if len(dbs) == 0 {
		return nil, fmt.Errorf("no databases configured")
	}
	return dbs, nil
}

// run starts the tKV server and stops it on SIGINT or SIGTERM
func run(_ *cobra.Command, _ []string) error {
	if err := common.InitLoggers(serveCmdConfig.LogLevel); err != nil {
		return err
	}

	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}
	t, err := cmdUtil.GetServerTransport()
	if err != nil {
		return err
	}

	serv := server.NewRPCServer(*serveCmdConfig, t, s)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		sig := <-sigs
		server.Logger.Infof("received %s, shutting down", sig)
		_ = serv.Close()
	}()

	err = serv.Serve()
	if cErr := serv.Close(); err == nil {
		err = cErr
	}
	return err
}
