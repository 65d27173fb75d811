package common

import (
	"fmt"
	"strconv"
	"strings"
)

// --------------------------------------------------------------------------
// Socket configuration (shared by server and client)
// --------------------------------------------------------------------------

// SocketConf holds socket buffer sizes in bytes, 0 keeps the OS default
type SocketConf struct {
	WriteBufferSize int
	ReadBufferSize  int
}

// TCPConf holds TCP specific socket options
type TCPConf struct {
	TCPNoDelay      bool
	TCPKeepAliveSec int // 0 disables keep-alive
	TCPLingerSec    int // 0 keeps the OS default
}

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

type DatabaseType string

const (
	DatabaseTypeStore   DatabaseType = "store"
	DatabaseTypeLockMgr DatabaseType = "lockmgr"
)

// ParseDatabaseType converts a name to a DatabaseType
func ParseDatabaseType(s string) (DatabaseType, error) {
	switch DatabaseType(strings.TrimSpace(s)) {
	case DatabaseTypeStore:
		return DatabaseTypeStore, nil
	case DatabaseTypeLockMgr:
		return DatabaseTypeLockMgr, nil
	default:
		return "", fmt.Errorf("invalid database type: %s (expected one of: store, lockmgr)", s)
	}
}

// DatabaseConfig describes one KVDB served by the server
type DatabaseConfig struct {
	// ID routes requests to this database, it must be unique per server
	ID uint64
	// Home is the KVDB home (a directory for the pebble engine)
	Home string
	// Type selects the served interface
	Type DatabaseType
	// Create creates the KVDB if the home does not exist yet
	Create bool
	// Params are the KVDB open params (e.g. "read_only=true")
	Params []string
	// LockKVS is the KVS holding the locks of a lockmgr database
	LockKVS string
}

// ServerTransportConfig holds the listener settings of the server
type ServerTransportConfig struct {
	// Endpoint is the listen address (host:port for tcp and http, a socket path for unix)
	Endpoint string
	// WorkersPerConn limits the requests processed in parallel per connection (tcp, unix)
	WorkersPerConn int
	// BufferSize is the size of the pooled request buffers in bytes (tcp, unix)
	BufferSize int
	SocketConf
	TCPConf
}

// ServerConfig holds all configuration parameters for the RPC server.
type ServerConfig struct {
	Databases []DatabaseConfig
	Transport ServerTransportConfig

	// TimeoutSecond bounds writing a response, 0 disables the deadline
	TimeoutSecond int64

	// KVDB runtime settings (kvdb.Init)
	KVDBConfigFile string
	KVDBParams     []string

	// Logging configuration
	LogLevel string
}

// Validate checks the database list
func (c *ServerConfig) Validate() error {
	if len(c.Databases) == 0 {
		return fmt.Errorf("no databases configured")
	}
	seen := make(map[uint64]bool, len(c.Databases))
	for _, db := range c.Databases {
		if seen[db.ID] {
			return fmt.Errorf("duplicate database id %d", db.ID)
		}
		seen[db.ID] = true
		if db.Home == "" {
			return fmt.Errorf("database %d has no home", db.ID)
		}
		if _, err := ParseDatabaseType(string(db.Type)); err != nil {
			return fmt.Errorf("database %d: %v", db.ID, err)
		}
	}
	return nil
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder
	addSection, addField := formatter(&sb)

	// RPC settings
	addSection("RPC Server")
	addField("Endpoint", c.Transport.Endpoint)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Workers Per Connection", strconv.Itoa(c.Transport.WorkersPerConn))
	addField("Buffer Size", fmt.Sprintf("%d bytes", c.Transport.BufferSize))

	// KVDB runtime
	addSection("KVDB Runtime")
	addField("Config File", c.KVDBConfigFile)
	addField("Params", strings.Join(c.KVDBParams, " "))

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)

	// Databases
	addSection("Databases")
	for _, db := range c.Databases {
		desc := fmt.Sprintf("%s at %s", db.Type, db.Home)
		if len(db.Params) > 0 {
			desc += " (" + strings.Join(db.Params, ", ") + ")"
		}
		addField(strconv.FormatUint(db.ID, 10), desc)
	}
	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

// ClientTransportConfig holds the connection settings of the client.
// Transaction and cursor ids are local to one server, so all endpoints must reach the same
// server (e.g. through different interfaces).
type ClientTransportConfig struct {
	Endpoints              []string
	ConnectionsPerEndpoint int
	// RetryCount is the number of attempts for a request that could not be written
	RetryCount int
	SocketConf
	TCPConf
}

type ClientConfig struct {
	TimeoutSecond int
	Transport     ClientTransportConfig
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder
	addSection, addField := formatter(&sb)

	// General Client Settings
	addSection("Client Configuration")
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(c.Transport.RetryCount))
	addField("Connections Per Endpoint", strconv.Itoa(max(1, c.Transport.ConnectionsPerEndpoint)))

	// Endpoints
	addSection("Endpoints")
	for i, endpoint := range c.Transport.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	return sb.String()
}

// formatter returns helper functions for consistent formatting of config dumps
func formatter(sb *strings.Builder) (addSection func(title string), addField func(name, value string)) {
	addSection = func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}
	addField = func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-24s: %s\n", name, value))
	}
	return addSection, addField
}
