// Package server implements the tKV RPC server.
//
// The server opens every configured database through kvdb.Open (creating it first if
// requested) and wraps it in a local store. Requests are routed by database id to the
// adapter of that database:
//
//   - NewIStoreServerAdapter translates store messages into store.IStore calls.
//
//   - NewLockManagerServerAdapter translates lock messages into lockmgr.ILockManager
//     calls on top of the database.
//
// Usage Example:
//
//	config := common.ServerConfig{
//	  Databases: []common.DatabaseConfig{
//	    {ID: 1, Home: "/var/lib/tkv/main", Type: common.DatabaseTypeStore, Create: true},
//	    {ID: 2, Home: "/var/lib/tkv/locks", Type: common.DatabaseTypeLockMgr, Create: true},
//	  },
//	  Transport:     common.ServerTransportConfig{Endpoint: "0.0.0.0:8080"},
//	  TimeoutSecond: 5,
//	  LogLevel:      "info",
//	}
//
//	s := server.NewRPCServer(config, tcp.NewTCPServerTransport(), serializer.NewBinarySerializer())
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
// Serve initializes the kvdb runtime unless the process already did, Close releases
// all handles, closes the databases and finalizes the runtime it initialized.
//
// Thread Safety:
//
//	Requests are handled concurrently. Serve must only be called once.
package server
