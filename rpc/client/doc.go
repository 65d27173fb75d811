// Package client implements store.IStore and lockmgr.ILockManager on top of an RPC
// transport.
//
// Errors returned by the server keep their kvdb code, so kvdb.CodeOf and the kvdb.Is*
// helpers work on them as on local errors. Transport failures are reported with
// kvdb.CodeEngine. A request that was written to the server is never repeated, the
// caller decides whether an operation can be retried.
//
// Usage Example:
//
//	config := common.ClientConfig{
//	  TimeoutSecond: 5,
//	  Transport: common.ClientTransportConfig{
//	    Endpoints:  []string{"localhost:8080"},
//	    RetryCount: 3,
//	  },
//	}
//	ser := serializer.NewBinarySerializer()
//
//	s, _ := client.NewRPCStore(1, config, tcp.NewTCPClientTransport(), ser)
//	_ = s.KVSCreate("users")
//	_ = s.Put(store.NoTxn, "users", []byte("alice"), []byte("admin"))
//
//	locks, _ := client.NewRPCLockMgr(2, config, tcp.NewTCPClientTransport(), ser)
//	if ok, owner, _ := locks.AcquireLock("job", 30); ok {
//	  defer locks.ReleaseLock("job", owner)
//	}
//
// Thread Safety:
//
//	All client implementations can be used concurrently from multiple goroutines.
package client
