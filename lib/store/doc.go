// Package store provides a handle-based interface over a tKV KVDB.
// Where the kvdb package hands out pointers (*kvdb.KVS, *kvdb.Transaction, *kvdb.Cursor),
// IStore addresses KVS by name and transactions and cursors by numeric ids. This makes
// the whole API expressible as plain request/response messages, which is what the rpc
// package builds on.
//
// Key Components:
//
//   - IStore Interface: catalog operations, point operations, prefix operations, the
//     transaction lifecycle and cursors. Every method takes and returns plain values.
//
//   - Handles: TxnAlloc and CursorCreate return ids that stay valid until TxnFree and
//     CursorDestroy (or until the store is closed). The id NoTxn (0) is never handed out
//     and means "no transaction" wherever a TxnID is accepted.
//
//   - Errors: implementations return *kvdb.Error values. A remote implementation rebuilds
//     them from the wire, so kvdb.IsConflict, kvdb.IsUsage and kvdb.CodeOf behave the same
//     on both sides of a connection.
//
//   - DBFactory: a function that opens the *kvdb.KVDB served by a store, letting the
//     caller choose home, engine and open params.
//
// Implementations:
//
//	- Local Store (lstore): serves an in-process *kvdb.KVDB and keeps the handle tables.
//	  Available in the "github.com/ValentinKolb/tKV/lib/store/lstore" package.
//
//	- Remote Store: the rpc client implements IStore on top of a transport.
//	  Available in the "github.com/ValentinKolb/tKV/rpc/client" package.
//
// The shared conformance suite in "github.com/ValentinKolb/tKV/lib/store/testing" runs
// against any implementation.
package store
