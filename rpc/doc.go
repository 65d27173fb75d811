// Package rpc makes KVDBs available over the network. A server serves one or more
// databases (KVDB homes) and clients access them through the same store.IStore and
// lockmgr.ILockManager interfaces that local code uses.
//
// The package is organized into several subpackages:
//
//   - common: the Message protocol, configuration structures and logging.
//
//   - transport: network transports (TCP, Unix sockets, HTTP) moving opaque request
//     and response bytes addressed to a database id.
//
//   - serializer: message encodings (binary, JSON, GOB).
//
//   - client: store.IStore and lockmgr.ILockManager implementations that forward every
//     call to a server.
//
//   - server: the server opening the configured databases and dispatching requests.
//
// Transactions and cursors are handles into server memory. A client must talk to the
// server that created a handle, and handles do not survive a server restart.
package rpc
