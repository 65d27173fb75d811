// Package cmd implements the command-line interface of tKV. It provides a
// hierarchical command structure for running the RPC server, for working with
// KVDB homes directly and for interacting with a server as a client.
//
// The package is organized into several subpackages:
//
//   - serve: Starts the RPC server for one or more KVDB homes
//   - kvdb: Local KVDB maintenance (create, drop, info, compact, sync, stats)
//   - kvs: KVS management over RPC (create, drop, list) and local export/import
//   - kv: Key-value operations over RPC (put, get, del, pdel, probe, scan, txn)
//   - lock: Lock operations over RPC (acquire, release)
//   - perf: Parallel benchmarks against a running server
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// Every flag can also be set as environment variable TKV_<FLAG> (e.g. TKV_TRANSPORT_ENDPOINTS),
// .env and .env.local files in the working directory are loaded first.
//
// See tkv -help for a list of all commands.
package cmd
