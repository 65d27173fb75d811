// Package kvdb implements transactional key-value stores on top of an ordered storage engine.
//
// A KVDB is a database home holding any number of named KVS (key-value stores). All KVS of
// a KVDB share one engine keyspace and one transaction domain:
//
//	if err := kvdb.Init("", "engine=pebble"); err != nil { ... }
//	defer kvdb.Fini()
//
//	_ = kvdb.Create("/data/db")
//	db, _ := kvdb.Open("/data/db")
//	_ = db.KVSCreate("users", "prefix.length=4")
//	kvs, _ := db.KVSOpen("users")
//
//	txn, _ := db.Transaction()
//	_ = txn.Begin()
//	_ = kvs.Put(txn, []byte("u001:name"), []byte("ada"))
//	_ = txn.Commit()
//
// # Transactions
//
// A Transaction is a reusable handle in one of the states INVALID, ACTIVE, COMMITTED or
// ABORTED. Begin starts an epoch with a snapshot, reads inside the epoch see the snapshot
// plus the epoch's own writes. Writes are checked for write-write conflicts when they are
// made: a key already written by another active epoch, or committed after the snapshot,
// fails with CodeConflict and the epoch must be aborted and retried.
//
// # Cursors
//
// Cursors read a snapshot in key order. A cursor created with a transaction is bound to
// its active epoch for its whole life. An unbound cursor can be refreshed with UpdateView
// or rebound to a transaction with Rebind, either for one epoch or sticky for every epoch.
// On a prefix KVS a cursor whose filter covers the prefix length only touches that prefix.
//
// # Errors
//
// Every error is an *Error with a Code. Callers branch on the kind: usage errors are bugs or
// illegal states, conflicts are retryable in a new epoch and engine errors come from below.
// A missing key is never an error.
package kvdb
