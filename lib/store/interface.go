package store

import (
	"github.com/ValentinKolb/tKV/lib/kvdb"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// DBFactory is a function type that opens the KVDB used by the store.
// This is used to abstract the creation of the db from the store implementation.
type DBFactory func() (*kvdb.KVDB, error)

// TxnID identifies a transaction handle of a store. NoTxn means non-transactional.
type TxnID uint64

// CursorID identifies a cursor handle of a store
type CursorID uint64

const NoTxn TxnID = 0

// Pair is a key-value pair returned by CursorRead
type Pair struct {
	Key   []byte
	Value []byte
}

// IStore is the handle-based interface for interacting with a KVDB.
// KVS are addressed by name, transactions and cursors by the ids handed out by TxnAlloc and
// CursorCreate. All errors are *kvdb.Error values (or wrap one), so kvdb.CodeOf and the kind
// helpers work on every implementation, including remote ones.
// Results never alias internal buffers, callers own every returned slice.
type IStore interface {
	// KVSCreate creates a new KVS. Params: prefix.length, suffix.length.
	KVSCreate(name string, params ...string) (err error)
	// KVSDrop removes a KVS with all its keys. Cursors of the KVS are destroyed.
	KVSDrop(name string) (err error)
	// KVSNames lists the KVS of the KVDB in lexicographic order.
	KVSNames() (names []string, err error)
	// Sync flushes all applied writes to media.
	Sync() (err error)
	// Info returns information about the underlying KVDB.
	Info() (info kvdb.Info, err error)

	// Put inserts or replaces a key-value pair.
	Put(txn TxnID, kvs string, key, value []byte) (err error)
	// Get returns the value for a key. The boolean reports whether the key was found.
	Get(txn TxnID, kvs string, key []byte) (value []byte, found bool, err error)
	// Delete removes a key. Deleting a missing key is not an error.
	Delete(txn TxnID, kvs string, key []byte) (err error)
	// PrefixDelete removes every key starting with prefix and returns how many were removed.
	PrefixDelete(txn TxnID, kvs string, prefix []byte) (removed int, err error)
	// PrefixProbe reports whether zero, one or multiple keys start with prefix.
	PrefixProbe(txn TxnID, kvs string, prefix []byte) (res kvdb.ProbeResult, err error)

	// TxnAlloc allocates a transaction handle in state INVALID.
	TxnAlloc() (txn TxnID, err error)
	TxnBegin(txn TxnID) (err error)
	TxnCommit(txn TxnID) (err error)
	TxnAbort(txn TxnID) (err error)
	TxnState(txn TxnID) (state kvdb.TxnState, err error)
	// TxnFree aborts an active transaction and releases the handle.
	TxnFree(txn TxnID) (err error)

	// CursorCreate creates a cursor over the KVS. A non-zero txn binds the cursor at creation.
	CursorCreate(txn TxnID, kvs string, filter []byte, reverse bool) (cur CursorID, err error)
	// CursorRead reads up to n pairs. eof is true once the cursor is exhausted.
	CursorRead(cur CursorID, n int) (pairs []Pair, eof bool, err error)
	// CursorSeek moves the cursor to the first key at or past key and returns it, nil at eof.
	CursorSeek(cur CursorID, key []byte) (found []byte, err error)
	// CursorSeekRange is CursorSeek with an upper (lower for reverse cursors) limit.
	CursorSeekRange(cur CursorID, min, max []byte) (found []byte, err error)
	CursorUpdateView(cur CursorID) (err error)
	// CursorRebind binds the cursor to txn. NoTxn detaches it.
	CursorRebind(cur CursorID, txn TxnID, sticky bool) (err error)
	CursorDestroy(cur CursorID) (err error)
}

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

// UnknownHandle returns the error for an id that does not name a live handle
func UnknownHandle(op, kind string, id uint64) error {
	return kvdb.NewError(kvdb.CodeInvalid, op, "unknown %s handle %d", kind, id)
}
