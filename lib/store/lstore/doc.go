// Package lstore implements store.IStore for a KVDB opened in the same process.
// It is a thin layer over the kvdb package that turns pointer handles into numeric ids.
//
// Implementation Details:
//
//   - KVS Handles: a KVS is opened on its first use by name and cached in an
//     xsync.MapOf. KVSDrop closes the cached handle (which closes its cursors) before
//     dropping it from the catalog.
//
//   - Transaction and Cursor Handles: TxnAlloc and CursorCreate store the kvdb handle in
//     an xsync.MapOf under an id drawn from an atomic counter. Ids start at 1 and are never
//     reused, so a stale id can never address a newer handle.
//
//   - Result Ownership: cursor reads copy every pair out of the cursor buffers, so
//     batched results stay valid after the next read.
//
// Thread Safety:
//
//	All methods are safe for concurrent use. A single transaction or cursor id should
//	still be driven by one caller at a time, matching the kvdb handle rules.
//
// Usage Example:
//
//	s, err := lstore.NewLocalStore(func() (*kvdb.KVDB, error) {
//	    return kvdb.Open("/var/lib/tkv/main")
//	})
//	defer s.Close()
//
//	txn, _ := s.TxnAlloc()
//	_ = s.TxnBegin(txn)
//	_ = s.Put(txn, "users", []byte("u1"), []byte("alice"))
//	if err := s.TxnCommit(txn); kvdb.IsConflict(err) {
//	    _ = s.TxnAbort(txn)
//	}
package lstore
