// Package lockmgr implements a locking mechanism on top of any store.IStore.
// It provides a simple way to coordinate access to shared resources across processes
// that share one KVDB, locally or through the rpc client.
//
// The lock manager keeps no state besides the KVS holding the locks. It is safe to create
// several managers over the same store and KVS, all of them see the same locks.
//
// Implementation Approach:
//
//	Every operation is one store transaction. The transaction reads the lock record and
//	writes (or deletes) it, then commits. Two callers racing for the same key both write
//	it, and the write-write conflict detection of the KVDB lets exactly one of them commit.
//	The loser aborts and reports "not acquired" (or "not released") without an error.
//
//	- Lock Record: [8 byte big endian expiry in unix nanoseconds][32 byte owner id].
//	  An expiry of 0 never expires. An expired lock can be taken over by any caller.
//
//	- Owner IDs: 256 random bits from crypto/rand, returned by AcquireLock and required
//	  by ReleaseLock.
//
// Usage Example:
//
//	lm, err := lockmgr.NewLockManager(store, lockmgr.DefaultKVS)
//	if err != nil {
//	    // Handle error
//	}
//
//	acquired, ownerID, err := lm.AcquireLock("resource:123", 30)
//	if acquired {
//	    // Use the resource safely
//	    released, err := lm.ReleaseLock("resource:123", ownerID)
//	}
//
// Security Considerations:
//
//	Random owner IDs protect against accidental lock stealing. They do not protect
//	against a client with direct write access to the lock KVS.
package lockmgr
