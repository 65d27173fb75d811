package lockmgr

import (
	"bytes"
	"encoding/binary"
	"errors"
	"github.com/ValentinKolb/tKV/lib/kvdb"
	"github.com/ValentinKolb/tKV/lib/store"
	"github.com/lni/dragonboat/v4/logger"
	"time"
)

var Logger = logger.GetLogger("lockmgr")

// DefaultKVS is the KVS holding the locks if none is given
const DefaultKVS = "locks"

type lockMgrImpl struct {
	store store.IStore
	kvs   string
	now   func() time.Time
}

// NewLockManager creates a lock manager storing its locks in the KVS kvs of s.
// The KVS is created if it does not exist yet.
func NewLockManager(s store.IStore, kvs string) (ILockManager, error) {
	if kvs == "" {
		kvs = DefaultKVS
	}
	if err := s.KVSCreate(kvs); err != nil && kvdb.CodeOf(err) != kvdb.CodeExists {
		return nil, err
	}
	return &lockMgrImpl{store: s, kvs: kvs, now: time.Now}, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see lockmgr/interface.go)
// --------------------------------------------------------------------------

func (lm *lockMgrImpl) AcquireLock(key string, timeout uint64) (bool, []byte, error) {
	ownerID, err := generateOwnerID()
	if err != nil {
		return false, nil, err
	}

	var expiresAt int64
	if timeout > 0 {
		expiresAt = lm.now().Add(time.Duration(timeout) * time.Second).UnixNano()
	}

	acquired := false
	err = lm.inTxn(func(txn store.TxnID) error {
		current, found, err := lm.store.Get(txn, lm.kvs, []byte(key))
		if err != nil {
			return err
		}
		if found && !lm.expired(current) {
			return nil
		}
		if err := lm.store.Put(txn, lm.kvs, []byte(key), encodeLock(expiresAt, ownerID)); err != nil {
			return err
		}
		acquired = true
		return nil
	})
	if errors.Is(err, errLost) {
		return false, nil, nil
	}
	if err != nil || !acquired {
		return false, nil, err
	}
	Logger.Debugf("acquired lock %q (timeout %ds)", key, timeout)
	return true, ownerID, nil
}

func (lm *lockMgrImpl) ReleaseLock(key string, ownerID []byte) (bool, error) {
	released := false
	err := lm.inTxn(func(txn store.TxnID) error {
		current, found, err := lm.store.Get(txn, lm.kvs, []byte(key))
		if err != nil {
			return err
		}
		if !found {
			released = true
			return nil
		}
		if _, owner, ok := decodeLock(current); !ok || !bytes.Equal(owner, ownerID) {
			return nil
		}
		if err := lm.store.Delete(txn, lm.kvs, []byte(key)); err != nil {
			return err
		}
		released = true
		return nil
	})
	if errors.Is(err, errLost) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if released {
		Logger.Debugf("released lock %q", key)
	}
	return released, nil
}

// inTxn runs fn in a transaction and commits it.
// A write conflict aborts the transaction and is reported as errLost.
func (lm *lockMgrImpl) inTxn(fn func(txn store.TxnID) error) (err error) {
	txn, err := lm.store.TxnAlloc()
	if err != nil {
		return err
	}
	defer func() { _ = lm.store.TxnFree(txn) }()

	if err := lm.store.TxnBegin(txn); err != nil {
		return err
	}
	err = fn(txn)
	if err == nil {
		err = lm.store.TxnCommit(txn)
	}
	if err != nil {
		_ = lm.store.TxnAbort(txn)
		if kvdb.IsConflict(err) {
			return errLost
		}
		return err
	}
	return nil
}

func (lm *lockMgrImpl) expired(value []byte) bool {
	expiresAt, _, ok := decodeLock(value)
	if !ok {
		return true
	}
	return expiresAt != 0 && lm.now().UnixNano() >= expiresAt
}

// --------------------------------------------------------------------------
// Lock record
// --------------------------------------------------------------------------

// encodeLock lays out a lock as [8 bytes expiry in unix nanos, 0 = never][owner id]
func encodeLock(expiresAt int64, ownerID []byte) []byte {
	buf := make([]byte, 8+len(ownerID))
	binary.BigEndian.PutUint64(buf, uint64(expiresAt))
	copy(buf[8:], ownerID)
	return buf
}

func decodeLock(value []byte) (expiresAt int64, ownerID []byte, ok bool) {
	if len(value) < 8 {
		return 0, nil, false
	}
	return int64(binary.BigEndian.Uint64(value)), value[8:], true
}
