package kvdb

import (
	"bytes"
	"github.com/ValentinKolb/tKV/lib/engine"
	"github.com/ValentinKolb/tKV/lib/engine/util"
	"github.com/google/btree"
	"sync"
	"sync/atomic"
)

// TxnState is the lifecycle state of a transaction handle
type TxnState uint8

const (
	TxnInvalid   TxnState = iota // Allocated, never begun
	TxnActive                    // Begun, neither committed nor aborted
	TxnCommitted                 // Last epoch committed
	TxnAborted                   // Last epoch aborted
)

func (s TxnState) String() string {
	switch s {
	case TxnInvalid:
		return "INVALID"
	case TxnActive:
		return "ACTIVE"
	case TxnCommitted:
		return "COMMITTED"
	case TxnAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// writeEntry is a staged write, a tombstone for deletes
type writeEntry struct {
	key   []byte // engine key
	value []byte
	tomb  bool
}

func lessEntry(a, b *writeEntry) bool { return bytes.Compare(a.key, b.key) < 0 }

// Transaction is a reusable handle for units of work spanning any KVS of one KVDB.
// Every Begin starts a new epoch with a fresh snapshot, Commit and Abort end it.
//
// Thread-safety: A transaction must be driven by one goroutine at a time,
// distinct transactions are independent.
type Transaction struct {
	db *KVDB

	mu         sync.RWMutex
	state      TxnState
	freed      bool
	epoch      uint64
	owner      uint64 // conflict owner of the current epoch, unique within the KVDB
	startSeq   uint64
	snap       *snapRef
	writes     *btree.BTreeG[*writeEntry]
	conflicted bool

	// startSeq+1 while active, 0 otherwise. Read by the conflict pruner without mu.
	horizon atomic.Uint64
}

// State returns the current state
func (t *Transaction) State() TxnState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Epoch returns the number of times the handle was begun
func (t *Transaction) Epoch() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.epoch
}

// Begin starts a new epoch with a fresh snapshot of the KVDB.
// It fails if the transaction is already active.
func (t *Transaction) Begin() error {
	const op = "txn.begin"
	db := t.db
	if err := db.enter(op); err != nil {
		return err
	}
	defer db.leave()

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.freed {
		return NewError(CodeInvalid, op, "transaction was freed")
	}
	if t.state == TxnActive {
		return NewError(CodeInvalid, op, "transaction is already active")
	}

	db.commitMu.RLock()
	snap, err := db.eng.Snapshot()
	if err != nil {
		db.commitMu.RUnlock()
		return engineError(op, err)
	}
	seq := db.seq.Load()
	t.horizon.Store(seq + 1)
	db.activeTxns.Add(1)
	db.txns.Store(t, struct{}{})
	db.commitMu.RUnlock()

	t.snap = newSnapRef(snap, seq)
	t.startSeq = seq
	t.epoch++
	t.owner = db.nextOwner.Add(1)
	t.writes = btree.NewG[*writeEntry](8, lessEntry)
	t.conflicted = false
	t.state = TxnActive
	return nil
}

// Commit makes all writes of the epoch visible atomically.
// If the epoch lost a write conflict Commit fails with CodeConflict and the transaction
// stays active, the caller must abort it.
func (t *Transaction) Commit() error {
	const op = "txn.commit"
	db := t.db
	if err := db.enter(op); err != nil {
		return err
	}
	defer db.leave()

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkActive(op); err != nil {
		return err
	}
	if t.conflicted {
		return &Error{Code: CodeConflict, Op: op, Msg: "transaction lost a write conflict, abort and retry"}
	}

	b := engine.NewBatch()
	t.writes.Ascend(func(e *writeEntry) bool {
		if e.tomb {
			b.Delete(e.key)
		} else {
			b.Set(e.key, e.value)
		}
		return true
	})

	db.commitMu.Lock()
	if !b.Empty() {
		valid := true
		t.writes.Ascend(func(e *writeEntry) bool {
			valid = db.tracker.Validate(e.key, t.owner, t.startSeq)
			return valid
		})
		if !valid {
			db.commitMu.Unlock()
			t.conflicted = true
			metricConflicts.Inc()
			return &Error{Code: CodeConflict, Op: op, Msg: "a conflicting write committed first, abort and retry"}
		}
		if err := db.eng.Apply(b); err != nil {
			db.commitMu.Unlock()
			return engineError(op, err)
		}
		seq := db.seq.Add(1)
		t.writes.Ascend(func(e *writeEntry) bool {
			db.tracker.Publish(e.key, t.owner, seq)
			return true
		})
	}
	t.deactivate()
	db.commitMu.Unlock()

	t.state = TxnCommitted
	t.releaseView()
	metricCommits.Inc()
	return nil
}

// Abort discards all writes of the epoch
func (t *Transaction) Abort() error {
	const op = "txn.abort"
	db := t.db
	if err := db.enter(op); err != nil {
		return err
	}
	defer db.leave()

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkActive(op); err != nil {
		return err
	}
	t.abortLocked()
	return nil
}

// Free aborts an active epoch and releases the handle, it cannot be used afterwards
func (t *Transaction) Free() error {
	const op = "txn.free"
	db := t.db
	if err := db.enter(op); err != nil {
		return err
	}
	defer db.leave()

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.freed {
		return NewError(CodeInvalid, op, "transaction was freed")
	}
	if t.state == TxnActive {
		t.abortLocked()
	}
	t.freed = true
	db.txns.Delete(t)
	return nil
}

// --------------------------------------------------------------------------
// Internal (callers hold db.enter)
// --------------------------------------------------------------------------

func (t *Transaction) checkActive(op string) error {
	if t.freed {
		return NewError(CodeInvalid, op, "transaction was freed")
	}
	if t.state != TxnActive {
		return NewError(CodeInvalid, op, "transaction is %s, not ACTIVE", t.state)
	}
	return nil
}

func (t *Transaction) abortLocked() {
	t.writes.Ascend(func(e *writeEntry) bool {
		t.db.tracker.Release(e.key, t.owner)
		return true
	})
	t.deactivate()
	t.state = TxnAborted
	t.releaseView()
	metricAborts.Inc()
}

func (t *Transaction) deactivate() {
	t.horizon.Store(0)
	t.db.activeTxns.Add(-1)
	t.db.txns.Delete(t)
}

func (t *Transaction) releaseView() {
	if t.snap != nil {
		t.snap.release()
		t.snap = nil
	}
	t.writes = nil
}

// invalidate ends an active epoch when the KVDB closes
func (t *Transaction) invalidate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == TxnActive {
		t.deactivate()
		t.state = TxnAborted
		t.releaseView()
	}
	t.freed = true
}

// stage records a write (or a delete if tomb is set) of an engine key
func (t *Transaction) stage(op string, key, value []byte, tomb bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkActive(op); err != nil {
		return err
	}
	return t.stageLocked(op, key, value, tomb)
}

func (t *Transaction) stageLocked(op string, key, value []byte, tomb bool) error {
	if !t.db.tracker.Claim(key, t.owner, t.startSeq) {
		t.conflicted = true
		metricConflicts.Inc()
		return &Error{Code: CodeConflict, Op: op, Msg: "key was written by a concurrent transaction"}
	}
	t.writes.ReplaceOrInsert(&writeEntry{key: key, value: value, tomb: tomb})
	return nil
}

// get reads an engine key through the view of the active epoch
func (t *Transaction) get(op string, key []byte) ([]byte, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if err := t.checkActive(op); err != nil {
		return nil, false, err
	}
	if e, ok := t.writes.Get(&writeEntry{key: key}); ok {
		if e.tomb {
			return nil, false, nil
		}
		return bytes.Clone(e.value), true, nil
	}
	v, found, err := t.snap.snap.Get(key)
	if err != nil {
		return nil, false, engineError(op, err)
	}
	return v, found, nil
}

// prefixDelete stages a delete of every key below prefix in the snapshot of the epoch.
// Keys committed after the snapshot are not touched and staged writes of the epoch survive,
// whenever they were made. Every deleted key is claimed like a single Delete.
// It returns the number of keys removed from the view.
func (t *Transaction) prefixDelete(op string, prefix []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkActive(op); err != nil {
		return 0, err
	}

	it, err := t.snap.snap.NewIter(prefix, util.PrefixEnd(prefix))
	if err != nil {
		return 0, engineError(op, err)
	}
	var keys [][]byte
	for ok := it.First(); ok; ok = it.Next() {
		if _, staged := t.writes.Get(&writeEntry{key: it.Key()}); !staged {
			keys = append(keys, bytes.Clone(it.Key()))
		}
	}
	err = it.Error()
	_ = it.Close()
	if err != nil {
		return 0, engineError(op, err)
	}

	for _, key := range keys {
		if err := t.stageLocked(op, key, nil, true); err != nil {
			return 0, err
		}
	}
	return len(keys), nil
}

// --------------------------------------------------------------------------
// Cursor Support
// --------------------------------------------------------------------------

// latch returns a new reference to the snapshot of the active epoch
func (t *Transaction) latch() (*snapRef, uint64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.state != TxnActive || t.freed {
		return nil, 0, false
	}
	return t.snap.acquire(), t.epoch, true
}

// relatch is latch for an epoch other than epoch, ok is false if there is none
func (t *Transaction) relatch(epoch uint64) (*snapRef, uint64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.state != TxnActive || t.freed || t.epoch == epoch {
		return nil, 0, false
	}
	return t.snap.acquire(), t.epoch, true
}

// overlaySeek returns the first staged write after from in the given direction inside
// [lower, upper). ok is false if there is none or epoch is not active anymore.
func (t *Transaction) overlaySeek(epoch uint64, from []byte, inclusive, reverse bool, lower, upper []byte) (writeEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var found writeEntry
	ok := false
	if t.state != TxnActive || t.epoch != epoch {
		return found, false
	}

	pivot := &writeEntry{key: from}
	if !reverse {
		t.writes.AscendGreaterOrEqual(pivot, func(e *writeEntry) bool {
			if !inclusive && bytes.Equal(e.key, from) {
				return true
			}
			if bytes.Compare(e.key, upper) >= 0 {
				return false
			}
			found, ok = *e, true
			return false
		})
		return found, ok
	}

	t.writes.DescendLessOrEqual(pivot, func(e *writeEntry) bool {
		if !inclusive && bytes.Equal(e.key, from) {
			return true
		}
		if bytes.Compare(e.key, lower) < 0 {
			return false
		}
		found, ok = *e, true
		return false
	})
	return found, ok
}
