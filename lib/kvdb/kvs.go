package kvdb

import (
	"bytes"
	"github.com/ValentinKolb/tKV/lib/engine"
	"github.com/ValentinKolb/tKV/lib/engine/util"
	"sync/atomic"
)

// KVS is an open key-value store inside a KVDB.
// Every operation takes an optional transaction, nil means the operation is applied
// (or reads the latest committed state) immediately.
//
// Thread-safety: All methods are safe for concurrent use.
type KVS struct {
	db         *KVDB
	name       string
	prefix     []byte // engine key prefix (the KVS id)
	pfxLen     int
	sfxLen     int
	txnEnabled bool
	params     resolved
	closed     atomic.Bool
}

func (kvs *KVS) Name() string { return kvs.name }

// PrefixLength returns the configured key prefix length, 0 if the KVS is not a prefix KVS
func (kvs *KVS) PrefixLength() int { return kvs.pfxLen }

func (kvs *KVS) SuffixLength() int { return kvs.sfxLen }

func (kvs *KVS) TransactionsEnabled() bool { return kvs.txnEnabled }

// KVDB returns the owning KVDB
func (kvs *KVS) KVDB() *KVDB { return kvs.db }

// Param returns the value of an open parameter
func (kvs *KVS) Param(name string) (string, error) {
	const op = "kvs.param"
	if err := kvs.enter(op); err != nil {
		return "", err
	}
	defer kvs.db.leave()
	return kvs.params.Format(op, name)
}

// Close closes the KVS and all cursors created from it
func (kvs *KVS) Close() error {
	const op = "kvs.close"
	if err := kvs.enter(op); err != nil {
		return err
	}
	defer kvs.db.leave()

	db := kvs.db
	db.catalogMu.Lock()
	if db.open[kvs.name] == kvs {
		delete(db.open, kvs.name)
	}
	kvs.closed.Store(true)
	db.catalogMu.Unlock()

	db.cursors.Range(func(c *Cursor, _ struct{}) bool {
		if c.kvs == kvs {
			c.invalidate()
			db.cursors.Delete(c)
		}
		return true
	})
	Logger.Debugf("closed kvs %q in %q", kvs.name, db.home)
	return nil
}

// Transaction allocates a transaction of the owning KVDB
func (kvs *KVS) Transaction() (*Transaction, error) {
	return kvs.db.Transaction()
}

// --------------------------------------------------------------------------
// Validation
// --------------------------------------------------------------------------

// enter guards a KVS operation, callers must call kvs.db.leave afterwards
func (kvs *KVS) enter(op string) error {
	if err := kvs.db.enter(op); err != nil {
		return err
	}
	if kvs.closed.Load() {
		kvs.db.leave()
		return &Error{Code: CodeClosed, Op: op, Msg: "kvs " + kvs.name + " is closed"}
	}
	return nil
}

func (kvs *KVS) checkTxn(op string, txn *Transaction) error {
	if txn == nil {
		return nil
	}
	if txn.db != kvs.db {
		return NewError(CodeInvalid, op, "transaction belongs to another kvdb")
	}
	if !kvs.txnEnabled {
		return NewError(CodeInvalid, op, "transactions are disabled on kvs %q", kvs.name)
	}
	return nil
}

func checkKey(op string, key []byte) error {
	if len(key) == 0 {
		return NewError(CodeInvalid, op, "key must not be empty")
	}
	if len(key) > KeyLenMax {
		return NewError(CodeTooLarge, op, "key has %d bytes, the limit is %d", len(key), KeyLenMax)
	}
	return nil
}

func checkValue(op string, value []byte) error {
	if len(value) > ValueLenMax {
		return NewError(CodeTooLarge, op, "value has %d bytes, the limit is %d", len(value), ValueLenMax)
	}
	return nil
}

func (kvs *KVS) checkPrefixDelete(op string, prefix []byte) error {
	if kvs.pfxLen == 0 {
		return NewError(CodeInvalid, op, "kvs %q has no prefix length", kvs.name)
	}
	if len(prefix) != kvs.pfxLen {
		return NewError(CodeInvalid, op, "prefix has %d bytes, kvs %q has prefix length %d", len(prefix), kvs.name, kvs.pfxLen)
	}
	return nil
}

func (kvs *KVS) checkProbe(op string, prefix []byte) error {
	if kvs.pfxLen == 0 {
		return NewError(CodeInvalid, op, "kvs %q has no prefix length", kvs.name)
	}
	if len(prefix) < kvs.pfxLen {
		return NewError(CodeInvalid, op, "prefix has %d bytes, kvs %q needs at least %d", len(prefix), kvs.name, kvs.pfxLen)
	}
	if len(prefix) > KeyLenMax {
		return NewError(CodeTooLarge, op, "prefix has %d bytes, the limit is %d", len(prefix), KeyLenMax)
	}
	return nil
}

// --------------------------------------------------------------------------
// Key-Value Operations
// --------------------------------------------------------------------------

// Put inserts or replaces the value of key. A nil value is stored as an empty value.
func (kvs *KVS) Put(txn *Transaction, key, value []byte) error {
	const op = "kvs.put"
	if err := kvs.enter(op); err != nil {
		return err
	}
	defer kvs.db.leave()

	if err := kvs.db.checkWritable(op); err != nil {
		return err
	}
	if err := kvs.checkTxn(op, txn); err != nil {
		return err
	}
	if err := checkKey(op, key); err != nil {
		return err
	}
	if err := checkValue(op, value); err != nil {
		return err
	}
	metricPut.Inc()

	full := encodeKey(kvs.prefix, key)
	if value == nil {
		value = []byte{}
	} else {
		value = bytes.Clone(value)
	}
	if txn != nil {
		return txn.stage(op, full, value, false)
	}

	b := engine.NewBatch()
	b.Set(full, value)
	return kvs.db.applyPlain(op, b, [][]byte{full})
}

// Get returns a copy of the value of key. found is false if the key does not exist.
func (kvs *KVS) Get(txn *Transaction, key []byte) (value []byte, found bool, err error) {
	const op = "kvs.get"
	if err := kvs.enter(op); err != nil {
		return nil, false, err
	}
	defer kvs.db.leave()
	return kvs.get(op, txn, key)
}

func (kvs *KVS) get(op string, txn *Transaction, key []byte) ([]byte, bool, error) {
	if err := kvs.checkTxn(op, txn); err != nil {
		return nil, false, err
	}
	if err := checkKey(op, key); err != nil {
		return nil, false, err
	}
	metricGet.Inc()

	full := encodeKey(kvs.prefix, key)
	if txn != nil {
		return txn.get(op, full)
	}
	v, found, err := kvs.db.eng.Get(full)
	if err != nil {
		return nil, false, engineError(op, err)
	}
	return v, found, nil
}

// GetInto copies the value of key into buf and reports its true length
func (kvs *KVS) GetInto(txn *Transaction, key, buf []byte) (GetResult, error) {
	const op = "kvs.get"
	if err := kvs.enter(op); err != nil {
		return GetResult{}, err
	}
	defer kvs.db.leave()

	v, found, err := kvs.get(op, txn, key)
	if err != nil || !found {
		return GetResult{}, err
	}
	return GetResult{Found: true, Value: fill(buf, v), Length: len(v)}, nil
}

// Delete removes key, a missing key is not an error
func (kvs *KVS) Delete(txn *Transaction, key []byte) error {
	const op = "kvs.delete"
	if err := kvs.enter(op); err != nil {
		return err
	}
	defer kvs.db.leave()

	if err := kvs.db.checkWritable(op); err != nil {
		return err
	}
	if err := kvs.checkTxn(op, txn); err != nil {
		return err
	}
	if err := checkKey(op, key); err != nil {
		return err
	}
	metricDelete.Inc()

	full := encodeKey(kvs.prefix, key)
	if txn != nil {
		return txn.stage(op, full, nil, true)
	}

	b := engine.NewBatch()
	b.Delete(full)
	return kvs.db.applyPlain(op, b, [][]byte{full})
}

// PrefixDelete removes every key starting with prefix. The prefix length must equal the
// prefix length of the KVS. Inside a transaction the delete applies as of the start of the
// epoch: writes of the same epoch survive it.
// It returns the number of keys removed from the operation's view.
func (kvs *KVS) PrefixDelete(txn *Transaction, prefix []byte) (int, error) {
	const op = "kvs.prefix_delete"
	if err := kvs.enter(op); err != nil {
		return 0, err
	}
	defer kvs.db.leave()

	if err := kvs.db.checkWritable(op); err != nil {
		return 0, err
	}
	if err := kvs.checkTxn(op, txn); err != nil {
		return 0, err
	}
	if err := kvs.checkPrefixDelete(op, prefix); err != nil {
		return 0, err
	}
	metricPrefixDelete.Inc()

	full := encodeKey(kvs.prefix, prefix)
	if txn != nil {
		return txn.prefixDelete(op, full)
	}

	db := kvs.db
	db.commitMu.Lock()
	defer db.commitMu.Unlock()

	end := util.PrefixEnd(full)
	it, err := db.eng.NewIter(full, end)
	if err != nil {
		return 0, engineError(op, err)
	}
	// running transactions must see every removed key as a committed write
	publish := db.activeTxns.Load() > 0
	var removed [][]byte
	count := 0
	for ok := it.First(); ok; ok = it.Next() {
		count++
		if publish {
			removed = append(removed, bytes.Clone(it.Key()))
		}
	}
	err = it.Error()
	_ = it.Close()
	if err != nil {
		return 0, engineError(op, err)
	}
	if count == 0 {
		return 0, nil
	}

	b := engine.NewBatch()
	b.DeleteRange(full, end)
	if err := db.eng.Apply(b); err != nil {
		return 0, engineError(op, err)
	}
	seq := db.seq.Add(1)
	for _, key := range removed {
		db.tracker.Publish(key, 0, seq)
	}
	return count, nil
}

// PrefixProbe reports whether zero, one or multiple keys start with prefix and returns
// one matching pair. The prefix must be at least as long as the prefix length of the KVS.
func (kvs *KVS) PrefixProbe(txn *Transaction, prefix []byte) (ProbeResult, error) {
	const op = "kvs.prefix_probe"
	if err := kvs.enter(op); err != nil {
		return ProbeResult{}, err
	}
	defer kvs.db.leave()

	res, err := kvs.probe(op, txn, prefix)
	if err != nil || res.Cardinality == ProbeZero {
		return ProbeResult{}, err
	}
	res.Key, res.Value = bytes.Clone(res.Key), bytes.Clone(res.Value)
	return res, nil
}

// PrefixProbeInto is PrefixProbe copying the pair into caller buffers
func (kvs *KVS) PrefixProbeInto(txn *Transaction, prefix, keyBuf, valBuf []byte) (ProbeResult, error) {
	const op = "kvs.prefix_probe"
	if err := kvs.enter(op); err != nil {
		return ProbeResult{}, err
	}
	defer kvs.db.leave()

	res, err := kvs.probe(op, txn, prefix)
	if err != nil || res.Cardinality == ProbeZero {
		return ProbeResult{}, err
	}
	res.Key, res.Value = fill(keyBuf, res.Key), fill(valBuf, res.Value)
	return res, nil
}

// probe reads up to two keys through an internal cursor.
// The returned pair points into the cursor buffers and must be copied.
func (kvs *KVS) probe(op string, txn *Transaction, prefix []byte) (ProbeResult, error) {
	if err := kvs.checkTxn(op, txn); err != nil {
		return ProbeResult{}, err
	}
	if err := kvs.checkProbe(op, prefix); err != nil {
		return ProbeResult{}, err
	}
	metricPrefixProbe.Inc()

	c, err := newCursor(op, kvs, txn, prefix, false)
	if err != nil {
		return ProbeResult{}, err
	}
	defer c.release()

	key, value, eof, err := c.read(op)
	if err != nil || eof {
		return ProbeResult{}, err
	}
	res := ProbeResult{Cardinality: ProbeOne, Key: key, Value: value, KeyLength: len(key), ValueLength: len(value)}

	// the second read uses the other buffer, key and value stay valid
	_, _, eof, err = c.read(op)
	if err != nil {
		return ProbeResult{}, err
	}
	if !eof {
		res.Cardinality = ProbeMul
	}
	return res, nil
}

// --------------------------------------------------------------------------
// Cursors
// --------------------------------------------------------------------------

// CursorOption configures a cursor
type CursorOption func(*cursorOptions)

type cursorOptions struct {
	reverse bool
}

// WithReverse creates a cursor iterating in reverse lexicographic order
func WithReverse() CursorOption {
	return func(o *cursorOptions) { o.reverse = true }
}

// Cursor creates a cursor over all keys starting with filter (all keys for an empty filter).
// With txn the cursor is bound to the active epoch of txn and sees its staged writes.
// Without txn the cursor reads a snapshot taken now.
func (kvs *KVS) Cursor(txn *Transaction, filter []byte, opts ...CursorOption) (*Cursor, error) {
	const op = "kvs.cursor_create"
	if err := kvs.enter(op); err != nil {
		return nil, err
	}
	defer kvs.db.leave()

	if err := kvs.checkTxn(op, txn); err != nil {
		return nil, err
	}
	if len(filter) > KeyLenMax {
		return nil, NewError(CodeTooLarge, op, "filter has %d bytes, the limit is %d", len(filter), KeyLenMax)
	}
	var o cursorOptions
	for _, opt := range opts {
		opt(&o)
	}

	c, err := newCursor(op, kvs, txn, bytes.Clone(filter), o.reverse)
	if err != nil {
		return nil, err
	}
	if c.isPrefix {
		metricPrefixCursors.Inc()
	} else {
		metricScanCursors.Inc()
	}
	kvs.db.cursors.Store(c, struct{}{})
	return c, nil
}
