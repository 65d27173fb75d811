package kvdb

import (
	"bytes"
	"github.com/ValentinKolb/tKV/lib/engine"
	"github.com/ValentinKolb/tKV/lib/engine/util"
	"iter"
	"sync"
)

// BindMode describes how a cursor relates to a transaction
type BindMode uint8

const (
	BindNone     BindMode = iota // Reads its own snapshot, UpdateView refreshes it
	BindCreation                 // Bound to the epoch active at creation, UpdateView is a no-op
	BindRebound                  // Rebound to one epoch, UpdateView detaches it
	BindSticky                   // Rebound and re-latched on every new epoch of the transaction
)

func (m BindMode) String() string {
	switch m {
	case BindNone:
		return "unbound"
	case BindCreation:
		return "bound"
	case BindRebound:
		return "rebound"
	case BindSticky:
		return "sticky"
	default:
		return "unknown"
	}
}

type pairBuf struct {
	key   []byte // engine key
	value []byte
}

func (b *pairBuf) set(key, value []byte) {
	b.key = append(b.key[:0], key...)
	if b.value == nil {
		b.value = make([]byte, 0, len(value))
	}
	b.value = append(b.value[:0], value...)
}

// Cursor iterates over the keys of a KVS in lexicographic (or reverse) order.
//
// A bound cursor sees the staged writes of its transaction epoch on top of the epoch's
// snapshot. Once the epoch ends the cursor keeps reading the snapshot without them.
//
// Keys and values returned by Read stay valid until the read after the next one.
//
// Thread-safety: A cursor must be used by one goroutine at a time.
type Cursor struct {
	kvs      *KVS
	filter   []byte
	reverse  bool
	isPrefix bool

	lower, upper   []byte // iterator bounds (engine keys)
	fLower, fUpper []byte // keys matching the filter (engine keys)

	mu     sync.Mutex
	closed bool
	err    error

	mode  BindMode
	txn   *Transaction
	epoch uint64
	snap  *snapRef
	it    engine.Iterator

	// the next key is the first key after anchor in cursor direction (or anchor itself if inclusive)
	anchor    []byte
	inclusive bool
	synced    bool // it is positioned on the first snapshot key after anchor
	eof       bool
	rangeMax  []byte // engine key, nil if unbounded

	bufs [2]pairBuf
	cur  int
}

// newCursor creates an unregistered cursor, the caller holds kvs.enter
func newCursor(op string, kvs *KVS, txn *Transaction, filter []byte, reverse bool) (*Cursor, error) {
	fLower := encodeKey(kvs.prefix, filter)
	fUpper := util.PrefixEnd(fLower)
	isPrefix := kvs.pfxLen > 0 && len(filter) >= kvs.pfxLen

	c := &Cursor{
		kvs:      kvs,
		filter:   filter,
		reverse:  reverse,
		isPrefix: isPrefix,
		lower:    kvs.prefix,
		upper:    util.PrefixEnd(kvs.prefix),
		fLower:   fLower,
		fUpper:   fUpper,
	}
	if isPrefix {
		c.lower, c.upper = fLower, fUpper
	}

	if txn != nil {
		snap, epoch, ok := txn.latch()
		if !ok {
			return nil, NewError(CodeInvalid, op, "transaction is not ACTIVE")
		}
		c.mode, c.txn, c.epoch, c.snap = BindCreation, txn, epoch, snap
	} else {
		snap, err := kvs.db.snapshot(op)
		if err != nil {
			return nil, err
		}
		c.snap = snap
	}

	c.rewind()
	return c, nil
}

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

func (c *Cursor) Filter() []byte { return bytes.Clone(c.filter) }

func (c *Cursor) Reverse() bool { return c.reverse }

// IsPrefix reports if the cursor is restricted to one prefix of a prefix KVS
func (c *Cursor) IsPrefix() bool { return c.isPrefix }

// KVS returns the KVS the cursor reads
func (c *Cursor) KVS() *KVS { return c.kvs }

func (c *Cursor) Mode() BindMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// EOF reports if the last read reached the end
func (c *Cursor) EOF() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.eof
}

// Err returns the error that stopped the last Items iteration
func (c *Cursor) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// --------------------------------------------------------------------------
// Public Operations
// --------------------------------------------------------------------------

// enter guards a cursor operation and locks the cursor, callers must call c.leave
func (c *Cursor) enter(op string) error {
	if err := c.kvs.db.enter(op); err != nil {
		return err
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.kvs.db.leave()
		return &Error{Code: CodeClosed, Op: op, Msg: "cursor is closed"}
	}
	return nil
}

func (c *Cursor) leave() {
	c.mu.Unlock()
	c.kvs.db.leave()
}

// Read returns the next pair. At the end it returns eof, further reads keep returning eof.
func (c *Cursor) Read() (key, value []byte, eof bool, err error) {
	const op = "cursor.read"
	if err := c.enter(op); err != nil {
		return nil, nil, false, err
	}
	defer c.leave()
	return c.read(op)
}

// ReadInto is Read copying the pair into caller buffers
func (c *Cursor) ReadInto(keyBuf, valBuf []byte) (ReadResult, error) {
	const op = "cursor.read"
	if err := c.enter(op); err != nil {
		return ReadResult{}, err
	}
	defer c.leave()

	key, value, eof, err := c.read(op)
	if err != nil || eof {
		return ReadResult{EOF: eof}, err
	}
	return ReadResult{
		Key:         fill(keyBuf, key),
		Value:       fill(valBuf, value),
		KeyLength:   len(key),
		ValueLength: len(value),
	}, nil
}

// Items iterates over the remaining pairs. Errors stop the iteration and are reported by Err.
func (c *Cursor) Items() iter.Seq2[[]byte, []byte] {
	return func(yield func([]byte, []byte) bool) {
		c.mu.Lock()
		c.err = nil
		c.mu.Unlock()

		for {
			key, value, eof, err := c.Read()
			if err != nil {
				c.mu.Lock()
				c.err = err
				c.mu.Unlock()
				return
			}
			if eof || !yield(key, value) {
				return
			}
		}
	}
}

// Seek positions the cursor on the first key >= key (<= key for reverse cursors) and
// returns it, nil if there is none. The next Read returns that key. Seek clears a range
// set by SeekRange.
func (c *Cursor) Seek(key []byte) ([]byte, error) {
	const op = "cursor.seek"
	if err := c.enter(op); err != nil {
		return nil, err
	}
	defer c.leave()

	if len(key) > KeyLenMax {
		return nil, NewError(CodeTooLarge, op, "key has %d bytes, the limit is %d", len(key), KeyLenMax)
	}
	metricCursorSeek.Inc()
	c.follow()
	c.rangeMax = nil
	c.seekTo(key)
	return c.peek(op)
}

// SeekRange positions a forward cursor on the first key >= min and limits all following
// reads to keys <= max. It returns the first key in range, nil if there is none.
func (c *Cursor) SeekRange(min, max []byte) ([]byte, error) {
	const op = "cursor.seek_range"
	if err := c.enter(op); err != nil {
		return nil, err
	}
	defer c.leave()

	if c.reverse {
		return nil, NewError(CodeInvalid, op, "seek range is not supported on reverse cursors")
	}
	if len(min) > KeyLenMax || len(max) > KeyLenMax {
		return nil, NewError(CodeTooLarge, op, "range bound exceeds %d bytes", KeyLenMax)
	}
	if bytes.Compare(min, max) > 0 {
		return nil, NewError(CodeInvalid, op, "range minimum is greater than its maximum")
	}
	metricCursorSeek.Inc()
	c.follow()
	c.rangeMax = encodeKey(c.kvs.prefix, max)
	c.seekTo(min)
	return c.peek(op)
}

// UpdateView moves an unbound cursor to a snapshot of now, keeping its position.
// A rebound cursor is detached from its transaction the same way.
// It is a no-op for cursors bound at creation.
func (c *Cursor) UpdateView() error {
	const op = "cursor.update_view"
	if err := c.enter(op); err != nil {
		return err
	}
	defer c.leave()

	if c.mode == BindCreation {
		return nil
	}
	snap, err := c.kvs.db.snapshot(op)
	if err != nil {
		return err
	}
	c.switchSnapshot(snap)
	c.mode, c.txn, c.epoch = BindNone, nil, 0
	c.eof = false
	return nil
}

// Rebind binds the cursor to the active epoch of txn, keeping its position.
// With sticky the cursor follows every future epoch of txn, otherwise only the current one.
// A nil txn detaches the cursor like UpdateView. Cursors bound at creation cannot be rebound.
func (c *Cursor) Rebind(txn *Transaction, sticky bool) error {
	const op = "cursor.rebind"
	if err := c.enter(op); err != nil {
		return err
	}
	defer c.leave()

	if c.mode == BindCreation {
		return NewError(CodeInvalid, op, "cursor is bound to the transaction it was created with")
	}
	if err := c.kvs.checkTxn(op, txn); err != nil {
		return err
	}

	if txn == nil {
		snap, err := c.kvs.db.snapshot(op)
		if err != nil {
			return err
		}
		c.switchSnapshot(snap)
		c.mode, c.txn, c.epoch = BindNone, nil, 0
		c.eof = false
		return nil
	}

	snap, epoch, ok := txn.latch()
	if !ok {
		return NewError(CodeInvalid, op, "transaction is not ACTIVE")
	}
	c.switchSnapshot(snap)
	c.txn, c.epoch = txn, epoch
	c.mode = BindRebound
	if sticky {
		c.mode = BindSticky
	}
	c.eof = false
	return nil
}

// Close releases the snapshot of the cursor. Closing twice is a no-op.
func (c *Cursor) Close() error {
	c.mu.Lock()
	closed := c.closed
	c.release()
	c.mu.Unlock()

	if !closed {
		c.kvs.db.cursors.Delete(c)
	}
	return nil
}

// --------------------------------------------------------------------------
// Internal (callers hold c.mu or own an unregistered cursor)
// --------------------------------------------------------------------------

func (c *Cursor) release() {
	if c.closed {
		return
	}
	c.closed = true
	if c.it != nil {
		_ = c.it.Close()
		c.it = nil
	}
	if c.snap != nil {
		c.snap.release()
		c.snap = nil
	}
	c.txn = nil
}

func (c *Cursor) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.release()
}

func (c *Cursor) switchSnapshot(snap *snapRef) {
	if c.it != nil {
		_ = c.it.Close()
		c.it = nil
	}
	c.snap.release()
	c.snap = snap
	c.synced = false
}

func (c *Cursor) setAnchor(key []byte, inclusive bool) {
	c.anchor = append(c.anchor[:0], key...)
	c.inclusive = inclusive
	c.synced = false
}

// rewind positions the cursor before the first key in cursor direction
func (c *Cursor) rewind() {
	if c.reverse {
		c.setAnchor(c.fUpper, false)
	} else {
		c.setAnchor(c.fLower, true)
	}
	c.eof = false
}

// seekTo positions the cursor before key, clamped to the filter
func (c *Cursor) seekTo(key []byte) {
	full := encodeKey(c.kvs.prefix, key)
	switch {
	case !c.reverse && bytes.Compare(full, c.fLower) < 0:
		c.setAnchor(c.fLower, true)
	case c.reverse && bytes.Compare(full, c.fUpper) >= 0:
		c.setAnchor(c.fUpper, false)
	default:
		c.setAnchor(full, true)
	}
	c.eof = false
}

// follow moves a sticky cursor to a new epoch of its transaction
func (c *Cursor) follow() {
	if c.mode != BindSticky {
		return
	}
	if snap, epoch, ok := c.txn.relatch(c.epoch); ok {
		c.switchSnapshot(snap)
		c.epoch = epoch
	}
}

// peek returns the next key without consuming it
func (c *Cursor) peek(op string) ([]byte, error) {
	full, _, ok, err := c.next(op)
	if err != nil {
		return nil, err
	}
	if !ok {
		c.eof = true
		return nil, nil
	}
	c.setAnchor(full, true)
	return userKey(full), nil
}

func (c *Cursor) read(op string) ([]byte, []byte, bool, error) {
	if c.eof {
		return nil, nil, true, nil
	}
	c.follow()

	full, value, ok, err := c.next(op)
	if err != nil {
		return nil, nil, false, err
	}
	if !ok {
		c.eof = true
		return nil, nil, true, nil
	}
	metricCursorRead.Inc()
	return userKey(full), value, false, nil
}

// position moves the iterator to the first snapshot key after the anchor
func (c *Cursor) position(op string) error {
	if c.it == nil {
		it, err := c.snap.snap.NewIter(c.lower, c.upper)
		if err != nil {
			return engineError(op, err)
		}
		c.it = it
	}
	switch {
	case !c.reverse && c.inclusive:
		c.it.SeekGE(c.anchor)
	case !c.reverse:
		c.it.SeekGE(successor(c.anchor))
	case c.inclusive:
		c.it.SeekLT(successor(c.anchor))
	default:
		c.it.SeekLT(c.anchor)
	}
	c.synced = true
	return nil
}

func (c *Cursor) step() {
	if c.reverse {
		c.it.Prev()
	} else {
		c.it.Next()
	}
}

// before reports if a comes before b in cursor direction
func (c *Cursor) before(a, b []byte) bool {
	if c.reverse {
		return bytes.Compare(a, b) > 0
	}
	return bytes.Compare(a, b) < 0
}

// beyond reports if key and every key after it in cursor direction are out of range
func (c *Cursor) beyond(key []byte) bool {
	if c.reverse {
		return bytes.Compare(key, c.fLower) < 0
	}
	if bytes.Compare(key, c.fUpper) >= 0 {
		return true
	}
	return c.rangeMax != nil && bytes.Compare(key, c.rangeMax) > 0
}

// next merges the snapshot with the staged writes of a live bound epoch and returns the
// next visible pair, copied into the buffer not returned by the previous call.
func (c *Cursor) next(op string) (full, value []byte, ok bool, err error) {
	overlay := c.txn != nil && c.mode != BindNone
	dst := &c.bufs[c.cur^1]

	for {
		if !c.synced {
			if err := c.position(op); err != nil {
				return nil, nil, false, err
			}
		}

		var sk []byte
		if c.it.Valid() {
			sk = c.it.Key()
		} else if err := c.it.Error(); err != nil {
			return nil, nil, false, engineError(op, err)
		}

		var staged writeEntry
		hasStaged := false
		if overlay {
			staged, hasStaged = c.txn.overlaySeek(c.epoch, c.anchor, c.inclusive, c.reverse, c.fLower, c.fUpper)
		}

		if sk == nil && !hasStaged {
			return nil, nil, false, nil
		}

		// staged writes shadow snapshot keys
		if hasStaged && (sk == nil || !c.before(sk, staged.key)) {
			if c.beyond(staged.key) {
				return nil, nil, false, nil
			}
			if sk != nil && bytes.Equal(sk, staged.key) {
				c.step()
			}
			c.anchor = append(c.anchor[:0], staged.key...)
			c.inclusive = false
			if staged.tomb {
				continue
			}
			dst.set(staged.key, staged.value)
			break
		}

		if c.beyond(sk) {
			return nil, nil, false, nil
		}
		c.anchor = append(c.anchor[:0], sk...)
		c.inclusive = false
		dst.set(sk, c.it.Value())
		c.step()
		break
	}

	c.cur ^= 1
	return dst.key, dst.value, true, nil
}
