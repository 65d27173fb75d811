package lstore

import (
	"github.com/ValentinKolb/tKV/lib/kvdb"
	"github.com/ValentinKolb/tKV/lib/store"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"sync"
	"sync/atomic"
)

var Logger = logger.GetLogger("store")

type storeImpl struct {
	db *kvdb.KVDB

	// kvsMu serializes opening and dropping KVS, lookups go through the map only
	kvsMu sync.Mutex
	kvs   *xsync.MapOf[string, *kvdb.KVS]

	txns    *xsync.MapOf[store.TxnID, *kvdb.Transaction]
	cursors *xsync.MapOf[store.CursorID, *kvdb.Cursor]
	index   atomic.Uint64
}

// Store is a local store.IStore that can be closed
type Store interface {
	store.IStore
	// DB returns the served KVDB
	DB() *kvdb.KVDB
	// Close frees all handles and closes the KVDB
	Close() error
}

// NewLocalStore creates a new local store serving the KVDB returned by factory.
// KVS are opened on first use and stay open until KVSDrop or Close.
func NewLocalStore(factory store.DBFactory) (Store, error) {
	db, err := factory()
	if err != nil {
		return nil, err
	}
	return &storeImpl{
		db:      db,
		kvs:     xsync.NewMapOf[string, *kvdb.KVS](),
		txns:    xsync.NewMapOf[store.TxnID, *kvdb.Transaction](),
		cursors: xsync.NewMapOf[store.CursorID, *kvdb.Cursor](),
	}, nil
}

// nextID returns a new handle id, ids are never reused and never 0.
//
// Thread-safety: This method is thread-safe since it uses atomic operations.
func (s *storeImpl) nextID() uint64 {
	return s.index.Add(1)
}

func (s *storeImpl) DB() *kvdb.KVDB { return s.db }

func (s *storeImpl) Close() error {
	s.cursors.Range(func(id store.CursorID, c *kvdb.Cursor) bool {
		_ = c.Close()
		s.cursors.Delete(id)
		return true
	})
	s.txns.Range(func(id store.TxnID, t *kvdb.Transaction) bool {
		_ = t.Free()
		s.txns.Delete(id)
		return true
	})
	s.kvs.Clear()
	Logger.Infof("closing store for %q", s.db.Home())
	return s.db.Close()
}

// --------------------------------------------------------------------------
// Handle lookup
// --------------------------------------------------------------------------

func (s *storeImpl) openKVS(name string) (*kvdb.KVS, error) {
	if k, ok := s.kvs.Load(name); ok {
		return k, nil
	}
	s.kvsMu.Lock()
	defer s.kvsMu.Unlock()
	if k, ok := s.kvs.Load(name); ok {
		return k, nil
	}
	k, err := s.db.KVSOpen(name)
	if err != nil {
		return nil, err
	}
	s.kvs.Store(name, k)
	return k, nil
}

func (s *storeImpl) txn(op string, id store.TxnID) (*kvdb.Transaction, error) {
	if id == store.NoTxn {
		return nil, nil
	}
	t, ok := s.txns.Load(id)
	if !ok {
		return nil, store.UnknownHandle(op, "transaction", uint64(id))
	}
	return t, nil
}

func (s *storeImpl) cursor(op string, id store.CursorID) (*kvdb.Cursor, error) {
	c, ok := s.cursors.Load(id)
	if !ok {
		return nil, store.UnknownHandle(op, "cursor", uint64(id))
	}
	return c, nil
}

// target resolves the KVS and transaction of a point operation
func (s *storeImpl) target(op string, id store.TxnID, name string) (*kvdb.KVS, *kvdb.Transaction, error) {
	t, err := s.txn(op, id)
	if err != nil {
		return nil, nil, err
	}
	k, err := s.openKVS(name)
	if err != nil {
		return nil, nil, err
	}
	return k, t, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) KVSCreate(name string, params ...string) error {
	return s.db.KVSCreate(name, params...)
}

func (s *storeImpl) KVSDrop(name string) error {
	s.kvsMu.Lock()
	defer s.kvsMu.Unlock()

	if k, ok := s.kvs.LoadAndDelete(name); ok {
		s.cursors.Range(func(id store.CursorID, c *kvdb.Cursor) bool {
			if c.KVS() == k {
				s.cursors.Delete(id)
			}
			return true
		})
		if err := k.Close(); err != nil {
			return err
		}
	}
	return s.db.KVSDrop(name)
}

func (s *storeImpl) KVSNames() ([]string, error) {
	return s.db.KVSNames()
}

func (s *storeImpl) Sync() error {
	return s.db.Sync()
}

func (s *storeImpl) Info() (kvdb.Info, error) {
	return s.db.Info()
}

func (s *storeImpl) Put(txn store.TxnID, kvs string, key, value []byte) error {
	k, t, err := s.target("store.put", txn, kvs)
	if err != nil {
		return err
	}
	return k.Put(t, key, value)
}

func (s *storeImpl) Get(txn store.TxnID, kvs string, key []byte) ([]byte, bool, error) {
	k, t, err := s.target("store.get", txn, kvs)
	if err != nil {
		return nil, false, err
	}
	return k.Get(t, key)
}

func (s *storeImpl) Delete(txn store.TxnID, kvs string, key []byte) error {
	k, t, err := s.target("store.delete", txn, kvs)
	if err != nil {
		return err
	}
	return k.Delete(t, key)
}

func (s *storeImpl) PrefixDelete(txn store.TxnID, kvs string, prefix []byte) (int, error) {
	k, t, err := s.target("store.prefix_delete", txn, kvs)
	if err != nil {
		return 0, err
	}
	return k.PrefixDelete(t, prefix)
}

func (s *storeImpl) PrefixProbe(txn store.TxnID, kvs string, prefix []byte) (kvdb.ProbeResult, error) {
	k, t, err := s.target("store.prefix_probe", txn, kvs)
	if err != nil {
		return kvdb.ProbeResult{}, err
	}
	return k.PrefixProbe(t, prefix)
}

func (s *storeImpl) TxnAlloc() (store.TxnID, error) {
	t, err := s.db.Transaction()
	if err != nil {
		return store.NoTxn, err
	}
	id := store.TxnID(s.nextID())
	s.txns.Store(id, t)
	return id, nil
}

func (s *storeImpl) TxnBegin(txn store.TxnID) error {
	t, err := s.liveTxn("store.txn_begin", txn)
	if err != nil {
		return err
	}
	return t.Begin()
}

func (s *storeImpl) TxnCommit(txn store.TxnID) error {
	t, err := s.liveTxn("store.txn_commit", txn)
	if err != nil {
		return err
	}
	return t.Commit()
}

func (s *storeImpl) TxnAbort(txn store.TxnID) error {
	t, err := s.liveTxn("store.txn_abort", txn)
	if err != nil {
		return err
	}
	return t.Abort()
}

func (s *storeImpl) TxnState(txn store.TxnID) (kvdb.TxnState, error) {
	t, err := s.liveTxn("store.txn_state", txn)
	if err != nil {
		return kvdb.TxnInvalid, err
	}
	return t.State(), nil
}

func (s *storeImpl) TxnFree(txn store.TxnID) error {
	t, ok := s.txns.LoadAndDelete(txn)
	if !ok {
		return store.UnknownHandle("store.txn_free", "transaction", uint64(txn))
	}
	return t.Free()
}

// liveTxn is txn for operations that need a handle, NoTxn is rejected
func (s *storeImpl) liveTxn(op string, id store.TxnID) (*kvdb.Transaction, error) {
	t, err := s.txn(op, id)
	if err == nil && t == nil {
		err = store.UnknownHandle(op, "transaction", uint64(id))
	}
	return t, err
}

func (s *storeImpl) CursorCreate(txn store.TxnID, kvs string, filter []byte, reverse bool) (store.CursorID, error) {
	k, t, err := s.target("store.cursor_create", txn, kvs)
	if err != nil {
		return 0, err
	}
	var opts []kvdb.CursorOption
	if reverse {
		opts = append(opts, kvdb.WithReverse())
	}
	c, err := k.Cursor(t, filter, opts...)
	if err != nil {
		return 0, err
	}
	id := store.CursorID(s.nextID())
	s.cursors.Store(id, c)
	return id, nil
}

func (s *storeImpl) CursorRead(cur store.CursorID, n int) ([]store.Pair, bool, error) {
	c, err := s.cursor("store.cursor_read", cur)
	if err != nil {
		return nil, false, err
	}
	if n <= 0 {
		n = 1
	}
	pairs := make([]store.Pair, 0, min(n, 64))
	for len(pairs) < n {
		key, value, eof, err := c.Read()
		if err != nil {
			return pairs, false, err
		}
		if eof {
			return pairs, true, nil
		}
		pairs = append(pairs, store.Pair{
			Key:   append([]byte(nil), key...),
			Value: append([]byte{}, value...),
		})
	}
	return pairs, c.EOF(), nil
}

func (s *storeImpl) CursorSeek(cur store.CursorID, key []byte) ([]byte, error) {
	c, err := s.cursor("store.cursor_seek", cur)
	if err != nil {
		return nil, err
	}
	found, err := c.Seek(key)
	return clone(found), err
}

func (s *storeImpl) CursorSeekRange(cur store.CursorID, min, max []byte) ([]byte, error) {
	c, err := s.cursor("store.cursor_seek_range", cur)
	if err != nil {
		return nil, err
	}
	found, err := c.SeekRange(min, max)
	return clone(found), err
}

func (s *storeImpl) CursorUpdateView(cur store.CursorID) error {
	c, err := s.cursor("store.cursor_update_view", cur)
	if err != nil {
		return err
	}
	return c.UpdateView()
}

func (s *storeImpl) CursorRebind(cur store.CursorID, txn store.TxnID, sticky bool) error {
	const op = "store.cursor_rebind"
	c, err := s.cursor(op, cur)
	if err != nil {
		return err
	}
	t, err := s.txn(op, txn)
	if err != nil {
		return err
	}
	return c.Rebind(t, sticky)
}

func (s *storeImpl) CursorDestroy(cur store.CursorID) error {
	c, ok := s.cursors.LoadAndDelete(cur)
	if !ok {
		return store.UnknownHandle("store.cursor_destroy", "cursor", uint64(cur))
	}
	return c.Close()
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
