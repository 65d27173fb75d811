package testing

import (
	"fmt"
	"sync"
	"testing"

	"github.com/ValentinKolb/tKV/lib/kvdb"
	"github.com/ValentinKolb/tKV/lib/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StoreFactory creates a store over a fresh, empty KVDB for one test
type StoreFactory func(t testing.TB) store.IStore

// RunStoreTests runs the conformance suite every store.IStore implementation must pass.
func RunStoreTests(t *testing.T, name string, factory StoreFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Catalog", func(t *testing.T) {
			testCatalog(t, factory(t))
		})

		t.Run("PutGetDelete", func(t *testing.T) {
			testPutGetDelete(t, factory(t))
		})

		t.Run("PrefixOperations", func(t *testing.T) {
			testPrefixOperations(t, factory(t))
		})

		t.Run("TransactionLifecycle", func(t *testing.T) {
			testTransactionLifecycle(t, factory(t))
		})

		t.Run("TransactionConflict", func(t *testing.T) {
			testTransactionConflict(t, factory(t))
		})

		t.Run("CursorRead", func(t *testing.T) {
			testCursorRead(t, factory(t))
		})

		t.Run("CursorSeek", func(t *testing.T) {
			testCursorSeek(t, factory(t))
		})

		t.Run("CursorBinding", func(t *testing.T) {
			testCursorBinding(t, factory(t))
		})

		t.Run("UnknownHandles", func(t *testing.T) {
			testUnknownHandles(t, factory(t))
		})

		t.Run("DropDestroysCursors", func(t *testing.T) {
			testDropDestroysCursors(t, factory(t))
		})

		t.Run("ConcurrentWriters", func(t *testing.T) {
			testConcurrentWriters(t, factory(t))
		})

		t.Run("Info", func(t *testing.T) {
			testInfo(t, factory(t))
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

func put(t testing.TB, s store.IStore, txn store.TxnID, kvs string, pairs ...string) {
	t.Helper()
	for i := 0; i+1 < len(pairs); i += 2 {
		require.NoError(t, s.Put(txn, kvs, []byte(pairs[i]), []byte(pairs[i+1])))
	}
}

func get(t testing.TB, s store.IStore, txn store.TxnID, kvs, key string) (string, bool) {
	t.Helper()
	v, found, err := s.Get(txn, kvs, []byte(key))
	require.NoError(t, err)
	return string(v), found
}

// readKeys drains a cursor in batches of n
func readKeys(t testing.TB, s store.IStore, cur store.CursorID, n int) []string {
	t.Helper()
	var keys []string
	for {
		pairs, eof, err := s.CursorRead(cur, n)
		require.NoError(t, err)
		require.LessOrEqual(t, len(pairs), n)
		for _, p := range pairs {
			keys = append(keys, string(p.Key))
		}
		if eof {
			return keys
		}
	}
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testCatalog(t *testing.T, s store.IStore) {
	names, err := s.KVSNames()
	require.NoError(t, err)
	assert.Empty(t, names)

	require.NoError(t, s.KVSCreate("beta"))
	require.NoError(t, s.KVSCreate("alpha", "prefix.length=2"))
	assert.Equal(t, kvdb.CodeExists, kvdb.CodeOf(s.KVSCreate("alpha")))
	assert.Equal(t, kvdb.CodeInvalid, kvdb.CodeOf(s.KVSCreate("bad name")))
	assert.Equal(t, kvdb.CodeInvalid, kvdb.CodeOf(s.KVSCreate("gamma", "prefix.length=x")))

	names, err = s.KVSNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, names)

	put(t, s, store.NoTxn, "beta", "k", "v")
	require.NoError(t, s.KVSDrop("beta"))
	assert.Equal(t, kvdb.CodeNotFound, kvdb.CodeOf(s.KVSDrop("beta")))

	// a recreated KVS starts empty
	require.NoError(t, s.KVSCreate("beta"))
	_, found := get(t, s, store.NoTxn, "beta", "k")
	assert.False(t, found)

	_, _, err = s.Get(store.NoTxn, "missing", []byte("k"))
	assert.Equal(t, kvdb.CodeNotFound, kvdb.CodeOf(err))
}

func testPutGetDelete(t *testing.T, s store.IStore) {
	require.NoError(t, s.KVSCreate("kvs"))

	put(t, s, store.NoTxn, "kvs", "key1", "value1", "empty", "")
	v, found := get(t, s, store.NoTxn, "kvs", "key1")
	assert.True(t, found)
	assert.Equal(t, "value1", v)

	v, found = get(t, s, store.NoTxn, "kvs", "empty")
	assert.True(t, found, "an empty value is not an absent key")
	assert.Equal(t, "", v)

	_, found = get(t, s, store.NoTxn, "kvs", "missing")
	assert.False(t, found)

	require.NoError(t, s.Delete(store.NoTxn, "kvs", []byte("key1")))
	_, found = get(t, s, store.NoTxn, "kvs", "key1")
	assert.False(t, found)
	require.NoError(t, s.Delete(store.NoTxn, "kvs", []byte("key1")))

	assert.Equal(t, kvdb.CodeInvalid, kvdb.CodeOf(s.Put(store.NoTxn, "kvs", nil, []byte("v"))))
	big := make([]byte, kvdb.KeyLenMax+1)
	assert.Equal(t, kvdb.CodeTooLarge, kvdb.CodeOf(s.Put(store.NoTxn, "kvs", big, nil)))
}

func testPrefixOperations(t *testing.T, s store.IStore) {
	require.NoError(t, s.KVSCreate("pfx", "prefix.length=2"))
	put(t, s, store.NoTxn, "pfx", "aa1", "1", "aa2", "2", "ab1", "3")

	res, err := s.PrefixProbe(store.NoTxn, "pfx", []byte("aa"))
	require.NoError(t, err)
	assert.Equal(t, kvdb.ProbeMul, res.Cardinality)

	res, err = s.PrefixProbe(store.NoTxn, "pfx", []byte("ab"))
	require.NoError(t, err)
	assert.Equal(t, kvdb.ProbeOne, res.Cardinality)
	assert.Equal(t, "ab1", string(res.Key))
	assert.Equal(t, "3", string(res.Value))

	res, err = s.PrefixProbe(store.NoTxn, "pfx", []byte("zz"))
	require.NoError(t, err)
	assert.Equal(t, kvdb.ProbeZero, res.Cardinality)

	n, err := s.PrefixDelete(store.NoTxn, "pfx", []byte("aa"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	_, found := get(t, s, store.NoTxn, "pfx", "aa1")
	assert.False(t, found)

	_, err = s.PrefixDelete(store.NoTxn, "pfx", []byte("a"))
	assert.Equal(t, kvdb.CodeInvalid, kvdb.CodeOf(err))
}

func testTransactionLifecycle(t *testing.T, s store.IStore) {
	require.NoError(t, s.KVSCreate("kvs"))

	txn, err := s.TxnAlloc()
	require.NoError(t, err)
	assert.NotEqual(t, store.NoTxn, txn)

	state, err := s.TxnState(txn)
	require.NoError(t, err)
	assert.Equal(t, kvdb.TxnInvalid, state)
	assert.Equal(t, kvdb.CodeInvalid, kvdb.CodeOf(s.TxnCommit(txn)))

	require.NoError(t, s.TxnBegin(txn))
	put(t, s, txn, "kvs", "k", "v")

	_, found := get(t, s, store.NoTxn, "kvs", "k")
	assert.False(t, found, "uncommitted writes are invisible outside the transaction")
	v, found := get(t, s, txn, "kvs", "k")
	assert.True(t, found)
	assert.Equal(t, "v", v)

	require.NoError(t, s.TxnCommit(txn))
	state, err = s.TxnState(txn)
	require.NoError(t, err)
	assert.Equal(t, kvdb.TxnCommitted, state)
	_, found = get(t, s, store.NoTxn, "kvs", "k")
	assert.True(t, found)

	// the handle is reusable
	require.NoError(t, s.TxnBegin(txn))
	require.NoError(t, s.Delete(txn, "kvs", []byte("k")))
	require.NoError(t, s.TxnAbort(txn))
	state, err = s.TxnState(txn)
	require.NoError(t, err)
	assert.Equal(t, kvdb.TxnAborted, state)
	_, found = get(t, s, store.NoTxn, "kvs", "k")
	assert.True(t, found)

	require.NoError(t, s.TxnFree(txn))
	_, err = s.TxnState(txn)
	assert.Equal(t, kvdb.CodeInvalid, kvdb.CodeOf(err))
}

func testTransactionConflict(t *testing.T, s store.IStore) {
	require.NoError(t, s.KVSCreate("kvs"))

	t1, err := s.TxnAlloc()
	require.NoError(t, err)
	t2, err := s.TxnAlloc()
	require.NoError(t, err)
	require.NoError(t, s.TxnBegin(t1))
	require.NoError(t, s.TxnBegin(t2))

	put(t, s, t1, "kvs", "k", "one")
	err = s.Put(t2, "kvs", []byte("k"), []byte("two"))
	require.Error(t, err)
	assert.True(t, kvdb.IsConflict(err), "expected a conflict, got %v", err)

	assert.True(t, kvdb.IsConflict(s.TxnCommit(t2)))
	require.NoError(t, s.TxnAbort(t2))
	require.NoError(t, s.TxnCommit(t1))

	v, _ := get(t, s, store.NoTxn, "kvs", "k")
	assert.Equal(t, "one", v)
}

func testCursorRead(t *testing.T, s store.IStore) {
	require.NoError(t, s.KVSCreate("kvs"))
	var want []string
	for i := 0; i < 10; i++ {
		k := fmt.Sprintf("key%02d", i)
		want = append(want, k)
		put(t, s, store.NoTxn, "kvs", k, "v")
	}
	put(t, s, store.NoTxn, "kvs", "other", "v")

	cur, err := s.CursorCreate(store.NoTxn, "kvs", []byte("key"), false)
	require.NoError(t, err)
	assert.Equal(t, want, readKeys(t, s, cur, 3))

	// eof is sticky
	pairs, eof, err := s.CursorRead(cur, 3)
	require.NoError(t, err)
	assert.True(t, eof)
	assert.Empty(t, pairs)
	require.NoError(t, s.CursorDestroy(cur))

	rev, err := s.CursorCreate(store.NoTxn, "kvs", []byte("key"), true)
	require.NoError(t, err)
	got := readKeys(t, s, rev, 4)
	require.Len(t, got, len(want))
	assert.Equal(t, want[len(want)-1], got[0])
	assert.Equal(t, want[0], got[len(got)-1])
	require.NoError(t, s.CursorDestroy(rev))
}

func testCursorSeek(t *testing.T, s store.IStore) {
	require.NoError(t, s.KVSCreate("kvs"))
	put(t, s, store.NoTxn, "kvs", "a", "1", "c", "3", "e", "5", "g", "7")

	cur, err := s.CursorCreate(store.NoTxn, "kvs", nil, false)
	require.NoError(t, err)
	defer s.CursorDestroy(cur)

	found, err := s.CursorSeek(cur, []byte("b"))
	require.NoError(t, err)
	assert.Equal(t, "c", string(found))
	assert.Equal(t, []string{"c", "e", "g"}, readKeys(t, s, cur, 10))

	found, err = s.CursorSeekRange(cur, []byte("a"), []byte("d"))
	require.NoError(t, err)
	assert.Equal(t, "a", string(found))
	assert.Equal(t, []string{"a", "c"}, readKeys(t, s, cur, 10))

	found, err = s.CursorSeek(cur, []byte("z"))
	require.NoError(t, err)
	assert.Nil(t, found)

	_, err = s.CursorSeekRange(cur, []byte("d"), []byte("a"))
	assert.Equal(t, kvdb.CodeInvalid, kvdb.CodeOf(err))
}

func testCursorBinding(t *testing.T, s store.IStore) {
	require.NoError(t, s.KVSCreate("kvs"))
	put(t, s, store.NoTxn, "kvs", "a", "1")

	txn, err := s.TxnAlloc()
	require.NoError(t, err)
	require.NoError(t, s.TxnBegin(txn))
	put(t, s, txn, "kvs", "b", "2")

	bound, err := s.CursorCreate(txn, "kvs", nil, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, readKeys(t, s, bound, 10))
	assert.Equal(t, kvdb.CodeInvalid, kvdb.CodeOf(s.CursorRebind(bound, txn, false)))
	require.NoError(t, s.CursorDestroy(bound))

	unbound, err := s.CursorCreate(store.NoTxn, "kvs", nil, false)
	require.NoError(t, err)
	defer s.CursorDestroy(unbound)
	assert.Equal(t, []string{"a"}, readKeys(t, s, unbound, 10))

	// rebinding keeps the position, seeking back shows the transaction writes
	require.NoError(t, s.CursorRebind(unbound, txn, false))
	_, err = s.CursorSeek(unbound, []byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, readKeys(t, s, unbound, 10))

	require.NoError(t, s.CursorRebind(unbound, store.NoTxn, false))
	_, err = s.CursorSeek(unbound, []byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, readKeys(t, s, unbound, 10))

	require.NoError(t, s.TxnCommit(txn))
	require.NoError(t, s.CursorUpdateView(unbound))
	_, err = s.CursorSeek(unbound, []byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, readKeys(t, s, unbound, 10))

	assert.Equal(t, kvdb.CodeInvalid, kvdb.CodeOf(s.CursorRebind(unbound, txn, true)), "committed transactions cannot be bound")
	require.NoError(t, s.TxnFree(txn))
}

func testUnknownHandles(t *testing.T, s store.IStore) {
	require.NoError(t, s.KVSCreate("kvs"))
	const bogus = 1 << 40

	assert.Equal(t, kvdb.CodeInvalid, kvdb.CodeOf(s.TxnBegin(bogus)))
	assert.Equal(t, kvdb.CodeInvalid, kvdb.CodeOf(s.TxnFree(bogus)))
	assert.Equal(t, kvdb.CodeInvalid, kvdb.CodeOf(s.TxnBegin(store.NoTxn)))
	assert.Equal(t, kvdb.CodeInvalid, kvdb.CodeOf(s.Put(bogus, "kvs", []byte("k"), nil)))
	_, _, err := s.CursorRead(bogus, 1)
	assert.Equal(t, kvdb.CodeInvalid, kvdb.CodeOf(err))
	assert.Equal(t, kvdb.CodeInvalid, kvdb.CodeOf(s.CursorDestroy(bogus)))

	cur, err := s.CursorCreate(store.NoTxn, "kvs", nil, false)
	require.NoError(t, err)
	require.NoError(t, s.CursorDestroy(cur))
	assert.Equal(t, kvdb.CodeInvalid, kvdb.CodeOf(s.CursorDestroy(cur)), "handles are not reusable")
}

func testDropDestroysCursors(t *testing.T, s store.IStore) {
	require.NoError(t, s.KVSCreate("kvs"))
	put(t, s, store.NoTxn, "kvs", "a", "1")

	cur, err := s.CursorCreate(store.NoTxn, "kvs", nil, false)
	require.NoError(t, err)
	require.NoError(t, s.KVSDrop("kvs"))

	_, _, err = s.CursorRead(cur, 1)
	assert.Equal(t, kvdb.CodeInvalid, kvdb.CodeOf(err))
}

func testConcurrentWriters(t *testing.T, s store.IStore) {
	require.NoError(t, s.KVSCreate("kvs"))
	const writers, perWriter = 8, 50

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				key := []byte(fmt.Sprintf("w%d-%03d", w, i))
				if !assert.NoError(t, s.Put(store.NoTxn, "kvs", key, key)) {
					return
				}
			}
		}(w)
	}
	wg.Wait()

	cur, err := s.CursorCreate(store.NoTxn, "kvs", nil, false)
	require.NoError(t, err)
	defer s.CursorDestroy(cur)
	assert.Len(t, readKeys(t, s, cur, 64), writers*perWriter)
}

func testInfo(t *testing.T, s store.IStore) {
	require.NoError(t, s.KVSCreate("one"))
	require.NoError(t, s.KVSCreate("two"))
	require.NoError(t, s.Sync())

	info, err := s.Info()
	require.NoError(t, err)
	assert.Equal(t, 2, info.KVSCount)
	assert.NotEmpty(t, info.Engine)
}
