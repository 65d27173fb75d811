package kvdb

import (
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustGet(t testing.TB, kvs *KVS, txn *Transaction, key string) (string, bool) {
	t.Helper()
	v, found, err := kvs.Get(txn, []byte(key))
	require.NoError(t, err)
	return string(v), found
}

func TestTransactionStates(t *testing.T) {
	db, kvs := newTestKVS(t)

	txn, err := db.Transaction()
	require.NoError(t, err)
	assert.Equal(t, TxnInvalid, txn.State())
	assert.Equal(t, "INVALID", txn.State().String())
	assert.Equal(t, uint64(0), txn.Epoch())

	t.Run("InvalidTransitions", func(t *testing.T) {
		assert.Equal(t, CodeInvalid, CodeOf(txn.Commit()))
		assert.Equal(t, CodeInvalid, CodeOf(txn.Abort()))
		assert.Equal(t, CodeInvalid, CodeOf(kvs.Put(txn, []byte("k"), nil)))
		_, _, err := kvs.Get(txn, []byte("k"))
		assert.Equal(t, CodeInvalid, CodeOf(err))
		_, err = kvs.Cursor(txn, nil)
		assert.Equal(t, CodeInvalid, CodeOf(err))
	})

	t.Run("BeginCommit", func(t *testing.T) {
		require.NoError(t, txn.Begin())
		assert.Equal(t, TxnActive, txn.State())
		assert.Equal(t, uint64(1), txn.Epoch())
		assert.Equal(t, CodeInvalid, CodeOf(txn.Begin()))

		require.NoError(t, kvs.Put(txn, []byte("k"), []byte("v")))
		require.NoError(t, txn.Commit())
		assert.Equal(t, TxnCommitted, txn.State())
		assert.Equal(t, CodeInvalid, CodeOf(txn.Commit()))
		assert.Equal(t, CodeInvalid, CodeOf(txn.Abort()))

		v, found := mustGet(t, kvs, nil, "k")
		assert.True(t, found)
		assert.Equal(t, "v", v)
	})

	t.Run("ReuseAfterCommit", func(t *testing.T) {
		require.NoError(t, txn.Begin())
		assert.Equal(t, uint64(2), txn.Epoch())
		require.NoError(t, kvs.Delete(txn, []byte("k")))
		require.NoError(t, txn.Abort())
		assert.Equal(t, TxnAborted, txn.State())
		assert.Equal(t, "ABORTED", txn.State().String())

		_, found := mustGet(t, kvs, nil, "k")
		assert.True(t, found)
	})

	t.Run("Free", func(t *testing.T) {
		require.NoError(t, txn.Begin())
		require.NoError(t, kvs.Put(txn, []byte("freed"), []byte("x")))
		require.NoError(t, txn.Free())

		_, found := mustGet(t, kvs, nil, "freed")
		assert.False(t, found)
		assert.Equal(t, CodeInvalid, CodeOf(txn.Begin()))
		assert.Equal(t, CodeInvalid, CodeOf(txn.Free()))

		info, err := db.Info()
		require.NoError(t, err)
		assert.Equal(t, int64(0), info.ActiveTxns)
	})
}

func TestTransactionIsolation(t *testing.T) {
	db, kvs := newTestKVS(t)
	putAll(t, kvs, nil, "a", "1", "b", "2")

	txn, err := db.Transaction()
	require.NoError(t, err)
	require.NoError(t, txn.Begin())

	t.Run("ReadsOwnWrites", func(t *testing.T) {
		require.NoError(t, kvs.Put(txn, []byte("a"), []byte("10")))
		require.NoError(t, kvs.Delete(txn, []byte("b")))
		require.NoError(t, kvs.Put(txn, []byte("c"), nil))

		v, found := mustGet(t, kvs, txn, "a")
		assert.True(t, found)
		assert.Equal(t, "10", v)
		_, found = mustGet(t, kvs, txn, "b")
		assert.False(t, found)
		v, found = mustGet(t, kvs, txn, "c")
		assert.True(t, found)
		assert.Equal(t, "", v)
	})

	t.Run("UncommittedInvisible", func(t *testing.T) {
		v, found := mustGet(t, kvs, nil, "a")
		assert.True(t, found)
		assert.Equal(t, "1", v)
		_, found = mustGet(t, kvs, nil, "b")
		assert.True(t, found)
		_, found = mustGet(t, kvs, nil, "c")
		assert.False(t, found)
	})

	t.Run("SnapshotIgnoresLaterCommits", func(t *testing.T) {
		putAll(t, kvs, nil, "d", "4")
		_, found := mustGet(t, kvs, txn, "d")
		assert.False(t, found)
	})

	t.Run("CommitPublishes", func(t *testing.T) {
		require.NoError(t, txn.Commit())
		v, found := mustGet(t, kvs, nil, "a")
		assert.True(t, found)
		assert.Equal(t, "10", v)
		_, found = mustGet(t, kvs, nil, "b")
		assert.False(t, found)
		v, found = mustGet(t, kvs, nil, "c")
		assert.True(t, found)
		assert.Equal(t, "", v)
		_, found = mustGet(t, kvs, nil, "d")
		assert.True(t, found)
	})
}

func TestTransactionSpansKVS(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.KVSCreate("one"))
	require.NoError(t, db.KVSCreate("two"))
	one, err := db.KVSOpen("one")
	require.NoError(t, err)
	two, err := db.KVSOpen("two")
	require.NoError(t, err)

	txn, err := one.Transaction()
	require.NoError(t, err)
	require.NoError(t, txn.Begin())
	require.NoError(t, one.Put(txn, []byte("k"), []byte("1")))
	require.NoError(t, two.Put(txn, []byte("k"), []byte("2")))
	require.NoError(t, txn.Abort())

	_, found := mustGet(t, one, nil, "k")
	assert.False(t, found)
	_, found = mustGet(t, two, nil, "k")
	assert.False(t, found)

	t.Run("ForeignTransaction", func(t *testing.T) {
		other := newTestDB(t)
		foreign, err := other.Transaction()
		require.NoError(t, err)
		require.NoError(t, foreign.Begin())
		assert.Equal(t, CodeInvalid, CodeOf(one.Put(foreign, []byte("k"), nil)))
	})

	t.Run("TransactionsDisabled", func(t *testing.T) {
		require.NoError(t, db.KVSCreate("plain"))
		plain, err := db.KVSOpen("plain", "transactions.enabled=false")
		require.NoError(t, err)
		require.NoError(t, txn.Begin())
		defer txn.Abort()

		assert.Equal(t, CodeInvalid, CodeOf(plain.Put(txn, []byte("k"), nil)))
		_, err = plain.Cursor(txn, nil)
		assert.Equal(t, CodeInvalid, CodeOf(err))
		assert.NoError(t, plain.Put(nil, []byte("k"), nil))
	})
}

func TestTransactionConflicts(t *testing.T) {
	t.Run("ConcurrentWriters", func(t *testing.T) {
		db, kvs := newTestKVS(t)
		t1, _ := db.Transaction()
		t2, _ := db.Transaction()
		require.NoError(t, t1.Begin())
		require.NoError(t, t2.Begin())

		require.NoError(t, kvs.Put(t1, []byte("k"), []byte("1")))
		err := kvs.Put(t2, []byte("k"), []byte("2"))
		assert.Equal(t, CodeConflict, CodeOf(err))
		assert.True(t, IsConflict(err))
		assert.ErrorIs(t, err, ErrConflict)

		// the loser stays active and cannot commit
		assert.Equal(t, TxnActive, t2.State())
		assert.Equal(t, CodeConflict, CodeOf(t2.Commit()))
		assert.Equal(t, TxnActive, t2.State())
		require.NoError(t, t2.Abort())

		require.NoError(t, t1.Commit())
		v, _ := mustGet(t, kvs, nil, "k")
		assert.Equal(t, "1", v)

		// a retry in a new epoch succeeds
		require.NoError(t, t2.Begin())
		require.NoError(t, kvs.Put(t2, []byte("k"), []byte("2")))
		require.NoError(t, t2.Commit())
		v, _ = mustGet(t, kvs, nil, "k")
		assert.Equal(t, "2", v)
	})

	t.Run("DisjointKeys", func(t *testing.T) {
		db, kvs := newTestKVS(t)
		t1, _ := db.Transaction()
		t2, _ := db.Transaction()
		require.NoError(t, t1.Begin())
		require.NoError(t, t2.Begin())
		require.NoError(t, kvs.Put(t1, []byte("a"), nil))
		require.NoError(t, kvs.Put(t2, []byte("b"), nil))
		require.NoError(t, t1.Commit())
		require.NoError(t, t2.Commit())
	})

	t.Run("CommittedAfterSnapshot", func(t *testing.T) {
		db, kvs := newTestKVS(t)
		t1, _ := db.Transaction()
		t2, _ := db.Transaction()
		require.NoError(t, t2.Begin())
		require.NoError(t, t1.Begin())
		require.NoError(t, kvs.Put(t1, []byte("k"), []byte("1")))
		require.NoError(t, t1.Commit())

		assert.Equal(t, CodeConflict, CodeOf(kvs.Put(t2, []byte("k"), []byte("2"))))
		require.NoError(t, t2.Abort())
	})

	t.Run("AbortReleasesKeys", func(t *testing.T) {
		db, kvs := newTestKVS(t)
		t1, _ := db.Transaction()
		t2, _ := db.Transaction()
		require.NoError(t, t1.Begin())
		require.NoError(t, t2.Begin())
		require.NoError(t, kvs.Put(t1, []byte("k"), nil))
		require.NoError(t, t1.Abort())
		require.NoError(t, kvs.Put(t2, []byte("k"), nil))
		require.NoError(t, t2.Commit())
	})

	t.Run("PlainWriteBeforeClaim", func(t *testing.T) {
		db, kvs := newTestKVS(t)
		txn, _ := db.Transaction()
		require.NoError(t, txn.Begin())
		putAll(t, kvs, nil, "k", "plain")
		assert.Equal(t, CodeConflict, CodeOf(kvs.Put(txn, []byte("k"), []byte("txn"))))
		require.NoError(t, txn.Abort())
	})

	t.Run("PlainWriteAfterClaim", func(t *testing.T) {
		db, kvs := newTestKVS(t)
		txn, _ := db.Transaction()
		require.NoError(t, txn.Begin())
		require.NoError(t, kvs.Put(txn, []byte("k"), []byte("txn")))
		putAll(t, kvs, nil, "k", "plain")

		assert.Equal(t, CodeConflict, CodeOf(txn.Commit()))
		require.NoError(t, txn.Abort())
		v, _ := mustGet(t, kvs, nil, "k")
		assert.Equal(t, "plain", v)
	})

	t.Run("PlainPrefixDeleteAfterClaim", func(t *testing.T) {
		db, kvs := newTestKVS(t, "prefix.length=3")
		putAll(t, kvs, nil, "aaa1", "old")
		txn, _ := db.Transaction()
		require.NoError(t, txn.Begin())
		require.NoError(t, kvs.Put(txn, []byte("aaa1"), []byte("txn")))

		n, err := kvs.PrefixDelete(nil, []byte("aaa"))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		assert.Equal(t, CodeConflict, CodeOf(txn.Commit()))
		require.NoError(t, txn.Abort())
		_, found := mustGet(t, kvs, nil, "aaa1")
		assert.False(t, found)
	})

	t.Run("PlainPrefixDeleteBeforeClaim", func(t *testing.T) {
		db, kvs := newTestKVS(t, "prefix.length=3")
		putAll(t, kvs, nil, "aaa1", "old")
		txn, _ := db.Transaction()
		require.NoError(t, txn.Begin())

		_, err := kvs.PrefixDelete(nil, []byte("aaa"))
		require.NoError(t, err)
		assert.Equal(t, CodeConflict, CodeOf(kvs.Put(txn, []byte("aaa1"), []byte("txn"))))
		require.NoError(t, txn.Abort())
	})

	t.Run("ParallelIncrements", func(t *testing.T) {
		db, kvs := newTestKVS(t)
		putAll(t, kvs, nil, "counter", "0")

		const workers, rounds = 4, 25
		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				txn, err := db.Transaction()
				if !assert.NoError(t, err) {
					return
				}
				for done := 0; done < rounds; {
					if !assert.NoError(t, txn.Begin()) {
						return
					}
					v, _, err := kvs.Get(txn, []byte("counter"))
					if !assert.NoError(t, err) {
						return
					}
					n, _ := strconv.Atoi(string(v))
					err = kvs.Put(txn, []byte("counter"), []byte(strconv.Itoa(n+1)))
					if err == nil {
						err = txn.Commit()
					}
					if err != nil {
						if !assert.True(t, IsConflict(err)) || !assert.NoError(t, txn.Abort()) {
							return
						}
						continue
					}
					done++
				}
			}()
		}
		wg.Wait()

		v, _ := mustGet(t, kvs, nil, "counter")
		assert.Equal(t, strconv.Itoa(workers*rounds), v)
	})
}

func TestTransactionPrefixDelete(t *testing.T) {
	db, kvs := newTestKVS(t, "prefix.length=3")
	putAll(t, kvs, nil, "aaa1", "x", "aaa2", "y", "bbb1", "z")

	txn, _ := db.Transaction()
	require.NoError(t, txn.Begin())
	require.NoError(t, kvs.Put(txn, []byte("aaa3"), []byte("before")))

	n, err := kvs.PrefixDelete(txn, []byte("aaa"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, kvs.Put(txn, []byte("aaa4"), []byte("after")))

	_, found := mustGet(t, kvs, txn, "aaa1")
	assert.False(t, found)
	v, found := mustGet(t, kvs, txn, "aaa3")
	assert.True(t, found)
	assert.Equal(t, "before", v)

	// invisible outside until commit
	_, found = mustGet(t, kvs, nil, "aaa1")
	assert.True(t, found)

	require.NoError(t, txn.Commit())

	for key, want := range map[string]bool{"aaa1": false, "aaa2": false, "aaa3": true, "aaa4": true, "bbb1": true} {
		_, found := mustGet(t, kvs, nil, key)
		assert.Equal(t, want, found, key)
	}

	t.Run("Aborted", func(t *testing.T) {
		require.NoError(t, txn.Begin())
		n, err := kvs.PrefixDelete(txn, []byte("bbb"))
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		require.NoError(t, txn.Abort())
		_, found := mustGet(t, kvs, nil, "bbb1")
		assert.True(t, found)
	})

	t.Run("Twice", func(t *testing.T) {
		require.NoError(t, txn.Begin())
		defer txn.Abort()
		n, err := kvs.PrefixDelete(txn, []byte("aaa"))
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		n, err = kvs.PrefixDelete(txn, []byte("aaa"))
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})
}

func TestTransactionPrefixDeleteConflicts(t *testing.T) {
	t.Run("KeepsKeysCommittedAfterSnapshot", func(t *testing.T) {
		db, kvs := newTestKVS(t, "prefix.length=3")
		putAll(t, kvs, nil, "aaa1", "x")

		t1, _ := db.Transaction()
		t2, _ := db.Transaction()
		require.NoError(t, t1.Begin())
		require.NoError(t, t2.Begin())
		require.NoError(t, kvs.Put(t2, []byte("aaa9"), []byte("new")))
		require.NoError(t, t2.Commit())

		n, err := kvs.PrefixDelete(t1, []byte("aaa"))
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		require.NoError(t, t1.Commit())

		_, found := mustGet(t, kvs, nil, "aaa1")
		assert.False(t, found)
		v, found := mustGet(t, kvs, nil, "aaa9")
		assert.True(t, found)
		assert.Equal(t, "new", v)
	})

	t.Run("KeyWrittenAfterSnapshot", func(t *testing.T) {
		db, kvs := newTestKVS(t, "prefix.length=3")
		putAll(t, kvs, nil, "aaa1", "x")

		t1, _ := db.Transaction()
		require.NoError(t, t1.Begin())
		putAll(t, kvs, nil, "aaa1", "y")

		_, err := kvs.PrefixDelete(t1, []byte("aaa"))
		assert.Equal(t, CodeConflict, CodeOf(err))
		assert.Equal(t, CodeConflict, CodeOf(t1.Commit()))
		require.NoError(t, t1.Abort())

		v, _ := mustGet(t, kvs, nil, "aaa1")
		assert.Equal(t, "y", v)
	})

	t.Run("KeyClaimedByOtherTransaction", func(t *testing.T) {
		db, kvs := newTestKVS(t, "prefix.length=3")
		putAll(t, kvs, nil, "aaa1", "x", "aaa2", "y")

		t1, _ := db.Transaction()
		t2, _ := db.Transaction()
		require.NoError(t, t1.Begin())
		require.NoError(t, t2.Begin())
		require.NoError(t, kvs.Put(t2, []byte("aaa2"), []byte("t2")))

		_, err := kvs.PrefixDelete(t1, []byte("aaa"))
		assert.Equal(t, CodeConflict, CodeOf(err))
		require.NoError(t, t1.Abort())

		require.NoError(t, t2.Commit())
		for key, want := range map[string]string{"aaa1": "x", "aaa2": "t2"} {
			v, found := mustGet(t, kvs, nil, key)
			assert.True(t, found, key)
			assert.Equal(t, want, v, key)
		}
	})
}

func TestTransactionRegistration(t *testing.T) {
	db, kvs := newTestKVS(t)

	// handles that never begin are not tracked
	for i := 0; i < 10; i++ {
		_, err := db.Transaction()
		require.NoError(t, err)
	}
	assert.Equal(t, 0, db.txns.Size())

	putAll(t, kvs, nil, "k", "v")
	txn, _ := db.Transaction()
	require.NoError(t, txn.Begin())
	assert.Equal(t, 1, db.txns.Size())
	assert.Equal(t, db.seq.Load(), db.horizon())

	putAll(t, kvs, nil, "k", "w")
	assert.Less(t, db.horizon(), db.seq.Load())

	require.NoError(t, txn.Commit())
	assert.Equal(t, 0, db.txns.Size())
	assert.Equal(t, db.seq.Load(), db.horizon())

	require.NoError(t, txn.Begin())
	require.NoError(t, txn.Abort())
	assert.Equal(t, 0, db.txns.Size())
}
