package kvdb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	if err := Init("", "engine=memory", "logging.level=error"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	code := m.Run()
	Fini()
	os.Exit(code)
}

var homeSeq atomic.Int64

func testHome(t testing.TB) string {
	return fmt.Sprintf("%s-%d", strings.ReplaceAll(t.Name(), "/", "_"), homeSeq.Add(1))
}

// newTestDB creates and opens a fresh memory KVDB
func newTestDB(t testing.TB, params ...string) *KVDB {
	t.Helper()
	home := testHome(t)
	require.NoError(t, Create(home))
	db, err := Open(home, params...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
		_ = Drop(home)
	})
	return db
}

// newTestKVS creates and opens a KVS named "kvs" in a fresh KVDB
func newTestKVS(t testing.TB, params ...string) (*KVDB, *KVS) {
	t.Helper()
	db := newTestDB(t)
	require.NoError(t, db.KVSCreate("kvs", params...))
	kvs, err := db.KVSOpen("kvs")
	require.NoError(t, err)
	return db, kvs
}

func putAll(t testing.TB, kvs *KVS, txn *Transaction, pairs ...string) {
	t.Helper()
	for i := 0; i+1 < len(pairs); i += 2 {
		require.NoError(t, kvs.Put(txn, []byte(pairs[i]), []byte(pairs[i+1])))
	}
}

func TestKVDBLifecycle(t *testing.T) {
	t.Run("CreateOpenDrop", func(t *testing.T) {
		home := testHome(t)
		require.NoError(t, Create(home))
		assert.Equal(t, CodeExists, CodeOf(Create(home)))

		db, err := Open(home)
		require.NoError(t, err)
		assert.Equal(t, home, db.Home())
		assert.False(t, db.ReadOnly())

		_, err = Open(home)
		assert.Equal(t, CodeBusy, CodeOf(err))
		assert.Equal(t, CodeBusy, CodeOf(Drop(home)))

		require.NoError(t, db.Close())
		assert.Equal(t, CodeClosed, CodeOf(db.Close()))

		require.NoError(t, Drop(home))
		assert.Equal(t, CodeNotFound, CodeOf(Drop(home)))
		_, err = Open(home)
		assert.True(t, IsNotFound(err))
	})

	t.Run("DataSurvivesReopen", func(t *testing.T) {
		home := testHome(t)
		require.NoError(t, Create(home))
		defer Drop(home)

		db, err := Open(home)
		require.NoError(t, err)
		require.NoError(t, db.KVSCreate("kvs"))
		kvs, err := db.KVSOpen("kvs")
		require.NoError(t, err)
		putAll(t, kvs, nil, "k", "v")
		require.NoError(t, db.Close())

		db, err = Open(home)
		require.NoError(t, err)
		defer db.Close()
		kvs, err = db.KVSOpen("kvs")
		require.NoError(t, err)
		v, found, err := kvs.Get(nil, []byte("k"))
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "v", string(v))
	})

	t.Run("InvalidParams", func(t *testing.T) {
		home := testHome(t)
		assert.True(t, IsUsage(Create(home, "nope=1")))
		assert.True(t, IsUsage(Create(home, "pebble.cache_size=-1")))
		assert.True(t, IsUsage(Create(home, "no-equals-sign")))

		require.NoError(t, Create(home))
		defer Drop(home)
		_, err := Open(home, "read_only=maybe")
		assert.Equal(t, CodeInvalid, CodeOf(err))
	})

	t.Run("Param", func(t *testing.T) {
		db := newTestDB(t, "durability.enabled=false")
		v, err := db.Param("durability.enabled")
		require.NoError(t, err)
		assert.Equal(t, "false", v)
		v, err = db.Param("read_only")
		require.NoError(t, err)
		assert.Equal(t, "false", v)
		_, err = db.Param("prefix.length")
		assert.True(t, IsUsage(err))
	})

	t.Run("CloseInvalidatesHandles", func(t *testing.T) {
		home := testHome(t)
		require.NoError(t, Create(home))
		defer Drop(home)
		db, err := Open(home)
		require.NoError(t, err)
		require.NoError(t, db.KVSCreate("kvs"))
		kvs, err := db.KVSOpen("kvs")
		require.NoError(t, err)
		putAll(t, kvs, nil, "a", "1")

		txn, err := db.Transaction()
		require.NoError(t, err)
		require.NoError(t, txn.Begin())
		bound, err := kvs.Cursor(txn, nil)
		require.NoError(t, err)
		plain, err := kvs.Cursor(nil, nil)
		require.NoError(t, err)

		require.NoError(t, db.Close())

		assert.Equal(t, CodeClosed, CodeOf(kvs.Put(nil, []byte("a"), nil)))
		_, _, err = kvs.Get(nil, []byte("a"))
		assert.Equal(t, CodeClosed, CodeOf(err))
		assert.Equal(t, CodeClosed, CodeOf(txn.Commit()))
		assert.Equal(t, CodeClosed, CodeOf(txn.Begin()))
		_, _, _, err = bound.Read()
		assert.Equal(t, CodeClosed, CodeOf(err))
		_, _, _, err = plain.Read()
		assert.True(t, errors.Is(err, ErrClosed))
		assert.NoError(t, plain.Close())
		_, err = db.KVSNames()
		assert.Equal(t, CodeClosed, CodeOf(err))
	})
}

func TestKVSCatalog(t *testing.T) {
	t.Run("CreateOpenDrop", func(t *testing.T) {
		db := newTestDB(t)
		require.NoError(t, db.KVSCreate("b"))
		require.NoError(t, db.KVSCreate("a", "prefix.length=4", "suffix.length=2"))
		assert.Equal(t, CodeExists, CodeOf(db.KVSCreate("a")))

		names, err := db.KVSNames()
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, names)

		kvs, err := db.KVSOpen("a")
		require.NoError(t, err)
		assert.Equal(t, "a", kvs.Name())
		assert.Equal(t, 4, kvs.PrefixLength())
		assert.Equal(t, 2, kvs.SuffixLength())
		assert.True(t, kvs.TransactionsEnabled())
		assert.Same(t, db, kvs.KVDB())

		_, err = db.KVSOpen("a")
		assert.Equal(t, CodeBusy, CodeOf(err))
		assert.Equal(t, CodeBusy, CodeOf(db.KVSDrop("a")))

		require.NoError(t, kvs.Close())
		assert.Equal(t, CodeClosed, CodeOf(kvs.Put(nil, []byte("k"), nil)))
		require.NoError(t, db.KVSDrop("a"))
		_, err = db.KVSOpen("a")
		assert.Equal(t, CodeNotFound, CodeOf(err))
		assert.Equal(t, CodeNotFound, CodeOf(db.KVSDrop("a")))
	})

	t.Run("DropRemovesKeys", func(t *testing.T) {
		db := newTestDB(t)
		require.NoError(t, db.KVSCreate("kvs"))
		kvs, err := db.KVSOpen("kvs")
		require.NoError(t, err)
		putAll(t, kvs, nil, "a", "1", "b", "2")
		require.NoError(t, kvs.Close())
		require.NoError(t, db.KVSDrop("kvs"))

		// a new KVS with the same name gets a new id and starts empty
		require.NoError(t, db.KVSCreate("kvs"))
		kvs, err = db.KVSOpen("kvs")
		require.NoError(t, err)
		_, found, err := kvs.Get(nil, []byte("a"))
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("KVSAreIsolated", func(t *testing.T) {
		db := newTestDB(t)
		require.NoError(t, db.KVSCreate("one"))
		require.NoError(t, db.KVSCreate("two"))
		one, err := db.KVSOpen("one")
		require.NoError(t, err)
		two, err := db.KVSOpen("two")
		require.NoError(t, err)

		putAll(t, one, nil, "k", "one")
		_, found, err := two.Get(nil, []byte("k"))
		require.NoError(t, err)
		assert.False(t, found)

		c, err := two.Cursor(nil, nil)
		require.NoError(t, err)
		defer c.Close()
		_, _, eof, err := c.Read()
		require.NoError(t, err)
		assert.True(t, eof)
	})

	t.Run("InvalidNamesAndParams", func(t *testing.T) {
		db := newTestDB(t)
		assert.True(t, IsUsage(db.KVSCreate("")))
		assert.True(t, IsUsage(db.KVSCreate("has space")))
		assert.True(t, IsUsage(db.KVSCreate(strings.Repeat("x", NameLenMax+1))))
		assert.True(t, IsUsage(db.KVSCreate("kvs", "prefix.length=33")))
		assert.True(t, IsUsage(db.KVSCreate("kvs", "transactions.enabled=true")))

		require.NoError(t, db.KVSCreate("kvs"))
		_, err := db.KVSOpen("kvs", "prefix.length=1")
		assert.True(t, IsUsage(err))

		kvs, err := db.KVSOpen("kvs", "transactions.enabled=false")
		require.NoError(t, err)
		v, err := kvs.Param("transactions.enabled")
		require.NoError(t, err)
		assert.Equal(t, "false", v)
	})
}

func TestKVDBInfoSyncCompact(t *testing.T) {
	db, kvs := newTestKVS(t)
	putAll(t, kvs, nil, "a", "1", "b", "2")

	txn, err := db.Transaction()
	require.NoError(t, err)
	require.NoError(t, txn.Begin())
	c, err := kvs.Cursor(nil, nil)
	require.NoError(t, err)

	info, err := db.Info()
	require.NoError(t, err)
	assert.Equal(t, "memory", info.Engine)
	assert.Equal(t, 1, info.KVSCount)
	assert.Equal(t, 1, info.OpenKVS)
	assert.Equal(t, int64(1), info.ActiveTxns)
	assert.Equal(t, 1, info.OpenCursors)
	// KVSCreate and two puts
	assert.Equal(t, uint64(3), info.CommitSeq)

	require.NoError(t, c.Close())
	require.NoError(t, txn.Abort())
	require.NoError(t, db.Sync())

	require.NoError(t, db.Compact(context.Background()))
	assert.Eventually(t, func() bool {
		st, err := db.CompactStatus()
		return err == nil && !st.Active
	}, 5*time.Second, 10*time.Millisecond)
	st, err := db.CompactStatus()
	require.NoError(t, err)
	assert.NoError(t, st.Err)
	assert.False(t, st.Canceled)
	assert.Equal(t, st.Total, st.Done)
	assert.Equal(t, 2, st.Total)
}

func TestReadOnly(t *testing.T) {
	home := testHome(t)
	require.NoError(t, Create(home))
	defer Drop(home)

	db, err := Open(home)
	require.NoError(t, err)
	require.NoError(t, db.KVSCreate("kvs"))
	kvs, err := db.KVSOpen("kvs")
	require.NoError(t, err)
	putAll(t, kvs, nil, "a", "1")
	require.NoError(t, db.Close())

	db, err = Open(home, "read_only=true")
	require.NoError(t, err)
	defer db.Close()
	assert.True(t, db.ReadOnly())

	kvs, err = db.KVSOpen("kvs")
	require.NoError(t, err)

	err = kvs.Put(nil, []byte("b"), []byte("2"))
	assert.Equal(t, CodeReadOnly, CodeOf(err))
	assert.True(t, IsUsage(err))
	assert.Equal(t, CodeReadOnly, CodeOf(kvs.Delete(nil, []byte("a"))))
	assert.Equal(t, CodeReadOnly, CodeOf(db.KVSCreate("other")))

	v, found, err := kvs.Get(nil, []byte("a"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "1", string(v))

	// read-only transactions work, their writes do not
	txn, err := db.Transaction()
	require.NoError(t, err)
	require.NoError(t, txn.Begin())
	assert.Equal(t, CodeReadOnly, CodeOf(kvs.Put(txn, []byte("b"), nil)))
	require.NoError(t, txn.Commit())
}

func TestRuntimeGate(t *testing.T) {
	t.Run("Param", func(t *testing.T) {
		v, err := Param("socket.enabled")
		require.NoError(t, err)
		assert.Equal(t, "false", v)
		v, err = Param("engine")
		require.NoError(t, err)
		assert.Equal(t, "memory", v)
		_, err = Param("no.such.param")
		assert.True(t, IsUsage(err))
	})

	t.Run("DoubleInit", func(t *testing.T) {
		assert.True(t, Initialized())
		assert.Equal(t, CodeBusy, CodeOf(Init("")))
	})

	t.Run("UseOutsideWindow", func(t *testing.T) {
		db, kvs := newTestKVS(t)
		txn, err := db.Transaction()
		require.NoError(t, err)

		Fini()
		t.Cleanup(func() {
			if !Initialized() {
				require.NoError(t, Init("", "engine=memory", "logging.level=error"))
			}
		})
		assert.False(t, Initialized())

		assert.Equal(t, CodeNotInitialized, CodeOf(Create("x")))
		_, err = Open("x")
		assert.True(t, errors.Is(err, ErrNotInitialized))
		assert.Equal(t, CodeNotInitialized, CodeOf(kvs.Put(nil, []byte("a"), nil)))
		assert.Equal(t, CodeNotInitialized, CodeOf(txn.Begin()))
		_, err = Param("engine")
		assert.Equal(t, CodeNotInitialized, CodeOf(err))

		// Fini twice is fine
		Fini()

		require.NoError(t, Init("", "engine=memory", "logging.level=error"))
		// Fini closed the KVDB
		assert.Equal(t, CodeClosed, CodeOf(kvs.Put(nil, []byte("a"), nil)))
	})

	t.Run("InvalidGlobalParams", func(t *testing.T) {
		Fini()
		t.Cleanup(func() {
			if !Initialized() {
				require.NoError(t, Init("", "engine=memory", "logging.level=error"))
			}
		})
		assert.True(t, IsUsage(Init("", "engine=btree")))
		assert.True(t, IsUsage(Init("", "logging.level=loud")))
		assert.True(t, IsUsage(Init("", "unknown=1")))
		assert.False(t, Initialized())
	})

	t.Run("ConfigFile", func(t *testing.T) {
		Fini()
		t.Cleanup(func() {
			Fini()
			require.NoError(t, Init("", "engine=memory", "logging.level=error"))
		})

		conf := filepath.Join(t.TempDir(), "tkv.yaml")
		require.NoError(t, os.WriteFile(conf, []byte("engine: memory\nlogging:\n  level: warning\n"), 0o644))
		require.NoError(t, Init(conf, "logging.level=error"))

		v, err := Param("logging.level")
		require.NoError(t, err)
		assert.Equal(t, "error", v)
	})
}

func TestPebbleEngine(t *testing.T) {
	Fini()
	require.NoError(t, Init("", "engine=pebble", "logging.level=error"))
	t.Cleanup(func() {
		Fini()
		require.NoError(t, Init("", "engine=memory", "logging.level=error"))
	})

	home := filepath.Join(t.TempDir(), "db")
	require.NoError(t, Create(home, "pebble.cache_size=1048576"))

	db, err := Open(home, "durability.enabled=false")
	require.NoError(t, err)
	require.NoError(t, db.KVSCreate("kvs", "prefix.length=2"))
	kvs, err := db.KVSOpen("kvs")
	require.NoError(t, err)

	putAll(t, kvs, nil, "aa1", "x", "aa2", "y", "bb1", "z")
	n, err := kvs.PrefixDelete(nil, []byte("aa"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, db.Sync())
	require.NoError(t, db.Close())

	// defaults from kvdb.conf
	require.NoError(t, os.WriteFile(filepath.Join(home, ConfigFileName), []byte("read_only: true\n"), 0o644))
	db, err = Open(home)
	require.NoError(t, err)
	defer db.Close()
	assert.True(t, db.ReadOnly())

	kvs, err = db.KVSOpen("kvs")
	require.NoError(t, err)
	_, found, err := kvs.Get(nil, []byte("aa1"))
	require.NoError(t, err)
	assert.False(t, found)
	v, found, err := kvs.Get(nil, []byte("bb1"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "z", string(v))

	info, err := db.Info()
	require.NoError(t, err)
	assert.Equal(t, "pebble", info.Engine)
	assert.Contains(t, info.Features, "Persistent")
}
