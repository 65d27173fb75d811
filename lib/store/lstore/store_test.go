package lstore

import (
	"fmt"
	"os"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/tKV/lib/kvdb"
	"github.com/ValentinKolb/tKV/lib/store"
	storetesting "github.com/ValentinKolb/tKV/lib/store/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	if err := kvdb.Init("", "engine=memory", "logging.level=error"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	code := m.Run()
	kvdb.Fini()
	os.Exit(code)
}

var counter atomic.Uint64

func newStore(t testing.TB) Store {
	home := fmt.Sprintf("lstore-test-%d", counter.Add(1))
	require.NoError(t, kvdb.Create(home))
	s, err := NewLocalStore(func() (*kvdb.KVDB, error) { return kvdb.Open(home) })
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
		_ = kvdb.Drop(home)
	})
	return s
}

func Test(t *testing.T) {
	storetesting.RunStoreTests(t, "LocalStore", func(t testing.TB) store.IStore {
		return newStore(t)
	})
}

func TestFactoryError(t *testing.T) {
	_, err := NewLocalStore(func() (*kvdb.KVDB, error) { return kvdb.Open("lstore-missing") })
	assert.Equal(t, kvdb.CodeNotFound, kvdb.CodeOf(err))
}

func TestCloseReleasesHandles(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.KVSCreate("kvs"))

	txn, err := s.TxnAlloc()
	require.NoError(t, err)
	require.NoError(t, s.TxnBegin(txn))
	_, err = s.CursorCreate(txn, "kvs", nil, false)
	require.NoError(t, err)

	info, err := s.Info()
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.ActiveTxns)
	assert.Equal(t, 1, info.OpenCursors)

	db := s.DB()
	require.NoError(t, s.Close())
	_, err = db.KVSNames()
	assert.Equal(t, kvdb.CodeClosed, kvdb.CodeOf(err))
}
