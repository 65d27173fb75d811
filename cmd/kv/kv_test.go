package kv

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/tKV/lib/kvdb"
	"github.com/ValentinKolb/tKV/lib/store"
	"github.com/ValentinKolb/tKV/lib/store/lstore"
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

func newStore(t *testing.T) store.IStore {
	home := fmt.Sprintf("cmd-kv-%d", counter.Add(1))
	require.NoError(t, kvdb.Create(home))
	s, err := lstore.NewLocalStore(func() (*kvdb.KVDB, error) { return kvdb.Open(home) })
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
		_ = kvdb.Drop(home)
	})
	require.NoError(t, s.KVSCreate("default", "prefix.length=1"))
	return s
}

func TestParseScript(t *testing.T) {
	ops, err := parseScript(strings.NewReader(`
# comment
kvs other
PUT k v
get k

scan
scan k
abort
`))
	require.NoError(t, err)
	require.Len(t, ops, 6)
	assert.Equal(t, "kvs", ops[0].name)
	assert.Equal(t, [][]byte{[]byte("other")}, ops[0].args)
	assert.Equal(t, "put", ops[1].name)
	assert.Equal(t, 4, ops[1].line)
	assert.Equal(t, [][]byte{[]byte("k"), []byte("v")}, ops[1].args)
	assert.Empty(t, ops[3].args)
	assert.Len(t, ops[4].args, 1)

	for _, invalid := range []string{"frobnicate k", "put k", "get", "get a b", "abort now", "scan a b"} {
		_, err := parseScript(strings.NewReader(invalid))
		assert.Error(t, err, invalid)
	}
}

func TestRunScript(t *testing.T) {
	t.Run("Commit", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.KVSCreate("other"))
		require.NoError(t, s.Put(store.NoTxn, "default", []byte("p1"), []byte("old")))

		ops, err := parseScript(strings.NewReader(`
put a 1
put p2 2
get a
del p1
probe p
scan
kvs other
put b 2
`))
		require.NoError(t, err)

		var out bytes.Buffer
		require.NoError(t, runScript(&out, s, "default", ops))
		assert.Equal(t, "a: found=true, value=1\n"+
			"cardinality=ONE, key=p2, value=2\n"+
			"a\t1\np2\t2\n"+
			"committed\n", out.String())

		value, found, err := s.Get(store.NoTxn, "other", []byte("b"))
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, []byte("2"), value)

		_, found, err = s.Get(store.NoTxn, "default", []byte("p1"))
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("Abort", func(t *testing.T) {
		s := newStore(t)
		ops, err := parseScript(strings.NewReader("put a 1\nabort\nput b 2\n"))
		require.NoError(t, err)

		var out bytes.Buffer
		require.NoError(t, runScript(&out, s, "default", ops))
		assert.Equal(t, "aborted\n", out.String())

		_, found, err := s.Get(store.NoTxn, "default", []byte("a"))
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("FailureAborts", func(t *testing.T) {
		s := newStore(t)
		ops, err := parseScript(strings.NewReader("put a 1\nkvs missing\nput b 2\n"))
		require.NoError(t, err)

		err = runScript(&bytes.Buffer{}, s, "default", ops)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "line 3")
		assert.True(t, kvdb.IsNotFound(err))

		_, found, err := s.Get(store.NoTxn, "default", []byte("a"))
		require.NoError(t, err)
		assert.False(t, found)
	})
}

func TestScan(t *testing.T) {
	s := newStore(t)
	for i := 0; i < 10; i++ {
		require.NoError(t, s.Put(store.NoTxn, "default", []byte(fmt.Sprintf("k%d", i)), []byte(fmt.Sprintf("v%d", i))))
	}
	require.NoError(t, s.Put(store.NoTxn, "default", []byte("x"), []byte("y")))

	lines := func(opts scanOptions, filter string) []string {
		var out bytes.Buffer
		var f []byte
		if filter != "" {
			f = []byte(filter)
		}
		n, err := scan(&out, s, store.NoTxn, "default", f, opts)
		require.NoError(t, err)
		res := strings.Fields(out.String())
		assert.Equal(t, n*2, len(res))
		return res
	}

	assert.Len(t, lines(scanOptions{batch: 3}, ""), 22)
	assert.Len(t, lines(scanOptions{batch: 3}, "k"), 20)
	assert.Equal(t, []string{"k0", "v0", "k1", "v1"}, lines(scanOptions{limit: 2}, "k"))
	assert.Equal(t, []string{"x", "y", "k9", "v9"}, lines(scanOptions{limit: 2, reverse: true}, ""))
	assert.Equal(t, []string{"k3", "v3", "k4", "v4"}, lines(scanOptions{from: []byte("k3"), to: []byte("k4")}, ""))
	assert.Equal(t, []string{"k8", "v8", "k9", "v9"}, lines(scanOptions{from: []byte("k8")}, "k"))
	assert.Equal(t, []string{"k1", "v1", "k0", "v0"}, lines(scanOptions{from: []byte("k1"), reverse: true}, "k"))
}
