package perf

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"testing"

	"github.com/ValentinKolb/tKV/lib/kvdb"
	"github.com/ValentinKolb/tKV/lib/store"
	"github.com/ValentinKolb/tKV/lib/store/lstore"
	"github.com/ValentinKolb/tKV/rpc/common"
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

func newStore(t *testing.T) store.IStore {
	home := "cmd-perf-" + t.Name()
	require.NoError(t, kvdb.Create(home))
	s, err := lstore.NewLocalStore(func() (*kvdb.KVDB, error) { return kvdb.Open(home) })
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
		_ = kvdb.Drop(home)
	})
	return s
}

func TestRunAll(t *testing.T) {
	s := newStore(t)
	config := benchConfig{Threads: 4, Ops: 200, Keys: 20, ValueSize: 8, LargeValueSize: 4096, KVS: "bench"}

	var out bytes.Buffer
	results, err := runAll(s, config, []string{"put-large"}, &out)
	require.NoError(t, err)
	require.Len(t, results, len(benchmarks))

	for _, res := range results {
		if res.Name == "put-large" {
			assert.True(t, res.Skipped)
			continue
		}
		assert.False(t, res.Skipped, res.Name)
		assert.Equal(t, int64(200), res.Ops, res.Name)
		assert.Zero(t, res.Errors, res.Name)
		assert.Positive(t, res.OpsPerSec, res.Name)
		assert.LessOrEqual(t, res.P50, res.P99, res.Name)
	}
	assert.Contains(t, out.String(), "put-large   skipped")

	names, err := s.KVSNames()
	require.NoError(t, err)
	assert.NotContains(t, names, "bench", "the benchmark kvs is dropped")

	// an existing kvs is never reused
	require.NoError(t, s.KVSCreate("bench"))
	_, err = runAll(s, config, nil, &out)
	assert.Equal(t, kvdb.CodeExists, kvdb.CodeOf(err))
}

func TestRunBenchmarkCleansUp(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.KVSCreate("bench", "prefix.length=4"))
	config := benchConfig{Threads: 2, Ops: 10, Keys: 5, KVS: "bench"}

	_, err := runBenchmark(s, config, 0, benchmarks[0])
	require.NoError(t, err)

	res, err := s.PrefixProbe(store.NoTxn, "bench", []byte("0000"))
	require.NoError(t, err)
	assert.Equal(t, kvdb.ProbeZero, res.Cardinality)
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	results := []result{{Name: "put", Ops: 10, OpsPerSec: 100, Mean: 1.5, Max: 3}, {Name: "get", Skipped: true}}
	require.NoError(t, writeCSV(&buf, results, &common.ClientConfig{
		TimeoutSecond: 5,
		Transport:     common.ClientTransportConfig{Endpoints: []string{"a:1", "b:2"}},
	}))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Test", rows[0][0])
	assert.Equal(t, []string{"put", "false", "10", "100", "1.5"}, rows[1][:5])
	assert.Equal(t, "a:1;b:2", rows[1][11])
	assert.Equal(t, "true", rows[2][1])
}
