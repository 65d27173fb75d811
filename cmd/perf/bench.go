package perf

import (
	"fmt"
	"github.com/ValentinKolb/tKV/lib/kvdb"
	"github.com/ValentinKolb/tKV/lib/store"
	"github.com/rcrowley/go-metrics"
	"sync"
	"time"
)

// prefixLength is the prefix length of the benchmark KVS, every benchmark owns one prefix
const prefixLength = 4

// benchConfig holds the parameters shared by all benchmarks
type benchConfig struct {
	Threads        int
	Ops            int // per benchmark, split across the threads
	Keys           int
	ValueSize      int
	LargeValueSize int
	KVS            string
}

// benchmark is one workload. op is called Ops times, i counts the calls of one worker.
type benchmark struct {
	name     string
	populate bool // put every key before the run
	op       func(b *benchEnv, worker, i int) error
}

// benchEnv is the state a benchmark works on
type benchEnv struct {
	store  store.IStore
	config benchConfig
	prefix []byte
	keys   [][]byte
	value  []byte
	large  []byte
}

func (b *benchEnv) key(worker, i int) []byte {
	return b.keys[(worker*7919+i)%len(b.keys)]
}

// result summarizes a benchmark run, latencies are in microseconds
type result struct {
	Name      string
	Skipped   bool
	Ops       int64
	Errors    int64
	Conflicts int64
	Elapsed   time.Duration
	OpsPerSec float64
	Mean      float64
	P50       float64
	P90       float64
	P99       float64
	Max       int64
}

var benchmarks = []benchmark{
	{name: "put", op: func(b *benchEnv, w, i int) error {
		return b.store.Put(store.NoTxn, b.config.KVS, b.key(w, i), b.value)
	}},
	{name: "put-large", op: func(b *benchEnv, w, i int) error {
		return b.store.Put(store.NoTxn, b.config.KVS, b.key(w, i), b.large)
	}},
	{name: "get", populate: true, op: func(b *benchEnv, w, i int) error {
		_, _, err := b.store.Get(store.NoTxn, b.config.KVS, b.key(w, i))
		return err
	}},
	{name: "delete", populate: true, op: func(b *benchEnv, w, i int) error {
		return b.store.Delete(store.NoTxn, b.config.KVS, b.key(w, i))
	}},
	{name: "probe", populate: true, op: func(b *benchEnv, w, i int) error {
		_, err := b.store.PrefixProbe(store.NoTxn, b.config.KVS, b.key(w, i))
		return err
	}},
	{name: "scan", populate: true, op: func(b *benchEnv, w, i int) error {
		cur, err := b.store.CursorCreate(store.NoTxn, b.config.KVS, b.prefix, false)
		if err != nil {
			return err
		}
		if _, err := b.store.CursorSeek(cur, b.key(w, i)); err != nil {
			_ = b.store.CursorDestroy(cur)
			return err
		}
		if _, _, err := b.store.CursorRead(cur, 10); err != nil {
			_ = b.store.CursorDestroy(cur)
			return err
		}
		return b.store.CursorDestroy(cur)
	}},
	{name: "txn", populate: true, op: func(b *benchEnv, w, i int) error {
		txn, err := b.store.TxnAlloc()
		if err != nil {
			return err
		}
		defer func() { _ = b.store.TxnFree(txn) }()

		if err := b.store.TxnBegin(txn); err != nil {
			return err
		}
		if _, _, err := b.store.Get(txn, b.config.KVS, b.key(w, i+1)); err != nil {
			return err
		}
		if err := b.store.Put(txn, b.config.KVS, b.key(w, i), b.value); err != nil {
			return err
		}
		return b.store.TxnCommit(txn)
	}},
	{name: "mixed", populate: true, op: func(b *benchEnv, w, i int) error {
		key := b.key(w, i)
		switch i % 4 {
		case 0:
			return b.store.Put(store.NoTxn, b.config.KVS, key, b.value)
		case 1:
			_, _, err := b.store.Get(store.NoTxn, b.config.KVS, key)
			return err
		case 2:
			return b.store.Delete(store.NoTxn, b.config.KVS, key)
		default:
			_, err := b.store.PrefixProbe(store.NoTxn, b.config.KVS, key)
			return err
		}
	}},
}

// runBenchmark runs bm with config.Threads workers and removes its keys afterward.
// index selects the key prefix of the benchmark.
func runBenchmark(s store.IStore, config benchConfig, index int, bm benchmark) (result, error) {
	env := newBenchEnv(s, config, index)
	defer func() {
		if _, err := s.PrefixDelete(store.NoTxn, config.KVS, env.prefix); err != nil {
			Logger.Warningf("(%s) failed to remove keys: %v", bm.name, err)
		}
	}()

	if bm.populate {
		for _, key := range env.keys {
			if err := s.Put(store.NoTxn, config.KVS, key, env.value); err != nil {
				return result{}, fmt.Errorf("(%s) failed to populate: %w", bm.name, err)
			}
		}
	}

	registry := metrics.NewRegistry()
	latency := metrics.GetOrRegisterHistogram(bm.name+".latency", registry, metrics.NewUniformSample(8192))
	throughput := metrics.GetOrRegisterMeter(bm.name+".throughput", registry)
	errorCount := metrics.GetOrRegisterCounter(bm.name+".errors", registry)
	conflicts := metrics.GetOrRegisterCounter(bm.name+".conflicts", registry)
	defer throughput.Stop()

	threads := max(config.Threads, 1)
	perThread := max(config.Ops/threads, 1)

	var wg sync.WaitGroup
	start := time.Now()
	for w := 0; w < threads; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perThread; i++ {
				opStart := time.Now()
				err := bm.op(env, w, i)
				latency.Update(time.Since(opStart).Microseconds())
				throughput.Mark(1)
				switch {
				case err == nil:
				case kvdb.IsConflict(err):
					conflicts.Inc(1)
				default:
					if errorCount.Count() == 0 {
						Logger.Warningf("(%s) %v", bm.name, err)
					}
					errorCount.Inc(1)
				}
			}
		}(w)
	}
	wg.Wait()
	elapsed := time.Since(start)

	snap := latency.Snapshot()
	ps := snap.Percentiles([]float64{0.5, 0.9, 0.99})
	res := result{
		Name:      bm.name,
		Ops:       throughput.Count(),
		Errors:    errorCount.Count(),
		Conflicts: conflicts.Count(),
		Elapsed:   elapsed,
		Mean:      snap.Mean(),
		P50:       ps[0],
		P90:       ps[1],
		P99:       ps[2],
		Max:       snap.Max(),
	}
	if elapsed > 0 {
		res.OpsPerSec = float64(res.Ops) / elapsed.Seconds()
	}
	return res, nil
}

func newBenchEnv(s store.IStore, config benchConfig, index int) *benchEnv {
	env := &benchEnv{
		store:  s,
		config: config,
		prefix: []byte(fmt.Sprintf("%0*d", prefixLength, index)),
		value:  make([]byte, config.ValueSize),
		large:  make([]byte, config.LargeValueSize),
	}
	keys := max(config.Keys, 1)
	env.keys = make([][]byte, keys)
	for i := range env.keys {
		env.keys[i] = []byte(fmt.Sprintf("%s/%08d", env.prefix, i))
	}
	return env
}
