package testing

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/ValentinKolb/tKV/lib/engine"
)

// RunEngineBenchmarks runs all benchmarks for an engine implementation
func RunEngineBenchmarks(b *testing.B, name string, factory EngineFactory) {
	b.Run(name, func(b *testing.B) {
		b.Run("Set", func(b *testing.B) {
			benchmarkSet(b, factory(b))
		})

		b.Run("SetBatch100", func(b *testing.B) {
			benchmarkSetBatch(b, factory(b), 100)
		})

		b.Run("Get", func(b *testing.B) {
			benchmarkGet(b, factory(b))
		})

		b.Run("Snapshot", func(b *testing.B) {
			benchmarkSnapshot(b, factory(b))
		})

		b.Run("Scan", func(b *testing.B) {
			benchmarkScan(b, factory(b))
		})

		b.Run("MixedParallel", func(b *testing.B) {
			benchmarkMixedParallel(b, factory(b))
		})
	})
}

const benchKeys = 10000

func benchKey(i int) []byte {
	return []byte(fmt.Sprintf("bench-%08d", i))
}

func preload(b *testing.B, e engine.Engine) {
	batch := engine.NewBatch()
	for i := 0; i < benchKeys; i++ {
		batch.Set(benchKey(i), []byte("value"))
	}
	if err := e.Apply(batch); err != nil {
		b.Fatalf("preload failed: %v", err)
	}
}

func benchmarkSet(b *testing.B, e engine.Engine) {
	defer e.Close()
	value := []byte("value")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		batch := engine.NewBatch()
		batch.Set(benchKey(i), value)
		if err := e.Apply(batch); err != nil {
			b.Fatal(err)
		}
	}
}

func benchmarkSetBatch(b *testing.B, e engine.Engine, size int) {
	defer e.Close()
	value := []byte("value")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		batch := engine.NewBatch()
		for j := 0; j < size; j++ {
			batch.Set(benchKey(i*size+j), value)
		}
		if err := e.Apply(batch); err != nil {
			b.Fatal(err)
		}
	}
}

func benchmarkGet(b *testing.B, e engine.Engine) {
	defer e.Close()
	preload(b, e)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := e.Get(benchKey(i % benchKeys)); err != nil {
			b.Fatal(err)
		}
	}
}

func benchmarkSnapshot(b *testing.B, e engine.Engine) {
	defer e.Close()
	preload(b, e)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		snap, err := e.Snapshot()
		if err != nil {
			b.Fatal(err)
		}
		_ = snap.Close()
	}
}

func benchmarkScan(b *testing.B, e engine.Engine) {
	defer e.Close()
	preload(b, e)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		it, err := e.NewIter(nil, nil)
		if err != nil {
			b.Fatal(err)
		}
		n := 0
		for ok := it.First(); ok && n < 100; ok = it.Next() {
			n++
		}
		_ = it.Close()
	}
}

func benchmarkMixedParallel(b *testing.B, e engine.Engine) {
	defer e.Close()
	preload(b, e)
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewSource(rand.Int63()))
		value := []byte("value")
		for pb.Next() {
			key := benchKey(r.Intn(benchKeys))
			if r.Intn(10) < 8 {
				if _, _, err := e.Get(key); err != nil {
					b.Error(err)
					return
				}
				continue
			}
			batch := engine.NewBatch()
			batch.Set(key, value)
			if err := e.Apply(batch); err != nil {
				b.Error(err)
				return
			}
		}
	})
}
