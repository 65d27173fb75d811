package testing

import (
	"bytes"
	"fmt"
	"sync"
	"testing"

	"github.com/ValentinKolb/tKV/lib/engine"
)

// EngineFactory creates a fresh, empty engine for one test
type EngineFactory func(t testing.TB) engine.Engine

// RunEngineTests runs the conformance suite every engine.Engine implementation must pass.
func RunEngineTests(t *testing.T, name string, factory EngineFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Set&Get", func(t *testing.T) {
			testSetGet(t, factory(t))
		})

		t.Run("EmptyValue", func(t *testing.T) {
			testEmptyValue(t, factory(t))
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory(t))
		})

		t.Run("DeleteRange", func(t *testing.T) {
			testDeleteRange(t, factory(t))
		})

		t.Run("RangeDeleteBeforePoints", func(t *testing.T) {
			testRangeDeleteBeforePoints(t, factory(t))
		})

		t.Run("SnapshotIsolation", func(t *testing.T) {
			testSnapshotIsolation(t, factory(t))
		})

		t.Run("IteratorForward", func(t *testing.T) {
			testIteratorForward(t, factory(t))
		})

		t.Run("IteratorReverse", func(t *testing.T) {
			testIteratorReverse(t, factory(t))
		})

		t.Run("IteratorSeek", func(t *testing.T) {
			testIteratorSeek(t, factory(t))
		})

		t.Run("ConcurrentWriters", func(t *testing.T) {
			testConcurrentWriters(t, factory(t))
		})

		t.Run("SyncCompactInfo", func(t *testing.T) {
			testSyncCompactInfo(t, factory(t))
		})

		t.Run("Closed", func(t *testing.T) {
			testClosed(t, factory(t))
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// Checks if the engine supports the specified feature
// Skip the test if it is not supported
func requireFeature(t testing.TB, e engine.Engine, feature engine.Feature) {
	if !e.SupportsFeature(feature) {
		t.Skipf("engine does not support %s", feature)
	}
}

func mustApply(t testing.TB, e engine.Engine, fill func(b *engine.Batch)) {
	t.Helper()
	b := engine.NewBatch()
	fill(b)
	if err := e.Apply(b); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
}

func expectValue(t testing.TB, r engine.Reader, key string, want string) {
	t.Helper()
	value, found, err := r.Get([]byte(key))
	if err != nil {
		t.Fatalf("Get(%q) failed: %v", key, err)
	}
	if !found {
		t.Fatalf("Get(%q): expected %q, key not found", key, want)
	}
	if string(value) != want {
		t.Errorf("Get(%q) = %q, want %q", key, value, want)
	}
}

func expectMissing(t testing.TB, r engine.Reader, key string) {
	t.Helper()
	_, found, err := r.Get([]byte(key))
	if err != nil {
		t.Fatalf("Get(%q) failed: %v", key, err)
	}
	if found {
		t.Errorf("Get(%q): expected key to be missing", key)
	}
}

// collect walks the iterator in the given direction and returns all keys
func collect(t testing.TB, it engine.Iterator, reverse bool) []string {
	t.Helper()
	var keys []string
	var ok bool
	if reverse {
		ok = it.Last()
	} else {
		ok = it.First()
	}
	for ; ok; ok = step(it, reverse) {
		keys = append(keys, string(it.Key()))
	}
	if err := it.Error(); err != nil {
		t.Fatalf("iterator failed: %v", err)
	}
	return keys
}

func step(it engine.Iterator, reverse bool) bool {
	if reverse {
		return it.Prev()
	}
	return it.Next()
}

func expectKeys(t testing.TB, got []string, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected keys %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected keys %v, got %v", want, got)
		}
	}
}

func fillKeys(t testing.TB, e engine.Engine, keys ...string) {
	mustApply(t, e, func(b *engine.Batch) {
		for _, k := range keys {
			b.Set([]byte(k), []byte("v-"+k))
		}
	})
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testSetGet(t *testing.T, e engine.Engine) {
	defer e.Close()

	expectMissing(t, e, "key")

	mustApply(t, e, func(b *engine.Batch) { b.Set([]byte("key"), []byte("value1")) })
	expectValue(t, e, "key", "value1")

	mustApply(t, e, func(b *engine.Batch) { b.Set([]byte("key"), []byte("value2")) })
	expectValue(t, e, "key", "value2")

	// the returned value belongs to the caller
	value, _, _ := e.Get([]byte("key"))
	value[0] = 'X'
	expectValue(t, e, "key", "value2")
}

func testEmptyValue(t *testing.T, e engine.Engine) {
	defer e.Close()

	mustApply(t, e, func(b *engine.Batch) { b.Set([]byte("empty"), nil) })
	value, found, err := e.Get([]byte("empty"))
	if err != nil || !found {
		t.Fatalf("empty value should be found (found=%v, err=%v)", found, err)
	}
	if len(value) != 0 {
		t.Errorf("expected empty value, got %q", value)
	}
}

func testDelete(t *testing.T, e engine.Engine) {
	defer e.Close()

	fillKeys(t, e, "a", "b")
	mustApply(t, e, func(b *engine.Batch) {
		b.Delete([]byte("a"))
		b.Delete([]byte("does-not-exist"))
	})
	expectMissing(t, e, "a")
	expectValue(t, e, "b", "v-b")
}

func testDeleteRange(t *testing.T, e engine.Engine) {
	defer e.Close()
	requireFeature(t, e, engine.FeatureRangeDelete)

	fillKeys(t, e, "a1", "b1", "b2", "b3", "c1")
	mustApply(t, e, func(b *engine.Batch) { b.DeleteRange([]byte("b"), []byte("c")) })

	expectValue(t, e, "a1", "v-a1")
	expectMissing(t, e, "b1")
	expectMissing(t, e, "b2")
	expectMissing(t, e, "b3")
	expectValue(t, e, "c1", "v-c1")
}

func testRangeDeleteBeforePoints(t *testing.T, e engine.Engine) {
	defer e.Close()
	requireFeature(t, e, engine.FeatureRangeDelete)

	fillKeys(t, e, "p1", "p2")
	mustApply(t, e, func(b *engine.Batch) {
		b.Set([]byte("p3"), []byte("new"))
		b.DeleteRange([]byte("p"), []byte("q"))
	})

	expectMissing(t, e, "p1")
	expectMissing(t, e, "p2")
	expectValue(t, e, "p3", "new")
}

func testSnapshotIsolation(t *testing.T, e engine.Engine) {
	defer e.Close()
	requireFeature(t, e, engine.FeatureSnapshot)

	fillKeys(t, e, "k1", "k2")
	snap, err := e.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	defer snap.Close()

	mustApply(t, e, func(b *engine.Batch) {
		b.Set([]byte("k3"), []byte("v-k3"))
		b.Delete([]byte("k1"))
		b.Set([]byte("k2"), []byte("changed"))
	})

	expectValue(t, snap, "k1", "v-k1")
	expectValue(t, snap, "k2", "v-k2")
	expectMissing(t, snap, "k3")

	it, err := snap.NewIter(nil, nil)
	if err != nil {
		t.Fatalf("NewIter failed: %v", err)
	}
	defer it.Close()
	expectKeys(t, collect(t, it, false), "k1", "k2")

	expectMissing(t, e, "k1")
	expectValue(t, e, "k2", "changed")
}

func testIteratorForward(t *testing.T, e engine.Engine) {
	defer e.Close()

	fillKeys(t, e, "a", "b1", "b2", "b3", "c")

	it, err := e.NewIter([]byte("b"), []byte("c"))
	if err != nil {
		t.Fatalf("NewIter failed: %v", err)
	}
	defer it.Close()
	expectKeys(t, collect(t, it, false), "b1", "b2", "b3")

	all, err := e.NewIter(nil, nil)
	if err != nil {
		t.Fatalf("NewIter failed: %v", err)
	}
	defer all.Close()
	expectKeys(t, collect(t, all, false), "a", "b1", "b2", "b3", "c")
	if all.Valid() {
		t.Error("iterator should be invalid after the last key")
	}
}

func testIteratorReverse(t *testing.T, e engine.Engine) {
	defer e.Close()

	fillKeys(t, e, "a", "b1", "b2", "b3", "c")

	it, err := e.NewIter([]byte("b"), []byte("c"))
	if err != nil {
		t.Fatalf("NewIter failed: %v", err)
	}
	defer it.Close()
	expectKeys(t, collect(t, it, true), "b3", "b2", "b1")

	all, err := e.NewIter(nil, nil)
	if err != nil {
		t.Fatalf("NewIter failed: %v", err)
	}
	defer all.Close()
	expectKeys(t, collect(t, all, true), "c", "b3", "b2", "b1", "a")
}

func testIteratorSeek(t *testing.T, e engine.Engine) {
	defer e.Close()

	fillKeys(t, e, "key0", "key2", "key4")

	it, err := e.NewIter([]byte("key"), []byte("kez"))
	if err != nil {
		t.Fatalf("NewIter failed: %v", err)
	}
	defer it.Close()

	cases := []struct {
		name  string
		seek  func() bool
		valid bool
		key   string
	}{
		{"SeekGE exact", func() bool { return it.SeekGE([]byte("key2")) }, true, "key2"},
		{"SeekGE between", func() bool { return it.SeekGE([]byte("key1")) }, true, "key2"},
		{"SeekGE below lower bound", func() bool { return it.SeekGE([]byte("a")) }, true, "key0"},
		{"SeekGE past end", func() bool { return it.SeekGE([]byte("key5")) }, false, ""},
		{"SeekLT exact", func() bool { return it.SeekLT([]byte("key2")) }, true, "key0"},
		{"SeekLT between", func() bool { return it.SeekLT([]byte("key3")) }, true, "key2"},
		{"SeekLT above upper bound", func() bool { return it.SeekLT([]byte("zzz")) }, true, "key4"},
		{"SeekLT before start", func() bool { return it.SeekLT([]byte("key0")) }, false, ""},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.seek(); got != c.valid {
				t.Fatalf("expected valid=%v, got %v", c.valid, got)
			}
			if c.valid && string(it.Key()) != c.key {
				t.Errorf("expected key %q, got %q", c.key, it.Key())
			}
		})
	}

	// stepping from a seek position
	it.SeekGE([]byte("key2"))
	if !it.Next() || string(it.Key()) != "key4" {
		t.Errorf("Next after SeekGE(key2) should land on key4")
	}
	if !it.Prev() || string(it.Key()) != "key2" {
		t.Errorf("Prev should go back to key2")
	}
	if !bytes.Equal(it.Value(), []byte("v-key2")) {
		t.Errorf("unexpected value %q", it.Value())
	}
}

func testConcurrentWriters(t *testing.T, e engine.Engine) {
	defer e.Close()

	const writers = 8
	const perWriter = 200

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				b := engine.NewBatch()
				b.Set([]byte(fmt.Sprintf("w%02d-%04d", w, i)), []byte("x"))
				if err := e.Apply(b); err != nil {
					t.Errorf("Apply failed: %v", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	it, err := e.NewIter(nil, nil)
	if err != nil {
		t.Fatalf("NewIter failed: %v", err)
	}
	defer it.Close()
	if n := len(collect(t, it, false)); n != writers*perWriter {
		t.Errorf("expected %d keys, got %d", writers*perWriter, n)
	}
}

func testSyncCompactInfo(t *testing.T, e engine.Engine) {
	defer e.Close()

	fillKeys(t, e, "a", "b", "c")
	if err := e.Sync(); err != nil {
		t.Errorf("Sync failed: %v", err)
	}
	if e.SupportsFeature(engine.FeatureCompact) {
		if err := e.Compact([]byte("a"), []byte("z")); err != nil {
			t.Errorf("Compact failed: %v", err)
		}
	}
	info := e.GetInfo()
	if info.Implementation == "" {
		t.Error("info should name the implementation")
	}
	if len(info.SupportedFeatures) == 0 {
		t.Error("info should list supported features")
	}
}

func testClosed(t *testing.T, e engine.Engine) {
	if err := e.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
	if _, _, err := e.Get([]byte("a")); err == nil {
		t.Error("Get on a closed engine should fail")
	}
	if err := e.Apply(engine.NewBatch()); err == nil {
		t.Error("Apply on a closed engine should fail")
	}
	if _, err := e.Snapshot(); err == nil {
		t.Error("Snapshot on a closed engine should fail")
	}
}
