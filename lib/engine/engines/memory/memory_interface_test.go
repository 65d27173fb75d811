package memory

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/tKV/lib/engine"
	enginetesting "github.com/ValentinKolb/tKV/lib/engine/testing"
)

var counter atomic.Uint64

func factory(t testing.TB) engine.Engine {
	p, err := engine.Lookup(engine.ImplMemory)
	if err != nil {
		t.Fatal(err)
	}
	path := fmt.Sprintf("memory-test-%d", counter.Add(1))
	e, err := p.Open(engine.Options{Path: path, Create: true})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = p.Destroy(path) })
	return e
}

func Test(t *testing.T) {
	enginetesting.RunEngineTests(t, "Memory", factory)
}

func Benchmark(b *testing.B) {
	enginetesting.RunEngineBenchmarks(b, "Memory", factory)
}

func TestProviderLifecycle(t *testing.T) {
	p, err := engine.Lookup(engine.ImplMemory)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := p.Open(engine.Options{Path: "lifecycle"}); err != engine.ErrNotExist {
		t.Fatalf("opening a missing engine should fail with ErrNotExist, got %v", err)
	}

	e, err := p.Open(engine.Options{Path: "lifecycle", Create: true})
	if err != nil {
		t.Fatal(err)
	}
	b := engine.NewBatch()
	b.Set([]byte("k"), []byte("v"))
	if err := e.Apply(b); err != nil {
		t.Fatal(err)
	}
	_ = e.Close()

	// data survives a reopen within the process
	e, err = p.Open(engine.Options{Path: "lifecycle", ReadOnly: true})
	if err != nil {
		t.Fatal(err)
	}
	if v, found, _ := e.Get([]byte("k")); !found || string(v) != "v" {
		t.Errorf("expected k=v after reopen, got %q (found=%v)", v, found)
	}
	if err := e.Apply(b); err != engine.ErrReadOnly {
		t.Errorf("write to a read-only engine should fail with ErrReadOnly, got %v", err)
	}
	_ = e.Close()

	if ok, _ := p.Exists("lifecycle"); !ok {
		t.Error("engine should exist")
	}
	if err := p.Destroy("lifecycle"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := p.Exists("lifecycle"); ok {
		t.Error("engine should be gone after Destroy")
	}
}
