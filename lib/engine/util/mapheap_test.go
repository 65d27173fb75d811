package util

import (
	"math/rand"
	"sort"
	"testing"
)

func TestNewMapHeap(t *testing.T) {
	h := NewMapHeap[UintKey]()
	if h.Len() != 0 {
		t.Errorf("new heap should be empty, has %d entries", h.Len())
	}
	if _, _, ok := h.Peek(); ok {
		t.Error("Peek() on an empty heap should fail")
	}
	if _, _, ok := h.Pop(); ok {
		t.Error("Pop() on an empty heap should fail")
	}
}

func TestMapHeapOrder(t *testing.T) {
	h := NewMapHeap[uint64]()
	h.Add(1, 100)
	h.Add(2, 200)
	h.Add(3, 50)

	key, priority, ok := h.Peek()
	if !ok || key != 3 || priority != 50 {
		t.Fatalf("expected (3,50), got (%d,%d,%v)", key, priority, ok)
	}

	var got []uint64
	for h.Len() > 0 {
		key, _, _ := h.Pop()
		got = append(got, key)
	}
	want := []uint64{3, 1, 2}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("pop order %v, want %v", got, want)
		}
	}
}

func TestMapHeapUpdateAndRemove(t *testing.T) {
	h := NewMapHeap[string]()
	h.Add("a", 10)
	h.Add("b", 20)
	h.Add("a", 30)

	if p, ok := h.Get("a"); !ok || p != 30 {
		t.Errorf("expected priority 30 for a, got %d (%v)", p, ok)
	}
	if key, _, _ := h.Peek(); key != "b" {
		t.Errorf("expected b at the top after update, got %s", key)
	}

	if p, ok := h.Remove("b"); !ok || p != 20 {
		t.Errorf("Remove(b) = %d, %v", p, ok)
	}
	if _, ok := h.Remove("b"); ok {
		t.Error("removing b twice should fail")
	}
	if h.Contains("b") || !h.Contains("a") || h.Len() != 1 {
		t.Error("unexpected heap content after remove")
	}
}

func TestMapHeapPopWhile(t *testing.T) {
	h := NewMapHeap[UintKey]()
	priorities := rand.Perm(100)
	for i, p := range priorities {
		h.Add(UintKey(i), uint64(p))
	}

	var popped []uint64
	n := h.PopWhile(49, func(_ UintKey, priority uint64) {
		popped = append(popped, priority)
	})
	if n != 50 || len(popped) != 50 {
		t.Fatalf("expected 50 popped entries, got %d", n)
	}
	if !sort.SliceIsSorted(popped, func(i, j int) bool { return popped[i] < popped[j] }) {
		t.Error("PopWhile should pop in ascending priority order")
	}
	if h.Len() != 50 {
		t.Errorf("expected 50 remaining entries, got %d", h.Len())
	}
	if _, p, _ := h.Peek(); p != 50 {
		t.Errorf("expected 50 at the top, got %d", p)
	}
}

func BenchmarkMapHeapAdd(b *testing.B) {
	h := NewMapHeap[UintKey]()
	for i := 0; i < b.N; i++ {
		h.Add(UintKey(i%4096), uint64(i))
	}
}
