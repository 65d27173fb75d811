// Package util
//
// This file provides a min-heap that can also be addressed by key.
//
// The heap orders entries by a uint64 priority (a commit sequence, a deadline, ...)
// while a map keeps the position of every key, so an entry can be looked up,
// re-prioritized or removed without scanning:
//   - O(log n) for Push, Pop and priority updates
//   - O(1) for Contains and Get
//   - O(log n) for Remove
//
// The conflict tracker of the kvdb package uses it to find committed write records
// that no running transaction can conflict with anymore.
//
// Not thread-safe, callers synchronize.
//
// Example usage:
//
//	h := NewMapHeap[UintKey]()
//	h.Add(hashA, 12)
//	h.Add(hashB, 7)
//	h.PopWhile(10, func(key UintKey, priority uint64) {
//	    // hashB, 7
//	})
package util

import (
	"container/heap"
	"fmt"
)

type heapEntry[K comparable] struct {
	key      K
	priority uint64
	index    int
}

func (e *heapEntry[K]) String() string {
	return fmt.Sprintf("{Key: %v, Priority: %d}", e.key, e.priority)
}

// entries is the heap.Interface part of the MapHeap
type entries[K comparable] struct {
	items []*heapEntry[K]
	index map[K]*heapEntry[K]
}

func (e *entries[K]) Len() int { return len(e.items) }

func (e *entries[K]) Less(i, j int) bool { return e.items[i].priority < e.items[j].priority }

func (e *entries[K]) Swap(i, j int) {
	e.items[i], e.items[j] = e.items[j], e.items[i]
	e.items[i].index = i
	e.items[j].index = j
}

func (e *entries[K]) Push(x any) {
	entry := x.(*heapEntry[K])
	entry.index = len(e.items)
	e.items = append(e.items, entry)
	e.index[entry.key] = entry
}

func (e *entries[K]) Pop() any {
	n := len(e.items)
	entry := e.items[n-1]
	e.items[n-1] = nil
	entry.index = -1
	e.items = e.items[:n-1]
	delete(e.index, entry.key)
	return entry
}

// MapHeap is a min-heap by priority with key based access
type MapHeap[K comparable] struct {
	e entries[K]
}

func NewMapHeap[K comparable]() *MapHeap[K] {
	return &MapHeap[K]{e: entries[K]{index: make(map[K]*heapEntry[K])}}
}

// Len returns the number of entries
func (h *MapHeap[K]) Len() int { return h.e.Len() }

// Add inserts key with the given priority or updates the priority of an existing key
func (h *MapHeap[K]) Add(key K, priority uint64) {
	if entry, ok := h.e.index[key]; ok {
		entry.priority = priority
		heap.Fix(&h.e, entry.index)
		return
	}
	heap.Push(&h.e, &heapEntry[K]{key: key, priority: priority})
}

// Remove deletes key and returns its priority
func (h *MapHeap[K]) Remove(key K) (uint64, bool) {
	entry, ok := h.e.index[key]
	if !ok {
		return 0, false
	}
	heap.Remove(&h.e, entry.index)
	return entry.priority, true
}

// Peek returns the entry with the lowest priority without removing it
func (h *MapHeap[K]) Peek() (key K, priority uint64, ok bool) {
	if len(h.e.items) == 0 {
		return key, 0, false
	}
	return h.e.items[0].key, h.e.items[0].priority, true
}

// Pop removes and returns the entry with the lowest priority
func (h *MapHeap[K]) Pop() (key K, priority uint64, ok bool) {
	if len(h.e.items) == 0 {
		return key, 0, false
	}
	entry := heap.Pop(&h.e).(*heapEntry[K])
	return entry.key, entry.priority, true
}

// PopWhile removes all entries with a priority <= limit in ascending order and calls fn for each.
// It returns the number of removed entries.
func (h *MapHeap[K]) PopWhile(limit uint64, fn func(key K, priority uint64)) int {
	n := 0
	for len(h.e.items) > 0 && h.e.items[0].priority <= limit {
		entry := heap.Pop(&h.e).(*heapEntry[K])
		if fn != nil {
			fn(entry.key, entry.priority)
		}
		n++
	}
	return n
}

// Contains checks if key is in the heap
func (h *MapHeap[K]) Contains(key K) bool {
	_, ok := h.e.index[key]
	return ok
}

// Get returns the priority of key without removing it
func (h *MapHeap[K]) Get(key K) (uint64, bool) {
	entry, ok := h.e.index[key]
	if !ok {
		return 0, false
	}
	return entry.priority, true
}
