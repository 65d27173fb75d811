// Package util
//
// This file provides a lock-free multi-producer single-consumer (MPSC) queue.
//
//   - Lock-free Push: producers append with compare-and-swap on the tail node
//   - Unbounded: grows as needed, one node per queued value
//   - Single consumer: values are delivered in one goroutine through Recv()
//   - No strict FIFO across producers: concurrent pushes are ordered by completion
//   - Close drains: values pushed before Close are still delivered, then Recv() is closed
package util

import (
	"runtime"
	"sync"
	"sync/atomic"
)

type mpscNode[T any] struct {
	value *T
	next  atomic.Pointer[mpscNode[T]]
}

// LockFreeMPSC is a lock-free multi-producer single-consumer queue
type LockFreeMPSC[T any] struct {
	head   atomic.Pointer[mpscNode[T]] // sentinel, only touched by the consumer
	tail   atomic.Pointer[mpscNode[T]]
	out    chan *T
	closed atomic.Bool
	done   sync.WaitGroup

	mu      sync.Mutex
	cond    *sync.Cond
	pending atomic.Int64
}

// NewLockFreeMPSC creates the queue and starts its delivery goroutine
func NewLockFreeMPSC[T any]() *LockFreeMPSC[T] {
	sentinel := &mpscNode[T]{}
	q := &LockFreeMPSC[T]{out: make(chan *T)}
	q.cond = sync.NewCond(&q.mu)
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	q.done.Add(1)
	go q.deliver()
	return q
}

// Push appends value. It returns false if value is nil or the queue is closed.
//
// Thread-safety: Safe for any number of concurrent producers.
func (q *LockFreeMPSC[T]) Push(value *T) bool {
	if value == nil || q.closed.Load() {
		return false
	}

	n := &mpscNode[T]{value: value}
	for spins := 0; ; spins++ {
		tail := q.tail.Load()
		next := tail.next.Load()
		if next != nil {
			// another producer linked a node but has not moved the tail yet
			q.tail.CompareAndSwap(tail, next)
			continue
		}
		if tail.next.CompareAndSwap(nil, n) {
			q.tail.CompareAndSwap(tail, n)
			break
		}
		if spins > 8 {
			runtime.Gosched()
		}
	}

	// the consumer only sleeps with pending == 0 under mu
	if q.pending.Add(1) == 1 {
		q.mu.Lock()
		q.cond.Signal()
		q.mu.Unlock()
	}
	return true
}

func (q *LockFreeMPSC[T]) deliver() {
	defer q.done.Done()
	defer close(q.out)

	for {
		head := q.head.Load()
		next := head.next.Load()
		if next != nil {
			value := next.value
			next.value = nil
			q.head.Store(next)
			q.pending.Add(-1)
			q.out <- value
			continue
		}

		if q.closed.Load() && q.pending.Load() == 0 {
			return
		}

		q.mu.Lock()
		for q.pending.Load() == 0 && !q.closed.Load() {
			q.cond.Wait()
		}
		q.mu.Unlock()

		// a producer may have counted its value before linking it
		if head.next.Load() == nil {
			runtime.Gosched()
		}
	}
}

// Recv returns the channel values are delivered on. It is closed after Close once the queue is drained.
func (q *LockFreeMPSC[T]) Recv() <-chan *T {
	return q.out
}

// Close stops accepting values. Queued values are still delivered.
func (q *LockFreeMPSC[T]) Close() {
	if q.closed.Swap(true) {
		return
	}
	q.mu.Lock()
	q.cond.Broadcast()
	q.mu.Unlock()
}

// IsClosed reports if Close was called
func (q *LockFreeMPSC[T]) IsClosed() bool {
	return q.closed.Load()
}

// Len returns the number of values not yet handed to the consumer
func (q *LockFreeMPSC[T]) Len() int {
	return int(q.pending.Load())
}
