package util

import (
	"sync"
	"testing"
	"time"
)

func TestMPSCBasicOperations(t *testing.T) {
	q := NewLockFreeMPSC[int]()
	defer q.Close()

	for i := 0; i < 10; i++ {
		if !q.Push(&i) {
			t.Fatalf("failed to push item %d", i)
		}
	}

	for i := 0; i < 10; i++ {
		select {
		case val := <-q.Recv():
			if *val != i {
				t.Errorf("expected %d, got %d", i, *val)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for item %d", i)
		}
	}

	select {
	case val := <-q.Recv():
		t.Errorf("queue should be empty, got %d", *val)
	case <-time.After(10 * time.Millisecond):
	}
}

func TestMPSCRejects(t *testing.T) {
	q := NewLockFreeMPSC[int]()
	if q.Push(nil) {
		t.Error("pushing nil should fail")
	}
	q.Close()
	v := 1
	if q.Push(&v) {
		t.Error("pushing to a closed queue should fail")
	}
	if !q.IsClosed() {
		t.Error("queue should report closed")
	}
}

func TestMPSCConcurrentProducers(t *testing.T) {
	q := NewLockFreeMPSC[int]()

	const producers = 8
	const perProducer = 2000

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				v := p*perProducer + i
				q.Push(&v)
			}
		}(p)
	}

	seen := make(map[int]bool, producers*perProducer)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for v := range q.Recv() {
			seen[*v] = true
		}
	}()

	wg.Wait()
	q.Close()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not drain the queue")
	}

	if len(seen) != producers*perProducer {
		t.Errorf("expected %d distinct values, got %d", producers*perProducer, len(seen))
	}
}

func TestMPSCCloseDrains(t *testing.T) {
	q := NewLockFreeMPSC[string]()
	for _, s := range []string{"a", "b", "c"} {
		q.Push(&s)
	}
	q.Close()

	var got []string
	for v := range q.Recv() {
		got = append(got, *v)
	}
	if len(got) != 3 {
		t.Errorf("expected 3 values after close, got %v", got)
	}
}
