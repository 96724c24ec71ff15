package spsc

import (
	"sync"
	"testing"
)

func TestRingFIFO(t *testing.T) {
	r := New[int](8)
	for i := 0; i < 8; i++ {
		if !r.Push(i) {
			t.Fatalf("push %d failed on non-full ring", i)
		}
	}
	if r.Push(99) {
		t.Fatal("push succeeded on full ring")
	}
	for i := 0; i < 8; i++ {
		v, ok := r.Pop()
		if !ok || v != i {
			t.Fatalf("pop %d: got %d ok=%v", i, v, ok)
		}
	}
	if _, ok := r.Pop(); ok {
		t.Fatal("pop succeeded on empty ring")
	}
}

func TestRingReserveCommit(t *testing.T) {
	r := New[string](2)

	slot := r.ReserveWrite()
	if slot == nil {
		t.Fatal("reserve failed on empty ring")
	}
	*slot = "a"

	// Not committed yet: consumer must not see it.
	if got := r.PeekRead(); got != nil {
		t.Fatalf("peek saw uncommitted write %q", *got)
	}

	r.CommitWrite()
	got := r.PeekRead()
	if got == nil || *got != "a" {
		t.Fatal("peek missed committed write")
	}
	r.CommitRead()

	if r.Len() != 0 {
		t.Fatalf("len = %d after drain", r.Len())
	}
}

func TestRingBackpressureNeverGrows(t *testing.T) {
	r := New[int](4)
	for i := 0; i < 4; i++ {
		r.Push(i)
	}
	if r.ReserveWrite() != nil {
		t.Fatal("reserve returned a slot on a full ring")
	}
	r.Pop()
	if r.ReserveWrite() == nil {
		t.Fatal("reserve failed after one slot freed")
	}
	if r.Cap() != 4 {
		t.Fatalf("cap changed: %d", r.Cap())
	}
}

func TestRingConcurrentHandoff(t *testing.T) {
	const n = 1 << 16
	r := New[uint64](1 << 10)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := uint64(0); i < n; {
			if r.Push(i) {
				i++
			}
		}
	}()

	go func() {
		defer wg.Done()
		for i := uint64(0); i < n; {
			v, ok := r.Pop()
			if !ok {
				continue
			}
			if v != i {
				t.Errorf("out of order: got %d want %d", v, i)
				return
			}
			i++
		}
	}()

	wg.Wait()
}

func TestRingSizeMustBePowerOfTwo(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for non power-of-two size")
		}
	}()
	New[int](6)
}
