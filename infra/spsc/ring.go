// Package spsc provides the bounded single-producer/single-consumer ring
// that connects every stage of the venue pipeline.
package spsc

import "sync/atomic"

// Ring is a fixed-capacity lock-free SPSC queue.
//
// Exactly one goroutine may produce and exactly one may consume; a second
// producer or consumer is a caller contract violation, not a detected error.
// The two-phase reserve/commit API lets callers fill a slot in place before
// publishing it, so no element is ever copied twice on the hot path.
type Ring[T any] struct {
	head  uint64 // written by producer only
	_pad1 [56]byte
	tail  uint64 // written by consumer only
	_pad2 [56]byte
	buf   []T
	mask  uint64
}

// New creates a ring with the given capacity, which must be a power of two.
func New[T any](size uint64) *Ring[T] {
	if size == 0 || size&(size-1) != 0 {
		panic("spsc: ring size must be a power of two")
	}
	return &Ring[T]{
		buf:  make([]T, size),
		mask: size - 1,
	}
}

// ReserveWrite returns the next free slot, or nil when the ring is full.
// The slot is not visible to the consumer until CommitWrite.
func (r *Ring[T]) ReserveWrite() *T {
	h := r.head
	t := atomic.LoadUint64(&r.tail)
	if h-t == uint64(len(r.buf)) {
		return nil
	}
	return &r.buf[h&r.mask]
}

// CommitWrite publishes the slot obtained from the last ReserveWrite.
func (r *Ring[T]) CommitWrite() {
	atomic.StoreUint64(&r.head, r.head+1)
}

// PeekRead returns the oldest unconsumed slot, or nil when the ring is empty.
// The slot stays owned by the consumer until CommitRead.
func (r *Ring[T]) PeekRead() *T {
	t := r.tail
	h := atomic.LoadUint64(&r.head)
	if t == h {
		return nil
	}
	return &r.buf[t&r.mask]
}

// CommitRead releases the slot obtained from the last PeekRead.
func (r *Ring[T]) CommitRead() {
	var zero T
	r.buf[r.tail&r.mask] = zero
	atomic.StoreUint64(&r.tail, r.tail+1)
}

// Push is a one-shot ReserveWrite+CommitWrite. Returns false when full.
func (r *Ring[T]) Push(v T) bool {
	slot := r.ReserveWrite()
	if slot == nil {
		return false
	}
	*slot = v
	r.CommitWrite()
	return true
}

// Pop is a one-shot PeekRead+CommitRead. Returns false when empty.
func (r *Ring[T]) Pop() (T, bool) {
	slot := r.PeekRead()
	if slot == nil {
		var zero T
		return zero, false
	}
	v := *slot
	r.CommitRead()
	return v, true
}

// Len is the number of unconsumed elements. Only approximate when called
// from outside the producer or consumer goroutine.
func (r *Ring[T]) Len() uint64 {
	return atomic.LoadUint64(&r.head) - atomic.LoadUint64(&r.tail)
}

// Cap is the fixed capacity decided at construction.
func (r *Ring[T]) Cap() uint64 {
	return uint64(len(r.buf))
}
