// Package memory provides the fixed-capacity slot allocator used by the
// matching path. All capacity is reserved at construction; acquire and
// release never allocate.
package memory

import "fmt"

// Handle addresses a slot inside a Pool arena.
type Handle = int32

// Pool is a fixed-capacity arena of T with an O(1) index free list.
//
// Capacity is a sizing decision made offline; running out at runtime is a
// configuration error and panics rather than silently degrading. Pools are
// not safe for concurrent use: each pool is owned by exactly one stage.
type Pool[T any] struct {
	slots []T
	free  []Handle
	inUse []bool
}

// NewPool reserves capacity slots up front.
func NewPool[T any](capacity int) *Pool[T] {
	if capacity <= 0 {
		panic("memory: pool capacity must be positive")
	}
	p := &Pool[T]{
		slots: make([]T, capacity),
		free:  make([]Handle, capacity),
		inUse: make([]bool, capacity),
	}
	for i := range p.free {
		p.free[i] = Handle(capacity - 1 - i)
	}
	return p
}

// Acquire takes a free slot. The slot is returned zeroed; the caller
// assigns its fields afterwards.
func (p *Pool[T]) Acquire() (Handle, *T) {
	if len(p.free) == 0 {
		panic(fmt.Sprintf("memory: pool of %d slots exhausted", len(p.slots)))
	}
	h := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.inUse[h] = true

	var zero T
	p.slots[h] = zero
	return h, &p.slots[h]
}

// At returns the slot for a handle.
func (p *Pool[T]) At(h Handle) *T {
	return &p.slots[h]
}

// Release returns a slot to the free list. Releasing a slot twice is a
// caller bug and panics.
func (p *Pool[T]) Release(h Handle) {
	if h < 0 || int(h) >= len(p.slots) {
		panic(fmt.Sprintf("memory: release of invalid handle %d", h))
	}
	if !p.inUse[h] {
		panic(fmt.Sprintf("memory: double release of handle %d", h))
	}
	p.inUse[h] = false
	p.free = append(p.free, h)
}

// InUse is the number of acquired slots.
func (p *Pool[T]) InUse() int {
	return len(p.slots) - len(p.free)
}

// Cap is the fixed capacity.
func (p *Pool[T]) Cap() int {
	return len(p.slots)
}
