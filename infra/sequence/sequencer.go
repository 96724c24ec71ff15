// Package sequence provides explicitly owned monotonic counters.
//
// Every stream in the venue (exchange order ids, incremental market data,
// per-client response numbering) owns its own Sequencer instance passed in
// at construction. There are no hidden global counters, which keeps
// deterministic-id replay and testing trivial.
package sequence

import "sync/atomic"

// Sequencer generates strictly increasing 64-bit sequence numbers.
// Numbers are never reused or decremented.
type Sequencer struct {
	next atomic.Uint64
}

// New creates a sequencer whose first Next returns start+1. A fresh
// stream passes 0; a resumed stream passes the last persisted value.
func New(start uint64) *Sequencer {
	s := &Sequencer{}
	s.next.Store(start)
	return s
}

// Next returns the next sequence number.
func (s *Sequencer) Next() uint64 {
	return s.next.Add(1)
}

// Current returns the last issued sequence number.
func (s *Sequencer) Current() uint64 {
	return s.next.Load()
}
