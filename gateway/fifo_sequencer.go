package gateway

import (
	"sort"

	"go.uber.org/zap"

	"talos/domain/orderbook"
	"talos/infra/spsc"
)

type pendingRequest struct {
	rx  int64
	req orderbook.Request
}

// FIFOSequencer republishes requests in strict receive-timestamp order.
//
// Requests arrive from independently scheduled connection readers in
// non-deterministic order; without the global sort, network proximity or
// scheduling luck would grant unfair priority. Flush runs once per
// gateway sweep, so the sort window is one poll iteration. The stable
// sort preserves submission order on equal timestamps.
type FIFOSequencer struct {
	pending []pendingRequest
	out     *spsc.Ring[orderbook.Request]
	log     *zap.Logger
}

// NewFIFOSequencer sizes the pending buffer for the worst-case number of
// requests one sweep can collect. Overflow is a sizing error, not an
// expected runtime path.
func NewFIFOSequencer(capacity int, out *spsc.Ring[orderbook.Request], log *zap.Logger) *FIFOSequencer {
	return &FIFOSequencer{
		pending: make([]pendingRequest, 0, capacity),
		out:     out,
		log:     log,
	}
}

// Submit buffers one timestamped request. No ordering guarantee until
// Flush.
func (s *FIFOSequencer) Submit(rx int64, req orderbook.Request) {
	if len(s.pending) == cap(s.pending) {
		s.log.Fatal("sequencer pending buffer full",
			zap.Int("capacity", cap(s.pending)))
	}
	req.RxNanos = rx
	s.pending = append(s.pending, pendingRequest{rx: rx, req: req})
}

// Flush publishes everything buffered, oldest receive timestamp first,
// then clears the buffer.
func (s *FIFOSequencer) Flush() {
	if len(s.pending) == 0 {
		return
	}
	sort.SliceStable(s.pending, func(i, j int) bool {
		return s.pending[i].rx < s.pending[j].rx
	})
	for i := range s.pending {
		if !s.out.Push(s.pending[i].req) {
			s.log.Fatal("engine request ring full",
				zap.Uint64("len", s.out.Len()))
		}
	}
	s.pending = s.pending[:0]
}

// PendingLen is the number of buffered, not yet flushed requests.
func (s *FIFOSequencer) PendingLen() int {
	return len(s.pending)
}
