// Package orderbook implements the per-instrument limit order book:
// bid/ask price-level trees, price-time-priority matching, and the
// book-change events and client responses each mutation produces.
//
// A book is single-writer and deterministic. The engine goroutine is the
// only mutator; every other stage observes book state exclusively through
// the emitted events.
package orderbook

type Side int8

const (
	Bid Side = iota
	Ask
)

func (s Side) String() string {
	if s == Ask {
		return "ask"
	}
	return "bid"
}

// Order is a book-resident order. Qty is the remaining open quantity and
// is the only mutable field while the order rests. Priority is the
// arrival sequence within its price level and breaks ties at equal price.
type Order struct {
	ID         uint64 // exchange-assigned
	ClientID   uint32
	ClientOrd  uint64 // client-assigned
	Instrument uint32
	Side       Side
	Price      int64 // integer ticks
	Qty        int64
	Priority   uint64

	slot int32 // pool handle

	next *Order
	prev *Order
}

// Next walks towards the tail of the price level. Read-only.
func (o *Order) Next() *Order {
	return o.next
}

// RequestType distinguishes sequenced order-entry commands.
type RequestType uint8

const (
	ReqNew RequestType = iota + 1
	ReqCancel
)

// Request is one sequenced order-entry command as delivered to the
// engine: gateway-validated, receive-timestamped, globally ordered by
// the time-priority sequencer. Cancels reference the client's own order
// id; the exchange id appears only in responses and market data.
type Request struct {
	Type       RequestType
	RxNanos    int64
	ClientID   uint32
	Instrument uint32
	Side       Side
	Price      int64
	Qty        int64
	ClientOrd  uint64
}
