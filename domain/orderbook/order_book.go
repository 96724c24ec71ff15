package orderbook

import "talos/infra/memory"

type clientOrdKey struct {
	client uint32
	ord    uint64
}

// OrderBook holds one instrument's resting orders. Bids and asks are
// independent level trees; two indexes give O(1) cancel: exchange id and
// (client id, client order id).
//
// The book never rests a crossed market: matching runs inside Add before
// any remainder is linked, so best bid < best ask (or a side is empty) at
// every point between mutations.
type OrderBook struct {
	instrument uint32

	bids *RBTree
	asks *RBTree

	byID     map[uint64]*Order
	byClient map[clientOrdKey]*Order

	pool *memory.Pool[Order]

	// Emission buffers, drained by the caller after each mutation.
	responses []Response
	events    []Event
}

// New creates an empty book for one instrument. The pool may be shared
// across books on the same engine goroutine.
func New(instrument uint32, pool *memory.Pool[Order]) *OrderBook {
	return &OrderBook{
		instrument: instrument,
		bids:       NewRBTree(),
		asks:       NewRBTree(),
		byID:       make(map[uint64]*Order),
		byClient:   make(map[clientOrdKey]*Order),
		pool:       pool,
	}
}

// Add accepts a new limit order, matches it against the contra side and
// rests any remainder. Structural validation happens upstream; the only
// rejection here is a duplicate live client order id.
//
// Emission order follows the venue contract: ACCEPTED first, then per
// fill the aggressor's FILLED, the passive FILLED, the TRADE event and
// the passive's CANCEL-or-MODIFY event, and finally an ADD event if the
// remainder rests.
func (b *OrderBook) Add(orderID uint64, clientID uint32, clientOrd uint64, side Side, price, qty int64) {
	key := clientOrdKey{client: clientID, ord: clientOrd}
	if _, dup := b.byClient[key]; dup {
		b.respond(Response{
			Type:       RespRejected,
			Reason:     ReasonDuplicateClientOrd,
			ClientID:   clientID,
			Instrument: b.instrument,
			ClientOrd:  clientOrd,
			Side:       side,
			LeavesQty:  qty,
		})
		return
	}

	b.respond(Response{
		Type:       RespAccepted,
		ClientID:   clientID,
		Instrument: b.instrument,
		OrderID:    orderID,
		ClientOrd:  clientOrd,
		Side:       side,
		ExecPrice:  price,
		LeavesQty:  qty,
	})

	leaves := b.match(orderID, clientID, clientOrd, side, price, qty)
	if leaves == 0 {
		return
	}

	b.rest(orderID, clientID, clientOrd, side, price, leaves)
}

// Cancel removes a resting order by its client order id. An unknown or
// already-closed order is a benign no-op reported as CANCEL_REJECTED;
// the false return lets callers distinguish it without treating it as an
// error.
func (b *OrderBook) Cancel(clientID uint32, clientOrd uint64) bool {
	key := clientOrdKey{client: clientID, ord: clientOrd}
	o, ok := b.byClient[key]
	if !ok {
		b.respond(Response{
			Type:       RespCancelRejected,
			Reason:     ReasonUnknownOrder,
			ClientID:   clientID,
			Instrument: b.instrument,
			ClientOrd:  clientOrd,
		})
		return false
	}

	b.respond(Response{
		Type:       RespCanceled,
		ClientID:   clientID,
		Instrument: b.instrument,
		OrderID:    o.ID,
		ClientOrd:  clientOrd,
		Side:       o.Side,
		ExecPrice:  o.Price,
		LeavesQty:  o.Qty,
	})
	b.emit(Event{
		Type:       EventCancel,
		Instrument: b.instrument,
		OrderID:    o.ID,
		Side:       o.Side,
		Price:      o.Price,
		Priority:   o.Priority,
	})

	b.unlink(o)
	return true
}

// match trades the aggressive order against the contra side while a
// cross remains, returning the unfilled remainder. The trade price is
// always the resting order's price.
func (b *OrderBook) match(orderID uint64, clientID uint32, clientOrd uint64, side Side, price, qty int64) int64 {
	for qty > 0 {
		var lvl *PriceLevel
		if side == Bid {
			lvl = b.asks.MinLevel()
			if lvl == nil || lvl.Price > price {
				break
			}
		} else {
			lvl = b.bids.MaxLevel()
			if lvl == nil || lvl.Price < price {
				break
			}
		}

		passive := lvl.Head()
		fill := qty
		if passive.Qty < fill {
			fill = passive.Qty
		}

		passiveBefore := passive.Qty
		qty -= fill
		passive.Qty -= fill
		lvl.TotalQty -= fill

		// Aggressor's fill first, at the passive price.
		b.respond(Response{
			Type:       RespFilled,
			ClientID:   clientID,
			Instrument: b.instrument,
			OrderID:    orderID,
			ClientOrd:  clientOrd,
			Side:       side,
			ExecPrice:  lvl.Price,
			ExecQty:    fill,
			LeavesQty:  qty,
		})
		b.respond(Response{
			Type:       RespFilled,
			ClientID:   passive.ClientID,
			Instrument: b.instrument,
			OrderID:    passive.ID,
			ClientOrd:  passive.ClientOrd,
			Side:       passive.Side,
			ExecPrice:  lvl.Price,
			ExecQty:    fill,
			LeavesQty:  passive.Qty,
		})
		b.emit(Event{
			Type:       EventTrade,
			Instrument: b.instrument,
			Side:       side,
			Price:      lvl.Price,
			Qty:        fill,
		})

		if passive.Qty == 0 {
			b.emit(Event{
				Type:       EventCancel,
				Instrument: b.instrument,
				OrderID:    passive.ID,
				Side:       passive.Side,
				Price:      lvl.Price,
				Qty:        passiveBefore,
			})
			b.unlink(passive)
		} else {
			b.emit(Event{
				Type:       EventModify,
				Instrument: b.instrument,
				OrderID:    passive.ID,
				Side:       passive.Side,
				Price:      lvl.Price,
				Qty:        passive.Qty,
				Priority:   passive.Priority,
			})
		}
	}
	return qty
}

func (b *OrderBook) rest(orderID uint64, clientID uint32, clientOrd uint64, side Side, price, qty int64) {
	lvl := b.treeFor(side).UpsertLevel(price)

	prio := uint64(1)
	if tail := lvl.Tail(); tail != nil {
		prio = tail.Priority + 1
	}

	h, o := b.pool.Acquire()
	*o = Order{
		ID:         orderID,
		ClientID:   clientID,
		ClientOrd:  clientOrd,
		Instrument: b.instrument,
		Side:       side,
		Price:      price,
		Qty:        qty,
		Priority:   prio,
		slot:       h,
	}

	lvl.Enqueue(o)
	b.byID[orderID] = o
	b.byClient[clientOrdKey{client: clientID, ord: clientOrd}] = o

	b.emit(Event{
		Type:       EventAdd,
		Instrument: b.instrument,
		OrderID:    orderID,
		Side:       side,
		Price:      price,
		Qty:        qty,
		Priority:   prio,
	})
}

// unlink removes an order from its level, drops the level if emptied,
// clears both indexes and returns the slot to the pool.
func (b *OrderBook) unlink(o *Order) {
	tree := b.treeFor(o.Side)
	lvl := tree.FindLevel(o.Price)
	lvl.Unlink(o)
	if lvl.Empty() {
		tree.DeleteLevel(lvl.Price)
	}

	delete(b.byID, o.ID)
	delete(b.byClient, clientOrdKey{client: o.ClientID, ord: o.ClientOrd})
	b.pool.Release(o.slot)
}

func (b *OrderBook) treeFor(side Side) *RBTree {
	if side == Bid {
		return b.bids
	}
	return b.asks
}

func (b *OrderBook) respond(r Response) {
	b.responses = append(b.responses, r)
}

func (b *OrderBook) emit(e Event) {
	b.events = append(b.events, e)
}

// TakeResponses returns the responses emitted since the last call. The
// slice is valid until the next book mutation.
func (b *OrderBook) TakeResponses() []Response {
	r := b.responses
	b.responses = b.responses[:0]
	return r
}

// TakeEvents returns the events emitted since the last call. The slice
// is valid until the next book mutation.
func (b *OrderBook) TakeEvents() []Event {
	e := b.events
	b.events = b.events[:0]
	return e
}

// ---- observation helpers ----

func (b *OrderBook) BestBid() *PriceLevel { return b.bids.MaxLevel() }
func (b *OrderBook) BestAsk() *PriceLevel { return b.asks.MinLevel() }

// Lookup returns the resting order for an exchange id, or nil.
func (b *OrderBook) Lookup(orderID uint64) *Order {
	return b.byID[orderID]
}

// RestingCount is the number of live orders on both sides.
func (b *OrderBook) RestingCount() int {
	return len(b.byID)
}

// WalkBids visits bid levels best-first.
func (b *OrderBook) WalkBids(fn func(*PriceLevel) bool) {
	b.bids.ForEachDescending(fn)
}

// WalkAsks visits ask levels best-first.
func (b *OrderBook) WalkAsks(fn func(*PriceLevel) bool) {
	b.asks.ForEachAscending(fn)
}
