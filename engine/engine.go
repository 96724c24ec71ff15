// Package engine runs the matching stage: the single goroutine that owns
// every per-instrument order book.
//
// Requests arrive globally ordered from the time-priority sequencer;
// responses, book events and journal records leave on their own SPSC
// rings. No other goroutine ever touches book state.
package engine

import (
	"context"
	"runtime"

	"go.uber.org/zap"

	"talos/domain/orderbook"
	"talos/infra/memory"
	"talos/infra/sequence"
	"talos/infra/spsc"
	"talos/metrics"
)

type Engine struct {
	books []*orderbook.OrderBook
	pool  *memory.Pool[orderbook.Order]
	ids   *sequence.Sequencer

	in        *spsc.Ring[orderbook.Request]
	responses *spsc.Ring[orderbook.Response]
	events    *spsc.Ring[orderbook.Event]
	journal   *spsc.Ring[orderbook.Request] // nil disables journaling

	log *zap.Logger
	met *metrics.Metrics

	scratch []orderbook.Response
}

// New builds the engine with one book per instrument id in [0,instruments).
// ids is the exchange order id generator; the caller owns it, and startup
// replay regenerates the same assignments by feeding the journal through
// a fresh instance.
func New(
	instruments int,
	poolSize int,
	ids *sequence.Sequencer,
	in *spsc.Ring[orderbook.Request],
	responses *spsc.Ring[orderbook.Response],
	events *spsc.Ring[orderbook.Event],
	journal *spsc.Ring[orderbook.Request],
	log *zap.Logger,
	met *metrics.Metrics,
) *Engine {
	pool := memory.NewPool[orderbook.Order](poolSize)
	books := make([]*orderbook.OrderBook, instruments)
	for i := range books {
		books[i] = orderbook.New(uint32(i), pool)
	}
	return &Engine{
		books:     books,
		pool:      pool,
		ids:       ids,
		in:        in,
		responses: responses,
		events:    events,
		journal:   journal,
		log:       log,
		met:       met,
	}
}

// Run polls the inbound ring until the context is canceled.
func (e *Engine) Run(ctx context.Context) {
	e.log.Info("engine started",
		zap.Int("instruments", len(e.books)),
		zap.Int("pool_size", e.pool.Cap()),
	)
	for {
		select {
		case <-ctx.Done():
			e.log.Info("engine stopped", zap.Uint64("last_order_id", e.ids.Current()))
			return
		default:
		}
		if !e.step() {
			runtime.Gosched()
		}
	}
}

// step applies at most one sequenced request. Returns false when idle.
func (e *Engine) step() bool {
	req := e.in.PeekRead()
	if req == nil {
		return false
	}

	resps, events := e.apply(*req)
	if e.journal != nil && applied(resps) {
		if !e.journal.Push(*req) {
			e.log.Fatal("journal ring full",
				zap.Uint64("len", e.journal.Len()))
		}
	}
	e.publish(resps, events)

	e.in.CommitRead()
	return true
}

// apply validates and executes one request, returning what the book
// emitted. The slices are valid until the next apply.
func (e *Engine) apply(req orderbook.Request) ([]orderbook.Response, []orderbook.Event) {
	if reason := e.reject(req); reason != orderbook.ReasonNone {
		e.met.OrdersRejected.Inc()
		e.scratch = e.scratch[:0]
		e.scratch = append(e.scratch, orderbook.Response{
			Type:       orderbook.RespRejected,
			Reason:     reason,
			ClientID:   req.ClientID,
			Instrument: req.Instrument,
			ClientOrd:  req.ClientOrd,
			Side:       req.Side,
			LeavesQty:  req.Qty,
		})
		return e.scratch, nil
	}

	book := e.books[req.Instrument]
	switch req.Type {
	case orderbook.ReqNew:
		book.Add(e.ids.Next(), req.ClientID, req.ClientOrd, req.Side, req.Price, req.Qty)
	case orderbook.ReqCancel:
		book.Cancel(req.ClientID, req.ClientOrd)
	}

	resps := book.TakeResponses()
	events := book.TakeEvents()

	for _, r := range resps {
		if r.Type == orderbook.RespAccepted {
			e.met.OrdersAccepted.Inc()
		}
		if r.Type == orderbook.RespRejected {
			e.met.OrdersRejected.Inc()
		}
	}
	for _, ev := range events {
		if ev.Type == orderbook.EventTrade {
			e.met.Trades.Inc()
		}
	}
	return resps, events
}

// reject is the structural validation gate: unknown instrument and, for
// news, non-positive price or quantity. Cancels only need a routable
// instrument; unknown orders are handled by the book as a benign no-op.
func (e *Engine) reject(req orderbook.Request) orderbook.RejectReason {
	if int(req.Instrument) >= len(e.books) {
		return orderbook.ReasonUnknownInstrument
	}
	if req.Type == orderbook.ReqNew {
		if req.Price <= 0 {
			return orderbook.ReasonInvalidPrice
		}
		if req.Qty <= 0 {
			return orderbook.ReasonInvalidQty
		}
	}
	return orderbook.ReasonNone
}

func (e *Engine) publish(resps []orderbook.Response, events []orderbook.Event) {
	for _, r := range resps {
		if !e.responses.Push(r) {
			e.log.Fatal("response ring full", zap.Uint64("len", e.responses.Len()))
		}
	}
	for _, ev := range events {
		if !e.events.Push(ev) {
			e.log.Fatal("event ring full", zap.Uint64("len", e.events.Len()))
		}
	}
}

// applied reports whether a request mutated a book (and so belongs in
// the journal). Structural rejects and unknown-order cancels do not.
func applied(resps []orderbook.Response) bool {
	if len(resps) == 0 {
		return false
	}
	switch resps[0].Type {
	case orderbook.RespRejected, orderbook.RespCancelRejected:
		return false
	}
	return true
}

// Book exposes a book for replay and tests. Must not be called while
// Run is active.
func (e *Engine) Book(instrument uint32) *orderbook.OrderBook {
	return e.books[int(instrument)]
}

// ReplayApply re-executes a journaled request without publishing
// downstream. Order ids regenerate deterministically because the id
// sequencer replays the same assignment order.
func (e *Engine) ReplayApply(req orderbook.Request) {
	e.apply(req)
}
