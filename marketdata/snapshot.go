package marketdata

import (
	"context"
	"runtime"
	"time"

	"github.com/tidwall/btree"
	"go.uber.org/zap"

	"talos/domain/orderbook"
	"talos/infra/spsc"
	"talos/metrics"
)

// shadowOrder is one resting order in the synthesizer's full-book copy,
// keyed by (instrument, exchange order id).
type shadowOrder struct {
	Instrument uint32
	OrderID    uint64
	Side       orderbook.Side
	Price      int64
	Qty        int64
	Priority   uint64
}

func shadowLess(a, b shadowOrder) bool {
	if a.Instrument != b.Instrument {
		return a.Instrument < b.Instrument
	}
	return a.OrderID < b.OrderID
}

// Synthesizer maintains a shadow copy of every book from the sequenced
// incremental stream and periodically publishes a complete snapshot
// bracketed by SNAPSHOT_START/SNAPSHOT_END markers carrying the sync
// point: the last incremental sequence the enumerated orders reflect.
//
// Its input comes fanned out from the publisher and must be gapless; a
// gap here is an internal pipeline failure and fatal, unlike loss on the
// broadcast wire, which is the subscriber's recovery protocol's problem.
type Synthesizer struct {
	in          *spsc.Ring[Record]
	tr          Transport
	instruments int
	interval    time.Duration

	book        *btree.BTreeG[shadowOrder]
	lastApplied uint64 // last incremental sequence applied
	snapSeq     uint64 // snapshot stream sequence, independent counter
	buf         [RecordSize]byte

	log *zap.Logger
	met *metrics.Metrics
}

func NewSynthesizer(
	in *spsc.Ring[Record],
	tr Transport,
	instruments int,
	interval time.Duration,
	log *zap.Logger,
	met *metrics.Metrics,
) *Synthesizer {
	return &Synthesizer{
		in:          in,
		tr:          tr,
		instruments: instruments,
		interval:    interval,
		book:        btree.NewBTreeG[shadowOrder](shadowLess),
		log:         log,
		met:         met,
	}
}

// Run applies incrementals as they arrive and publishes a snapshot on a
// fixed wall-clock period, independent of message volume.
func (s *Synthesizer) Run(ctx context.Context) {
	s.log.Info("snapshot synthesizer started", zap.Duration("interval", s.interval))
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("snapshot synthesizer stopped", zap.Uint64("last_applied", s.lastApplied))
			return
		default:
		}

		busy := false
		for {
			rec, ok := s.in.Pop()
			if !ok {
				break
			}
			s.apply(rec)
			busy = true
		}

		if time.Since(last) >= s.interval {
			s.publishSnapshot()
			last = time.Now()
		}

		if !busy {
			runtime.Gosched()
		}
	}
}

// apply folds one sequenced event into the shadow book.
func (s *Synthesizer) apply(rec Record) {
	if rec.Seq != s.lastApplied+1 {
		s.log.Fatal("incremental sequence gap in snapshot pipeline",
			zap.Uint64("expected", s.lastApplied+1),
			zap.Uint64("got", rec.Seq))
	}
	s.lastApplied = rec.Seq

	ev := rec.Event
	switch ev.Type {
	case orderbook.EventAdd, orderbook.EventModify:
		s.book.Set(shadowOrder{
			Instrument: ev.Instrument,
			OrderID:    ev.OrderID,
			Side:       ev.Side,
			Price:      ev.Price,
			Qty:        ev.Qty,
			Priority:   ev.Priority,
		})
	case orderbook.EventCancel:
		s.book.Delete(shadowOrder{Instrument: ev.Instrument, OrderID: ev.OrderID})
	case orderbook.EventTrade:
		// Trades carry no book state; the passive side's MODIFY or
		// CANCEL follows in the same stream.
	}
}

// publishSnapshot emits SNAPSHOT_START, then per instrument a CLEAR plus
// one ADD per resting order, then SNAPSHOT_END. The markers carry the
// sync point in the orderID field. The snapshot stream numbers its own
// records; it shares the transport, not the incremental counter.
func (s *Synthesizer) publishSnapshot() {
	syncPoint := s.lastApplied

	s.send(orderbook.Event{Type: orderbook.EventSnapshotStart, OrderID: syncPoint})

	for instr := 0; instr < s.instruments; instr++ {
		instrument := uint32(instr)
		s.send(orderbook.Event{Type: orderbook.EventClear, Instrument: instrument})

		s.book.Ascend(shadowOrder{Instrument: instrument}, func(o shadowOrder) bool {
			if o.Instrument != instrument {
				return false
			}
			s.send(orderbook.Event{
				Type:       orderbook.EventAdd,
				Instrument: o.Instrument,
				OrderID:    o.OrderID,
				Side:       o.Side,
				Price:      o.Price,
				Qty:        o.Qty,
				Priority:   o.Priority,
			})
			return true
		})
	}

	s.send(orderbook.Event{Type: orderbook.EventSnapshotEnd, OrderID: syncPoint})

	s.met.SnapshotCycles.Inc()
	s.log.Debug("snapshot published",
		zap.Uint64("sync_point", syncPoint),
		zap.Int("resting_orders", s.book.Len()))
}

func (s *Synthesizer) send(ev orderbook.Event) {
	s.snapSeq++
	EncodeRecord(s.buf[:], s.snapSeq, ev)
	if err := s.tr.Send(s.buf[:]); err != nil {
		s.log.Warn("snapshot send failed", zap.Uint64("seq", s.snapSeq), zap.Error(err))
	}
}

// Resting is the shadow count of live orders, for observability.
func (s *Synthesizer) Resting() int {
	return s.book.Len()
}
