// Package marketdata turns book-change events into the numbered
// incremental feed and the periodic full-book snapshots that let lossy
// subscribers recover.
package marketdata

import (
	"context"
	"runtime"

	"go.uber.org/zap"

	"talos/domain/orderbook"
	"talos/infra/spsc"
	"talos/metrics"
)

// Publisher is the latency-critical half of the distributor: it consumes
// book events in generation order, stamps each with the next incremental
// sequence number and transmits it best-effort. Every sequenced event is
// also fanned into the snapshot ring, so the synthesizer observes the
// exact stream the wire carried.
type Publisher struct {
	in   *spsc.Ring[orderbook.Event]
	snap *spsc.Ring[Record]
	tr   Transport

	seq uint64 // last assigned incremental sequence
	buf [RecordSize]byte

	log *zap.Logger
	met *metrics.Metrics
}

func NewPublisher(
	in *spsc.Ring[orderbook.Event],
	snap *spsc.Ring[Record],
	tr Transport,
	log *zap.Logger,
	met *metrics.Metrics,
) *Publisher {
	return &Publisher{in: in, snap: snap, tr: tr, log: log, met: met}
}

func (p *Publisher) Run(ctx context.Context) {
	p.log.Info("incremental publisher started")
	for {
		select {
		case <-ctx.Done():
			p.log.Info("incremental publisher stopped", zap.Uint64("last_seq", p.seq))
			return
		default:
		}
		if !p.step() {
			runtime.Gosched()
		}
	}
}

func (p *Publisher) step() bool {
	ev := p.in.PeekRead()
	if ev == nil {
		return false
	}

	p.seq++
	EncodeRecord(p.buf[:], p.seq, *ev)
	if err := p.tr.Send(p.buf[:]); err != nil {
		// Transport loss is resolved by the snapshot protocol, not here.
		p.log.Warn("incremental send failed", zap.Uint64("seq", p.seq), zap.Error(err))
	}
	p.met.MDRecords.Inc()

	if !p.snap.Push(Record{Seq: p.seq, Event: *ev}) {
		// Unlike the broadcast wire, the internal fan-out must be
		// gapless; overflowing it would corrupt every future snapshot.
		p.log.Fatal("snapshot ring full", zap.Uint64("len", p.snap.Len()))
	}

	p.in.CommitRead()
	return true
}

// LastSeq is the last incremental sequence assigned.
func (p *Publisher) LastSeq() uint64 {
	return p.seq
}
