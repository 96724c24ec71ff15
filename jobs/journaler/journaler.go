// Package journaler drains admitted requests off the engine's journal
// ring and appends them to the request journal.
package journaler

import (
	"context"
	"runtime"

	"go.uber.org/zap"

	"talos/domain/orderbook"
	"talos/infra/journal"
	"talos/infra/spsc"
)

// Journaler assigns journal sequence numbers and writes frames. A write
// failure is fatal: without a durable record the venue cannot promise
// recovery, so it must not keep trading.
type Journaler struct {
	in  *spsc.Ring[orderbook.Request]
	jrn *journal.Journal
	seq uint64
	buf [33]byte
	log *zap.Logger
}

// New continues numbering after lastSeq, the highest sequence found
// during replay.
func New(in *spsc.Ring[orderbook.Request], jrn *journal.Journal, lastSeq uint64, log *zap.Logger) *Journaler {
	return &Journaler{in: in, jrn: jrn, seq: lastSeq, log: log}
}

func (j *Journaler) Run(ctx context.Context) {
	j.log.Info("journaler started", zap.Uint64("resume_seq", j.seq))
	dirty := false
	for {
		select {
		case <-ctx.Done():
			j.flush(dirty)
			j.log.Info("journaler stopped", zap.Uint64("last_seq", j.seq))
			return
		default:
		}

		if j.step() {
			dirty = true
			continue
		}
		j.flush(dirty)
		dirty = false
		runtime.Gosched()
	}
}

func (j *Journaler) step() bool {
	req := j.in.PeekRead()
	if req == nil {
		return false
	}

	j.seq++
	journal.EncodeRequest(j.buf[:], *req)
	rec := journal.Record{
		Kind:    journal.KindOf(*req),
		Seq:     j.seq,
		Time:    req.RxNanos,
		Payload: j.buf[:],
	}
	if err := j.jrn.Append(&rec); err != nil {
		j.log.Fatal("journal append failed", zap.Uint64("seq", j.seq), zap.Error(err))
	}

	j.in.CommitRead()
	return true
}

func (j *Journaler) flush(dirty bool) {
	if !dirty {
		return
	}
	if err := j.jrn.Sync(); err != nil {
		j.log.Fatal("journal sync failed", zap.Error(err))
	}
}

// LastSeq is the highest journal sequence assigned so far.
func (j *Journaler) LastSeq() uint64 {
	return j.seq
}
