package journaler

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"talos/domain/orderbook"
	"talos/infra/journal"
	"talos/infra/spsc"
)

func TestDrainsRingIntoJournal(t *testing.T) {
	dir := t.TempDir()
	jrn, err := journal.Open(journal.Config{Dir: dir, SegmentSize: 1 << 20})
	require.NoError(t, err)

	in := spsc.New[orderbook.Request](16)
	jw := New(in, jrn, 0, zap.NewNop())

	want := []orderbook.Request{
		{Type: orderbook.ReqNew, RxNanos: 10, ClientID: 1, Instrument: 0,
			Side: orderbook.Bid, Price: 150, Qty: 100, ClientOrd: 1},
		{Type: orderbook.ReqCancel, RxNanos: 20, ClientID: 1, Instrument: 0,
			ClientOrd: 1},
	}
	for _, req := range want {
		require.True(t, in.Push(req))
	}

	for jw.step() {
	}
	jw.flush(true)
	require.Equal(t, uint64(2), jw.LastSeq())
	require.NoError(t, jrn.Close())

	var got []orderbook.Request
	last, err := journal.Replay(dir, func(rec *journal.Record) error {
		req, err := journal.DecodeRecord(rec)
		require.NoError(t, err)
		got = append(got, req)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, uint64(2), last)
	require.Equal(t, want, got)
}

func TestResumesNumberingAfterReplay(t *testing.T) {
	dir := t.TempDir()
	jrn, err := journal.Open(journal.Config{Dir: dir, SegmentSize: 1 << 20})
	require.NoError(t, err)

	in := spsc.New[orderbook.Request](16)
	jw := New(in, jrn, 41, zap.NewNop())

	require.True(t, in.Push(orderbook.Request{
		Type: orderbook.ReqNew, Side: orderbook.Bid, Price: 1, Qty: 1, ClientOrd: 9,
	}))
	require.True(t, jw.step())
	require.Equal(t, uint64(42), jw.LastSeq())
	require.NoError(t, jrn.Close())
}
