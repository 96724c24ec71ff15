package gateway

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"talos/domain/orderbook"
	"talos/infra/spsc"
)

func TestFlushPublishesInTimestampOrder(t *testing.T) {
	out := spsc.New[orderbook.Request](256)
	seq := NewFIFOSequencer(256, out, zap.NewNop())

	// Timestamps t1<…<tN submitted in a shuffled interleaving.
	const n = 100
	perm := rand.New(rand.NewSource(7)).Perm(n)
	for _, i := range perm {
		seq.Submit(int64(1000+i), orderbook.Request{ClientOrd: uint64(i)})
	}
	require.Equal(t, n, seq.PendingLen())

	seq.Flush()
	require.Zero(t, seq.PendingLen())

	for i := 0; i < n; i++ {
		req, ok := out.Pop()
		require.True(t, ok)
		require.Equal(t, uint64(i), req.ClientOrd)
		require.Equal(t, int64(1000+i), req.RxNanos)
	}
}

func TestFlushTiesKeepSubmissionOrder(t *testing.T) {
	out := spsc.New[orderbook.Request](16)
	seq := NewFIFOSequencer(16, out, zap.NewNop())

	seq.Submit(500, orderbook.Request{ClientOrd: 1})
	seq.Submit(500, orderbook.Request{ClientOrd: 2})
	seq.Submit(400, orderbook.Request{ClientOrd: 3})
	seq.Flush()

	want := []uint64{3, 1, 2}
	for _, w := range want {
		req, ok := out.Pop()
		require.True(t, ok)
		require.Equal(t, w, req.ClientOrd)
	}
}

func TestFlushOnEmptyBufferIsNoop(t *testing.T) {
	out := spsc.New[orderbook.Request](16)
	seq := NewFIFOSequencer(16, out, zap.NewNop())
	seq.Flush()
	_, ok := out.Pop()
	require.False(t, ok)
}
