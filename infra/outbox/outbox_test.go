package outbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *Outbox {
	t.Helper()
	box, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = box.Close() })
	return box
}

func TestLifecycle(t *testing.T) {
	box := openTest(t)

	require.NoError(t, box.PutNew(1, []byte("report-1")))

	e, err := box.Get(1)
	require.NoError(t, err)
	require.Equal(t, StateNew, e.State)
	require.Equal(t, []byte("report-1"), e.Payload)

	require.NoError(t, box.MarkSent(1))
	e, err = box.Get(1)
	require.NoError(t, err)
	require.Equal(t, StateSent, e.State)
	require.Equal(t, uint32(1), e.Retries)
	require.NotZero(t, e.LastAttempt)

	require.NoError(t, box.MarkAcked(1))
	e, err = box.Get(1)
	require.NoError(t, err)
	require.Equal(t, StateAcked, e.State)
	require.Equal(t, []byte("report-1"), e.Payload)
}

func TestScanPendingSkipsAckedAndFreshSent(t *testing.T) {
	box := openTest(t)

	require.NoError(t, box.PutNew(1, []byte("a")))
	require.NoError(t, box.PutNew(2, []byte("b")))
	require.NoError(t, box.PutNew(3, []byte("c")))
	require.NoError(t, box.PutNew(4, []byte("d")))

	require.NoError(t, box.MarkSent(2)) // fresh SENT, ack may still arrive
	require.NoError(t, box.MarkSent(3))
	require.NoError(t, box.MarkAcked(3))
	require.NoError(t, box.MarkFailed(4))

	var seen []uint64
	require.NoError(t, box.ScanPending(time.Minute, func(e *Entry) error {
		seen = append(seen, e.Seq)
		return nil
	}))
	require.Equal(t, []uint64{1, 4}, seen)

	// With a zero redelivery window the stale SENT entry comes back too.
	seen = nil
	require.NoError(t, box.ScanPending(0, func(e *Entry) error {
		seen = append(seen, e.Seq)
		return nil
	}))
	require.Equal(t, []uint64{1, 2, 4}, seen)
}

func TestScanPendingOrdersBySequence(t *testing.T) {
	box := openTest(t)

	for _, seq := range []uint64{100, 5, 73, 9} {
		require.NoError(t, box.PutNew(seq, []byte("x")))
	}

	var seen []uint64
	require.NoError(t, box.ScanPending(time.Minute, func(e *Entry) error {
		seen = append(seen, e.Seq)
		return nil
	}))
	require.Equal(t, []uint64{5, 9, 73, 100}, seen)
}

func TestPurgeAckedKeepsUndelivered(t *testing.T) {
	box := openTest(t)

	require.NoError(t, box.PutNew(1, []byte("a")))
	require.NoError(t, box.PutNew(2, []byte("b")))
	require.NoError(t, box.PutNew(3, []byte("c")))
	require.NoError(t, box.MarkAcked(1))
	require.NoError(t, box.MarkAcked(3))

	require.NoError(t, box.PurgeAcked(2))

	_, err := box.Get(1)
	require.Error(t, err)

	e, err := box.Get(2)
	require.NoError(t, err)
	require.Equal(t, StateNew, e.State)

	// Above the purge bound, acked or not, it stays.
	e, err = box.Get(3)
	require.NoError(t, err)
	require.Equal(t, StateAcked, e.State)
}

func TestMaxSeq(t *testing.T) {
	box := openTest(t)

	seq, err := box.MaxSeq()
	require.NoError(t, err)
	require.Zero(t, seq)

	require.NoError(t, box.PutNew(5, []byte("a")))
	require.NoError(t, box.PutNew(73, []byte("b")))
	require.NoError(t, box.PutNew(9, []byte("c")))

	seq, err = box.MaxSeq()
	require.NoError(t, err)
	require.Equal(t, uint64(73), seq)
}

func TestValueRoundTrip(t *testing.T) {
	e := &Entry{
		Seq:         42,
		State:       StateFailed,
		Retries:     3,
		LastAttempt: 123456789,
		Payload:     []byte{0xDE, 0xAD, 0xBE, 0xEF},
	}
	got, err := decodeValue(42, encodeValue(e))
	require.NoError(t, err)
	require.Equal(t, e, got)

	_, err = decodeValue(1, []byte{1, 2, 3})
	require.Error(t, err)
}
