package journal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"talos/domain/orderbook"
)

func append3(t *testing.T, j *Journal, startSeq uint64) []orderbook.Request {
	t.Helper()
	reqs := []orderbook.Request{
		{Type: orderbook.ReqNew, RxNanos: 100, ClientID: 7, Instrument: 1,
			Side: orderbook.Bid, Price: 150, Qty: 10, ClientOrd: 1},
		{Type: orderbook.ReqNew, RxNanos: 200, ClientID: 8, Instrument: 1,
			Side: orderbook.Ask, Price: 151, Qty: 5, ClientOrd: 1},
		{Type: orderbook.ReqCancel, RxNanos: 300, ClientID: 7, Instrument: 1,
			ClientOrd: 1},
	}
	var buf [33]byte
	for i, req := range reqs {
		EncodeRequest(buf[:], req)
		rec := Record{Kind: KindOf(req), Seq: startSeq + uint64(i), Time: req.RxNanos, Payload: buf[:]}
		require.NoError(t, j.Append(&rec))
	}
	return reqs
}

func TestAppendReplayRoundTrip(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(Config{Dir: dir, SegmentSize: 1 << 20})
	require.NoError(t, err)

	want := append3(t, j, 1)
	require.NoError(t, j.Sync())
	require.NoError(t, j.Close())

	var got []orderbook.Request
	last, err := Replay(dir, func(rec *Record) error {
		req, err := DecodeRecord(rec)
		require.NoError(t, err)
		got = append(got, req)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, uint64(3), last)
	require.Equal(t, want, got)
}

func TestReplayDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(Config{Dir: dir, SegmentSize: 1 << 20})
	require.NoError(t, err)
	append3(t, j, 1)
	require.NoError(t, j.Close())

	path := segmentPath(dir, 0)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[headerSize+2] ^= 0xFF // flip a payload byte in the first record
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	_, err = Replay(dir, func(*Record) error { return nil })
	require.ErrorContains(t, err, "crc mismatch")
}

func TestRotationSpansSegments(t *testing.T) {
	dir := t.TempDir()
	// Tiny segment limit: every record forces a rotation.
	j, err := Open(Config{Dir: dir, SegmentSize: 1})
	require.NoError(t, err)

	append3(t, j, 1)
	// Three rotations: one closed segment per record plus the fresh one.
	files, err := filepath.Glob(filepath.Join(dir, "segment-*.jrn"))
	require.NoError(t, err)
	require.Len(t, files, 4)

	// Replay stitches the segments back into one ordered stream.
	last, err := Replay(dir, func(*Record) error { return nil })
	require.NoError(t, err)
	require.Equal(t, uint64(3), last)
	require.NoError(t, j.Close())
}

func TestOpenResumesHighestSegment(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(Config{Dir: dir, SegmentSize: 1})
	require.NoError(t, err)
	append3(t, j, 1)
	require.NoError(t, j.Close())

	j2, err := Open(Config{Dir: dir, SegmentSize: 1 << 20})
	require.NoError(t, err)
	append3(t, j2, 4)
	require.NoError(t, j2.Close())

	var seqs []uint64
	last, err := Replay(dir, func(rec *Record) error {
		seqs = append(seqs, rec.Seq)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, uint64(6), last)
	require.Equal(t, []uint64{1, 2, 3, 4, 5, 6}, seqs)
}

func TestReplayRejectsNonMonotonic(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(Config{Dir: dir, SegmentSize: 1 << 20})
	require.NoError(t, err)

	var buf [33]byte
	req := orderbook.Request{Type: orderbook.ReqNew, Side: orderbook.Bid, Price: 1, Qty: 1}
	EncodeRequest(buf[:], req)
	for _, seq := range []uint64{1, 2, 2} {
		rec := Record{Kind: KindNew, Seq: seq, Payload: buf[:]}
		require.NoError(t, j.Append(&rec))
	}
	require.NoError(t, j.Close())

	_, err = Replay(dir, func(*Record) error { return nil })
	require.ErrorContains(t, err, "non-monotonic")
}
