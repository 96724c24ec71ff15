package journal

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// ReplayHandler receives records in journal-sequence order.
type ReplayHandler func(*Record) error

// Replay walks every segment in index order and hands each record to
// fn. Sequences must be strictly increasing across segments; a CRC or
// ordering failure aborts the replay.
func Replay(dir string, fn ReplayHandler) (lastSeq uint64, err error) {
	indices, err := segmentIndices(dir)
	if err != nil {
		return 0, err
	}

	for _, idx := range indices {
		f, err := os.Open(segmentPath(dir, idx))
		if err != nil {
			return lastSeq, err
		}

		for {
			rec, err := readRecord(f)
			if err != nil {
				if err == io.EOF {
					break
				}
				_ = f.Close()
				return lastSeq, err
			}

			if rec.Seq <= lastSeq {
				_ = f.Close()
				return lastSeq, fmt.Errorf("journal: non-monotonic seq %d after %d", rec.Seq, lastSeq)
			}
			lastSeq = rec.Seq

			if err := fn(rec); err != nil {
				_ = f.Close()
				return lastSeq, err
			}
		}
		_ = f.Close()
	}
	return lastSeq, nil
}

func readRecord(r io.Reader) (*Record, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	n := binary.BigEndian.Uint32(header[17:21])
	rest := make([]byte, n+4)
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, err
	}

	payload := rest[:n]
	want := binary.BigEndian.Uint32(rest[n:])
	if checksum(append(header, payload...)) != want {
		return nil, fmt.Errorf("journal: crc mismatch")
	}

	return &Record{
		Kind:    Kind(header[0]),
		Seq:     binary.BigEndian.Uint64(header[1:9]),
		Time:    int64(binary.BigEndian.Uint64(header[9:17])),
		Payload: payload,
	}, nil
}

