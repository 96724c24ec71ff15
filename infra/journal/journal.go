// Package journal is the durable record of every admitted request.
// Requests are framed into append-only segment files and replayed in
// order on restart to rebuild the books.
package journal

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

type Config struct {
	Dir         string
	SegmentSize int64
}

// Journal appends framed records to the current segment and rotates
// when the segment reaches its size limit.
//
// Frame: [kind:1][seq:8][time:8][len:4][payload][crc:4]
// The CRC covers header and payload.
type Journal struct {
	dir      string
	segSize  int64
	current  *segment
	segIndex int
	buf      []byte
}

// Open resumes the highest-numbered existing segment so a restart keeps
// appending where the previous run stopped.
func Open(cfg Config) (*Journal, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("journal: create dir: %w", err)
	}

	index := 0
	if indices, err := segmentIndices(cfg.Dir); err != nil {
		return nil, err
	} else if len(indices) > 0 {
		index = indices[len(indices)-1]
	}

	seg, err := openSegment(cfg.Dir, index)
	if err != nil {
		return nil, err
	}

	return &Journal{
		dir:      cfg.Dir,
		segSize:  cfg.SegmentSize,
		current:  seg,
		segIndex: index,
		buf:      make([]byte, headerSize+payloadSize+4),
	}, nil
}

const headerSize = 1 + 8 + 8 + 4

// Append frames one record and writes it to the current segment.
func (j *Journal) Append(rec *Record) error {
	n := uint32(len(rec.Payload))
	need := headerSize + int(n) + 4
	if cap(j.buf) < need {
		j.buf = make([]byte, need)
	}
	buf := j.buf[:need]

	buf[0] = byte(rec.Kind)
	binary.BigEndian.PutUint64(buf[1:9], rec.Seq)
	binary.BigEndian.PutUint64(buf[9:17], uint64(rec.Time))
	binary.BigEndian.PutUint32(buf[17:21], n)
	copy(buf[headerSize:], rec.Payload)
	binary.BigEndian.PutUint32(buf[headerSize+n:], checksum(buf[:headerSize+int(n)]))

	if err := j.current.append(buf); err != nil {
		return err
	}
	if j.current.offset >= j.segSize {
		return j.rotate()
	}
	return nil
}

func (j *Journal) rotate() error {
	_ = j.current.close()
	j.segIndex++

	seg, err := openSegment(j.dir, j.segIndex)
	if err != nil {
		return err
	}
	j.current = seg
	return nil
}

// Sync flushes the current segment to stable storage.
func (j *Journal) Sync() error {
	return j.current.sync()
}

func (j *Journal) Close() error {
	return j.current.close()
}

func segmentIndices(dir string) ([]int, error) {
	files, err := filepath.Glob(filepath.Join(dir, "segment-*.jrn"))
	if err != nil {
		return nil, err
	}
	indices := make([]int, 0, len(files))
	for _, path := range files {
		var idx int
		if _, err := fmt.Sscanf(filepath.Base(path), "segment-%06d.jrn", &idx); err == nil {
			indices = append(indices, idx)
		}
	}
	sort.Ints(indices)
	return indices, nil
}
