// Package outbox is the durable staging area for drop-copy delivery.
// Every outbound execution report is persisted here first, then pushed
// to the broker at-least-once by the dropcopy job.
package outbox

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
)

type State uint8

const (
	StateNew State = iota
	StateSent
	StateAcked
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSent:
		return "SENT"
	case StateAcked:
		return "ACKED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Entry is one staged report keyed by its gateway outbound sequence.
type Entry struct {
	Seq         uint64
	State       State
	Retries     uint32
	LastAttempt int64
	Payload     []byte
}

// value encoding: [state:1][retries:4][lastAttempt:8][len:4][payload]
func encodeValue(e *Entry) []byte {
	buf := make([]byte, 1+4+8+4+len(e.Payload))
	buf[0] = byte(e.State)
	binary.BigEndian.PutUint32(buf[1:5], e.Retries)
	binary.BigEndian.PutUint64(buf[5:13], uint64(e.LastAttempt))
	binary.BigEndian.PutUint32(buf[13:17], uint32(len(e.Payload)))
	copy(buf[17:], e.Payload)
	return buf
}

func decodeValue(seq uint64, b []byte) (*Entry, error) {
	if len(b) < 17 {
		return nil, errors.New("outbox: truncated entry")
	}
	n := binary.BigEndian.Uint32(b[13:17])
	if len(b) != 17+int(n) {
		return nil, fmt.Errorf("outbox: entry length %d, want %d", len(b), 17+n)
	}
	payload := make([]byte, n)
	copy(payload, b[17:])
	return &Entry{
		Seq:         seq,
		State:       State(b[0]),
		Retries:     binary.BigEndian.Uint32(b[1:5]),
		LastAttempt: int64(binary.BigEndian.Uint64(b[5:13])),
		Payload:     payload,
	}, nil
}

type Outbox struct {
	db *pebble.DB
}

func Open(dir string) (*Outbox, error) {
	db, err := pebble.Open(dir, &pebble.Options{
		DisableWAL: false, // staged reports must survive a crash
	})
	if err != nil {
		return nil, err
	}
	return &Outbox{db: db}, nil
}

func (o *Outbox) Close() error {
	return o.db.Close()
}

// PutNew stages one report for delivery.
func (o *Outbox) PutNew(seq uint64, payload []byte) error {
	e := Entry{Seq: seq, State: StateNew, Payload: payload}
	return o.db.Set(keyFor(seq), encodeValue(&e), pebble.Sync)
}

// markState is a read-modify-write preserving the payload.
func (o *Outbox) markState(seq uint64, state State, bumpRetries bool) error {
	e, err := o.Get(seq)
	if err != nil {
		return err
	}
	e.State = state
	e.LastAttempt = time.Now().UnixNano()
	if bumpRetries {
		e.Retries++
	}
	return o.db.Set(keyFor(seq), encodeValue(e), pebble.Sync)
}

func (o *Outbox) MarkSent(seq uint64) error   { return o.markState(seq, StateSent, true) }
func (o *Outbox) MarkAcked(seq uint64) error  { return o.markState(seq, StateAcked, false) }
func (o *Outbox) MarkFailed(seq uint64) error { return o.markState(seq, StateFailed, false) }

func (o *Outbox) Delete(seq uint64) error {
	return o.db.Delete(keyFor(seq), pebble.Sync)
}

func (o *Outbox) Get(seq uint64) (*Entry, error) {
	val, closer, err := o.db.Get(keyFor(seq))
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return decodeValue(seq, val)
}

// ScanPending visits, in sequence order, every entry still owed to the
// broker: NEW, FAILED, and SENT entries whose ack never arrived. A SENT
// entry is retried once it is older than resendAfter, which covers a
// crash between send and ack at the cost of possible duplicates.
func (o *Outbox) ScanPending(resendAfter time.Duration, fn func(*Entry) error) error {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte("resp/"),
		UpperBound: []byte("resp/~"),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	cutoff := time.Now().Add(-resendAfter).UnixNano()
	for iter.First(); iter.Valid(); iter.Next() {
		seq, err := parseKey(iter.Key())
		if err != nil {
			return err
		}
		e, err := decodeValue(seq, iter.Value())
		if err != nil {
			return err
		}

		switch e.State {
		case StateNew, StateFailed:
		case StateSent:
			if e.LastAttempt > cutoff {
				continue
			}
		default:
			continue
		}

		if err := fn(e); err != nil {
			return err
		}
	}
	return iter.Error()
}

// MaxSeq returns the highest staged sequence, or 0 when the outbox is
// empty. Used to resume drop-copy numbering across restarts.
func (o *Outbox) MaxSeq() (uint64, error) {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte("resp/"),
		UpperBound: []byte("resp/~"),
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	if !iter.Last() {
		return 0, iter.Error()
	}
	return parseKey(iter.Key())
}

// PurgeAcked deletes delivered entries at or below seq.
func (o *Outbox) PurgeAcked(seq uint64) error {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte("resp/"),
		UpperBound: append(keyFor(seq), '~'),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		id, err := parseKey(iter.Key())
		if err != nil {
			return err
		}
		e, err := decodeValue(id, iter.Value())
		if err != nil {
			return err
		}
		if e.State == StateAcked {
			if err := o.db.Delete(keyFor(id), pebble.Sync); err != nil {
				return err
			}
		}
	}
	return iter.Error()
}

func keyFor(seq uint64) []byte {
	return []byte(fmt.Sprintf("resp/%020d", seq))
}

func parseKey(b []byte) (uint64, error) {
	var seq uint64
	_, err := fmt.Sscanf(string(b), "resp/%d", &seq)
	return seq, err
}
