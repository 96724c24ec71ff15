package marketdata

import (
	"encoding/binary"

	"talos/domain/orderbook"
)

// Fixed-size big-endian record on the broadcast feed:
// [seq:8][type:1][instr:4][orderID:8][side:1][price:8][qty:8][priority:8]
//
// SNAPSHOT_START and SNAPSHOT_END repurpose the orderID field to carry
// the sync-point incremental sequence number.
const RecordSize = 46

// Record is one sequenced feed entry.
type Record struct {
	Seq   uint64
	Event orderbook.Event
}

func EncodeRecord(buf []byte, seq uint64, ev orderbook.Event) {
	_ = buf[RecordSize-1]
	binary.BigEndian.PutUint64(buf[0:8], seq)
	buf[8] = byte(ev.Type)
	binary.BigEndian.PutUint32(buf[9:13], ev.Instrument)
	binary.BigEndian.PutUint64(buf[13:21], ev.OrderID)
	buf[21] = byte(ev.Side)
	binary.BigEndian.PutUint64(buf[22:30], uint64(ev.Price))
	binary.BigEndian.PutUint64(buf[30:38], uint64(ev.Qty))
	binary.BigEndian.PutUint64(buf[38:46], ev.Priority)
}

func DecodeRecord(buf []byte) Record {
	_ = buf[RecordSize-1]
	return Record{
		Seq: binary.BigEndian.Uint64(buf[0:8]),
		Event: orderbook.Event{
			Type:       orderbook.EventType(buf[8]),
			Instrument: binary.BigEndian.Uint32(buf[9:13]),
			OrderID:    binary.BigEndian.Uint64(buf[13:21]),
			Side:       orderbook.Side(buf[21]),
			Price:      int64(binary.BigEndian.Uint64(buf[22:30])),
			Qty:        int64(binary.BigEndian.Uint64(buf[30:38])),
			Priority:   binary.BigEndian.Uint64(buf[38:46]),
		},
	}
}
