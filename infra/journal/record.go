package journal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"talos/domain/orderbook"
)

// Kind mirrors the inbound request type in the journal frame header.
type Kind uint8

const (
	KindNew    Kind = 1
	KindCancel Kind = 2
)

// Record is one journaled request with the engine-assigned journal
// sequence and the gateway receive timestamp.
type Record struct {
	Kind    Kind
	Seq     uint64
	Time    int64
	Payload []byte
}

// payloadSize covers [client:4][instr:4][side:1][price:8][qty:8][clOrd:8].
const payloadSize = 33

// EncodeRequest serializes the fields of a request that the frame
// header does not already carry.
func EncodeRequest(buf []byte, req orderbook.Request) {
	_ = buf[payloadSize-1]
	binary.BigEndian.PutUint32(buf[0:4], req.ClientID)
	binary.BigEndian.PutUint32(buf[4:8], req.Instrument)
	buf[8] = byte(req.Side)
	binary.BigEndian.PutUint64(buf[9:17], uint64(req.Price))
	binary.BigEndian.PutUint64(buf[17:25], uint64(req.Qty))
	binary.BigEndian.PutUint64(buf[25:33], req.ClientOrd)
}

// DecodeRecord reconstructs the original request from a journal record.
func DecodeRecord(rec *Record) (orderbook.Request, error) {
	if len(rec.Payload) != payloadSize {
		return orderbook.Request{}, fmt.Errorf("journal: payload length %d", len(rec.Payload))
	}
	p := rec.Payload
	req := orderbook.Request{
		RxNanos:    rec.Time,
		ClientID:   binary.BigEndian.Uint32(p[0:4]),
		Instrument: binary.BigEndian.Uint32(p[4:8]),
		Side:       orderbook.Side(p[8]),
		Price:      int64(binary.BigEndian.Uint64(p[9:17])),
		Qty:        int64(binary.BigEndian.Uint64(p[17:25])),
		ClientOrd:  binary.BigEndian.Uint64(p[25:33]),
	}
	switch rec.Kind {
	case KindNew:
		req.Type = orderbook.ReqNew
	case KindCancel:
		req.Type = orderbook.ReqCancel
	default:
		return orderbook.Request{}, fmt.Errorf("journal: unknown record kind %d", rec.Kind)
	}
	return req, nil
}

// KindOf maps a request to its journal frame kind.
func KindOf(req orderbook.Request) Kind {
	if req.Type == orderbook.ReqCancel {
		return KindCancel
	}
	return KindNew
}

var crcTable = crc32.MakeTable(crc32.IEEE)

func checksum(b []byte) uint32 {
	return crc32.Checksum(b, crcTable)
}
