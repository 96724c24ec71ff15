package gateway

import (
	"encoding/binary"

	"talos/domain/orderbook"
)

// Fixed-size big-endian records on the order-entry connection.
//
// Request:  [seq:8][type:1][client:4][instr:4][side:1][price:8][qty:8][clOrd:8]
// Response: [seq:8][type:1][reason:1][client:4][instr:4][orderID:8][clOrd:8]
//           [side:1][execPrice:8][execQty:8][leaves:8]
const (
	RequestSize  = 42
	ResponseSize = 59
)

// ClientRequest is one inbound order-entry record. Seq is the
// per-connection sequence number the gateway validates.
type ClientRequest struct {
	Seq        uint64
	Type       orderbook.RequestType
	ClientID   uint32
	Instrument uint32
	Side       orderbook.Side
	Price      int64
	Qty        int64
	ClientOrd  uint64
}

// Outbound is a response tagged with its per-client outgoing sequence
// number, ready for transmission.
type Outbound struct {
	Seq  uint64
	Resp orderbook.Response
}

func EncodeRequest(buf []byte, r ClientRequest) {
	_ = buf[RequestSize-1]
	binary.BigEndian.PutUint64(buf[0:8], r.Seq)
	buf[8] = byte(r.Type)
	binary.BigEndian.PutUint32(buf[9:13], r.ClientID)
	binary.BigEndian.PutUint32(buf[13:17], r.Instrument)
	buf[17] = byte(r.Side)
	binary.BigEndian.PutUint64(buf[18:26], uint64(r.Price))
	binary.BigEndian.PutUint64(buf[26:34], uint64(r.Qty))
	binary.BigEndian.PutUint64(buf[34:42], r.ClientOrd)
}

func DecodeRequest(buf []byte) ClientRequest {
	_ = buf[RequestSize-1]
	return ClientRequest{
		Seq:        binary.BigEndian.Uint64(buf[0:8]),
		Type:       orderbook.RequestType(buf[8]),
		ClientID:   binary.BigEndian.Uint32(buf[9:13]),
		Instrument: binary.BigEndian.Uint32(buf[13:17]),
		Side:       orderbook.Side(buf[17]),
		Price:      int64(binary.BigEndian.Uint64(buf[18:26])),
		Qty:        int64(binary.BigEndian.Uint64(buf[26:34])),
		ClientOrd:  binary.BigEndian.Uint64(buf[34:42]),
	}
}

func EncodeResponse(buf []byte, seq uint64, r orderbook.Response) {
	_ = buf[ResponseSize-1]
	binary.BigEndian.PutUint64(buf[0:8], seq)
	buf[8] = byte(r.Type)
	buf[9] = byte(r.Reason)
	binary.BigEndian.PutUint32(buf[10:14], r.ClientID)
	binary.BigEndian.PutUint32(buf[14:18], r.Instrument)
	binary.BigEndian.PutUint64(buf[18:26], r.OrderID)
	binary.BigEndian.PutUint64(buf[26:34], r.ClientOrd)
	buf[34] = byte(r.Side)
	binary.BigEndian.PutUint64(buf[35:43], uint64(r.ExecPrice))
	binary.BigEndian.PutUint64(buf[43:51], uint64(r.ExecQty))
	binary.BigEndian.PutUint64(buf[51:59], uint64(r.LeavesQty))
}

func DecodeResponse(buf []byte) (uint64, orderbook.Response) {
	_ = buf[ResponseSize-1]
	seq := binary.BigEndian.Uint64(buf[0:8])
	return seq, orderbook.Response{
		Type:       orderbook.ResponseType(buf[8]),
		Reason:     orderbook.RejectReason(buf[9]),
		ClientID:   binary.BigEndian.Uint32(buf[10:14]),
		Instrument: binary.BigEndian.Uint32(buf[14:18]),
		OrderID:    binary.BigEndian.Uint64(buf[18:26]),
		ClientOrd:  binary.BigEndian.Uint64(buf[26:34]),
		Side:       orderbook.Side(buf[34]),
		ExecPrice:  int64(binary.BigEndian.Uint64(buf[35:43])),
		ExecQty:    int64(binary.BigEndian.Uint64(buf[43:51])),
		LeavesQty:  int64(binary.BigEndian.Uint64(buf[51:59])),
	}
}
