package orderbook

// EventType enumerates book-change events. The snapshot marker types are
// produced only by the snapshot synthesizer, never by a book.
type EventType uint8

const (
	EventAdd EventType = iota + 1
	EventModify
	EventCancel
	EventTrade
	EventClear
	EventSnapshotStart
	EventSnapshotEnd
)

func (t EventType) String() string {
	switch t {
	case EventAdd:
		return "ADD"
	case EventModify:
		return "MODIFY"
	case EventCancel:
		return "CANCEL"
	case EventTrade:
		return "TRADE"
	case EventClear:
		return "CLEAR"
	case EventSnapshotStart:
		return "SNAPSHOT_START"
	case EventSnapshotEnd:
		return "SNAPSHOT_END"
	default:
		return "UNKNOWN"
	}
}

// Event is the immutable record of one book mutation. Produced exactly
// once per mutation and never modified afterwards.
//
// TRADE events carry the aggressor side, the passive (trade) price and
// the fill quantity; their OrderID and Priority are zero. The snapshot
// markers repurpose OrderID to carry the sync-point incremental sequence.
type Event struct {
	Type       EventType
	Instrument uint32
	OrderID    uint64
	Side       Side
	Price      int64
	Qty        int64
	Priority   uint64
}

// ResponseType enumerates client-facing outcomes.
type ResponseType uint8

const (
	RespAccepted ResponseType = iota + 1
	RespRejected
	RespCanceled
	RespCancelRejected
	RespFilled
)

func (t ResponseType) String() string {
	switch t {
	case RespAccepted:
		return "ACCEPTED"
	case RespRejected:
		return "REJECTED"
	case RespCanceled:
		return "CANCELED"
	case RespCancelRejected:
		return "CANCEL_REJECTED"
	case RespFilled:
		return "FILLED"
	default:
		return "UNKNOWN"
	}
}

// RejectReason explains structural rejections. Never retried here.
type RejectReason uint8

const (
	ReasonNone RejectReason = iota
	ReasonUnknownInstrument
	ReasonInvalidPrice
	ReasonInvalidQty
	ReasonDuplicateClientOrd
	ReasonUnknownOrder
)

// Response is one book-generated answer to a client request. The gateway
// stamps the per-client outgoing sequence number at transmission time.
type Response struct {
	Type       ResponseType
	Reason     RejectReason
	ClientID   uint32
	Instrument uint32
	OrderID    uint64 // exchange-assigned
	ClientOrd  uint64
	Side       Side
	ExecPrice  int64
	ExecQty    int64
	LeavesQty  int64
}
