package gateway

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"talos/domain/orderbook"
	"talos/infra/spsc"
	"talos/metrics"
)

func TestRequestFrameRoundTrip(t *testing.T) {
	in := ClientRequest{
		Seq:        3,
		Type:       orderbook.ReqNew,
		ClientID:   42,
		Instrument: 7,
		Side:       orderbook.Ask,
		Price:      15000,
		Qty:        250,
		ClientOrd:  9001,
	}
	buf := make([]byte, RequestSize)
	EncodeRequest(buf, in)
	require.Equal(t, in, DecodeRequest(buf))
}

func TestResponseFrameRoundTrip(t *testing.T) {
	resp := orderbook.Response{
		Type:       orderbook.RespFilled,
		ClientID:   42,
		Instrument: 7,
		OrderID:    100,
		ClientOrd:  9001,
		Side:       orderbook.Bid,
		ExecPrice:  15000,
		ExecQty:    50,
		LeavesQty:  200,
	}
	buf := make([]byte, ResponseSize)
	EncodeResponse(buf, 12, resp)
	seq, got := DecodeResponse(buf)
	require.Equal(t, uint64(12), seq)
	require.Equal(t, resp, got)
}

func newTestGateway() (*Gateway, *spsc.Ring[orderbook.Request], *spsc.Ring[orderbook.Response]) {
	engineIn := spsc.New[orderbook.Request](1024)
	responses := spsc.New[orderbook.Response](1024)
	seq := NewFIFOSequencer(1024, engineIn, zap.NewNop())
	g := New("127.0.0.1:0", 64, 1, seq, responses, nil, zap.NewNop(), metrics.New())
	return g, engineIn, responses
}

func req(seq uint64, client uint32, clientOrd uint64) ClientRequest {
	return ClientRequest{
		Seq:       seq,
		Type:      orderbook.ReqNew,
		ClientID:  client,
		Side:      orderbook.Bid,
		Price:     100,
		Qty:       1,
		ClientOrd: clientOrd,
	}
}

func TestAdmitEnforcesExactSequence(t *testing.T) {
	g, _, _ := newTestGateway()
	s := newSession(nil, 8)

	require.True(t, g.admit(s, req(1, 10, 1)))
	// Gap: expected 2.
	require.False(t, g.admit(s, req(4, 10, 2)))
	// Duplicate: 1 already consumed.
	require.False(t, g.admit(s, req(1, 10, 3)))
	// The expected value was not advanced by the drops.
	require.True(t, g.admit(s, req(2, 10, 4)))
}

func TestAdmitBindsIdentityAndRejectsSpoof(t *testing.T) {
	g, _, _ := newTestGateway()
	s1 := newSession(nil, 8)
	s2 := newSession(nil, 8)

	require.True(t, g.admit(s1, req(1, 10, 1)))

	// Another connection claiming client 10 is dropped.
	require.False(t, g.admit(s2, req(1, 10, 2)))

	// The same connection switching identity is dropped.
	require.False(t, g.admit(s1, req(2, 11, 3)))

	// s2 can still bind its own identity.
	require.True(t, g.admit(s2, req(1, 20, 4)))
}

func TestReapUnbindsClosedSessions(t *testing.T) {
	g, _, _ := newTestGateway()

	server, client := net.Pipe()
	defer client.Close()
	s := newSession(server, 8)
	g.sessions = append(g.sessions, s)
	require.True(t, g.admit(s, req(1, 10, 1)))
	require.Contains(t, g.owners, uint32(10))

	s.closed.Store(true)
	g.reap()
	require.NotContains(t, g.owners, uint32(10))
	require.Empty(t, g.sessions)

	// A new connection may now bind client 10.
	s2 := newSession(nil, 8)
	require.True(t, g.admit(s2, req(1, 10, 1)))
}

func TestReadLoopOverflowClosesConnection(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	s := newSession(server, 2)
	go s.readLoop(zap.NewNop())

	// Nothing sweeps the ring, so the third frame cannot be admitted and
	// must take the connection down instead of wedging the sequence.
	buf := make([]byte, RequestSize)
	for i := uint64(1); i <= 3; i++ {
		EncodeRequest(buf, req(i, 10, i))
		require.NoError(t, client.SetWriteDeadline(time.Now().Add(2*time.Second)))
		if _, err := client.Write(buf); err != nil {
			break
		}
	}

	require.Eventually(t, s.closed.Load, 2*time.Second, time.Millisecond)

	// Both buffered messages survive; only the overflowing one is lost
	// with the connection.
	require.Equal(t, uint64(2), s.in.Len())
}

func TestDrainStagesDropCopyForOfflineClients(t *testing.T) {
	engineIn := spsc.New[orderbook.Request](64)
	responses := spsc.New[orderbook.Response](64)
	dropCopy := spsc.New[Outbound](64)
	seq := NewFIFOSequencer(64, engineIn, zap.NewNop())
	g := New("127.0.0.1:0", 64, 1, seq, responses, dropCopy, zap.NewNop(), metrics.New())

	// No session owns client 42: the fill arrived after a disconnect.
	require.True(t, responses.Push(orderbook.Response{
		Type:     orderbook.RespFilled,
		ClientID: 42,
		OrderID:  9,
	}))
	require.True(t, g.drainResponses())

	o, ok := dropCopy.Pop()
	require.True(t, ok)
	require.Zero(t, o.Seq)
	require.Equal(t, orderbook.RespFilled, o.Resp.Type)
	require.Equal(t, uint64(9), o.Resp.OrderID)
}

func TestCycleFlushesOnConfiguredCadence(t *testing.T) {
	engineIn := spsc.New[orderbook.Request](64)
	responses := spsc.New[orderbook.Response](64)
	seq := NewFIFOSequencer(64, engineIn, zap.NewNop())
	g := New("127.0.0.1:0", 64, 2, seq, responses, nil, zap.NewNop(), metrics.New())

	s := newSession(nil, 8)
	g.sessions = append(g.sessions, s)
	require.True(t, s.in.Push(inboundMsg{rx: 1, req: req(1, 10, 1)}))

	// First sweep submits but must not flush yet.
	g.cycle()
	_, ok := engineIn.Pop()
	require.False(t, ok)
	require.Equal(t, 1, seq.PendingLen())

	// Second sweep completes the cadence.
	g.cycle()
	got, ok := engineIn.Pop()
	require.True(t, ok)
	require.Equal(t, uint32(10), got.ClientID)
	require.Zero(t, seq.PendingLen())
}

func TestGatewayEndToEnd(t *testing.T) {
	g, engineIn, responses := newTestGateway()
	require.NoError(t, g.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go g.Run(ctx)

	conn, err := net.Dial("tcp", g.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	// Valid first message: seq 1, binds client 42.
	buf := make([]byte, RequestSize)
	EncodeRequest(buf, ClientRequest{
		Seq: 1, Type: orderbook.ReqNew, ClientID: 42,
		Instrument: 0, Side: orderbook.Bid, Price: 150, Qty: 100, ClientOrd: 7,
	})
	_, err = conn.Write(buf)
	require.NoError(t, err)

	var got orderbook.Request
	require.Eventually(t, func() bool {
		r, ok := engineIn.Pop()
		if ok {
			got = r
		}
		return ok
	}, 2*time.Second, time.Millisecond)
	require.Equal(t, uint32(42), got.ClientID)
	require.Equal(t, int64(150), got.Price)
	require.NotZero(t, got.RxNanos)

	// A gapped message is dropped, the next in-sequence one is not.
	EncodeRequest(buf, req(9, 42, 8))
	_, err = conn.Write(buf)
	require.NoError(t, err)
	EncodeRequest(buf, req(2, 42, 9))
	_, err = conn.Write(buf)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		r, ok := engineIn.Pop()
		if ok {
			got = r
		}
		return ok
	}, 2*time.Second, time.Millisecond)
	require.Equal(t, uint64(9), got.ClientOrd)

	// Engine response comes back tagged with outgoing seq 1.
	require.True(t, responses.Push(orderbook.Response{
		Type:     orderbook.RespAccepted,
		ClientID: 42,
		OrderID:  1,
		Side:     orderbook.Bid,
	}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	out := make([]byte, ResponseSize)
	_, err = io.ReadFull(conn, out)
	require.NoError(t, err)

	seq, resp := DecodeResponse(out)
	require.Equal(t, uint64(1), seq)
	require.Equal(t, orderbook.RespAccepted, resp.Type)
	require.Equal(t, uint64(1), resp.OrderID)
}
