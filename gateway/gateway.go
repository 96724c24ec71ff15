// Package gateway terminates order-entry connections: per-connection
// sequence policing, client identity binding, receive timestamping and
// the time-priority sequencer that feeds the matching engine.
package gateway

import (
	"context"
	"errors"
	"io"
	"net"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"talos/domain/orderbook"
	"talos/infra/spsc"
	"talos/metrics"
)

// responseBatch bounds how many engine responses one sweep drains, so a
// response burst cannot starve inbound processing.
const responseBatch = 256

type inboundMsg struct {
	rx  int64
	req ClientRequest
}

// session is one client connection. The reader goroutine only frames and
// timestamps; all per-connection protocol state (sequence counters,
// identity binding) is owned by the gateway loop, which is the single
// consumer of the session's inbound ring.
type session struct {
	id   uuid.UUID
	conn net.Conn

	in  *spsc.Ring[inboundMsg]
	out *spsc.Ring[Outbound]

	bound   bool
	client  uint32
	nextIn  uint64 // expected inbound sequence, starts at 1
	nextOut uint64 // next outgoing sequence, starts at 1

	closed atomic.Bool
}

func newSession(conn net.Conn, ringSize uint64) *session {
	return &session{
		id:      uuid.New(),
		conn:    conn,
		in:      spsc.New[inboundMsg](ringSize),
		out:     spsc.New[Outbound](ringSize),
		nextIn:  1,
		nextOut: 1,
	}
}

// readLoop frames fixed-size requests and stamps the receive time. It
// never touches session protocol state.
func (s *session) readLoop(log *zap.Logger) {
	defer s.closed.Store(true)

	buf := make([]byte, RequestSize)
	for {
		if _, err := io.ReadFull(s.conn, buf); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Warn("connection read failed",
					zap.String("session", s.id.String()), zap.Error(err))
			}
			return
		}
		msg := inboundMsg{rx: time.Now().UnixNano(), req: DecodeRequest(buf)}
		if !s.in.Push(msg) {
			// The client outran the gateway sweep. Silently shedding would
			// wedge the connection on its next in-sequence message, so
			// close it and let the client reconnect with a fresh session.
			log.Error("inbound ring full, closing connection",
				zap.String("session", s.id.String()),
				zap.Uint64("seq", msg.req.Seq))
			_ = s.conn.Close()
			return
		}
	}
}

// writeLoop transmits tagged responses in outgoing-sequence order.
func (s *session) writeLoop(log *zap.Logger) {
	buf := make([]byte, ResponseSize)
	for {
		o, ok := s.out.Pop()
		if !ok {
			if s.closed.Load() {
				return
			}
			runtime.Gosched()
			continue
		}
		EncodeResponse(buf, o.Seq, o.Resp)
		if _, err := s.conn.Write(buf); err != nil {
			log.Warn("connection write failed",
				zap.String("session", s.id.String()), zap.Error(err))
			s.closed.Store(true)
			return
		}
	}
}

type Gateway struct {
	listen string
	ln     net.Listener

	seq       *FIFOSequencer
	responses *spsc.Ring[orderbook.Response]
	dropCopy  *spsc.Ring[Outbound] // nil disables the drop-copy tap

	register *spsc.Ring[*session]
	sessions []*session
	owners   map[uint32]*session

	ringSize   uint64
	flushEvery int
	sweeps     int

	log *zap.Logger
	met *metrics.Metrics
}

// New builds the gateway. flushEvery is the number of sweeps between
// sequencer flushes; larger values batch more submissions per sort at
// the cost of latency.
func New(
	listen string,
	ringSize uint64,
	flushEvery int,
	seq *FIFOSequencer,
	responses *spsc.Ring[orderbook.Response],
	dropCopy *spsc.Ring[Outbound],
	log *zap.Logger,
	met *metrics.Metrics,
) *Gateway {
	if flushEvery < 1 {
		flushEvery = 1
	}
	return &Gateway{
		listen:     listen,
		seq:        seq,
		responses:  responses,
		dropCopy:   dropCopy,
		register:   spsc.New[*session](256),
		owners:     make(map[uint32]*session),
		ringSize:   ringSize,
		flushEvery: flushEvery,
		log:        log,
		met:        met,
	}
}

// Listen binds the order-entry port. Separate from Run so callers can
// learn the bound address before traffic starts.
func (g *Gateway) Listen() error {
	ln, err := net.Listen("tcp", g.listen)
	if err != nil {
		return err
	}
	g.ln = ln
	return nil
}

// Addr is the bound listen address. Valid after Listen.
func (g *Gateway) Addr() net.Addr {
	return g.ln.Addr()
}

// Run accepts connections and drives the gateway loop until the context
// is canceled.
func (g *Gateway) Run(ctx context.Context) {
	go g.acceptLoop(ctx)
	g.log.Info("gateway started", zap.String("addr", g.ln.Addr().String()))
	g.loop(ctx)
}

func (g *Gateway) acceptLoop(ctx context.Context) {
	go func() {
		<-ctx.Done()
		_ = g.ln.Close()
	}()
	for {
		conn, err := g.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			g.log.Warn("accept failed", zap.Error(err))
			continue
		}
		s := newSession(conn, g.ringSize)
		if !g.register.Push(s) {
			g.log.Warn("session registry full, refusing connection",
				zap.String("remote", conn.RemoteAddr().String()))
			_ = conn.Close()
			continue
		}
		g.log.Info("connection accepted",
			zap.String("session", s.id.String()),
			zap.String("remote", conn.RemoteAddr().String()))
		go s.readLoop(g.log)
		go s.writeLoop(g.log)
	}
}

// loop is the gateway thread: one iteration sweeps every connection's
// inbound ring, flushes the time-priority sequencer on its configured
// cadence, then drains one batch of engine responses.
func (g *Gateway) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			g.seq.Flush()
			g.closeAll()
			g.log.Info("gateway stopped")
			return
		default:
		}
		if !g.cycle() {
			runtime.Gosched()
		}
	}
}

// cycle runs one gateway iteration. Split out so tests can drive the
// loop deterministically.
func (g *Gateway) cycle() bool {
	busy := g.sweep()

	g.sweeps++
	if g.sweeps >= g.flushEvery {
		g.seq.Flush()
		g.sweeps = 0
	}

	if g.drainResponses() {
		busy = true
	}
	g.reap()
	return busy
}

func (g *Gateway) sweep() bool {
	for {
		s, ok := g.register.Pop()
		if !ok {
			break
		}
		g.sessions = append(g.sessions, s)
	}

	busy := false
	for _, s := range g.sessions {
		for {
			msg, ok := s.in.Pop()
			if !ok {
				break
			}
			busy = true
			if !g.admit(s, msg.req) {
				continue
			}
			g.seq.Submit(msg.rx, orderbook.Request{
				Type:       msg.req.Type,
				ClientID:   msg.req.ClientID,
				Instrument: msg.req.Instrument,
				Side:       msg.req.Side,
				Price:      msg.req.Price,
				Qty:        msg.req.Qty,
				ClientOrd:  msg.req.ClientOrd,
			})
		}
	}
	return busy
}

// admit enforces the per-connection protocol: identity binding first,
// then the exact-sequence rule. A violation drops the single message and
// leaves the connection open.
func (g *Gateway) admit(s *session, req ClientRequest) bool {
	if s.bound {
		if req.ClientID != s.client {
			g.met.SpoofDrops.Inc()
			g.log.Warn("client id mismatch on bound connection",
				zap.String("session", s.id.String()),
				zap.Uint32("bound", s.client),
				zap.Uint32("claimed", req.ClientID))
			return false
		}
	} else {
		if owner, taken := g.owners[req.ClientID]; taken && owner != s {
			g.met.SpoofDrops.Inc()
			g.log.Warn("client id already bound to another connection",
				zap.String("session", s.id.String()),
				zap.Uint32("client", req.ClientID))
			return false
		}
		s.bound = true
		s.client = req.ClientID
		g.owners[req.ClientID] = s
		g.log.Info("client bound",
			zap.String("session", s.id.String()),
			zap.Uint32("client", req.ClientID))
	}

	if req.Seq != s.nextIn {
		g.met.SeqDrops.Inc()
		g.log.Warn("sequence mismatch, dropping message",
			zap.String("session", s.id.String()),
			zap.Uint32("client", req.ClientID),
			zap.Uint64("expected", s.nextIn),
			zap.Uint64("got", req.Seq))
		return false
	}
	s.nextIn++
	return true
}

func (g *Gateway) drainResponses() bool {
	busy := false
	for i := 0; i < responseBatch; i++ {
		resp, ok := g.responses.Pop()
		if !ok {
			break
		}
		busy = true

		s, online := g.owners[resp.ClientID]
		if online && s.closed.Load() {
			online = false
		}

		// Offline clients keep seq 0: there is no session counter to
		// tag with, but the report itself must still be recorded.
		o := Outbound{Resp: resp}
		if online {
			o.Seq = s.nextOut
			s.nextOut++
		}

		if g.dropCopy != nil {
			if !g.dropCopy.Push(o) {
				g.log.Fatal("drop-copy ring full",
					zap.Uint64("len", g.dropCopy.Len()))
			}
		}

		if !online {
			g.log.Warn("response for unconnected client dropped",
				zap.Uint32("client", resp.ClientID),
				zap.String("type", resp.Type.String()))
			continue
		}
		if !s.out.Push(o) {
			// Slow consumer. The private outgoing sequence lets the
			// client detect the gap.
			g.log.Warn("outbound ring full, dropping response",
				zap.Uint32("client", resp.ClientID),
				zap.Uint64("seq", o.Seq))
		}
	}
	return busy
}

// reap unregisters sessions whose sockets have died.
func (g *Gateway) reap() {
	kept := g.sessions[:0]
	for _, s := range g.sessions {
		if !s.closed.Load() {
			kept = append(kept, s)
			continue
		}
		if s.bound && g.owners[s.client] == s {
			delete(g.owners, s.client)
		}
		_ = s.conn.Close()
		g.log.Info("connection closed",
			zap.String("session", s.id.String()),
			zap.Uint32("client", s.client))
	}
	g.sessions = kept
}

func (g *Gateway) closeAll() {
	for _, s := range g.sessions {
		s.closed.Store(true)
		_ = s.conn.Close()
	}
	g.sessions = nil
}
