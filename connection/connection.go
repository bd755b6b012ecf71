// Package connection implements the Connection state machine: the single
// object shared by client and server sides that owns a ServiceMap, a body
// Codec, the pending-call table, the event emitter, and (optionally)
// heartbeat — and that serializes every outbound write through one
// per-connection queue so send ordering survives concurrent
// callApi/sendMsg callers.
//
// It is transport-agnostic by design: rather than a concrete type hard
// wiring "one multiplexed TCP socket, one pending-call map, one heartbeat
// loop" together, Connection is a core any Transport implementation (TCP,
// in-process pipe, test harness) can drive.
package connection

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"duplexrpc/codec"
	"duplexrpc/counter"
	"duplexrpc/event"
	"duplexrpc/heartbeat"
	"duplexrpc/pendingcall"
	"duplexrpc/protocol"
	"duplexrpc/servicemap"
	"duplexrpc/transportdata"
)

// Transport is the collaborator a concrete network binding implements. A
// Connection never dials, listens, or reads a socket itself; it only knows
// how to turn envelopes into bytes and back. See the transport package for
// the TCP implementation.
type Transport interface {
	// SendRaw writes one already-encoded envelope. Errors are reported back
	// to the in-flight callApi/sendMsg as a LocalError; SendRaw itself must
	// not retry.
	SendRaw(data []byte) error
	// DoDisconnect tears down the underlying link. isManual distinguishes a
	// caller-initiated Disconnect from one the core triggered itself (e.g.
	// a heartbeat idle timeout).
	DoDisconnect(isManual bool, reason string) error
}

var (
	ErrNotConnected            = errors.New("connection: not connected")
	ErrCannotDisconnectPending = errors.New("connection: cannot disconnect while still connecting")
)

type sendJob struct {
	data []byte
	done chan error
}

// Connection is one end of a duplex RPC link. The zero value is not usable;
// construct with New.
type Connection struct {
	side      Side
	transport Transport
	sm        *servicemap.ServiceMap
	bodyCodec codec.Codec
	opts      Options
	flows     *Flows
	handlers  *Handlers

	sn      counter.Counter
	pending pendingcall.Table
	emitter event.Emitter
	hb      *heartbeat.State

	statusMu       sync.Mutex
	status         Status
	disconnectDone chan struct{}

	protoMu     sync.Mutex
	localProto  transportdata.ProtoInfo
	remoteProto *transportdata.ProtoInfo
	protoSent   bool

	sendMu     sync.Mutex
	sendClosed bool
	outbound   chan sendJob
	stopWorker chan struct{}
}

// New builds a Connection. flows may be nil (an inert *Flows is created);
// sharing one *Flows across many Connections is how a Server applies
// global middleware.
func New(side Side, transport Transport, sm *servicemap.ServiceMap, bodyCodec codec.Codec, opts Options, flows *Flows, handlers *Handlers) *Connection {
	if flows == nil {
		flows = &Flows{}
	}
	if handlers == nil {
		handlers = NewHandlers()
	}
	c := &Connection{
		side:       side,
		transport:  transport,
		sm:         sm,
		bodyCodec:  bodyCodec,
		opts:       opts,
		flows:      flows,
		handlers:   handlers,
		localProto: sm.LocalProtoInfo(),
		outbound:   make(chan sendJob, 256),
		stopWorker: make(chan struct{}),
	}
	if opts.Heartbeat {
		c.hb = heartbeat.New(
			heartbeat.Config{SendInterval: opts.HeartbeatSendInterval, RecvTimeout: opts.HeartbeatRecvTimeout},
			c.sendPing,
			c.onHeartbeatTimeout,
		)
	}
	go c.sendLoop()
	return c
}

func (c *Connection) logger() *logger { return (*logger)(c.opts.logger()) }

// Status returns the current lifecycle state.
func (c *Connection) Status() Status {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	return c.status
}

// HeartbeatLatency returns the most recently sampled ping→pong round trip,
// or 0 when heartbeat is disabled or no pong has been seen yet.
func (c *Connection) HeartbeatLatency() time.Duration {
	if c.hb == nil {
		return 0
	}
	return c.hb.LastLatency()
}

// PendingCount reports how many calls are currently awaiting a reply,
// mostly useful for tests asserting that an abort/disconnect really did
// drain the table rather than merely resolving the calls it knew to notify.
func (c *Connection) PendingCount() int {
	return c.pending.Len()
}

func (c *Connection) setStatus(s Status) {
	c.statusMu.Lock()
	c.status = s
	c.statusMu.Unlock()
}

// MarkConnecting transitions Disconnected → Connecting. client.Client calls
// this right before dialing; server.Server never does: its Connections are born Connected
// (New followed directly by MarkConnected) since accept() already implies a
// live socket.
func (c *Connection) MarkConnecting() error {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	if c.status != StatusDisconnected {
		return fmt.Errorf("connection: cannot connect from status %s", c.status)
	}
	c.status = StatusConnecting
	return nil
}

// MarkConnected transitions {Disconnected,Connecting} → Connected, starts
// heartbeat if configured, and runs the postConnect flow.
func (c *Connection) MarkConnected() {
	c.statusMu.Lock()
	c.status = StatusConnected
	c.statusMu.Unlock()

	if c.hb != nil {
		c.hb.Start()
	}
	if c.opts.LogConnect {
		c.logger().Infow("connection established", "side", c.side)
	}
	c.flows.PostConnect.Exec(c)
}

// Disconnect tears the link down: a no-op from Disconnected, rejected
// from Connecting, idempotent (concurrent callers share the in-flight
// teardown) from Disconnecting, and the real sequence from Connected.
func (c *Connection) Disconnect(reason string) error {
	return c.disconnect(true, reason)
}

// DisconnectPeer tears the link down the way a Transport reports a
// peer-initiated loss (socket closed or reset by the other side) rather
// than a local caller's explicit Disconnect — isManual=false, the same path
// the heartbeat idle timeout uses.
func (c *Connection) DisconnectPeer(reason string) error {
	return c.disconnect(false, reason)
}

func (c *Connection) disconnect(isManual bool, reason string) error {
	c.statusMu.Lock()
	switch c.status {
	case StatusDisconnected:
		c.statusMu.Unlock()
		return nil
	case StatusConnecting:
		c.statusMu.Unlock()
		return ErrCannotDisconnectPending
	case StatusDisconnecting:
		done := c.disconnectDone
		c.statusMu.Unlock()
		<-done
		return nil
	}
	c.status = StatusDisconnecting
	done := make(chan struct{})
	c.disconnectDone = done
	c.statusMu.Unlock()

	if c.hb != nil {
		c.hb.Stop()
	}

	lostConn := transportdata.NewError(transportdata.ErrNetwork, transportdata.CodeLostConn, "connection lost", nil)
	c.pending.FailAll(func(sn uint32) *transportdata.TransportData {
		return &transportdata.TransportData{Type: transportdata.TypeErr, Sn: sn, Err: lostConn}
	})

	teardown := make(chan error, 1)
	go func() { teardown <- c.transport.DoDisconnect(isManual, reason) }()
	select {
	case err := <-teardown:
		if err != nil {
			c.logger().Warnw("transport teardown error", "err", err)
		}
	case <-time.After(3 * time.Second):
		c.logger().Warnw("transport teardown did not complete within grace period")
	}

	c.sendMu.Lock()
	c.sendClosed = true
	c.sendMu.Unlock()
	close(c.stopWorker)

	c.statusMu.Lock()
	c.status = StatusDisconnected
	close(done)
	c.statusMu.Unlock()

	if c.opts.LogConnect {
		c.logger().Infow("connection closed", "side", c.side, "reason", reason, "manual", isManual)
	}
	c.flows.PostDisconnect.Exec(c)
	return nil
}

// sendLoop is the single goroutine that owns the transport's write path, so
// sends issued in program order leave the transport in that same order even
// though callApi/sendMsg may each be racing to encode concurrently.
// Enqueueing onto c.outbound (not writing itself) is what fixes a send's
// position in the order.
func (c *Connection) sendLoop() {
	for {
		select {
		case job := <-c.outbound:
			job.done <- c.transport.SendRaw(job.data)
		case <-c.stopWorker:
			// Fail whatever is still queued so no enqueuer is left waiting.
			// sendMu is held across the drain: any enqueueSend already past
			// its closed check has its job in the channel by now, and any
			// later one will see sendClosed.
			c.sendMu.Lock()
			for {
				select {
				case job := <-c.outbound:
					job.done <- ErrNotConnected
				default:
					c.sendMu.Unlock()
					return
				}
			}
		}
	}
}

func (c *Connection) enqueueSend(data []byte) <-chan error {
	done := make(chan error, 1)
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		done <- ErrNotConnected
		return done
	}
	select {
	case c.outbound <- sendJob{data: data, done: done}:
	default:
		done <- errors.New("connection: outbound queue full")
	}
	return done
}

// encodeEnvelope builds the wire bytes for td, attaching the local ProtoInfo
// to the first req/res/err this side ever sends (so each peer learns the
// other's fingerprint on the opening exchange, whichever direction it runs),
// then runs the preSendData flow over the resulting bytes.
func (c *Connection) encodeEnvelope(td *transportdata.TransportData) ([]byte, error) {
	if td.ProtoInfo == nil && carriesProtoInfo(td.Type) {
		c.protoMu.Lock()
		if !c.protoSent {
			c.protoSent = true
			proto := c.localProto
			td.ProtoInfo = &proto
		}
		c.protoMu.Unlock()
	}

	var data []byte
	var err error
	if c.opts.WireMode == WireBuffer {
		data, err = protocol.EncodeBoxBuffer(td, c.sm, byte(c.bodyCodec.Type()))
	} else {
		var s string
		s, err = protocol.EncodeBoxText(td)
		data = []byte(s)
	}
	if err != nil {
		return nil, err
	}

	ctx := &SendDataCtx{Conn: c, Data: data}
	ctx, ok := c.flows.PreSendData.Exec(ctx)
	if !ok {
		return nil, errors.New("connection: send canceled by flow")
	}
	if c.opts.DebugBuf {
		c.logger().Debugw("outbound frame", "bytes", len(ctx.Data), "type", td.Type)
	}
	return ctx.Data, nil
}

// carriesProtoInfo reports whether the wire envelope for t has a protoInfo
// field at all — msg/heartbeat/custom frames never do.
func carriesProtoInfo(t transportdata.Type) bool {
	switch t {
	case transportdata.TypeReq, transportdata.TypeRes, transportdata.TypeErr:
		return true
	}
	return false
}

func (c *Connection) remoteProtoInfo() *transportdata.ProtoInfo {
	c.protoMu.Lock()
	defer c.protoMu.Unlock()
	return c.remoteProto
}

// learnRemoteProto caches the peer's first-seen ProtoInfo and logs a
// schema-desync explanation if it's ever later seen to disagree with the
// local fingerprint.
func (c *Connection) learnRemoteProto(p *transportdata.ProtoInfo) {
	if p == nil {
		return
	}
	c.protoMu.Lock()
	first := c.remoteProto == nil
	if first {
		c.remoteProto = p
	}
	remote := c.remoteProto
	c.protoMu.Unlock()
	if first {
		return
	}
	if remote.Md5 != c.localProto.Md5 {
		c.explainProtoDesync(remote)
	}
}

func (c *Connection) explainProtoDesync(remote *transportdata.ProtoInfo) {
	newer := "local"
	if remote.LastModified > c.localProto.LastModified {
		newer = "remote"
	}
	c.logger().Warnw("protocol schema mismatch", "localMd5", c.localProto.Md5, "remoteMd5", remote.Md5, "newerSide", newer)
}

func (c *Connection) sendPing(sn uint32) {
	td := &transportdata.TransportData{Type: transportdata.TypeHeartbeat, Sn: sn}
	data, err := c.encodeEnvelope(td)
	if err != nil {
		c.logger().Warnw("failed to encode heartbeat ping", "err", err)
		return
	}
	<-c.enqueueSend(data)
}

func (c *Connection) onHeartbeatTimeout() {
	c.disconnect(false, "Receive heartbeat timeout")
}
