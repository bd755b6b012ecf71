package connection

import (
	"regexp"

	"duplexrpc/event"
	"duplexrpc/protocol"
	"duplexrpc/transportdata"
)

// lookupPendingServiceName backs protocol.PendingServiceNameFunc: a res/err
// buffer frame never repeats its serviceName, so the envelope decoder asks
// the pending-call table instead.
func (c *Connection) lookupPendingServiceName(sn uint32) (string, bool) {
	pc, ok := c.pending.Get(sn)
	if !ok {
		return "", false
	}
	return pc.ApiName, true
}

// RecvData is the single upstream entry point every Transport implementation
// calls with one already-framed envelope's raw bytes.
func (c *Connection) RecvData(raw []byte) {
	if c.Status() != StatusConnected {
		return
	}

	ctx := &RecvDataCtx{Conn: c, Data: raw}
	ctx, ok := c.flows.PreRecvData.Exec(ctx)
	if !ok {
		return
	}

	decoded := ctx.Decoded
	if decoded == nil {
		var err error
		if c.opts.WireMode == WireBuffer {
			decoded, err = protocol.DecodeBoxBuffer(ctx.Data, c.sm, c.lookupPendingServiceName)
		} else {
			decoded, err = protocol.DecodeBoxText(string(ctx.Data), c.lookupPendingServiceName)
		}
		if err != nil {
			c.logger().Warnw("envelope decode failed", "err", err)
			c.reportDecodeFailure(err)
			return
		}
	}

	c.learnRemoteProto(decoded.ProtoInfo)
	c.dispatch(decoded)
}

// reportDecodeFailure tells the peer its last envelope could not be parsed
// at all, via an sn=0 err frame — there is no sn to route a normal reply
// through, so the receiving side's dispatch treats sn=0 err as a log-only
// notice rather than a pending-call resolution.
func (c *Connection) reportDecodeFailure(cause error) {
	td := errTD(transportdata.ErrRemote, "DECODE_FAILED", cause.Error())
	data, err := c.encodeEnvelope(td)
	if err != nil {
		return
	}
	c.enqueueSend(data)
}

func (c *Connection) dispatch(td *transportdata.TransportData) {
	switch td.Type {
	case transportdata.TypeReq:
		c.recvApiReq(td)

	case transportdata.TypeRes, transportdata.TypeErr:
		if td.Sn == 0 {
			if td.Err != nil {
				c.logger().Warnw("peer reported a decode failure", "err", td.Err.Message)
			}
			return
		}
		if !c.pending.Resolve(td.Sn, td) {
			c.logger().Debugw("dropped late or unknown response", "sn", td.Sn)
		}

	case transportdata.TypeMsg:
		ctx := &RecvMsgCtx{Conn: c, MsgName: td.ServiceName, Body: td.Body}
		ctx, ok := c.flows.PreRecvMsg.Exec(ctx)
		if !ok {
			return
		}
		if c.opts.LogMsg {
			c.logger().Infow("msg received", "msg", ctx.MsgName)
		}
		c.emitter.Emit(ctx.MsgName, ctx.Body)

	case transportdata.TypeHeartbeat:
		c.handleHeartbeat(td)

	case transportdata.TypeCustom:
		c.emitter.Emit("$custom", td.Custom)
	}
}

func (c *Connection) handleHeartbeat(td *transportdata.TransportData) {
	if c.hb == nil {
		return
	}
	if td.IsReply {
		c.hb.OnPong()
		return
	}
	c.hb.OnPing()
	reply := &transportdata.TransportData{Type: transportdata.TypeHeartbeat, Sn: td.Sn, IsReply: true}
	data, err := c.encodeEnvelope(reply)
	if err != nil {
		c.logger().Warnw("failed to encode heartbeat pong", "err", err)
		return
	}
	c.enqueueSend(data)
}

// On subscribes h to inbound messages named name, wiring directly to the
// event emitter — pattern (regexp) subscription is layered on top by the
// caller enumerating Emitter().Names() against a pattern to subscribe to
// many event names at once.
func (c *Connection) On(name string, h event.Handler, ctx any) {
	c.emitter.On(name, h, ctx)
}

// OnPattern subscribes h to every message name currently registered on the
// emitter that matches re. Only names registered at call time are matched.
func (c *Connection) OnPattern(re *regexp.Regexp, h event.Handler, ctx any) {
	c.emitter.OnPattern(re, h, ctx)
}

// Emitter exposes the underlying event emitter directly, for Off/Once/Names
// and pattern-subscription helpers built on top of it.
func (c *Connection) Emitter() *event.Emitter { return &c.emitter }
