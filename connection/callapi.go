package connection

import (
	"time"

	"duplexrpc/pendingcall"
	"duplexrpc/transportdata"
)

// CallApi issues a typed request and waits for its reply. ok is false
// exactly when the call was aborted (by AbortKey, AbortSignal, or a
// canceling preCallApi/preCallApiReturn flow) and the caller must stop
// waiting rather than infer anything from the zero ApiReturn. Go methods
// cannot carry their own type parameters, so this is a free function over
// *Connection rather than a CallApi method.
func CallApi[ResT any](c *Connection, apiName string, req any, opts CallOptions) (transportdata.ApiReturn[ResT], bool) {
	var zero transportdata.ApiReturn[ResT]

	reqBody, err := c.bodyCodec.EncodeBody(req, !c.opts.SkipEncodeValidate)
	if err != nil {
		return transportdata.Fail[ResT](transportdata.NewError(transportdata.ErrLocal, "ENCODE_REQ", err.Error(), nil)), true
	}

	raw, ok := c.callApiRaw(apiName, reqBody, opts)
	if !ok {
		return zero, false
	}
	if raw.Type == transportdata.TypeErr {
		return transportdata.Fail[ResT](raw.Err), true
	}

	var res ResT
	if err := c.bodyCodec.DecodeBody(raw.Body, &res, !c.opts.SkipDecodeValidate); err != nil {
		if remote := c.remoteProtoInfo(); remote != nil && remote.Md5 != c.localProto.Md5 {
			c.explainProtoDesync(remote)
		}
		return transportdata.Fail[ResT](transportdata.NewError(transportdata.ErrLocal, "DECODE_RES", err.Error(), nil)), true
	}
	return transportdata.Ok(res), true
}

// AbortByKey cancels every pending call registered under the given
// CallOptions.AbortKey. Each aborted call's CallApi returns with ok=false,
// exactly like a canceling preCallApi/preCallApiReturn flow — there is no
// separate "aborted by key" signal for a caller to distinguish.
func (c *Connection) AbortByKey(key string) {
	c.pending.AbortByKey(key)
}

func errTD(typ transportdata.ErrorType, code, msg string) *transportdata.TransportData {
	return &transportdata.TransportData{Type: transportdata.TypeErr, Err: transportdata.NewError(typ, code, msg, nil)}
}

// callApiRaw runs the untyped core of a call: insert the pending call,
// run preCallApi, send, race the reply against timeout/abort, run
// preCallApiReturn, and return the raw TransportData.
func (c *Connection) callApiRaw(apiName string, reqBody []byte, opts CallOptions) (*transportdata.TransportData, bool) {
	if c.Status() != StatusConnected {
		return errTD(transportdata.ErrLocal, "NOT_CONNECTED", "connection is not connected"), true
	}

	sn := c.sn.Next()
	resultCh := make(chan *transportdata.TransportData, 1)
	abortedCh := make(chan struct{})
	pc := &pendingcall.PendingCall{
		Sn:       sn,
		ApiName:  apiName,
		AbortKey: opts.AbortKey,
		OnReturn: func(td *transportdata.TransportData) { resultCh <- td },
		OnAbort:  func() { close(abortedCh) },
	}
	c.pending.Insert(pc)

	done := make(chan struct{})
	defer close(done)
	if opts.AbortSignal != nil {
		go func() {
			select {
			case <-opts.AbortSignal:
				c.pending.Abort(sn)
			case <-done:
			}
		}()
	}

	ctx := &CallApiCtx{Conn: c, ApiName: apiName, ReqBody: reqBody}
	ctx, ok := c.flows.PreCallApi.Exec(ctx)
	if !ok {
		c.pending.Abort(sn)
		return nil, false
	}
	if ctx.Return != nil {
		c.pending.Remove(sn)
		return c.runPreCallApiReturn(apiName, ctx.Return)
	}

	td := &transportdata.TransportData{Type: transportdata.TypeReq, ServiceName: apiName, Sn: sn, Body: ctx.ReqBody}
	data, err := c.encodeEnvelope(td)
	if err != nil {
		c.pending.Remove(sn)
		return errTD(transportdata.ErrLocal, "ENCODE_ENVELOPE", err.Error()), true
	}

	if c.opts.LogApi {
		fields := []any{"api", apiName, "sn", sn}
		if c.opts.LogReqBody {
			fields = append(fields, "reqBody", string(ctx.ReqBody))
		}
		c.logger().Infow("api call sent", fields...)
	}

	sendDone := c.enqueueSend(data)

	var timeoutCh <-chan time.Time
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = c.opts.CallApiTimeout
	}
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case sendErr := <-sendDone:
		if sendErr != nil {
			c.pending.Remove(sn)
			return errTD(transportdata.ErrLocal, "SEND_FAILED", sendErr.Error()), true
		}
	case <-abortedCh:
		return nil, false
	}

	select {
	case res := <-resultCh:
		return c.runPreCallApiReturn(apiName, res)
	case <-timeoutCh:
		if _, ok := c.pending.Remove(sn); ok {
			return errTD(transportdata.ErrNetwork, transportdata.CodeTimeout, "request timeout"), true
		}
		select {
		case res := <-resultCh:
			return c.runPreCallApiReturn(apiName, res)
		default:
			return errTD(transportdata.ErrNetwork, transportdata.CodeTimeout, "request timeout"), true
		}
	case <-abortedCh:
		return nil, false
	}
}

func (c *Connection) runPreCallApiReturn(apiName string, res *transportdata.TransportData) (*transportdata.TransportData, bool) {
	if c.opts.LogApi && c.opts.LogResBody && res.Type == transportdata.TypeRes {
		c.logger().Infow("api call reply received", "api", apiName, "sn", res.Sn, "resBody", string(res.Body))
	}
	retCtx := &ApiReturnCtx{Conn: c, ApiName: apiName, Return: res}
	retCtx, ok := c.flows.PreCallApiReturn.Exec(retCtx)
	if !ok {
		return nil, false
	}
	return retCtx.Return, true
}

// SendMsg encodes and sends a fire-and-forget message. A false, nil-error
// return means a preSendMsg flow canceled the send (the abort-sentinel
// rendering, same as CallApi's ok=false); a false, non-nil-error return
// means the send itself failed.
func SendMsg[T any](c *Connection, name string, msg T) (bool, error) {
	body, err := c.bodyCodec.EncodeBody(msg, !c.opts.SkipEncodeValidate)
	if err != nil {
		return false, err
	}
	return c.sendMsgRaw(name, body)
}

func (c *Connection) sendMsgRaw(name string, body []byte) (bool, error) {
	if c.Status() != StatusConnected {
		return false, ErrNotConnected
	}

	ctx := &SendMsgCtx{Conn: c, MsgName: name, Body: body}
	ctx, ok := c.flows.PreSendMsg.Exec(ctx)
	if !ok {
		return false, nil
	}

	td := &transportdata.TransportData{Type: transportdata.TypeMsg, ServiceName: name, Body: ctx.Body}
	data, err := c.encodeEnvelope(td)
	if err != nil {
		return false, err
	}

	if err := <-c.enqueueSend(data); err != nil {
		return false, err
	}

	if c.opts.LogMsg {
		c.logger().Infow("msg sent", "msg", name)
	}
	c.flows.PostSendMsg.Exec(ctx)
	return true, nil
}
