package connection

import (
	"fmt"
	"sync"
	"time"

	"duplexrpc/transportdata"
)

// ApiHandler is server-side business logic for one API. It decodes the
// request off the ApiCall, does its work, and replies exactly once via
// Succ or Fail. A handler that returns an error without having replied is
// treated as an unhandled ServerError.
type ApiHandler func(call *ApiCall) error

// Handlers is the server-side dispatch table, keyed by API name, built by
// explicit registration rather than reflecting over a receiver's exported
// methods — see servicemap for the sibling name↔id table this looks up
// against.
type Handlers struct {
	mu sync.RWMutex
	m  map[string]ApiHandler
}

// NewHandlers returns an empty, ready to register, dispatch table.
func NewHandlers() *Handlers {
	return &Handlers{m: make(map[string]ApiHandler)}
}

// Register binds name to handler. Registering the same name twice replaces
// the previous handler — last registration wins.
func (h *Handlers) Register(name string, handler ApiHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.m[name] = handler
}

func (h *Handlers) get(name string) (ApiHandler, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	handler, ok := h.m[name]
	return handler, ok
}

// ApiCall is one inbound request a server-side handler is responsible for
// answering exactly once.
type ApiCall struct {
	Conn    *Connection
	ApiName string
	Sn      uint32
	ReqBody []byte

	mu      sync.Mutex
	replied bool
}

// DecodeReq decodes the raw request body into v using the connection's body
// codec. Handlers call this first thing.
func (a *ApiCall) DecodeReq(v any) error {
	return a.Conn.bodyCodec.DecodeBody(a.ReqBody, v, !a.Conn.opts.SkipDecodeValidate)
}

// Succ replies with a successful result. Calling it more than once (or
// after Fail) is a programming error: nothing is sent and an "already
// replied" error is returned, so a buggy handler can't corrupt the wire with
// two replies to the same sn.
func (a *ApiCall) Succ(res any) error {
	body, err := a.Conn.bodyCodec.EncodeBody(res, !a.Conn.opts.SkipEncodeValidate)
	if err != nil {
		return a.Fail(transportdata.NewError(transportdata.ErrServer, "ENCODE_RES", err.Error(), nil))
	}
	return a.reply(&transportdata.TransportData{Type: transportdata.TypeRes, Sn: a.Sn, Body: body})
}

// Fail replies with a TsrpcError.
func (a *ApiCall) Fail(tsrpcErr *transportdata.TsrpcError) error {
	return a.reply(&transportdata.TransportData{Type: transportdata.TypeErr, Sn: a.Sn, Err: tsrpcErr})
}

// Error is shorthand for Fail with an ApiError, the kind business handlers
// raise themselves (as opposed to the core's own Network/Server errors).
func (a *ApiCall) Error(code, message string) error {
	return a.Fail(transportdata.NewError(transportdata.ErrApi, code, message, nil))
}

func (a *ApiCall) isReplied() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.replied
}

func (a *ApiCall) reply(td *transportdata.TransportData) error {
	a.mu.Lock()
	if a.replied {
		a.mu.Unlock()
		return fmt.Errorf("connection: api %q sn=%d already replied", a.ApiName, a.Sn)
	}
	a.replied = true
	a.mu.Unlock()

	retCtx := &ApiReturnCtx{Conn: a.Conn, ApiName: a.ApiName, Return: td}
	retCtx, ok := a.Conn.flows.PreApiCallReturn.Exec(retCtx)
	if !ok {
		return nil
	}
	data, err := a.Conn.encodeEnvelope(retCtx.Return)
	if err != nil {
		return err
	}
	if a.Conn.opts.LogApi {
		fields := []any{"api", a.ApiName, "sn", a.Sn, "type", retCtx.Return.Type}
		if a.Conn.opts.LogResBody && retCtx.Return.Type == transportdata.TypeRes {
			fields = append(fields, "resBody", string(retCtx.Return.Body))
		}
		a.Conn.logger().Infow("api returned", fields...)
	}
	return <-a.Conn.enqueueSend(data)
}

// innerErrExtra embeds err's own message as the TsrpcError's "innerErr" Extra
// field when Options.ReturnInnerError is set, letting a trusted caller (e.g.
// an in-process test, or a client on the same deploy) see the original
// handler panic/error text instead of just the generic HANDLER_PANIC/
// HANDLER_ERROR code. Off by default since a handler's internal error can
// leak implementation detail to a remote caller.
func (c *Connection) innerErrExtra(err error) map[string]any {
	if !c.opts.ReturnInnerError || err == nil {
		return nil
	}
	return map[string]any{"innerErr": err.Error()}
}

// recvApiReq dispatches one inbound req envelope to its registered handler.
func (c *Connection) recvApiReq(td *transportdata.TransportData) {
	call := &ApiCall{Conn: c, ApiName: td.ServiceName, Sn: td.Sn, ReqBody: td.Body}

	handler, ok := c.handlers.get(td.ServiceName)
	if !ok {
		call.Fail(transportdata.NewError(transportdata.ErrServer, "API_NOT_FOUND", fmt.Sprintf("unknown api %q", td.ServiceName), nil))
		return
	}

	ctx := &ApiCallCtx{Call: call}
	_, flowOK := c.flows.PreApiCall.Exec(ctx)
	if !flowOK {
		if !call.isReplied() {
			call.Fail(transportdata.NewError(transportdata.ErrServer, "REQUEST_CANCELED", "request canceled by middleware", nil))
		}
		return
	}

	if c.opts.LogApi {
		fields := []any{"api", td.ServiceName, "sn", td.Sn}
		if c.opts.LogReqBody {
			fields = append(fields, "reqBody", string(td.Body))
		}
		c.logger().Infow("api call received", fields...)
	}

	run := func() {
		defer func() {
			if r := recover(); r != nil {
				call.Fail(transportdata.NewError(transportdata.ErrServer, "HANDLER_PANIC", fmt.Sprintf("%v", r), c.innerErrExtra(fmt.Errorf("%v", r))))
			}
		}()
		if err := handler(call); err != nil {
			if !call.isReplied() {
				call.Fail(transportdata.NewError(transportdata.ErrServer, "HANDLER_ERROR", err.Error(), c.innerErrExtra(err)))
			}
		}
	}

	if c.opts.ApiCallTimeout <= 0 {
		run()
		return
	}

	// The deadline is an auto-reply, not a cancellation: if the handler
	// neither replies nor errors before it fires (still running, or returned
	// without answering), the caller gets a SERVER_TIMEOUT. A real reply
	// landing first stops the timer; one landing after is rejected by the
	// reply-once guard.
	timer := time.AfterFunc(c.opts.ApiCallTimeout, func() {
		call.Fail(transportdata.NewError(transportdata.ErrServer, transportdata.CodeServerTimeo, "handler exceeded its deadline", nil))
	})
	go func() {
		run()
		if call.isReplied() {
			timer.Stop()
		}
	}()
}
