package connection

import (
	"duplexrpc/flow"
	"duplexrpc/transportdata"
)

// CallApiCtx is the value threaded through the preCallApi flow. A
// middleware may set Return to short-circuit the call entirely — the
// request is never sent and the supplied value settles the call (a mock
// layer, a local cache, a permission gate replying early).
type CallApiCtx struct {
	Conn    *Connection
	ApiName string
	ReqBody []byte
	Return  *transportdata.TransportData
}

// ApiReturnCtx is the value threaded through the preCallApiReturn and
// preApiCallReturn flows.
type ApiReturnCtx struct {
	Conn    *Connection
	ApiName string
	Return  *transportdata.TransportData
}

// SendMsgCtx is the value threaded through the preSendMsg/postSendMsg flows.
type SendMsgCtx struct {
	Conn    *Connection
	MsgName string
	Body    []byte
}

// SendDataCtx is the value threaded through preSendData: the fully-encoded
// envelope bytes, last chance for a flow to inspect or swap them before they
// reach the transport.
type SendDataCtx struct {
	Conn *Connection
	Data []byte
}

// RecvDataCtx is the value threaded through preRecvData. A flow may set
// Decoded itself to short-circuit the envelope codec (useful for transports
// that hand over already-parsed frames).
type RecvDataCtx struct {
	Conn    *Connection
	Data    []byte
	Decoded *transportdata.TransportData
}

// RecvMsgCtx is the value threaded through preRecvMsg, after envelope
// decoding but before the message is handed to the event emitter.
type RecvMsgCtx struct {
	Conn    *Connection
	MsgName string
	Body    []byte
}

// ApiCallCtx is the value threaded through preApiCall, before a handler
// runs.
type ApiCallCtx struct {
	Call *ApiCall
}

// Flows bundles every named hook point a Connection's pipelines run through.
// A Server shares one *Flows across every Connection it owns; a Client
// typically owns one per Connection. The zero value is a Flows with
// no middleware registered on any hook, which is a legal, inert default.
type Flows struct {
	PreCallApi       flow.Flow[*CallApiCtx]
	PreCallApiReturn flow.Flow[*ApiReturnCtx]
	PreSendMsg       flow.Flow[*SendMsgCtx]
	PostSendMsg      flow.Flow[*SendMsgCtx]
	PreSendData      flow.Flow[*SendDataCtx]
	PreRecvData      flow.Flow[*RecvDataCtx]
	PreRecvMsg       flow.Flow[*RecvMsgCtx]
	PreApiCall       flow.Flow[*ApiCallCtx]
	PreApiCallReturn flow.Flow[*ApiReturnCtx]
	PostConnect      flow.Flow[*Connection]
	PostDisconnect   flow.Flow[*Connection]
}
