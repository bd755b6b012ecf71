// Package transportdata defines the wire-level tagged union exchanged by a
// Connection and the business-level types (errors, ApiReturn) built on top of
// it. Every envelope the codec layer produces or consumes is a TransportData
// value; every outcome callApi/sendMsg can report is one of the types here.
package transportdata

// Type tags the genre of a TransportData envelope.
type Type byte

const (
	TypeReq       Type = iota // client → server RPC request
	TypeRes                   // server → client RPC success reply
	TypeErr                   // server → client RPC failure reply, or sn=0 "could not decode"
	TypeMsg                   // fire-and-forget message, either direction
	TypeHeartbeat             // ping/pong liveness probe
	TypeCustom                // opaque passthrough hook
)

func (t Type) String() string {
	switch t {
	case TypeReq:
		return "req"
	case TypeRes:
		return "res"
	case TypeErr:
		return "err"
	case TypeMsg:
		return "msg"
	case TypeHeartbeat:
		return "heartbeat"
	case TypeCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// ErrorType classifies a TsrpcError. ApiError is the only "business" kind;
// every other kind is infrastructural and originates in the core itself.
type ErrorType string

const (
	ErrApi     ErrorType = "ApiError"
	ErrNetwork ErrorType = "NetworkError"
	ErrServer  ErrorType = "ServerError"
	ErrClient  ErrorType = "ClientError"
	ErrRemote  ErrorType = "RemoteError"
	ErrLocal   ErrorType = "LocalError"
)

// Well-known short codes used by the core itself (handlers are free to set
// their own Code on ApiError).
const (
	CodeTimeout     = "TIMEOUT"
	CodeLostConn    = "LOST_CONN"
	CodeServerTimeo = "SERVER_TIMEOUT"
)

// TsrpcError is the single error shape that crosses the wire or is returned
// to a caller. It is never a Go `error` on the happy-path API surface — see
// ApiReturn — but it does implement error so it composes with %w/errors.Is
// where a Go caller needs that.
type TsrpcError struct {
	Message string         `json:"message"`
	Type    ErrorType      `json:"type"`
	Code    string         `json:"code,omitempty"`
	Extra   map[string]any `json:"extra,omitempty"`
}

func (e *TsrpcError) Error() string {
	if e == nil {
		return "<nil TsrpcError>"
	}
	if e.Code != "" {
		return string(e.Type) + "[" + e.Code + "]: " + e.Message
	}
	return string(e.Type) + ": " + e.Message
}

// NewError builds a TsrpcError, omitting Extra when no properties are given.
func NewError(typ ErrorType, code, message string, extra map[string]any) *TsrpcError {
	return &TsrpcError{Message: message, Type: typ, Code: code, Extra: extra}
}

// ApiReturn is the sum type every callApi resolves to: either a successful
// result or a TsrpcError, never both, never neither. callApi never "throws" —
// every failure is a Succ=false value, so callers have a single branch to
// handle.
type ApiReturn[T any] struct {
	Succ bool
	Res  T
	Err  *TsrpcError
}

// Ok builds a successful ApiReturn.
func Ok[T any](res T) ApiReturn[T] {
	return ApiReturn[T]{Succ: true, Res: res}
}

// Fail builds a failed ApiReturn.
func Fail[T any](err *TsrpcError) ApiReturn[T] {
	return ApiReturn[T]{Succ: false, Err: err}
}

// ProtoInfo is the schema fingerprint a Connection piggybacks on the first
// req/res/err it sends and caches from the peer's first inbound envelope that
// carries one. A mismatch
// is not fatal but explains why a body decode failed.
type ProtoInfo struct {
	Md5          string `json:"md5"`
	LastModified int64  `json:"lastModified"`
	Tsrpc        string `json:"tsrpc"`
	Node         string `json:"node,omitempty"`
}

// TransportData is the decoded form of one envelope, independent of whether
// it arrived as a text (JSON) or buffer (binary) frame.
type TransportData struct {
	Type        Type
	ServiceName string      // req, msg
	Sn          uint32      // req, res, err, heartbeat (0 on heartbeat pong pairing uses the ping's sn)
	Body        []byte      // encoded request/response/message payload; nil for err/heartbeat
	Err         *TsrpcError // err only
	IsReply     bool        // heartbeat only: false=ping, true=pong
	ProtoInfo   *ProtoInfo  // req/res/err, present only on the first of these a side sends
	Custom      []byte      // custom only, opaque
}
