package connection

import (
	"time"

	"go.uber.org/zap"
)

// Side distinguishes which end of the link a Connection represents. This
// is modeled as a single tagged value plus ServiceMap lookups, never as
// client/server inheritance.
type Side string

const (
	SideClient Side = "client"
	SideServer Side = "server"
)

// WireMode selects the envelope codec variant a Connection defaults to.
type WireMode int

const (
	WireText WireMode = iota
	WireBuffer
)

// Options bundles the connection-wide configuration a Connection needs.
// A Server shares one Options across every Connection it owns; a Client
// typically builds one Options per peer.
type Options struct {
	Logger *zap.SugaredLogger

	LogConnect bool
	LogApi     bool
	LogMsg     bool
	LogReqBody bool
	LogResBody bool
	DebugBuf   bool

	// CallApiTimeout is the client-side per-call default; 0 means none.
	CallApiTimeout time.Duration
	// ApiCallTimeout is the server-side handler deadline; 0 means none.
	ApiCallTimeout time.Duration

	SkipEncodeValidate bool
	SkipDecodeValidate bool
	ReturnInnerError   bool

	Heartbeat             bool
	HeartbeatSendInterval time.Duration
	HeartbeatRecvTimeout  time.Duration

	WireMode WireMode
}

func (o Options) logger() *zap.SugaredLogger {
	if o.Logger != nil {
		return o.Logger
	}
	return zap.NewNop().Sugar()
}

// CallOptions are the per-call transport options a caller can override.
type CallOptions struct {
	Timeout     time.Duration
	AbortKey    string
	AbortSignal <-chan struct{}
}
