package client

import (
	"fmt"
	"net"
	"time"

	"duplexrpc/codec"
	"duplexrpc/counter"
	"duplexrpc/protocol"
	"duplexrpc/servicemap"
	"duplexrpc/transport"
	"duplexrpc/transportdata"
)

// PooledCaller issues one RPC per borrowed connection via a
// transport.ConnPool, instead of the default Client's cached multiplexed
// Connection per address. It speaks the buffer envelope directly over the
// raw net.Conn it borrows rather than building a connection.Connection
// around it — there is never more than one request in flight on a given
// socket, so the pending-call table, sendLoop, and heartbeat a multiplexed
// Connection needs are all unnecessary overhead here.
//
// Use it when a deployment wants strict one-request-per-socket isolation
// (no cross-request head-of-line blocking on one shared stream) instead of
// the default wiring's multiplexing.
type PooledCaller struct {
	pool      *transport.ConnPool
	sm        *servicemap.ServiceMap
	bodyCodec codec.Codec
	sn        counter.Counter
}

// NewPooledCaller builds a PooledCaller dialing addr, holding at most
// poolSize connections open at once. sm must already be Frozen — it is the
// same ServiceMap a multiplexed Client would share with the target Server.
// Only connection.WireBuffer is supported: the buffer envelope is
// self-delimiting via its fixed header, which a one-shot caller can read
// directly off the raw net.Conn without the bufio line-reader the text
// variant needs.
func NewPooledCaller(addr string, poolSize int, sm *servicemap.ServiceMap, bodyCodec codec.CodecType) *PooledCaller {
	pool := transport.NewConnPool(addr, poolSize, func() (net.Conn, error) {
		return net.Dial("tcp", addr)
	})
	return &PooledCaller{pool: pool, sm: sm, bodyCodec: codec.GetCodec(bodyCodec)}
}

// CallApiPooled borrows a connection, sends req as apiName, waits up to
// timeout for the reply, and returns the connection to the pool. Go methods
// cannot carry their own type parameters, so this is a free function over
// *PooledCaller rather than a method, matching client.CallApi's shape.
func CallApiPooled[ResT any](p *PooledCaller, apiName string, req any, timeout time.Duration) (transportdata.ApiReturn[ResT], error) {
	var zero transportdata.ApiReturn[ResT]

	if _, ok := p.sm.Api(apiName); !ok {
		return zero, fmt.Errorf("client: unknown api %q", apiName)
	}
	reqBody, err := p.bodyCodec.EncodeBody(req, true)
	if err != nil {
		return zero, err
	}

	pc, err := p.pool.Get()
	if err != nil {
		return zero, err
	}

	sn := p.sn.Next()
	frame, err := protocol.EncodeBoxBuffer(&transportdata.TransportData{
		Type: transportdata.TypeReq, ServiceName: apiName, Sn: sn, Body: reqBody,
	}, p.sm, byte(p.bodyCodec.Type()))
	if err != nil {
		pc.MarkUnusable()
		p.pool.Put(pc)
		return zero, err
	}

	if timeout > 0 {
		pc.SetDeadline(time.Now().Add(timeout))
	}

	if _, err := pc.Write(frame); err != nil {
		pc.MarkUnusable()
		p.pool.Put(pc)
		return zero, fmt.Errorf("client: pooled write: %w", err)
	}

	raw, err := protocol.ReadFullFrame(pc)
	if err != nil {
		pc.MarkUnusable()
		p.pool.Put(pc)
		return zero, fmt.Errorf("client: pooled read: %w", err)
	}

	lookupPending := func(gotSn uint32) (string, bool) {
		if gotSn == sn {
			return apiName, true
		}
		return "", false
	}
	td, err := protocol.DecodeBoxBuffer(raw, p.sm, lookupPending)
	if err != nil {
		pc.MarkUnusable()
		p.pool.Put(pc)
		return zero, fmt.Errorf("client: pooled decode: %w", err)
	}
	if timeout > 0 {
		pc.SetDeadline(time.Time{})
	}
	p.pool.Put(pc)

	if td.Type == transportdata.TypeErr {
		return transportdata.Fail[ResT](td.Err), nil
	}

	var res ResT
	if err := p.bodyCodec.DecodeBody(td.Body, &res, true); err != nil {
		return zero, fmt.Errorf("client: pooled decode res body: %w", err)
	}
	return transportdata.Ok(res), nil
}

// Close shuts down the underlying pool, closing every held connection.
func (p *PooledCaller) Close() error {
	return p.pool.Close()
}
