// Package client implements the RPC client: service discovery, load
// balancing, and a cache of multiplexed connection.Connections (one per
// resolved address, shared across every caller rather than borrowed and
// returned) that CallApi/SendMsg dial lazily on first use.
//
// Call flow:
//
//	CallApi[Reply](cli, "Arith.Add", args, opts)
//	  → resolve("Arith.Add")        → Registry.Discover("Arith"), Balancer.Pick
//	  → getConn(addr)               → reuse or transport.Dial a Connection
//	  → connection.CallApi[Reply]   → send request, wait for reply, decode
package client

import (
	"fmt"
	"strings"
	"sync"

	"duplexrpc/codec"
	"duplexrpc/connection"
	"duplexrpc/loadbalance"
	"duplexrpc/registry"
	"duplexrpc/servicemap"
	"duplexrpc/transport"
	"duplexrpc/transportdata"
)

// Client manages the full RPC call lifecycle: service discovery → load
// balancing → connection cache → call.
type Client struct {
	registry  registry.Registry
	balancer  loadbalance.Balancer
	sm        *servicemap.ServiceMap
	bodyCodec codec.Codec
	opts      connection.Options

	mu    sync.Mutex
	conns map[string]*connection.Connection // addr → shared multiplexed connection
}

// New creates a client with the given registry, load balancer, and
// ServiceMap. sm must register the same API/message names the target
// servers do — in a real deployment a shared codegen step keeps both sides
// in sync; tests in this repo share one *servicemap.ServiceMap directly by
// obtaining it from server.Server.ServiceMap.
func New(reg registry.Registry, bal loadbalance.Balancer, sm *servicemap.ServiceMap, bodyCodec codec.CodecType, opts connection.Options) *Client {
	return &Client{
		registry:  reg,
		balancer:  bal,
		sm:        sm,
		bodyCodec: codec.GetCodec(bodyCodec),
		opts:      opts,
		conns:     make(map[string]*connection.Connection),
	}
}

// getConn returns a shared Connection to addr, multiplexed across every
// concurrent caller — there is no borrow/return since a Connection already
// serializes its own writes and correlates replies by sn. A dead cached
// entry is replaced with a freshly dialed one rather than reused.
func (c *Client) getConn(addr string) (*connection.Connection, error) {
	c.mu.Lock()
	if conn, ok := c.conns[addr]; ok && conn.Status() == connection.StatusConnected {
		c.mu.Unlock()
		return conn, nil
	}
	c.mu.Unlock()

	t, err := transport.Dial("tcp", addr, c.opts.WireMode)
	if err != nil {
		return nil, err
	}
	conn := connection.New(connection.SideClient, t, c.sm, c.bodyCodec, c.opts, nil, nil)
	if err := conn.MarkConnecting(); err != nil {
		return nil, err
	}
	go t.Serve(conn)
	conn.MarkConnected()

	c.mu.Lock()
	c.conns[addr] = conn
	c.mu.Unlock()
	return conn, nil
}

// resolve parses "Service.Method" down to "Service", discovers its
// instances, and picks one via the configured Balancer.
//
// The affinity key passed to Balancer.Pick is the api's own servicemap id
// (falling back to the bare name for a name the local ServiceMap doesn't
// know about, e.g. a pure SendMsg target) — this is what lets
// loadbalance.ConsistentHashBalancer route every call to the same api at the
// same instance instead of spreading them like RoundRobin would.
func (c *Client) resolve(name string) (*connection.Connection, error) {
	serviceName := name
	if i := strings.IndexByte(name, '.'); i >= 0 {
		serviceName = name[:i]
	}
	instances, err := c.registry.Discover(serviceName)
	if err != nil {
		return nil, err
	}

	key := name
	if def, ok := c.sm.Api(name); ok {
		key = fmt.Sprintf("%d", def.ID)
	}
	inst, err := c.balancer.Pick(instances, key)
	if err != nil {
		return nil, err
	}
	c.checkProto(inst)
	return c.getConn(inst.Addr)
}

// checkProto warns when a discovered instance's schema fingerprint doesn't
// match this Client's own ServiceMap, the cheapest signal of a stale/partial
// deploy — the alternative is silently discovering the mismatch later as a
// decode failure on the wire.
func (c *Client) checkProto(inst *registry.ServiceInstance) {
	if !c.sm.IsFrozen() || inst.Proto.Md5 == "" || c.opts.Logger == nil {
		return
	}
	if local := c.sm.LocalProtoInfo(); local.Md5 != inst.Proto.Md5 {
		c.opts.Logger.Warnw("proto fingerprint mismatch with discovered instance",
			"addr", inst.Addr, "localMd5", local.Md5, "instanceMd5", inst.Proto.Md5)
	}
}

// CallApi discovers, connects, and issues a typed request through the
// resolved Connection. A non-nil error here is always a client-side
// resolution/abort failure (unknown service, no instances, send canceled by
// a flow); a server-side TsrpcError instead comes back inside the returned
// ApiReturn's Err field with a nil error, exactly like connection.CallApi.
func CallApi[ResT any](c *Client, apiName string, req any, opts connection.CallOptions) (transportdata.ApiReturn[ResT], error) {
	var zero transportdata.ApiReturn[ResT]
	conn, err := c.resolve(apiName)
	if err != nil {
		return zero, err
	}
	ret, ok := connection.CallApi[ResT](conn, apiName, req, opts)
	if !ok {
		return zero, fmt.Errorf("client: call %q aborted", apiName)
	}
	return ret, nil
}

// SendMsg discovers, connects, and sends a fire-and-forget message.
func SendMsg[T any](c *Client, msgName string, msg T) error {
	conn, err := c.resolve(msgName)
	if err != nil {
		return err
	}
	ok, err := connection.SendMsg(conn, msgName, msg)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("client: send %q canceled", msgName)
	}
	return nil
}

// Close disconnects every cached connection. Call it once a Client is no
// longer needed.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, conn := range c.conns {
		conn.Disconnect("client closed")
	}
}
