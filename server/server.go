// Package server implements the RPC server: service registration against a
// servicemap.ServiceMap, a middleware chain composed once at Serve time,
// one connection.Connection per accepted socket, optional etcd registration,
// and graceful shutdown.
//
// Request processing pipeline:
//
//	Accept conn → transport.Accept → connection.New → t.Serve (read loop)
//	  → for each req frame: connection.Connection.recvApiReq
//	    → middleware chain → registered handler → codec encode → write response
//
// The Accept loop spawns one goroutine per connection and builds the
// middleware chain once at startup, not per request. The per-request
// machinery (decode, dispatch, frame write) lives in
// connection.Connection/ApiCall rather than in Server itself — a Server
// just wires together a ServiceMap, a Codec, and handlers.
package server

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"duplexrpc/codec"
	"duplexrpc/connection"
	"duplexrpc/middleware"
	"duplexrpc/registry"
	"duplexrpc/servicemap"
	"duplexrpc/transport"
)

// Server is the RPC server that registers services and handles incoming
// connections.
type Server struct {
	sm          *servicemap.ServiceMap
	bodyCodec   codec.Codec
	opts        connection.Options
	flows       *connection.Flows
	rawHandlers map[string]connection.ApiHandler
	middlewares []middleware.Middleware

	handlers *connection.Handlers // built once, in Serve, after the chain is composed

	listener      net.Listener
	wg            sync.WaitGroup // tracks live connections, for graceful shutdown
	shutdown      atomic.Bool
	registry      registry.Registry
	advertiseAddr string

	mu    sync.Mutex
	conns map[*connection.Connection]struct{}
}

// New creates a server with an empty service map, talking bodyCodec over
// the wire and applying opts to every Connection it accepts. opts.WireMode
// must match the Client's.
func New(bodyCodec codec.CodecType, opts connection.Options) *Server {
	return &Server{
		sm:          servicemap.New(),
		bodyCodec:   codec.GetCodec(bodyCodec),
		opts:        opts,
		flows:       &connection.Flows{},
		rawHandlers: make(map[string]connection.ApiHandler),
		conns:       make(map[*connection.Connection]struct{}),
	}
}

// ServiceMap exposes the server's name↔id table so a Client in the same
// process (tests, in-process deployments) can share the exact registration
// a codegen step would otherwise keep in sync across processes.
func (s *Server) ServiceMap() *servicemap.ServiceMap { return s.sm }

// Flows exposes the *connection.Flows shared by every Connection this
// server accepts, so callers can register postConnect/postDisconnect/etc
// hooks before Serve runs.
func (s *Server) Flows() *connection.Flows { return s.flows }

// RegisterApi registers a typed API under name: its request/response types
// are recorded in the ServiceMap, and handler becomes the business logic
// invoked once a request decodes successfully. Registration is explicit
// rather than reflection-based — see servicemap's doc comment for why the
// schema compiler that would normally produce this table is out of scope
// here.
//
// Go methods can't carry their own type parameters, so this is a free
// function over *Server rather than a method.
func RegisterApi[Req, Res any](s *Server, name string, handler func(call *connection.ApiCall, req *Req) (*Res, error)) error {
	if _, err := s.sm.RegisterApi(name, new(Req), new(Res)); err != nil {
		return err
	}
	s.rawHandlers[name] = func(call *connection.ApiCall) error {
		var req Req
		if err := call.DecodeReq(&req); err != nil {
			return err
		}
		res, err := handler(call, &req)
		if err != nil {
			return err
		}
		return call.Succ(res)
	}
	return nil
}

// Use registers a middleware. Middlewares wrap every registered handler, in
// the order they are added here, composed once when Serve starts.
func (s *Server) Use(mw middleware.Middleware) {
	s.middlewares = append(s.middlewares, mw)
}

// Serve listens on address, optionally registers every service name with
// reg under advertiseAddr, and runs the Accept loop until Shutdown closes
// the listener.
//
// advertiseAddr differs from the listen address ("127.0.0.1:8080" vs
// ":8080") because etcd needs a routable address, not a wildcard bind.
// Pass a nil reg to skip service discovery entirely.
func (s *Server) Serve(network, address, advertiseAddr string, reg registry.Registry) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	s.listener = listener

	// Build the middleware chain once at startup, not per-request.
	chain := middleware.Chain(s.middlewares...)
	s.handlers = connection.NewHandlers()
	for name, h := range s.rawHandlers {
		s.handlers.Register(name, chain(h))
	}
	s.sm.Freeze()

	s.advertiseAddr = advertiseAddr
	if reg != nil {
		s.registry = reg
		inst := registry.ServiceInstance{
			Addr:     advertiseAddr,
			Weight:   1,
			Services: s.sm.ApiNames(),
			Proto:    s.sm.LocalProtoInfo(),
		}
		for _, svcName := range s.serviceNames() {
			if err := s.registry.Register(svcName, inst, 10); err != nil && s.opts.Logger != nil {
				s.opts.Logger.Errorw("failed to register with discovery", "service", svcName, "err", err)
			}
		}
	}

	for {
		netConn, err := listener.Accept()
		if err != nil {
			if s.shutdown.Load() {
				return nil
			}
			return err
		}
		go s.handleConn(netConn)
	}
}

// serviceNames returns the distinct "Service" prefixes ("Arith.Add" →
// "Arith") across every registered API, the unit etcd registration and
// deregistration operate on.
func (s *Server) serviceNames() []string {
	seen := make(map[string]struct{})
	var names []string
	for apiName := range s.rawHandlers {
		svc := apiName
		if i := strings.IndexByte(apiName, '.'); i >= 0 {
			svc = apiName[:i]
		}
		if _, ok := seen[svc]; !ok {
			seen[svc] = struct{}{}
			names = append(names, svc)
		}
	}
	return names
}

// handleConn binds one accepted socket to a new Connection and runs its
// read loop until the peer disconnects or the socket errors. A
// server-side Connection is born connected — there is no MarkConnecting
// step, since Accept already implies a live socket.
func (s *Server) handleConn(netConn net.Conn) {
	s.wg.Add(1)
	defer s.wg.Done()

	t := transport.Accept(netConn, s.opts.WireMode)
	c := connection.New(connection.SideServer, t, s.sm, s.bodyCodec, s.opts, s.flows, s.handlers)
	c.MarkConnected()

	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
	}()

	t.Serve(c)
}

// Shutdown performs graceful shutdown:
//  1. Deregister every service from the registry (clients stop routing here)
//  2. Set the shutdown flag and close the listener (stop accepting)
//  3. Disconnect every live connection
//  4. Wait for their read loops to exit, with a timeout
func (s *Server) Shutdown(timeout time.Duration) error {
	if s.registry != nil {
		for _, svcName := range s.serviceNames() {
			s.registry.Deregister(svcName, s.advertiseAddr)
		}
	}

	s.shutdown.Store(true)
	if s.listener != nil {
		s.listener.Close()
	}

	s.mu.Lock()
	for c := range s.conns {
		go c.Disconnect("server shutting down")
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("server: timeout waiting for connections to close")
	}
}
