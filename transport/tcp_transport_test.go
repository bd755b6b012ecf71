package transport

import (
	"net"
	"testing"
	"time"

	"duplexrpc/codec"
	"duplexrpc/connection"
	"duplexrpc/servicemap"
)

type echoArgs struct{ A, B int }
type echoReply struct{ Result int }

func newEchoPair(t *testing.T, wireMode connection.WireMode) (client, server *connection.Connection, closeAll func()) {
	t.Helper()

	sm := servicemap.New()
	if _, err := sm.RegisterApi("Arith.Add", &echoArgs{}, &echoReply{}); err != nil {
		t.Fatal(err)
	}
	proto := sm.Freeze()
	_ = proto

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	clientConn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	serverConn := <-accepted

	handlers := connection.NewHandlers()
	handlers.Register("Arith.Add", func(call *connection.ApiCall) error {
		var args echoArgs
		if err := call.DecodeReq(&args); err != nil {
			return err
		}
		return call.Succ(&echoReply{Result: args.A + args.B})
	})

	serverT := Accept(serverConn, wireMode)
	srv := connection.New(connection.SideServer, serverT, sm, codec.GetCodec(codec.CodecTypeJSON), connection.Options{WireMode: wireMode}, nil, handlers)
	srv.MarkConnecting()
	go serverT.Serve(srv)
	srv.MarkConnected()

	clientT := wrap(clientConn, wireMode)
	cli := connection.New(connection.SideClient, clientT, sm, codec.GetCodec(codec.CodecTypeJSON), connection.Options{WireMode: wireMode}, nil, nil)
	cli.MarkConnecting()
	go clientT.Serve(cli)
	cli.MarkConnected()

	return cli, srv, func() {
		cli.Disconnect("test done")
		srv.Disconnect("test done")
		ln.Close()
	}
}

func TestTCPTransportBufferRoundTrip(t *testing.T) {
	cli, _, closeAll := newEchoPair(t, connection.WireBuffer)
	defer closeAll()

	ret, ok := connection.CallApi[echoReply](cli, "Arith.Add", &echoArgs{A: 3, B: 4}, connection.CallOptions{Timeout: time.Second})
	if !ok {
		t.Fatal("call unexpectedly aborted")
	}
	if !ret.Succ {
		t.Fatalf("call failed: %v", ret.Err)
	}
	if ret.Res.Result != 7 {
		t.Fatalf("expect 7, got %d", ret.Res.Result)
	}
}

func TestTCPTransportTextRoundTrip(t *testing.T) {
	cli, _, closeAll := newEchoPair(t, connection.WireText)
	defer closeAll()

	ret, ok := connection.CallApi[echoReply](cli, "Arith.Add", &echoArgs{A: 10, B: 20}, connection.CallOptions{Timeout: time.Second})
	if !ok {
		t.Fatal("call unexpectedly aborted")
	}
	if !ret.Succ {
		t.Fatalf("call failed: %v", ret.Err)
	}
	if ret.Res.Result != 30 {
		t.Fatalf("expect 30, got %d", ret.Res.Result)
	}
}

func TestTCPTransportConcurrentCalls(t *testing.T) {
	cli, _, closeAll := newEchoPair(t, connection.WireBuffer)
	defer closeAll()

	const n = 20
	type outcome struct {
		i   int
		got int
		ok  bool
	}
	results := make(chan outcome, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			ret, ok := connection.CallApi[echoReply](cli, "Arith.Add", &echoArgs{A: i, B: i}, connection.CallOptions{Timeout: time.Second})
			results <- outcome{i: i, got: ret.Res.Result, ok: ok && ret.Succ}
		}(i)
	}
	for i := 0; i < n; i++ {
		o := <-results
		if !o.ok {
			t.Errorf("call %d did not succeed", o.i)
			continue
		}
		if o.got != o.i*2 {
			t.Errorf("call %d: expect %d, got %d", o.i, o.i*2, o.got)
		}
	}
}
