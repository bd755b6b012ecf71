package connection_test

import (
	"sync"
	"testing"
	"time"

	"duplexrpc/codec"
	"duplexrpc/connection"
	"duplexrpc/transportdata"
)

// TestDisconnectFromDisconnectedIsNoOp covers the lifecycle rule that a
// Disconnect on an already-Disconnected Connection does nothing and reports
// no error.
func TestDisconnectFromDisconnectedIsNoOp(t *testing.T) {
	sm := frozenMap(t, "Echo")
	tr := &pipeTransport{}
	c := connection.New(connection.SideClient, tr, sm, codec.GetCodec(codec.CodecTypeJSON), connection.Options{WireMode: connection.WireBuffer}, nil, nil)

	if c.Status() != connection.StatusDisconnected {
		t.Fatalf("expected a fresh Connection to be Disconnected, got %s", c.Status())
	}
	if err := c.Disconnect("nothing to do"); err != nil {
		t.Fatalf("expected no-op Disconnect, got %v", err)
	}
	if tr.closed.Load() {
		t.Fatal("expected the transport to be untouched by a no-op Disconnect")
	}
}

// TestDisconnectFromConnectingIsRejected covers the rule that tearing down
// a dial in flight is a typed error, not a silent success.
func TestDisconnectFromConnectingIsRejected(t *testing.T) {
	sm := frozenMap(t, "Echo")
	c := connection.New(connection.SideClient, &pipeTransport{}, sm, codec.GetCodec(codec.CodecTypeJSON), connection.Options{WireMode: connection.WireBuffer}, nil, nil)

	if err := c.MarkConnecting(); err != nil {
		t.Fatal(err)
	}
	if err := c.Disconnect("too early"); err != connection.ErrCannotDisconnectPending {
		t.Fatalf("expected ErrCannotDisconnectPending, got %v", err)
	}
}

// TestMarkConnectingRequiresDisconnected covers the forward-only state
// machine: Connecting is only reachable from Disconnected.
func TestMarkConnectingRequiresDisconnected(t *testing.T) {
	sm := frozenMap(t, "Echo")
	c := connection.New(connection.SideClient, &pipeTransport{}, sm, codec.GetCodec(codec.CodecTypeJSON), connection.Options{WireMode: connection.WireBuffer}, nil, nil)

	c.MarkConnected()
	if err := c.MarkConnecting(); err == nil {
		t.Fatal("expected MarkConnecting from Connected to be rejected")
	}
}

// TestConcurrentDisconnectShareTeardown covers idempotency: concurrent
// Disconnect callers all return without error once the single in-flight
// teardown is done, and the Connection ends up Disconnected.
func TestConcurrentDisconnectShareTeardown(t *testing.T) {
	sm := frozenMap(t, "Echo")
	handlers := connection.NewHandlers()
	p := newPipePair(sm, sm, codec.GetCodec(codec.CodecTypeJSON),
		connection.Options{WireMode: connection.WireBuffer}, connection.Options{WireMode: connection.WireBuffer},
		nil, nil, handlers)
	defer p.server.Disconnect("test done")

	const n = 4
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = p.client.Disconnect("racing")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d got error %v", i, err)
		}
	}
	if p.client.Status() != connection.StatusDisconnected {
		t.Fatalf("expected Disconnected after concurrent teardown, got %s", p.client.Status())
	}
}

// TestDisconnectFailsPendingWithLostConn covers testable property 3: after
// a disconnect, every previously-pending call has received exactly one
// NetworkError/LOST_CONN return.
func TestDisconnectFailsPendingWithLostConn(t *testing.T) {
	sm := frozenMap(t, "Stall")
	handlers := connection.NewHandlers()
	release := make(chan struct{})
	handlers.Register("Stall", func(call *connection.ApiCall) error {
		<-release
		return call.Succ(&echoReply{})
	})
	defer close(release)

	p := newPipePair(sm, sm, codec.GetCodec(codec.CodecTypeJSON),
		connection.Options{WireMode: connection.WireBuffer}, connection.Options{WireMode: connection.WireBuffer},
		nil, nil, handlers)
	defer p.server.Disconnect("test done")

	const n = 3
	results := make(chan transportdata.ApiReturn[echoReply], n)
	for i := 0; i < n; i++ {
		go func(i int) {
			ret, ok := connection.CallApi[echoReply](p.client, "Stall", &echoArgs{N: i}, connection.CallOptions{})
			if !ok {
				t.Error("expected the pending call to settle, not abort")
				return
			}
			results <- ret
		}(i)
	}

	time.Sleep(50 * time.Millisecond) // let all calls land in the pending table
	if got := p.client.PendingCount(); got != n {
		t.Fatalf("expected %d pending calls before disconnect, got %d", n, got)
	}

	if err := p.client.Disconnect("going away"); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < n; i++ {
		select {
		case ret := <-results:
			if ret.Succ {
				t.Fatal("expected a failed return for a call pending at disconnect")
			}
			if ret.Err.Type != transportdata.ErrNetwork || ret.Err.Code != transportdata.CodeLostConn {
				t.Fatalf("expected NetworkError/LOST_CONN, got %+v", ret.Err)
			}
		case <-time.After(time.Second):
			t.Fatal("a pending call never settled after disconnect")
		}
	}
	if p.client.PendingCount() != 0 {
		t.Fatalf("expected an empty pending table after disconnect, got %d", p.client.PendingCount())
	}
}

// TestAbortSignalNeverSettles covers external cancellation: closing the
// CallOptions.AbortSignal channel mid-flight makes CallApi report ok=false
// and drains the pending table, same as AbortByKey.
func TestAbortSignalNeverSettles(t *testing.T) {
	sm := frozenMap(t, "Slow")
	handlers := connection.NewHandlers()
	handlers.Register("Slow", func(call *connection.ApiCall) error {
		time.Sleep(300 * time.Millisecond)
		return call.Succ(&echoReply{})
	})

	p := newPipePair(sm, sm, codec.GetCodec(codec.CodecTypeJSON),
		connection.Options{WireMode: connection.WireBuffer}, connection.Options{WireMode: connection.WireBuffer},
		nil, nil, handlers)
	defer p.client.Disconnect("test done")
	defer p.server.Disconnect("test done")

	abort := make(chan struct{})
	done := make(chan bool, 1)
	go func() {
		_, ok := connection.CallApi[echoReply](p.client, "Slow", &echoArgs{N: 1}, connection.CallOptions{AbortSignal: abort})
		done <- ok
	}()

	time.Sleep(30 * time.Millisecond)
	close(abort)

	select {
	case ok := <-done:
		if ok {
			t.Fatal("expected ok=false after the abort signal fired")
		}
	case <-time.After(time.Second):
		t.Fatal("CallApi never returned after abort")
	}
	if p.client.PendingCount() != 0 {
		t.Fatalf("expected 0 pending after abort, got %d", p.client.PendingCount())
	}
}
