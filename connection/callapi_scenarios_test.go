package connection_test

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"duplexrpc/codec"
	"duplexrpc/connection"
	"duplexrpc/servicemap"
	"duplexrpc/transportdata"
)

type echoArgs struct{ N int }
type echoReply struct{ N int }

func frozenMap(t *testing.T, apiName string) *servicemap.ServiceMap {
	t.Helper()
	sm := servicemap.New()
	if _, err := sm.RegisterApi(apiName, new(echoArgs), new(echoReply)); err != nil {
		t.Fatal(err)
	}
	sm.Freeze()
	return sm
}

// TestCallApiTimeoutLateReplyDropped covers the timeout-vs-late-reply race:
// a handler that replies after the caller's timeout has already fired must
// not resolve anything when its answer eventually arrives — the reply is
// simply dropped, logged at debug level, never delivered to a second caller.
func TestCallApiTimeoutLateReplyDropped(t *testing.T) {
	sm := frozenMap(t, "Slow")
	handlers := connection.NewHandlers()
	handlers.Register("Slow", func(call *connection.ApiCall) error {
		time.Sleep(150 * time.Millisecond)
		return call.Succ(&echoReply{N: 1})
	})

	core, logs := observer.New(zapcore.DebugLevel)
	clientOpts := connection.Options{WireMode: connection.WireBuffer, Logger: zap.New(core).Sugar()}
	serverOpts := connection.Options{WireMode: connection.WireBuffer}

	p := newPipePair(sm, sm, codec.GetCodec(codec.CodecTypeJSON), clientOpts, serverOpts, nil, nil, handlers)
	defer p.client.Disconnect("test done")
	defer p.server.Disconnect("test done")

	start := time.Now()
	ret, ok := connection.CallApi[echoReply](p.client, "Slow", &echoArgs{N: 1}, connection.CallOptions{Timeout: 30 * time.Millisecond})
	if !ok {
		t.Fatal("expected ok=true: a timeout is a settled ApiReturn, not an abort")
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("CallApi did not return promptly at the timeout")
	}
	if ret.Succ {
		t.Fatal("expected a failed ApiReturn from the timeout")
	}
	if ret.Err.Type != transportdata.ErrNetwork || ret.Err.Code != transportdata.CodeTimeout {
		t.Fatalf("expected NetworkError/TIMEOUT, got %+v", ret.Err)
	}

	// Give the late reply time to actually arrive and be dispatched.
	time.Sleep(200 * time.Millisecond)

	if p.client.PendingCount() != 0 {
		t.Fatalf("expected no pending calls after the late reply was dropped, got %d", p.client.PendingCount())
	}
	if logs.FilterMessage("dropped late or unknown response").Len() == 0 {
		t.Fatal("expected the late reply to be logged as dropped")
	}
}

// TestAbortByKeyNeverSettles covers CallApi/AbortByKey on a live Connection:
// calls sharing an AbortKey that the caller cancels before any reply arrives
// must never settle — CallApi reports ok=false, not a TsrpcError of any kind
// — and the pending table must be fully drained.
func TestAbortByKeyNeverSettles(t *testing.T) {
	sm := frozenMap(t, "Echo")
	handlers := connection.NewHandlers()
	handlers.Register("Echo", func(call *connection.ApiCall) error {
		time.Sleep(500 * time.Millisecond) // long enough that Abort always wins the race
		return call.Succ(&echoReply{N: 1})
	})

	p := newPipePair(sm, sm, codec.GetCodec(codec.CodecTypeJSON),
		connection.Options{WireMode: connection.WireBuffer}, connection.Options{WireMode: connection.WireBuffer},
		nil, nil, handlers)
	defer p.client.Disconnect("test done")
	defer p.server.Disconnect("test done")

	const n = 3
	var wg sync.WaitGroup
	oks := make([]bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, ok := connection.CallApi[echoReply](p.client, "Echo", &echoArgs{N: i}, connection.CallOptions{AbortKey: "K"})
			oks[i] = ok
		}(i)
	}

	time.Sleep(30 * time.Millisecond) // let all three land in the pending table
	if got := p.client.PendingCount(); got != n {
		t.Fatalf("expected %d pending calls before abort, got %d", n, got)
	}

	p.client.AbortByKey("K")
	wg.Wait()

	for i, ok := range oks {
		if ok {
			t.Fatalf("call %d settled despite AbortByKey — expected ok=false", i)
		}
	}
	if p.client.PendingCount() != 0 {
		t.Fatalf("expected pendingCalls.size == 0 after AbortByKey, got %d", p.client.PendingCount())
	}
}

// TestAbortByKeyDropsLateReply extends the above: a reply that does arrive
// after its call was aborted must be a silent no-op, not a panic or a
// resolution of anything.
func TestAbortByKeyDropsLateReply(t *testing.T) {
	sm := frozenMap(t, "Echo")
	handlers := connection.NewHandlers()
	handlers.Register("Echo", func(call *connection.ApiCall) error {
		time.Sleep(60 * time.Millisecond)
		return call.Succ(&echoReply{N: 42})
	})

	p := newPipePair(sm, sm, codec.GetCodec(codec.CodecTypeJSON),
		connection.Options{WireMode: connection.WireBuffer}, connection.Options{WireMode: connection.WireBuffer},
		nil, nil, handlers)
	defer p.client.Disconnect("test done")
	defer p.server.Disconnect("test done")

	go func() {
		_, _ = connection.CallApi[echoReply](p.client, "Echo", &echoArgs{N: 1}, connection.CallOptions{AbortKey: "K2"})
	}()
	time.Sleep(10 * time.Millisecond)
	p.client.AbortByKey("K2")

	time.Sleep(150 * time.Millisecond) // long enough for the handler's reply to land
	if p.client.PendingCount() != 0 {
		t.Fatalf("expected 0 pending after abort + late reply, got %d", p.client.PendingCount())
	}
}
