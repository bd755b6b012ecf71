package connection_test

import (
	"sync"
	"sync/atomic"
	"time"

	"duplexrpc/codec"
	"duplexrpc/connection"
	"duplexrpc/servicemap"
)

// pipeTransport is an in-process stand-in for a real socket: it implements
// connection.Transport by forwarding every SendRaw call directly into the
// peer Connection's RecvData, on its own goroutine (so it never blocks the
// sender the way a real socket write usually doesn't either). Exactly the
// "test harness" driver connection.Transport's own doc comment anticipates.
type pipeTransport struct {
	mu    sync.Mutex
	peer  *connection.Connection
	drop  bool
	delay time.Duration

	sentCount atomic.Int64
	closed    atomic.Bool
}

func (p *pipeTransport) SendRaw(data []byte) error {
	p.sentCount.Add(1)
	p.mu.Lock()
	drop, delay, peer := p.drop, p.delay, p.peer
	p.mu.Unlock()
	if drop || peer == nil {
		return nil
	}
	go func() {
		if delay > 0 {
			time.Sleep(delay)
		}
		peer.RecvData(data)
	}()
	return nil
}

func (p *pipeTransport) DoDisconnect(isManual bool, reason string) error {
	p.closed.Store(true)
	return nil
}

func (p *pipeTransport) setDrop(v bool) {
	p.mu.Lock()
	p.drop = v
	p.mu.Unlock()
}

func (p *pipeTransport) setDelay(d time.Duration) {
	p.mu.Lock()
	p.delay = d
	p.mu.Unlock()
}

func (p *pipeTransport) sent() int {
	return int(p.sentCount.Load())
}

// pipePair wires a client-side and server-side Connection together over two
// pipeTransports, bypassing net.Conn entirely, then brings both to
// StatusConnected the way a Client/Server would.
type pipePair struct {
	client  *connection.Connection
	server  *connection.Connection
	clientT *pipeTransport
	serverT *pipeTransport
}

// newPipePair builds both ends against their respective ServiceMaps (each
// must already be Frozen) and the given per-side Options/Flows/Handlers,
// then marks both Connected exactly the way client.Client/server.Server
// would. Separate ServiceMaps let S5-style tests exercise a genuine proto
// fingerprint mismatch; every other test passes the same *ServiceMap twice.
func newPipePair(
	clientSm, serverSm *servicemap.ServiceMap,
	bodyCodec codec.Codec,
	clientOpts, serverOpts connection.Options,
	clientFlows, serverFlows *connection.Flows,
	serverHandlers *connection.Handlers,
) *pipePair {
	clientT := &pipeTransport{}
	serverT := &pipeTransport{}

	client := connection.New(connection.SideClient, clientT, clientSm, bodyCodec, clientOpts, clientFlows, nil)
	server := connection.New(connection.SideServer, serverT, serverSm, bodyCodec, serverOpts, serverFlows, serverHandlers)
	clientT.peer = server
	serverT.peer = client

	if err := client.MarkConnecting(); err != nil {
		panic(err)
	}
	client.MarkConnected()
	server.MarkConnected()

	return &pipePair{client: client, server: server, clientT: clientT, serverT: serverT}
}
