// Package transport implements the TCP binding of the connection.Transport
// contract: SendRaw writes one already-encoded envelope, DoDisconnect closes
// the socket, and Serve runs the read loop that turns the byte stream back
// into discrete envelopes for connection.Connection.RecvData.
//
// TCP is a side-agnostic net.Conn binding: request/response correlation,
// multiplexing, and heartbeat all live in package connection instead, so
// TCP is left with exactly two concerns — write raw bytes, and turn
// inbound bytes back into raw frames.
package transport

import (
	"bufio"
	"fmt"
	"net"
	"sync"

	"duplexrpc/connection"
	"duplexrpc/protocol"
)

// TCP is a connection.Transport backed by a net.Conn. The zero value is not
// usable; build one with Dial or Accept.
type TCP struct {
	conn     net.Conn
	wireMode connection.WireMode
	reader   *bufio.Reader

	closeOnce sync.Once
}

// Dial opens a new TCP connection to addr. wireMode must match what the
// Connection built on top of this TCP encodes with, since the read loop
// needs to know how envelopes are framed on the wire.
func Dial(network, addr string, wireMode connection.WireMode) (*TCP, error) {
	conn, err := net.Dial(network, addr)
	if err != nil {
		return nil, err
	}
	return wrap(conn, wireMode), nil
}

// Accept wraps an already-accepted net.Conn (typically from net.Listener's
// Accept loop) for server-side use.
func Accept(conn net.Conn, wireMode connection.WireMode) *TCP {
	return wrap(conn, wireMode)
}

func wrap(conn net.Conn, wireMode connection.WireMode) *TCP {
	return &TCP{conn: conn, wireMode: wireMode, reader: bufio.NewReader(conn)}
}

// SendRaw implements connection.Transport: a single unbuffered write of one
// already-framed envelope. The Connection's own outbound queue (see
// connection/connection.go's sendLoop) is what guarantees S1-before-S2
// ordering across concurrent callApi/sendMsg callers; SendRaw itself just
// has to not interleave partial writes, which net.Conn.Write already
// guarantees for a single call.
func (t *TCP) SendRaw(data []byte) error {
	if t.wireMode == connection.WireText {
		data = append(append([]byte(nil), data...), '\n')
	}
	_, err := t.conn.Write(data)
	return err
}

// DoDisconnect implements connection.Transport. Closing an already-closed
// net.Conn is a no-op error condition upstream callers should not see twice,
// so repeat calls after the first are swallowed.
func (t *TCP) DoDisconnect(isManual bool, reason string) error {
	var err error
	t.closeOnce.Do(func() { err = t.conn.Close() })
	return err
}

// Serve runs the read loop that feeds this socket's envelopes to conn.RecvData
// until the connection errs or the peer closes it, then reports the loss via
// conn.DisconnectPeer. Callers run it in its own goroutine, after constructing
// the Connection with this TCP as its Transport:
//
//	t, _ := transport.Dial("tcp", addr, connection.WireBuffer)
//	c := connection.New(connection.SideClient, t, sm, codec, opts, nil, nil)
//	c.MarkConnecting()
//	go t.Serve(c)
//	c.MarkConnected()
func (t *TCP) Serve(conn *connection.Connection) {
	for {
		raw, err := t.readFrame()
		if err != nil {
			conn.DisconnectPeer(fmt.Sprintf("transport read error: %v", err))
			return
		}
		conn.RecvData(raw)
	}
}

func (t *TCP) readFrame() ([]byte, error) {
	if t.wireMode == connection.WireBuffer {
		return protocol.ReadFullFrame(t.reader)
	}
	line, err := t.reader.ReadString('\n')
	if err != nil {
		return nil, err
	}
	return []byte(line[:len(line)-1]), nil
}

// Conn returns the underlying net.Conn, mostly for tests and for a server's
// Accept loop to read the remote address off before handing the TCP over to
// a Connection.
func (t *TCP) Conn() net.Conn { return t.conn }
