// Package wiretest provides small scripted-broker test doubles shared by
// worker, client, and supervisor tests: an in-memory net.Pipe transport for
// exercising a single wire.Session, and a real net.Listener fake broker for
// exercising dial/reconnect behavior. Grounded in the original Python test
// suite's TestTransport, which gave the reference implementation's tests the
// same kind of scriptable, in-process broker double.
package wiretest

import (
	"encoding/binary"
	"io"
	"net"
	"testing"

	"github.com/hipchat/curler/internal/wire"
)

// Broker is the server side of a net.Pipe transport: it lets a test read
// frames the code under test sends and inject frames as if a real Gearman
// broker sent them.
type Broker struct {
	Conn net.Conn
}

// Pipe builds an in-memory client/server connection pair and wraps the
// client side in a wire.Session, returning it alongside a Broker that drives
// the server side by hand. The session is closed automatically on test
// cleanup.
func Pipe(t *testing.T) (*wire.Session, *Broker) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	sess := wire.NewSession(clientConn)
	t.Cleanup(func() { sess.Close() })
	return sess, &Broker{Conn: serverConn}
}

// Recv reads the next request-magic ("\0REQ") frame sent by the session
// under test, failing the test if the read errors or the magic is wrong.
func (b *Broker) Recv(t *testing.T) wire.Frame {
	t.Helper()
	header := make([]byte, wire.HeaderLen)
	if _, err := io.ReadFull(b.Conn, header); err != nil {
		t.Fatalf("wiretest: broker recv: %v", err)
	}
	if string(header[0:4]) != "\x00REQ" {
		t.Fatalf("wiretest: broker recv: bad request magic %q", header[0:4])
	}
	payload := make([]byte, binary.BigEndian.Uint32(header[8:12]))
	if _, err := io.ReadFull(b.Conn, payload); err != nil {
		t.Fatalf("wiretest: broker recv: %v", err)
	}
	return wire.Frame{Command: wire.Command(binary.BigEndian.Uint32(header[4:8])), Payload: payload}
}

// RecvExpect is Recv plus an assertion that the frame's command matches want.
func (b *Broker) RecvExpect(t *testing.T, want wire.Command) wire.Frame {
	t.Helper()
	f := b.Recv(t)
	if f.Command != want {
		t.Fatalf("wiretest: got command %v, want %v", f.Command, want)
	}
	return f
}

// Send writes a response-magic ("\0RES") frame to the session under test,
// as if the broker sent it.
func (b *Broker) Send(t *testing.T, cmd wire.Command, payload []byte) {
	t.Helper()
	frame := wire.Encode(cmd, payload)
	copy(frame[0:4], "\x00RES")
	if _, err := b.Conn.Write(frame); err != nil {
		t.Fatalf("wiretest: broker send: %v", err)
	}
}

// Listener is a real TCP fake broker: it accepts one connection at a time,
// for tests that exercise dial/reconnect logic rather than a single session.
type Listener struct {
	ln net.Listener
}

// NewListener opens a loopback listener. It is closed automatically on test
// cleanup.
func NewListener(t *testing.T) *Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("wiretest: listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	return &Listener{ln: ln}
}

// Addr returns the "host:port" address to dial.
func (l *Listener) Addr() string { return l.ln.Addr().String() }

// Accept blocks for the next inbound connection and wraps it in a Broker.
func (l *Listener) Accept(t *testing.T) *Broker {
	t.Helper()
	conn, err := l.ln.Accept()
	if err != nil {
		t.Fatalf("wiretest: accept: %v", err)
	}
	return &Broker{Conn: conn}
}
