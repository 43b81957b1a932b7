package transport

import (
	"crypto/tls"
	"io"
	"net"
	"sync"
	"time"

	"github.com/deskrelay/deskrelay/internal/protocol"
)

// streamConn implements Conn over any ordered byte stream: a TLS-wrapped
// TCP conn, a raw AF_VSOCK socket, or a subprocess's stdin/stdout pair.
// All three backends share this one wrapper since the framed transport is
// a single shared stream in each direction regardless of carrier.
type streamConn struct {
	rw      io.ReadWriteCloser
	tlsConn *tls.Conn // non-nil only for the TCP backend
	remote  string
	writeMu sync.Mutex
}

func newStreamConn(rw io.ReadWriteCloser, remote string) *streamConn {
	c := &streamConn{rw: rw, remote: remote}
	if t, ok := rw.(*tls.Conn); ok {
		c.tlsConn = t
	}
	return c
}

func (c *streamConn) Send(msg any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return protocol.WriteMessage(c.rw, msg)
}

func (c *streamConn) Recv() (any, error) {
	return protocol.ReadMessage(c.rw)
}

func (c *streamConn) SetReadDeadline(t time.Time) error {
	if d, ok := c.rw.(interface{ SetReadDeadline(time.Time) error }); ok {
		return d.SetReadDeadline(t)
	}
	return nil // stdio backend has no deadline support
}

func (c *streamConn) LocalTLSState() *tls.ConnectionState {
	if c.tlsConn == nil {
		return nil
	}
	state := c.tlsConn.ConnectionState()
	return &state
}

func (c *streamConn) RemoteAddr() string {
	return c.remote
}

func (c *streamConn) Close() error {
	return c.rw.Close()
}

func remoteAddrOf(conn net.Conn) string {
	if conn == nil || conn.RemoteAddr() == nil {
		return ""
	}
	return conn.RemoteAddr().String()
}
