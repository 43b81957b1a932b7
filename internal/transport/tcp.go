package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"
)

// tcpListener wraps a TLS-over-TCP listener.
type tcpListener struct {
	ln          net.Listener
	addr        string
	keepAlive   time.Duration
	userTimeout time.Duration
}

// listenTCP binds a TLS-over-TCP listener. cfg.TLSCert is used verbatim if
// set; otherwise an ephemeral self-signed cert is generated. The listener
// itself is plain TCP, wrapped in TLS after accept, so Accept can reach
// each connection's underlying *net.TCPConn to set keepalive/user-timeout.
func listenTCP(cfg Config) (*tcpListener, error) {
	cert := cfg.TLSCert
	if len(cert.Certificate) == 0 {
		var err error
		cert, err = GenerateSelfSignedCert()
		if err != nil {
			return nil, fmt.Errorf("generate TLS cert: %w", err)
		}
	}
	var clientCAs = cfg.ClientCAs
	if !cfg.RequireClientCert {
		clientCAs = nil
	}
	tlsConf := ServerTLSConfig(cert, clientCAs)

	host := cfg.Host
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(cfg.Port)))
	if err != nil {
		return nil, fmt.Errorf("TCP listen: %w", err)
	}

	return &tcpListener{
		ln:          tls.NewListener(ln, tlsConf),
		addr:        ln.Addr().String(),
		keepAlive:   cfg.KeepAlive,
		userTimeout: cfg.UserTimeout,
	}, nil
}

func (l *tcpListener) Addr() string { return l.addr }

// tcpPort extracts the numeric port from a "host:port" address string, used
// by dialers and tests that bound to port 0 and need the OS-assigned port.
func tcpPort(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(portStr)
}

func (l *tcpListener) Accept(ctx context.Context) (Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := l.ln.Accept()
		ch <- result{conn, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("accept TCP connection: %w", res.err)
		}
		if err := applyTCPOptions(res.conn, l.keepAlive, l.userTimeout); err != nil {
			res.conn.Close()
			return nil, fmt.Errorf("set TCP options: %w", err)
		}
		return newStreamConn(res.conn, remoteAddrOf(res.conn)), nil
	case <-ctx.Done():
		go func() {
			res := <-ch
			if res.conn != nil {
				res.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

func (l *tcpListener) Close() error {
	return l.ln.Close()
}

// dialTCP connects to a TLS-over-TCP listener and returns a Conn ready for
// the session handshake.
func dialTCP(ctx context.Context, cfg Config) (Conn, error) {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	var clientCert *tls.Certificate
	if len(cfg.TLSCert.Certificate) != 0 {
		clientCert = &cfg.TLSCert
	}
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{KeepAlive: cfg.KeepAlive},
		Config:    ClientTLSConfig(cfg.Host, cfg.ClientCAs, clientCert),
	}

	rawConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("TCP+TLS dial: %w", err)
	}
	if err := applyTCPOptions(rawConn, cfg.KeepAlive, cfg.UserTimeout); err != nil {
		rawConn.Close()
		return nil, fmt.Errorf("set TCP options: %w", err)
	}

	return newStreamConn(rawConn, remoteAddrOf(rawConn)), nil
}

// applyTCPOptions sets SO_KEEPALIVE and the OS-level user-timeout bound on
// the *net.TCPConn underlying conn, unwrapping a *tls.Conn's NetConn if
// necessary. A zero keepAlive/userTimeout leaves that option at its OS
// default.
func applyTCPOptions(conn net.Conn, keepAlive, userTimeout time.Duration) error {
	if tc, ok := conn.(*tls.Conn); ok {
		conn = tc.NetConn()
	}
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	if keepAlive > 0 {
		if err := tcpConn.SetKeepAlive(true); err != nil {
			return err
		}
		if err := tcpConn.SetKeepAlivePeriod(keepAlive); err != nil {
			return err
		}
	}
	if userTimeout > 0 {
		return setTCPUserTimeout(tcpConn, userTimeout)
	}
	return nil
}
