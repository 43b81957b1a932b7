package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"time"
)

// Conn is the transport-level connection carrying the session's single
// shared byte stream in each direction. TCP, AF_VSOCK, and stdio backends
// all satisfy this one interface — there is no control/data split, per
// the framed transport's single-ordered-stream requirement.
type Conn interface {
	Send(msg any) error
	Recv() (any, error)
	SetReadDeadline(t time.Time) error
	// LocalTLSState returns the TLS connection state for auth binding via
	// ExportKeyingMaterial, or nil for backends with no TLS layer (vsock,
	// stdio) where auth falls back to the ticket/password proof alone.
	LocalTLSState() *tls.ConnectionState
	RemoteAddr() string
	Close() error
}

// Listener accepts incoming transport connections.
type Listener interface {
	Accept(ctx context.Context) (Conn, error)
	Addr() string
	Close() error
}

// Backend selects which concrete transport a Config dials or listens on.
type Backend int

const (
	BackendTCP Backend = iota
	BackendVsock
	BackendStdio
)

func (b Backend) String() string {
	switch b {
	case BackendTCP:
		return "tcp"
	case BackendVsock:
		return "vsock"
	case BackendStdio:
		return "stdio"
	default:
		return "unknown"
	}
}

// Config parameterizes Listen/Dial across all three backends. Only the
// fields relevant to the selected Backend are consulted.
type Config struct {
	Backend Backend

	// TCP
	Host string
	Port int

	// TLS, TCP only. Listen generates an ephemeral self-signed cert when
	// TLSCert is the zero value.
	TLSCert           tls.Certificate
	RequireClientCert bool
	ClientCAs         *x509.CertPool

	// TCP only: SO_KEEPALIVE interval and OS-level user-timeout bound, both
	// configurable per the transport's keepalive/user-timeout requirement.
	// Zero leaves the corresponding socket option at its OS default.
	KeepAlive   time.Duration
	UserTimeout time.Duration

	// AF_VSOCK
	CID       uint32
	VsockPort uint32

	// stdio proxycommand
	ProxyCommand []string
}
