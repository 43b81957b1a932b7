package session

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/deskrelay/deskrelay/internal/auth"
	"github.com/deskrelay/deskrelay/internal/protocol"
	"github.com/deskrelay/deskrelay/internal/transport"
)

// dialedPair binds a TCP+TLS listener on an ephemeral port and returns a
// connected server-side and client-side transport.Conn.
func dialedPair(t *testing.T) (serverConn, clientConn transport.Conn, cleanup func()) {
	t.Helper()

	ln, err := transport.Listen(transport.Config{Backend: transport.BackendTCP, Host: "127.0.0.1", Port: 0})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)

	serverDone := make(chan transport.Conn, 1)
	serverErr := make(chan error, 1)
	go func() {
		conn, err := ln.Accept(ctx)
		if err != nil {
			serverErr <- err
			return
		}
		serverDone <- conn
	}()

	addrHost, addrPort := splitAddr(t, ln.Addr())
	cc, err := transport.Dial(ctx, transport.Config{Backend: transport.BackendTCP, Host: addrHost, Port: addrPort})
	if err != nil {
		cancel()
		ln.Close()
		t.Fatalf("dial: %v", err)
	}

	var sc transport.Conn
	select {
	case sc = <-serverDone:
	case err := <-serverErr:
		cancel()
		cc.Close()
		ln.Close()
		t.Fatalf("accept: %v", err)
	case <-ctx.Done():
		cancel()
		cc.Close()
		ln.Close()
		t.Fatal("timeout")
	}

	return sc, cc, func() {
		cancel()
		sc.Close()
		cc.Close()
		ln.Close()
	}
}

func splitAddr(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatal(err)
	}
	return host, port
}

type nopHandler struct{}

func (nopHandler) HandleMessage(msg any) error { return nil }

func TestHandshakeSucceedsWithPasswordAuth(t *testing.T) {
	serverConn, clientConn, cleanup := dialedPair(t)
	defer cleanup()

	hash, err := auth.HashPassword("sesame")
	if err != nil {
		t.Fatal(err)
	}
	passwordAuth := &auth.PasswordAuthenticator{HashedPassword: hash}

	serverDone := make(chan *Session, 1)
	serverErr := make(chan error, 1)
	go func() {
		s, err := ServerAccept(context.Background(), serverConn, []string{"h264"}, []auth.Authenticator{passwordAuth}, nil)
		if err != nil {
			serverErr <- err
			return
		}
		serverDone <- s
	}()

	hello := &protocol.Hello{
		ProtoVersion:    protocol.Version,
		SupportedCodecs: []string{"h264"},
		ClipboardPolicy: protocol.ClipboardBoth,
	}
	clientSess, err := ClientDial(context.Background(), clientConn, hello, func(method protocol.AuthMethod) (*protocol.AuthResponse, error) {
		if method != protocol.AuthMethodPassword {
			t.Fatalf("expected password auth method, got %v", method)
		}
		return auth.RespondPassword("sesame"), nil
	}, nil)
	if err != nil {
		t.Fatalf("client dial: %v", err)
	}

	var serverSess *Session
	select {
	case serverSess = <-serverDone:
	case err := <-serverErr:
		t.Fatalf("server accept: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for server handshake")
	}

	if clientSess.State() != StateStreaming {
		t.Fatalf("expected client STREAMING, got %v", clientSess.State())
	}
	if serverSess.State() != StateStreaming {
		t.Fatalf("expected server STREAMING, got %v", serverSess.State())
	}
	if clientSess.Negotiated.Codec != "h264" {
		t.Fatalf("expected codec h264, got %q", clientSess.Negotiated.Codec)
	}
}

func TestHandshakeFailsWithWrongPassword(t *testing.T) {
	serverConn, clientConn, cleanup := dialedPair(t)
	defer cleanup()

	hash, err := auth.HashPassword("sesame")
	if err != nil {
		t.Fatal(err)
	}
	passwordAuth := &auth.PasswordAuthenticator{HashedPassword: hash}

	serverErr := make(chan error, 1)
	go func() {
		_, err := ServerAccept(context.Background(), serverConn, []string{"h264"}, []auth.Authenticator{passwordAuth}, nil)
		serverErr <- err
	}()

	hello := &protocol.Hello{ProtoVersion: protocol.Version, SupportedCodecs: []string{"h264"}}
	_, err = ClientDial(context.Background(), clientConn, hello, func(protocol.AuthMethod) (*protocol.AuthResponse, error) {
		return auth.RespondPassword("wrong"), nil
	}, nil)
	if err == nil {
		t.Fatal("expected client handshake to fail")
	}

	select {
	case err := <-serverErr:
		if err == nil {
			t.Fatal("expected server to reject bad password")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout")
	}
}

func TestHandshakeFailsOnCodecMismatch(t *testing.T) {
	serverConn, clientConn, cleanup := dialedPair(t)
	defer cleanup()

	hash, _ := auth.HashPassword("sesame")
	passwordAuth := &auth.PasswordAuthenticator{HashedPassword: hash}

	serverErr := make(chan error, 1)
	go func() {
		_, err := ServerAccept(context.Background(), serverConn, []string{"h264"}, []auth.Authenticator{passwordAuth}, nil)
		serverErr <- err
	}()

	hello := &protocol.Hello{ProtoVersion: protocol.Version, SupportedCodecs: []string{"vp8"}}
	_, err := ClientDial(context.Background(), clientConn, hello, func(protocol.AuthMethod) (*protocol.AuthResponse, error) {
		return auth.RespondPassword("sesame"), nil
	}, nil)
	if err == nil {
		t.Fatal("expected client to see a handshake failure")
	}

	select {
	case err := <-serverErr:
		if err == nil {
			t.Fatal("expected server to reject codec mismatch")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout")
	}
}

func TestNegotiateCodecPicksServerPreferenceOrder(t *testing.T) {
	codec, ok := NegotiateCodec([]string{"av1", "h264"}, []string{"h264", "av1"})
	if !ok || codec != "av1" {
		t.Fatalf("expected av1 (server's first preference), got %q ok=%v", codec, ok)
	}
}

func TestNegotiateCodecNoCommonCodec(t *testing.T) {
	_, ok := NegotiateCodec([]string{"h264"}, []string{"vp9"})
	if ok {
		t.Fatal("expected no common codec")
	}
}
