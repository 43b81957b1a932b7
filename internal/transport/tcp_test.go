package transport

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/deskrelay/deskrelay/internal/protocol"
)

// setupTCPConnPair binds a TLS-over-TCP listener on an ephemeral port and
// dials into it, returning both ends of the connection.
func setupTCPConnPair(t *testing.T) (serverConn, clientConn Conn, cleanup func()) {
	t.Helper()

	ln, err := listenTCP(Config{Backend: BackendTCP, Host: "127.0.0.1", Port: 0})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)

	port, err := tcpPort(ln.Addr())
	if err != nil {
		cancel()
		ln.Close()
		t.Fatal(err)
	}

	serverDone := make(chan Conn, 1)
	serverErr := make(chan error, 1)
	go func() {
		conn, err := ln.Accept(ctx)
		if err != nil {
			serverErr <- err
			return
		}
		serverDone <- conn
	}()

	cc, err := dialTCP(ctx, Config{Backend: BackendTCP, Host: "127.0.0.1", Port: port})
	if err != nil {
		cancel()
		ln.Close()
		t.Fatalf("TCP dial: %v", err)
	}

	var sc Conn
	select {
	case sc = <-serverDone:
	case err := <-serverErr:
		cancel()
		cc.Close()
		ln.Close()
		t.Fatalf("server accept: %v", err)
	case <-ctx.Done():
		cancel()
		cc.Close()
		ln.Close()
		t.Fatal("timeout waiting for server accept")
	}

	return sc, cc, func() {
		cancel()
		sc.Close()
		cc.Close()
		ln.Close()
	}
}

func TestTCPConnectAndExchange(t *testing.T) {
	serverConn, clientConn, cleanup := setupTCPConnPair(t)
	defer cleanup()

	if err := clientConn.Send(&protocol.Hello{ProtoVersion: protocol.Version}); err != nil {
		t.Fatalf("send hello: %v", err)
	}
	msg, err := serverConn.Recv()
	if err != nil {
		t.Fatalf("recv hello: %v", err)
	}
	hello, ok := msg.(*protocol.Hello)
	if !ok || hello.ProtoVersion != protocol.Version {
		t.Fatalf("unexpected message: %T %v", msg, msg)
	}
}

func TestTCPBidirectional(t *testing.T) {
	serverConn, clientConn, cleanup := setupTCPConnPair(t)
	defer cleanup()

	clientPayload := []byte("from client")
	if err := clientConn.Send(&protocol.VideoFrame{EncodedBytes: clientPayload, Pts: 1}); err != nil {
		t.Fatalf("client send: %v", err)
	}
	msg, err := serverConn.Recv()
	if err != nil {
		t.Fatalf("server recv: %v", err)
	}
	if !bytes.Equal(msg.(*protocol.VideoFrame).EncodedBytes, clientPayload) {
		t.Fatalf("payload mismatch: %q", msg.(*protocol.VideoFrame).EncodedBytes)
	}

	serverPayload := []byte("from server")
	if err := serverConn.Send(&protocol.VideoFrame{EncodedBytes: serverPayload, Pts: 2}); err != nil {
		t.Fatalf("server send: %v", err)
	}
	msg, err = clientConn.Recv()
	if err != nil {
		t.Fatalf("client recv: %v", err)
	}
	if !bytes.Equal(msg.(*protocol.VideoFrame).EncodedBytes, serverPayload) {
		t.Fatalf("payload mismatch: %q", msg.(*protocol.VideoFrame).EncodedBytes)
	}
}

func TestTCPConcurrentWritesAreSerialized(t *testing.T) {
	serverConn, clientConn, cleanup := setupTCPConnPair(t)
	defer cleanup()

	const n = 50
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := range n {
			if err := clientConn.Send(&protocol.KeyEvent{RawKeycode: uint32(i), Down: true}); err != nil {
				t.Errorf("send key %d: %v", i, err)
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := range n {
			if err := clientConn.Send(&protocol.PointerMotion{X: int32(i), Y: int32(i)}); err != nil {
				t.Errorf("send motion %d: %v", i, err)
				return
			}
		}
	}()
	wg.Wait()

	count := 0
	for count < 2*n {
		if _, err := serverConn.Recv(); err != nil {
			t.Fatalf("recv %d: %v", count, err)
		}
		count++
	}
}

func TestTCPReadDeadline(t *testing.T) {
	serverConn, clientConn, cleanup := setupTCPConnPair(t)
	defer cleanup()

	if err := serverConn.SetReadDeadline(time.Now().Add(50 * time.Millisecond)); err != nil {
		t.Fatalf("set deadline: %v", err)
	}
	_, err := serverConn.Recv()
	if err == nil {
		t.Fatal("expected deadline error, got nil")
	}
	_ = clientConn // unused on this path, kept alive by cleanup
}

func TestTCPExposesTLSState(t *testing.T) {
	serverConn, clientConn, cleanup := setupTCPConnPair(t)
	defer cleanup()

	if serverConn.LocalTLSState() == nil {
		t.Fatal("expected non-nil TLS state on the TCP backend")
	}
	if clientConn.LocalTLSState() == nil {
		t.Fatal("expected non-nil TLS state on the TCP backend")
	}
}

func TestTCPCloseUnblocksReader(t *testing.T) {
	serverConn, clientConn, cleanup := setupTCPConnPair(t)
	defer cleanup()

	clientConn.Close()

	errCh := make(chan error, 1)
	go func() {
		_, err := serverConn.Recv()
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected error from blocked reader, got nil")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for blocked reader to unblock")
	}
}
