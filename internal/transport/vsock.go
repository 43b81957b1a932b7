//go:build linux

package transport

import (
	"context"
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// vsockListener accepts AF_VSOCK connections. Used when the server or
// proxy runs alongside its peer inside a hypervisor (e.g. a VM guest
// talking to its host over vsock instead of a routed network).
type vsockListener struct {
	fd   int
	addr string
}

func listenVsock(cfg Config) (*vsockListener, error) {
	fd, err := unix.Socket(unix.AF_VSOCK, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("vsock socket: %w", err)
	}
	sa := &unix.SockaddrVM{CID: cfg.CID, Port: cfg.VsockPort}
	if sa.CID == 0 {
		sa.CID = unix.VMADDR_CID_ANY
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("vsock bind CID=%d port=%d: %w", sa.CID, sa.Port, err)
	}
	if err := unix.Listen(fd, 16); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("vsock listen: %w", err)
	}
	return &vsockListener{fd: fd, addr: fmt.Sprintf("vsock:%d:%d", sa.CID, sa.Port)}, nil
}

func (l *vsockListener) Addr() string { return l.addr }

func (l *vsockListener) Accept(ctx context.Context) (Conn, error) {
	type result struct {
		fd   int
		sa   unix.Sockaddr
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		fd, sa, err := unix.Accept(l.fd)
		ch <- result{fd, sa, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("vsock accept: %w", res.err)
		}
		conn, err := fdToConn(res.fd, "vsock")
		if err != nil {
			return nil, err
		}
		remote := "vsock:unknown"
		if vm, ok := res.sa.(*unix.SockaddrVM); ok {
			remote = fmt.Sprintf("vsock:%d:%d", vm.CID, vm.Port)
		}
		return newStreamConn(conn, remote), nil
	case <-ctx.Done():
		go func() {
			res := <-ch
			if res.fd != 0 {
				unix.Close(res.fd)
			}
		}()
		return nil, ctx.Err()
	}
}

func (l *vsockListener) Close() error {
	return unix.Close(l.fd)
}

// dialVsock connects to the given CID:port over AF_VSOCK. CID 2
// (VMADDR_CID_HOST) reaches the hypervisor host from inside a guest.
func dialVsock(ctx context.Context, cfg Config) (Conn, error) {
	fd, err := unix.Socket(unix.AF_VSOCK, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("vsock socket: %w", err)
	}
	sa := &unix.SockaddrVM{CID: cfg.CID, Port: cfg.VsockPort}
	if err := unix.Connect(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("vsock connect CID=%d port=%d: %w", sa.CID, sa.Port, err)
	}
	conn, err := fdToConn(fd, "vsock")
	if err != nil {
		return nil, err
	}
	return newStreamConn(conn, fmt.Sprintf("vsock:%d:%d", sa.CID, sa.Port)), nil
}

func fdToConn(fd int, name string) (net.Conn, error) {
	f := os.NewFile(uintptr(fd), name)
	conn, err := net.FileConn(f)
	f.Close() // FileConn dups the fd
	if err != nil {
		return nil, fmt.Errorf("vsock fileconn: %w", err)
	}
	return conn, nil
}
