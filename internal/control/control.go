// Package control implements the control-socket listener used for
// hot-reloading the video encoder (§4.4): a local endpoint whose mere
// connection arrival is the edge-triggered reload signal, no protocol
// exchanged on the connection itself.
package control

import (
	"log/slog"
	"net"

	"github.com/deskrelay/deskrelay/internal/category"
)

// Socket listens on a Unix domain socket and invokes onReload once per
// accepted connection.
type Socket struct {
	ln  net.Listener
	log *slog.Logger
}

// Listen binds path as a Unix socket. Any pre-existing socket file at
// path is removed first, matching how a crashed process's stale socket
// is normally cleaned up before rebinding.
func Listen(path string, log *slog.Logger) (*Socket, error) {
	if log == nil {
		log = slog.Default()
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, category.Wrap(category.Config, err)
	}
	return &Socket{ln: ln, log: log}, nil
}

// Serve accepts connections until the listener is closed, calling
// onReload for each one. The connection itself carries no payload: its
// arrival is the whole signal, per §4.4's "edge-triggered signal."
func (s *Socket) Serve(onReload func()) {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		conn.Close()
		onReload()
	}
}

// Close stops accepting new reload signals.
func (s *Socket) Close() error {
	return s.ln.Close()
}
