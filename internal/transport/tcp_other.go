//go:build !linux

package transport

import (
	"net"
	"time"
)

// setTCPUserTimeout is a no-op outside Linux: TCP_USER_TIMEOUT has no
// portable equivalent, matching vsock_other.go's unsupported-platform stub.
func setTCPUserTimeout(conn *net.TCPConn, d time.Duration) error {
	return nil
}
