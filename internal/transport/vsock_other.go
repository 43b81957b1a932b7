//go:build !linux

package transport

import (
	"context"
	"fmt"
)

type vsockListener struct{}

func listenVsock(cfg Config) (*vsockListener, error) {
	return nil, fmt.Errorf("AF_VSOCK transport is only supported on linux")
}

func (l *vsockListener) Addr() string                            { return "" }
func (l *vsockListener) Accept(ctx context.Context) (Conn, error) { return nil, fmt.Errorf("AF_VSOCK transport is only supported on linux") }
func (l *vsockListener) Close() error                             { return nil }

func dialVsock(ctx context.Context, cfg Config) (Conn, error) {
	return nil, fmt.Errorf("AF_VSOCK transport is only supported on linux")
}
