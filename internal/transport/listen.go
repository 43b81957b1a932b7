package transport

import (
	"context"
	"fmt"
)

// Listen binds a listener for cfg.Backend. The server and proxy roles call
// this once at startup; Session handshake authentication happens
// afterwards, per connection, in internal/session.
func Listen(cfg Config) (Listener, error) {
	switch cfg.Backend {
	case BackendTCP:
		return listenTCP(cfg)
	case BackendVsock:
		return listenVsock(cfg)
	case BackendStdio:
		return nil, fmt.Errorf("stdio backend has no listen side, only dial")
	default:
		return nil, fmt.Errorf("unknown transport backend %v", cfg.Backend)
	}
}

// Dial connects to a peer for cfg.Backend. The client and proxy roles call
// this once per connection attempt; reconnect logic in internal/session
// retries by calling Dial again.
func Dial(ctx context.Context, cfg Config) (Conn, error) {
	switch cfg.Backend {
	case BackendTCP:
		return dialTCP(ctx, cfg)
	case BackendVsock:
		return dialVsock(ctx, cfg)
	case BackendStdio:
		return dialStdio(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown transport backend %v", cfg.Backend)
	}
}
