package transport

import (
	"context"
	"fmt"
	"io"
	"os/exec"
)

// stdioPipe wires a subprocess's stdin/stdout together as a single
// io.ReadWriteCloser, the shape newStreamConn expects. This backs
// --proxycommand, supplemented from the original Sanzu source's
// proxycommand option: instead of dialing a socket directly, the client
// spawns an intermediary (commonly an SSH invocation) and tunnels the
// framed stream through its stdio.
type stdioPipe struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

func (p *stdioPipe) Read(b []byte) (int, error)  { return p.stdout.Read(b) }
func (p *stdioPipe) Write(b []byte) (int, error) { return p.stdin.Write(b) }

func (p *stdioPipe) Close() error {
	stdinErr := p.stdin.Close()
	stdoutErr := p.stdout.Close()
	_ = p.cmd.Process.Kill()
	_ = p.cmd.Wait()
	if stdinErr != nil {
		return stdinErr
	}
	return stdoutErr
}

// dialStdio spawns cfg.ProxyCommand and tunnels the framed byte stream
// through its stdin/stdout, for use as a forwarding hop (e.g. an SSH
// ProxyCommand-style relay) when a direct socket route isn't available.
func dialStdio(ctx context.Context, cfg Config) (Conn, error) {
	if len(cfg.ProxyCommand) == 0 {
		return nil, fmt.Errorf("stdio backend requires a non-empty ProxyCommand")
	}
	cmd := exec.CommandContext(ctx, cfg.ProxyCommand[0], cfg.ProxyCommand[1:]...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("proxycommand stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("proxycommand stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("proxycommand start %q: %w", cfg.ProxyCommand[0], err)
	}

	pipe := &stdioPipe{cmd: cmd, stdin: stdin, stdout: stdout}
	return newStreamConn(pipe, "stdio:"+cfg.ProxyCommand[0]), nil
}
