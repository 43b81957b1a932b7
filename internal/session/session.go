package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/deskrelay/deskrelay/internal/auth"
	"github.com/deskrelay/deskrelay/internal/category"
	"github.com/deskrelay/deskrelay/internal/protocol"
	"github.com/deskrelay/deskrelay/internal/transport"
)

const (
	heartbeatInterval = 5 * time.Second
	handshakeTimeout  = 10 * time.Second
)

// Handler receives decoded messages once a Session reaches STREAMING.
// Role drivers (server, client, proxy) implement this with a type switch,
// the same shape as the teacher's handleStreamEvent.
type Handler interface {
	HandleMessage(msg any) error
}

// Negotiated holds the outcome of the NEGOTIATE step, valid once the
// Session reaches STREAMING.
type Negotiated struct {
	Codec           string
	PixelFormat     protocol.PixelFormat
	ClipboardPolicy protocol.ClipboardPolicy
	AudioEnabled    bool
	ScreenW, ScreenH uint16
}

// Session wraps one transport.Conn with the handshake state machine and
// the post-handshake message loop. A Session is single-connection; the
// server and client role drivers own the reconnect loop that constructs a
// fresh Session per accepted/dialed transport.Conn and compare a
// generation counter the way the teacher's handleStreamEvent compares
// ev.conn against s.conn to discard stale events after a reconnect.
type Session struct {
	conn  transport.Conn
	state State
	log   *slog.Logger

	Negotiated Negotiated

	writeMu sync.Mutex
}

// ServerAccept drives the server side of the handshake on a freshly
// accepted transport.Conn: receive Hello, pick an auth method and
// challenge, verify the client's response, negotiate codec/clipboard, and
// send ServerHello. Returns a Session in STREAMING state on success.
func ServerAccept(ctx context.Context, conn transport.Conn, serverCodecs []string, authenticators []auth.Authenticator, log *slog.Logger) (*Session, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &Session{conn: conn, state: StateInit, log: log}

	deadline := time.Now().Add(handshakeTimeout)
	conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})

	msg, err := conn.Recv()
	if err != nil {
		return nil, category.Wrap(category.Transport, err)
	}
	hello, ok := msg.(*protocol.Hello)
	if !ok {
		return nil, category.Wrapf(category.Protocol, "expected Hello, got %T", msg)
	}
	if hello.ProtoVersion != protocol.Version {
		conn.Send(&protocol.Bye{Reason: protocol.ByeVersion})
		return nil, category.Wrapf(category.Protocol, "client protocol version %d, want %d", hello.ProtoVersion, protocol.Version)
	}
	s.state = StateHelloSent

	codec, ok := NegotiateCodec(serverCodecs, hello.SupportedCodecs)
	if !ok {
		conn.Send(&protocol.Bye{Reason: protocol.ByeProtocolError})
		return nil, category.Wrapf(category.Protocol, "no common codec: server=%v client=%v", serverCodecs, hello.SupportedCodecs)
	}

	if len(authenticators) == 0 {
		conn.Send(&protocol.Bye{Reason: protocol.ByeAuth})
		return nil, category.Wrapf(category.Auth, "no authenticators configured")
	}

	methods := make([]protocol.AuthMethod, len(authenticators))
	for i, a := range authenticators {
		methods[i] = a.Method()
	}
	if err := conn.Send(&protocol.ServerHello{
		ProtoVersion:     protocol.Version,
		ChosenCandidates: []string{codec},
		AuthMethods:      methods,
	}); err != nil {
		return nil, category.Wrap(category.Transport, err)
	}
	s.state = StateAuth

	challenge, err := authenticators[0].Challenge()
	if err != nil {
		return nil, err
	}
	if err := conn.Send(challenge); err != nil {
		return nil, category.Wrap(category.Transport, err)
	}

	if _, err := s.serverAuth(authenticators); err != nil {
		conn.Send(&protocol.Bye{Reason: protocol.ByeAuth})
		return nil, err
	}
	s.state = StateNegotiate

	s.Negotiated = Negotiated{
		Codec:           codec,
		PixelFormat:     PixelFormatForCodec(codec),
		ClipboardPolicy: hello.ClipboardPolicy,
		AudioEnabled:    hello.AudioWanted,
		ScreenW:         hello.ScreenHintW,
		ScreenH:         hello.ScreenHintH,
	}
	s.state = StateStreaming
	return s, nil
}

// serverAuth reads one AuthResponse and verifies it against the
// authenticator matching the response's advertised method.
func (s *Session) serverAuth(authenticators []auth.Authenticator) (auth.Authenticator, error) {
	msg, err := s.conn.Recv()
	if err != nil {
		return nil, category.Wrap(category.Transport, err)
	}
	resp, ok := msg.(*protocol.AuthResponse)
	if !ok {
		return nil, category.Wrapf(category.Protocol, "expected AuthResponse, got %T", msg)
	}
	for _, a := range authenticators {
		if a.Method() != resp.Method {
			continue
		}
		state := s.conn.LocalTLSState()
		if err := a.Verify(state, resp); err != nil {
			return nil, err
		}
		if err := s.conn.Send(&protocol.AuthResponse{Method: resp.Method, Ok: true}); err != nil {
			return nil, category.Wrap(category.Transport, err)
		}
		return a, nil
	}
	return nil, category.Wrapf(category.Auth, "no authenticator configured for method %v", resp.Method)
}

// ClientDial drives the client side of the handshake on a freshly dialed
// transport.Conn: send Hello, receive ServerHello, respond to the
// server's chosen auth method, and wait for the AuthResponse confirming
// acceptance. respond produces the AuthResponse for whichever method the
// server selects from hello.
func ClientDial(ctx context.Context, conn transport.Conn, hello *protocol.Hello, respond func(method protocol.AuthMethod) (*protocol.AuthResponse, error), log *slog.Logger) (*Session, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &Session{conn: conn, state: StateInit, log: log}

	deadline := time.Now().Add(handshakeTimeout)
	conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})

	if err := conn.Send(hello); err != nil {
		return nil, category.Wrap(category.Transport, err)
	}
	s.state = StateHelloSent

	msg, err := conn.Recv()
	if err != nil {
		return nil, category.Wrap(category.Transport, err)
	}
	serverHello, ok := msg.(*protocol.ServerHello)
	if !ok {
		return nil, category.Wrapf(category.Protocol, "expected ServerHello, got %T", msg)
	}
	if serverHello.ProtoVersion != protocol.Version {
		return nil, category.Wrapf(category.Protocol, "server protocol version %d, want %d", serverHello.ProtoVersion, protocol.Version)
	}
	if len(serverHello.ChosenCandidates) == 0 {
		return nil, category.Wrapf(category.Protocol, "server chose no codec")
	}
	if len(serverHello.AuthMethods) == 0 {
		return nil, category.Wrapf(category.Auth, "server offered no auth methods")
	}
	s.state = StateAuth

	msg, err = conn.Recv()
	if err != nil {
		return nil, category.Wrap(category.Transport, err)
	}
	challenge, ok := msg.(*protocol.AuthChallenge)
	if !ok {
		return nil, category.Wrapf(category.Protocol, "expected AuthChallenge, got %T", msg)
	}

	resp, err := respond(challenge.Method)
	if err != nil {
		return nil, err
	}
	if err := conn.Send(resp); err != nil {
		return nil, category.Wrap(category.Transport, err)
	}

	msg, err = conn.Recv()
	if err != nil {
		return nil, category.Wrap(category.Transport, err)
	}
	ack, ok := msg.(*protocol.AuthResponse)
	if !ok {
		return nil, category.Wrapf(category.Protocol, "expected AuthResponse ack, got %T", msg)
	}
	if !ack.Ok {
		return nil, category.Wrapf(category.Auth, "server rejected authentication: %s", ack.Message)
	}
	s.state = StateNegotiate

	codec := serverHello.ChosenCandidates[0]
	s.Negotiated = Negotiated{
		Codec:           codec,
		PixelFormat:     PixelFormatForCodec(codec),
		ClipboardPolicy: hello.ClipboardPolicy,
		AudioEnabled:    hello.AudioWanted,
		ScreenW:         hello.ScreenHintW,
		ScreenH:         hello.ScreenHintH,
	}
	s.state = StateStreaming
	return s, nil
}

// State reports the session's current handshake/lifecycle state.
func (s *Session) State() State { return s.state }

// Send writes one message, serialized against concurrent senders.
func (s *Session) Send(msg any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.Send(msg); err != nil {
		return category.Wrap(category.Transport, err)
	}
	return nil
}

// Close sends a clean Bye (best-effort) and closes the underlying conn.
func (s *Session) Close(reason protocol.ByeReason) error {
	if s.state == StateClosed {
		return nil
	}
	s.state = StateClosing
	s.Send(&protocol.Bye{Reason: reason})
	s.state = StateClosed
	return s.conn.Close()
}

// Run reads messages until the connection fails or ctx is cancelled,
// dispatching each to handler and sending periodic heartbeats via the
// Stats message cadence owned by the caller (role drivers decide what a
// heartbeat carries — Run itself only drives the read loop and fatal
// error classification from internal/category).
func (s *Session) Run(ctx context.Context, handler Handler) error {
	type readResult struct {
		msg any
		err error
	}
	ch := make(chan readResult, 8)
	go func() {
		for {
			msg, err := s.conn.Recv()
			select {
			case ch <- readResult{msg, err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case res := <-ch:
			if res.err != nil {
				return category.Wrap(category.Transport, res.err)
			}
			if bye, ok := res.msg.(*protocol.Bye); ok {
				return fmt.Errorf("peer closed session: %s", bye.Reason)
			}
			if err := handler.HandleMessage(res.msg); err != nil {
				if category.Fatal(err) {
					return err
				}
				s.log.Warn("non-fatal codec error, dropping frame", "err", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
