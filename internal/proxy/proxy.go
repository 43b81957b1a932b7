// Package proxy implements the proxy role driver: one server-role
// transport leg facing a real client and one client-role transport leg
// facing a real server, composed back-to-back behind a single session
// record. Media messages are passed through byte-for-byte unless
// --transcode is set, in which case video frames are decoded and
// re-encoded across the two legs' negotiated codecs — grounded on
// original Sanzu's sanzu-broker relay, which performs the analogous
// selective rewrite over an otherwise transparent stream.
package proxy

import (
	"context"
	"log/slog"
	"os"

	"github.com/deskrelay/deskrelay/internal/auth"
	"github.com/deskrelay/deskrelay/internal/category"
	"github.com/deskrelay/deskrelay/internal/protocol"
	"github.com/deskrelay/deskrelay/internal/session"
	"github.com/deskrelay/deskrelay/internal/transport"
	"github.com/deskrelay/deskrelay/internal/video"
)

// discardHandler is the same zero-overhead no-op slog.Handler the other
// two role drivers use when --profile is off.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// Config holds proxy configuration, populated by cmd/deskrelay-proxy
// before Run is ever called.
type Config struct {
	Downstream      transport.Config // listens here, playing the server role to the real client
	DownstreamCodecs []string
	Authenticators  []auth.Authenticator
	KeepListen      bool

	Upstream        transport.Config // dials here, playing the client role to the real server
	UpstreamHello   *protocol.Hello  // template: SupportedCodecs carried verbatim, the rest overridden per connection
	UpstreamRespond func(protocol.AuthMethod) (*protocol.AuthResponse, error)

	Transcode     bool
	EncoderBinary string
	DecoderBinary string

	Profile bool
}

// Proxy relays one (or, with KeepListen, a sequence of) client session(s)
// through to one upstream server.
type Proxy struct {
	cfg Config
	log *slog.Logger
}

// New creates a Proxy with the given config.
func New(cfg Config) *Proxy {
	var logger *slog.Logger
	if cfg.Profile {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil)).With("component", "proxy")
	} else {
		logger = slog.New(discardHandler{})
	}
	return &Proxy{cfg: cfg, log: logger}
}

// Run binds the downstream listener and relays connections until ctx is
// cancelled. With KeepListen off, Run returns after the first client's
// session ends.
func (p *Proxy) Run(ctx context.Context) error {
	ln, err := transport.Listen(p.cfg.Downstream)
	if err != nil {
		return category.Wrap(category.Transport, err)
	}
	defer ln.Close()

	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return category.Wrap(category.Transport, err)
		}

		err = p.relay(ctx, conn)
		if !p.cfg.KeepListen {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.log.Info("relayed session ended, awaiting next connection", "err", err)
	}
}

// relay drives one client-to-server relay end to end: accept the
// downstream handshake, dial and drive the upstream handshake with the
// downstream's negotiated parameters carried over, then run both
// directions' pumps until either leg ends.
func (p *Proxy) relay(ctx context.Context, downConn transport.Conn) error {
	downSess, err := session.ServerAccept(ctx, downConn, p.cfg.DownstreamCodecs, p.cfg.Authenticators, p.log)
	if err != nil {
		p.log.Warn("downstream handshake failed", "remote", downConn.RemoteAddr(), "err", err)
		downConn.Close()
		return err
	}
	defer downSess.Close(protocol.ByeShutdown)

	hello := &protocol.Hello{
		ProtoVersion:    protocol.Version,
		SupportedCodecs: p.cfg.UpstreamHello.SupportedCodecs,
		ScreenHintW:     downSess.Negotiated.ScreenW,
		ScreenHintH:     downSess.Negotiated.ScreenH,
		AudioWanted:     downSess.Negotiated.AudioEnabled,
		ClipboardPolicy: downSess.Negotiated.ClipboardPolicy,
	}

	upConn, err := transport.Dial(ctx, p.cfg.Upstream)
	if err != nil {
		return category.Wrap(category.Transport, err)
	}
	upSess, err := session.ClientDial(ctx, upConn, hello, p.cfg.UpstreamRespond, p.log)
	if err != nil {
		upConn.Close()
		return err
	}
	defer upSess.Close(protocol.ByeShutdown)

	var transcoder *videoTranscoder
	if downSess.Negotiated.Codec != upSess.Negotiated.Codec {
		if !p.cfg.Transcode {
			return category.Wrapf(category.Codec, "codec mismatch between legs (downstream=%s upstream=%s) and transcoding is disabled", downSess.Negotiated.Codec, upSess.Negotiated.Codec)
		}
		fromCodec, toCodec := upSess.Negotiated.Codec, downSess.Negotiated.Codec
		transcoder = &videoTranscoder{
			fromFormat: upSess.Negotiated.PixelFormat,
			toFormat:   downSess.Negotiated.PixelFormat,
			newDecoder: func(ctx context.Context, width, height int, format protocol.PixelFormat) (video.Decoder, error) {
				return video.NewSubprocessDecoder(ctx, p.cfg.DecoderBinary, fromCodec, format, width, height)
			},
			newEncoder: func(ctx context.Context, width, height int, format protocol.PixelFormat, opts video.Options) (video.Encoder, error) {
				return video.NewSubprocessEncoder(ctx, p.cfg.EncoderBinary, toCodec, format, width, height, opts)
			},
		}
		defer transcoder.Close()
	}

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	downstream := &mediaHandler{log: p.log, ctx: sessCtx, peer: downSess, transcoder: transcoder}
	upstream := &passthroughHandler{peer: upSess}

	errCh := make(chan error, 2)
	go func() { errCh <- upSess.Run(sessCtx, downstream) }()
	go func() { errCh <- downSess.Run(sessCtx, upstream) }()

	err = <-errCh
	cancel()
	<-errCh
	return err
}

// mediaHandler forwards messages received from the upstream (server) leg
// to the downstream (client) leg, transcoding VideoFrame payloads when
// transcoder is non-nil. Everything else, including AudioFrame (opus is
// the sole negotiated audio codec, so there is never a mismatch to
// transcode), Cursor, ResolutionChange, Stats, and ClipboardData, passes
// through unchanged.
type mediaHandler struct {
	log        *slog.Logger
	ctx        context.Context
	peer       *session.Session
	transcoder *videoTranscoder
}

func (h *mediaHandler) HandleMessage(msg any) error {
	frame, ok := msg.(*protocol.VideoFrame)
	if !ok || h.transcoder == nil {
		return h.peer.Send(msg)
	}
	out, err := h.transcoder.transcode(h.ctx, frame)
	if err != nil {
		if category.Fatal(err) {
			return err
		}
		h.log.Warn("dropping frame after transcode error", "err", err)
		return nil
	}
	for _, f := range out {
		if err := h.peer.Send(f); err != nil {
			return err
		}
	}
	return nil
}

// passthroughHandler forwards every message received from the downstream
// (client) leg to the upstream (server) leg unchanged: input and
// clipboard messages never need codec rewriting.
type passthroughHandler struct {
	peer *session.Session
}

func (h *passthroughHandler) HandleMessage(msg any) error {
	return h.peer.Send(msg)
}

// videoTranscoder decodes incoming frames and re-encodes them for the
// peer leg's negotiated codec, recreating the decoder/encoder pair
// whenever the frame dimensions change. Constructed lazily from the
// first frame seen, since VideoFrame carries its own width/height and
// the proxy never negotiates a capture size of its own. newDecoder/
// newEncoder are factories rather than direct subprocess constructors so
// tests can substitute fakes, the same injection shape video.Pipeline
// uses for its own encoder lifecycle.
type videoTranscoder struct {
	newDecoder video.DecoderFactory
	newEncoder video.EncoderFactory

	// fromFormat/toFormat are the pixel formats the upstream and
	// downstream legs' codecs negotiated; transcode colour-converts
	// between them when they differ, the same way Pipeline.Tick does for
	// a capture driver's raw format.
	fromFormat, toFormat protocol.PixelFormat

	dec           video.Decoder
	enc           video.Encoder
	width, height int
}

func (t *videoTranscoder) transcode(ctx context.Context, frame *protocol.VideoFrame) ([]*protocol.VideoFrame, error) {
	if t.dec == nil || int(frame.Width) != t.width || int(frame.Height) != t.height {
		if err := t.reset(ctx, int(frame.Width), int(frame.Height)); err != nil {
			return nil, err
		}
	}

	raw, err := t.dec.Decode(frame.EncodedBytes)
	if err != nil {
		return nil, category.Wrap(category.Codec, err)
	}
	raw, err = video.ConvertPixels(raw, t.width, t.height, t.width*4, t.fromFormat, t.toFormat)
	if err != nil {
		return nil, category.Wrap(category.Codec, err)
	}
	packets, err := t.enc.Encode(raw)
	if err != nil {
		return nil, category.Wrap(category.Codec, err)
	}

	out := make([]*protocol.VideoFrame, 0, len(packets))
	for _, pkt := range packets {
		out = append(out, &protocol.VideoFrame{
			Pts:          frame.Pts,
			Width:        frame.Width,
			Height:       frame.Height,
			EncodedBytes: pkt.Data,
		})
	}
	return out, nil
}

func (t *videoTranscoder) reset(ctx context.Context, width, height int) error {
	t.Close()
	dec, err := t.newDecoder(ctx, width, height, t.fromFormat)
	if err != nil {
		return category.Wrap(category.Codec, err)
	}
	enc, err := t.newEncoder(ctx, width, height, t.toFormat, video.Options{})
	if err != nil {
		dec.Close()
		return category.Wrap(category.Codec, err)
	}
	t.dec, t.enc, t.width, t.height = dec, enc, width, height
	return nil
}

// Close releases any live decoder/encoder pair. Safe to call multiple times.
func (t *videoTranscoder) Close() {
	if t.dec != nil {
		t.dec.Close()
		t.dec = nil
	}
	if t.enc != nil {
		t.enc.Close()
		t.enc = nil
	}
}
