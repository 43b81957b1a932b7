// Package client implements the client role driver: video consumer,
// audio consumer, input producer, and clipboard bridge composed over one
// session.Session, generalizing the teacher's Client.ioLoop reconnect
// shape from a terminal relay to a remote-desktop surface.
package client

import (
	"context"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/deskrelay/deskrelay/internal/audio"
	"github.com/deskrelay/deskrelay/internal/category"
	"github.com/deskrelay/deskrelay/internal/clipboard"
	"github.com/deskrelay/deskrelay/internal/input"
	"github.com/deskrelay/deskrelay/internal/protocol"
	"github.com/deskrelay/deskrelay/internal/session"
	"github.com/deskrelay/deskrelay/internal/stats"
	"github.com/deskrelay/deskrelay/internal/transport"
	"github.com/deskrelay/deskrelay/internal/video"
)

// displayPixelFormat is the packed format frames are colour-converted into
// before Display.Present — the packed layout colorconv's RGBX8888 side
// already produces, so no further conversion happens on the hot path when
// the negotiated codec's format and this differ only by channel order.
const displayPixelFormat = protocol.PixelRGBX8888

// discardHandler is a no-op slog handler, the default when --profile is
// off — same zero-overhead-logging idiom the teacher's client uses.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

const reconnectDelay = 1 * time.Second

// Display presents a decoded raw frame of the negotiated pixel format.
// The OS presentation surface is out of scope; a real backend is wired
// in by cmd/deskrelay-client.
type Display interface {
	Present(frame []byte, width, height int) error
}

// Config holds client configuration, populated entirely by cmd/deskrelay-client
// from flags/INI before Run is ever called — the internal package never
// reads configuration sources itself, per the ambient config boundary.
type Config struct {
	Transport       transport.Config
	Hello           *protocol.Hello
	Respond         func(protocol.AuthMethod) (*protocol.AuthResponse, error)
	DecoderBinary   string
	Display         Display
	KeyCapturer     input.KeyCapturer
	PointerCapturer input.PointerCapturer
	ClipboardSource clipboard.ClipboardSource
	ClipboardSink   clipboard.ClipboardSink
	AudioEnabled    bool
	MaxAudioBufferMs int
	NewAudioOutput  func(play *audio.Playback) (AudioOutputDriver, error)
	Profile         bool
}

// AudioOutputDriver is the playback-side counterpart of audio.Playback: a
// backend pulls PCM from the queue and writes it to a real sink
// (internal/audio's Output, via PulseAudio, on Linux). Mirrors
// server.AudioCaptureDriver's factory shape — Playback, like audio.Ring,
// doesn't exist until codec setup completes for this connection.
type AudioOutputDriver interface {
	Close() error
}

// Client is the desktop-facing half of a reconnectable streaming
// session: it dials transport.Dial, drives the session handshake, and
// relays video/audio/input/clipboard until told to stop.
type Client struct {
	cfg     Config
	log     *slog.Logger
	pressed *input.PressedSet
	clip    *clipboard.State
	decoder     video.Decoder
	decoderFmt  protocol.PixelFormat
	playback    *audio.Playback
	decomp      *audio.Decompressor
	output      AudioOutputDriver
	metrics     *stats.Collector
	frameW      atomic.Int32 // last VideoFrame's dimensions, for pointer scaling
	frameH      atomic.Int32
}

// New creates a Client with the given config.
func New(cfg Config) *Client {
	var logger *slog.Logger
	if cfg.Profile {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil)).With("component", "client")
	} else {
		logger = slog.New(discardHandler{})
	}
	return &Client{
		cfg:     cfg,
		log:     logger,
		pressed: input.NewPressedSet(),
	}
}

// Run connects, drives the handshake, and relays the session until ctx
// is cancelled or the peer ends the session with Bye. Failed connections
// retry after reconnectDelay, mirroring the teacher's Client.Run loop.
func (c *Client) Run(ctx context.Context) error {
	for {
		conn, err := transport.Dial(ctx, c.cfg.Transport)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn("dial failed, retrying", "err", err, "delay", reconnectDelay)
			if !sleepOrDone(ctx, reconnectDelay) {
				return ctx.Err()
			}
			continue
		}

		sess, err := session.ClientDial(ctx, conn, c.cfg.Hello, c.cfg.Respond, c.log)
		if err != nil {
			c.log.Warn("handshake failed, retrying", "err", err)
			conn.Close()
			if !sleepOrDone(ctx, reconnectDelay) {
				return ctx.Err()
			}
			continue
		}

		c.clip = clipboard.NewState(clipboard.SideClient, sess.Negotiated.ClipboardPolicy, false)

		if err := c.setupCodecs(ctx, sess); err != nil {
			c.log.Warn("codec setup failed, retrying", "err", err)
			sess.Close(protocol.ByeProtocolError)
			if !sleepOrDone(ctx, reconnectDelay) {
				return ctx.Err()
			}
			continue
		}

		err = c.runSession(ctx, sess)
		c.teardownCodecs()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Info("session ended, reconnecting", "err", err, "delay", reconnectDelay)
		if !sleepOrDone(ctx, reconnectDelay) {
			return ctx.Err()
		}
	}
}

func (c *Client) setupCodecs(ctx context.Context, sess *session.Session) error {
	c.decoderFmt = sess.Negotiated.PixelFormat
	dec, err := video.NewSubprocessDecoder(ctx, c.cfg.DecoderBinary, sess.Negotiated.Codec, c.decoderFmt, int(sess.Negotiated.ScreenW), int(sess.Negotiated.ScreenH))
	if err != nil {
		return category.Wrap(category.Codec, err)
	}
	c.decoder = dec
	c.frameW.Store(int32(sess.Negotiated.ScreenW))
	c.frameH.Store(int32(sess.Negotiated.ScreenH))

	if sess.Negotiated.AudioEnabled && c.cfg.AudioEnabled {
		decomp, err := audio.NewDecompressor()
		if err != nil {
			dec.Close()
			return err
		}
		c.decomp = decomp
		c.playback = audio.NewPlayback(c.cfg.MaxAudioBufferMs)

		if c.cfg.NewAudioOutput != nil {
			output, err := c.cfg.NewAudioOutput(c.playback)
			if err != nil {
				dec.Close()
				return err
			}
			c.output = output
		}
	}
	return nil
}

// resizeDecoder recreates the decoder at the server's new capture
// dimensions, per §4.4's resize sequence: the client resizes its display
// surface before decoding the next VideoFrame. The old decoder is closed
// first since a subprocess decoder can't be resized in place.
func (c *Client) resizeDecoder(ctx context.Context, sess *session.Session, width, height int) error {
	if c.decoder != nil {
		c.decoder.Close()
	}
	dec, err := video.NewSubprocessDecoder(ctx, c.cfg.DecoderBinary, sess.Negotiated.Codec, c.decoderFmt, width, height)
	if err != nil {
		return category.Wrap(category.Codec, err)
	}
	c.decoder = dec
	c.frameW.Store(int32(width))
	c.frameH.Store(int32(height))
	return nil
}

func (c *Client) teardownCodecs() {
	if c.decoder != nil {
		c.decoder.Close()
		c.decoder = nil
	}
	if c.output != nil {
		c.output.Close()
		c.output = nil
	}
	c.decomp = nil
	c.playback = nil
}

// handler adapts Client's per-message logic to session.Handler.
type handler struct {
	c    *Client
	sess *session.Session
	ctx  context.Context
}

func (h handler) HandleMessage(msg any) error {
	return h.c.handleMessage(h.ctx, h.sess, msg)
}

func (c *Client) handleMessage(ctx context.Context, sess *session.Session, msg any) error {
	switch m := msg.(type) {
	case *protocol.VideoFrame:
		frame, err := c.decoder.Decode(m.EncodedBytes)
		if err != nil {
			return category.Wrap(category.Codec, err)
		}
		c.frameW.Store(int32(m.Width))
		c.frameH.Store(int32(m.Height))
		if frame == nil || c.cfg.Display == nil {
			return nil
		}
		rgbx, err := video.ConvertPixels(frame, int(m.Width), int(m.Height), int(m.Width)*4, c.decoderFmt, displayPixelFormat)
		if err != nil {
			return category.Wrap(category.Codec, err)
		}
		return c.cfg.Display.Present(rgbx, int(m.Width), int(m.Height))

	case *protocol.AudioFrame:
		if c.decomp == nil {
			return nil
		}
		pcm, err := c.decomp.Decode(m.EncodedBytes)
		if err != nil {
			return category.Wrap(category.Codec, err)
		}
		c.playback.Push(pcm)
		return nil

	case *protocol.ClipboardData:
		if c.cfg.ClipboardSink == nil {
			return nil
		}
		sel := c.clip.OnRemoteData(m)
		return c.cfg.ClipboardSink.Install(clipboard.Selection{MIME: sel.MIME, Data: sel.Data})

	case *protocol.ResolutionChange:
		return c.resizeDecoder(ctx, sess, int(m.Width), int(m.Height))

	case *protocol.Cursor, *protocol.Stats:
		return nil

	default:
		return nil
	}
}

// runSession drives one connection's event loop: permanent input/
// clipboard polling goroutines feeding into session.Session.Run's
// message dispatch, mirroring the teacher's permanent-goroutine +
// dispatching-select-loop shape.
func (c *Client) runSession(ctx context.Context, sess *session.Session) error {
	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if c.cfg.KeyCapturer != nil {
		go c.pollKeys(sessCtx, sess)
	}
	if c.cfg.PointerCapturer != nil {
		go c.pollPointer(sessCtx, sess)
	}
	if c.cfg.ClipboardSource != nil {
		go c.pollClipboard(sessCtx, sess)
	}

	err := sess.Run(sessCtx, handler{c: c, sess: sess, ctx: sessCtx})

	// Guaranteed key release on disconnect, per §4.6.
	c.pressed.ReleaseAll()

	return err
}

func (c *Client) pollKeys(ctx context.Context, sess *session.Session) {
	for {
		if ctx.Err() != nil {
			return
		}
		keycode, down, err := c.cfg.KeyCapturer.Next()
		if err != nil {
			return
		}
		var action input.Action
		if down {
			action = c.pressed.Press(keycode)
		} else {
			c.pressed.Release(keycode)
		}
		switch action {
		case input.ActionReleaseGrab, input.ActionToggleStats:
			continue // intercepted locally, never forwarded
		case input.ActionClipboardTrigger:
			if c.clip != nil {
				if msg := c.clip.OnHotkeyTrigger(); msg != nil {
					sess.Send(msg)
				}
			}
			continue
		}
		sess.Send(&protocol.KeyEvent{RawKeycode: keycode, Down: down})
	}
}

func (c *Client) pollPointer(ctx context.Context, sess *session.Session) {
	for {
		if ctx.Err() != nil {
			return
		}
		ev, err := c.cfg.PointerCapturer.Next()
		if err != nil {
			return
		}
		if ev.IsButton {
			sess.Send(&protocol.PointerButton{Button: ev.Button, Down: ev.ButtonDown})
		} else {
			x, y := c.scalePointer(sess, ev.X, ev.Y)
			sess.Send(&protocol.PointerMotion{X: int32(x), Y: int32(y)})
		}
	}
}

// scalePointer maps a coordinate relative to the local capture surface
// (the size hinted in Hello) to the server's current framebuffer, tracked
// from the most recently decoded VideoFrame's dimensions, per §4.6.
func (c *Client) scalePointer(sess *session.Session, x, y int) (int, int) {
	surfaceW, surfaceH := int(sess.Negotiated.ScreenW), int(sess.Negotiated.ScreenH)
	frameW, frameH := int(c.frameW.Load()), int(c.frameH.Load())
	if frameW <= 0 || frameH <= 0 {
		frameW, frameH = surfaceW, surfaceH
	}
	return input.ScalePointer(x, y, surfaceW, surfaceH, frameW, frameH)
}

func (c *Client) pollClipboard(ctx context.Context, sess *session.Session) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sel, ok, err := c.cfg.ClipboardSource.Poll()
			if err != nil || !ok {
				continue
			}
			if msg := c.clip.OnLocalSelectionChanged(clipboard.Selection{MIME: sel.MIME, Data: sel.Data}); msg != nil {
				sess.Send(msg)
			}
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
