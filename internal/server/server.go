// Package server implements the server role driver: capture+encode and
// capture+compress workers feeding one Session's media plane, input
// injection and clipboard exchange on the receive side, and the
// reconnect loop that accepts a fresh transport.Conn per client,
// generalizing the teacher's Server.acceptLoop/handleConn shape from a
// terminal multiplexer to a remote-desktop host.
package server

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/deskrelay/deskrelay/internal/audio"
	"github.com/deskrelay/deskrelay/internal/auth"
	"github.com/deskrelay/deskrelay/internal/category"
	"github.com/deskrelay/deskrelay/internal/clipboard"
	"github.com/deskrelay/deskrelay/internal/control"
	"github.com/deskrelay/deskrelay/internal/input"
	"github.com/deskrelay/deskrelay/internal/protocol"
	"github.com/deskrelay/deskrelay/internal/session"
	"github.com/deskrelay/deskrelay/internal/stats"
	"github.com/deskrelay/deskrelay/internal/transport"
	"github.com/deskrelay/deskrelay/internal/video"
)

// discardHandler is the same zero-overhead no-op slog.Handler the client
// role driver uses when --profile is off.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

const statsInterval = 1 * time.Second

// Config holds server configuration, populated by cmd/deskrelay-server
// before Run is ever called. Internal packages never read a config
// source themselves.
type Config struct {
	Transport        transport.Config
	KeepListen       bool // accept a new client after the current one disconnects
	ServerCodecs     []string
	Authenticators   []auth.Authenticator
	EncoderBinary    string
	OptionsHook      video.OptionsHook
	MaxStallImg      int
	MaxFPS           int
	AllowPrint       bool
	AudioEnabled     bool
	MaxAudioBufferMs int    // capture-side ring horizon; NewRing falls back to its default when zero
	ControlSocket    string // Unix socket path, empty disables hot reload
	CaptureDriver    video.CaptureDriver
	NewAudioCapture  func(ring *audio.Ring) (AudioCaptureDriver, error)
	KeyInjector      input.KeyInjector
	PointerInjector  input.PointerInjector
	ClipboardSource  clipboard.ClipboardSource
	ClipboardSink    clipboard.ClipboardSink
	Profile          bool
	Registry         prometheus.Registerer
}

// AudioCaptureDriver is the capture-side counterpart of audio.Ring: a
// backend pushes PCM into the ring as it becomes available (internal/audio's
// Capture on Linux, via PulseAudio). The ring itself is owned by the
// session, constructed fresh per connection, so NewAudioCapture takes the
// ring rather than Config holding a pre-built driver.
type AudioCaptureDriver interface {
	Close() error
}

// Server accepts one (or, with KeepListen, a sequence of) client
// connections and drives the media/input/clipboard planes for each.
type Server struct {
	cfg     Config
	log     *slog.Logger
	metrics *stats.Collector
}

// New creates a Server with the given config.
func New(cfg Config) *Server {
	var logger *slog.Logger
	if cfg.Profile {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil)).With("component", "server")
	} else {
		logger = slog.New(discardHandler{})
	}
	reg := cfg.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &Server{
		cfg:     cfg,
		log:     logger,
		metrics: stats.NewCollector(reg, nil),
	}
}

// Run binds the listener and accepts connections until ctx is cancelled.
// With KeepListen off, Run returns after the first client's session ends.
func (s *Server) Run(ctx context.Context) error {
	ln, err := transport.Listen(s.cfg.Transport)
	if err != nil {
		return category.Wrap(category.Transport, err)
	}
	defer ln.Close()

	var ctrl *control.Socket
	defer func() {
		if ctrl != nil {
			ctrl.Close()
		}
	}()
	if s.cfg.ControlSocket != "" {
		ctrl, err = control.Listen(s.cfg.ControlSocket, s.log)
		if err != nil {
			return err
		}
	}

	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return category.Wrap(category.Transport, err)
		}

		sess, err := session.ServerAccept(ctx, conn, s.cfg.ServerCodecs, s.cfg.Authenticators, s.log)
		if err != nil {
			s.log.Warn("handshake failed", "remote", conn.RemoteAddr(), "err", err)
			conn.Close()
			if s.cfg.KeepListen {
				continue
			}
			return err
		}

		pipeline, err := s.newPipeline(ctx, sess)
		if err != nil {
			sess.Close(protocol.ByeProtocolError)
			if s.cfg.KeepListen {
				continue
			}
			return err
		}

		var reloadSocket *control.Socket
		if ctrl != nil {
			reloadSocket = ctrl
			go reloadSocket.Serve(pipeline.RequestReload)
		}

		err = s.runSession(ctx, sess, pipeline)
		pipeline.Close()
		if reloadSocket != nil {
			reloadSocket.Close()
			ctrl = nil
		}

		if !s.cfg.KeepListen {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.Info("client disconnected, awaiting next connection", "err", err)

		if s.cfg.ControlSocket != "" {
			ctrl, err = control.Listen(s.cfg.ControlSocket, s.log)
			if err != nil {
				return err
			}
		}
	}
}

func (s *Server) newPipeline(ctx context.Context, sess *session.Session) (*video.Pipeline, error) {
	factory := func(ctx context.Context, width, height int, format protocol.PixelFormat, opts video.Options) (video.Encoder, error) {
		return video.NewSubprocessEncoder(ctx, s.cfg.EncoderBinary, sess.Negotiated.Codec, format, width, height, opts)
	}
	return video.NewPipeline(factory, s.cfg.OptionsHook, video.Options{}, s.cfg.MaxStallImg, sess.Negotiated.PixelFormat, s.log), nil
}

// runSession drives one connection's full lifecycle: the capture/encode
// and capture/compress worker goroutines feeding video/audio frames into
// sess.Send, a periodic stats sample, and sess.Run's receive-side
// dispatch for input and clipboard messages. All workers share sessCtx
// so a Run failure tears every worker down together.
func (s *Server) runSession(ctx context.Context, sess *session.Session, pipeline *video.Pipeline) error {
	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	clip := clipboard.NewState(clipboard.SideServer, sess.Negotiated.ClipboardPolicy, s.cfg.AllowPrint)

	var ring *audio.Ring
	var audioPipeline *audio.Pipeline
	var audioCapture AudioCaptureDriver
	if sess.Negotiated.AudioEnabled && s.cfg.AudioEnabled {
		ring = audio.NewRing(s.cfg.MaxAudioBufferMs / audio.FrameMillis)
		comp, err := audio.NewCompressor()
		if err != nil {
			return err
		}
		audioPipeline = audio.NewPipeline(ring, comp)

		if s.cfg.NewAudioCapture != nil {
			audioCapture, err = s.cfg.NewAudioCapture(ring)
			if err != nil {
				return category.Wrap(category.Audio, err)
			}
			defer audioCapture.Close()
		}
	}

	go s.videoWorker(sessCtx, sess, pipeline)
	if audioPipeline != nil {
		go s.audioWorker(sessCtx, sess, audioPipeline)
	}
	go s.statsWorker(sessCtx, sess)
	if s.cfg.ClipboardSource != nil {
		go s.clipboardWorker(sessCtx, sess, clip)
	}

	h := &handler{s: s, clip: clip, pressed: input.NewPressedSet()}
	err := sess.Run(sessCtx, h)

	// Guaranteed key release on disconnect, per §4.6: synthesize a key-up
	// through the injector for anything left held when the session ends.
	if s.cfg.KeyInjector != nil {
		for _, keycode := range h.pressed.ReleaseAll() {
			if injErr := s.cfg.KeyInjector.InjectKey(keycode, false); injErr != nil {
				s.log.Warn("failed to release stuck key", "keycode", keycode, "err", injErr)
			}
		}
	}

	return err
}

func (s *Server) videoWorker(ctx context.Context, sess *session.Session, pipeline *video.Pipeline) {
	pacer := video.NewPacer(s.cfg.MaxFPS)
	defer pacer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pacer.C():
			pacer.Tick()
			if s.cfg.CaptureDriver == nil {
				continue
			}
			img, err := s.cfg.CaptureDriver.Capture()
			if err != nil {
				s.log.Warn("capture failed", "err", err)
				continue
			}
			img.DirtyRegions = video.Clamp(video.MergeRects(img.DirtyRegions), img.Width, img.Height)
			frames, err := pipeline.Tick(ctx, img)
			if err != nil {
				if category.Fatal(err) {
					s.log.Error("fatal video pipeline error", "err", err)
					return
				}
				s.log.Warn("dropping video frame after codec error", "err", err)
				continue
			}
			if rc := pipeline.TakeResize(); rc != nil {
				if err := sess.Send(rc); err != nil {
					return
				}
			}
			for _, f := range frames {
				s.metrics.RecordVideoFrame(len(f.EncodedBytes))
				if err := sess.Send(f); err != nil {
					return
				}
			}
		}
	}
}

func (s *Server) audioWorker(ctx context.Context, sess *session.Session, pipeline *audio.Pipeline) {
	ticker := time.NewTicker(audio.FrameMillis * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frames, err := pipeline.Tick()
			if err != nil {
				s.log.Warn("audio compress error", "err", err)
				continue
			}
			for _, f := range frames {
				s.metrics.RecordAudioFrame()
				if err := sess.Send(f); err != nil {
					return
				}
			}
		}
	}
}

func (s *Server) statsWorker(ctx context.Context, sess *session.Session) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sess.Send(s.metrics.Sample())
		}
	}
}

func (s *Server) clipboardWorker(ctx context.Context, sess *session.Session, clip *clipboard.State) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sel, ok, err := s.cfg.ClipboardSource.Poll()
			if err != nil || !ok {
				continue
			}
			if msg := clip.OnLocalSelectionChanged(sel); msg != nil {
				sess.Send(msg)
			}
		}
	}
}

// handler adapts Server's receive-side logic to session.Handler: key and
// pointer injection and clipboard install.
type handler struct {
	s       *Server
	clip    *clipboard.State
	pressed *input.PressedSet
}

func (h *handler) HandleMessage(msg any) error {
	switch m := msg.(type) {
	case *protocol.KeyEvent:
		if m.Down {
			h.pressed.Press(m.RawKeycode)
		} else {
			h.pressed.Release(m.RawKeycode)
		}
		if h.s.cfg.KeyInjector == nil {
			return nil
		}
		return category.Wrap(category.Display, h.s.cfg.KeyInjector.InjectKey(m.RawKeycode, m.Down))

	case *protocol.PointerMotion:
		if h.s.cfg.PointerInjector == nil {
			return nil
		}
		return category.Wrap(category.Display, h.s.cfg.PointerInjector.InjectMotion(int(m.X), int(m.Y)))

	case *protocol.PointerButton:
		if h.s.cfg.PointerInjector == nil {
			return nil
		}
		return category.Wrap(category.Display, h.s.cfg.PointerInjector.InjectButton(m.Button, m.Down))

	case *protocol.ClipboardData:
		if h.s.cfg.ClipboardSink == nil {
			return nil
		}
		sel := h.clip.OnRemoteData(m)
		return h.s.cfg.ClipboardSink.Install(sel)

	case *protocol.ClipboardRequest:
		return nil

	default:
		return nil
	}
}
