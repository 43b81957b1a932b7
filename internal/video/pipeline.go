package video

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/deskrelay/deskrelay/internal/category"
	"github.com/deskrelay/deskrelay/internal/protocol"
)

// CapturedImage is one capture-tick input: a frame buffer plus the dirty
// regions the capture driver reports changed since the last tick. Dirty
// rects are expected pre-merged and clamped by the caller (MergeRects,
// Clamp) before being handed to Pipeline.Tick.
type CapturedImage struct {
	Width, Height, Stride int
	PixelFormat           protocol.PixelFormat
	Data                  []byte
	DirtyRegions          []Rect
}

// CaptureDriver supplies the next tick's CapturedImage. A concrete OS
// capture backend (X11/Windows GDI, or the --extern-img-source shared
// memory source) is out of scope; role drivers wire one in at startup.
type CaptureDriver interface {
	Capture() (*CapturedImage, error)
	Close() error
}

// EncoderFactory (re)creates an Encoder for the negotiated codec and
// current dimensions, merging the negotiated option map with whatever the
// ffmpeg_options_cmd hook produced for this (re)creation — step 3 of §4.4.
type EncoderFactory func(ctx context.Context, width, height int, format protocol.PixelFormat, opts Options) (Encoder, error)

// DecoderFactory (re)creates a Decoder for a negotiated codec and
// dimensions. Used by the proxy role's transcoder, which must rebuild
// its decoder whenever the incoming frame size changes.
type DecoderFactory func(ctx context.Context, width, height int, format protocol.PixelFormat) (Decoder, error)

// OptionsHook runs the configured ffmpeg_options_cmd and returns the
// options it produced, merged over the negotiated base options. A nil
// hook means no external reconfiguration source is configured.
type OptionsHook func() (Options, error)

// Pipeline implements the per-tick video algorithm: stall/resume policy,
// encoder lifecycle, and packet-to-VideoFrame emission with a monotonic
// pts counter. One Pipeline serves one Session's media plane.
type Pipeline struct {
	log           *slog.Logger
	factory       EncoderFactory
	hook          OptionsHook
	baseOpts      Options
	maxStall      int
	encoderFormat protocol.PixelFormat

	encoder          Encoder
	stalled          bool
	framesSinceMotion int
	pts              uint64
	reloadRequested  atomic.Bool

	lastWidth, lastHeight int
	pendingResize         *protocol.ResolutionChange
}

// NewPipeline constructs a Pipeline. maxStallImg is the dirty-free tick
// count after which the encoder is released (§4.4, §8 "Stall policy").
// encoderFormat is the pixel format the negotiated codec's encoder
// actually accepts; Tick colour-converts captured frames into it whenever
// the capture driver's own format differs.
func NewPipeline(factory EncoderFactory, hook OptionsHook, baseOpts Options, maxStallImg int, encoderFormat protocol.PixelFormat, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		log:           log,
		factory:       factory,
		hook:          hook,
		baseOpts:      baseOpts,
		maxStall:      maxStallImg,
		encoderFormat: encoderFormat,
		stalled:       true, // no encoder until the first dirty tick
	}
}

// RequestReload marks the next Tick call as the control-socket
// edge-triggered reload signal: release and recreate the encoder, rerun
// the options hook, even if no dirty regions are present.
func (p *Pipeline) RequestReload() { p.reloadRequested.Store(true) }

// TakeResize returns and clears any ResolutionChange produced by the most
// recent Tick call, or nil if the capture surface didn't resize. The
// caller must send it to the session before any VideoFrame Tick returned
// in the same call, per the resize ordering requirement.
func (p *Pipeline) TakeResize() *protocol.ResolutionChange {
	rc := p.pendingResize
	p.pendingResize = nil
	return rc
}

// Tick runs one pass of the per-tick algorithm against img, returning zero
// or more VideoFrame messages to send (ascending monotonic pts across the
// whole pipeline lifetime, per §4.4 step 3).
func (p *Pipeline) Tick(ctx context.Context, img *CapturedImage) ([]*protocol.VideoFrame, error) {
	reload := p.reloadRequested.Swap(false)

	resized := p.lastWidth != 0 && (img.Width != p.lastWidth || img.Height != p.lastHeight)
	if resized {
		p.pendingResize = &protocol.ResolutionChange{Width: uint16(img.Width), Height: uint16(img.Height)}
	}
	p.lastWidth, p.lastHeight = img.Width, img.Height

	if len(img.DirtyRegions) == 0 && !reload && !resized {
		if p.stalled {
			return nil, nil
		}
		p.framesSinceMotion++
		if p.framesSinceMotion >= p.maxStall {
			p.releaseEncoder()
			p.stalled = true
		}
		return nil, nil
	}

	if p.stalled || reload || resized {
		opts, err := p.mergedOptions()
		if err != nil {
			return nil, err
		}
		if p.encoder != nil {
			p.releaseEncoder()
		}
		enc, err := p.factory(ctx, img.Width, img.Height, p.encoderFormat, opts)
		if err != nil {
			return nil, category.Wrap(category.Codec, err)
		}
		p.encoder = enc
		p.stalled = false
		p.framesSinceMotion = 0
	}

	data, err := ConvertPixels(img.Data, img.Width, img.Height, img.Stride, img.PixelFormat, p.encoderFormat)
	if err != nil {
		return nil, category.Wrap(category.Codec, err)
	}

	packets, err := p.encoder.Encode(data)
	if err != nil {
		// Codec errors are swallowed per-frame: the session stays up,
		// the caller logs and moves on to the next tick.
		return nil, category.Wrap(category.Codec, err)
	}

	frames := make([]*protocol.VideoFrame, 0, len(packets))
	for _, pkt := range packets {
		p.pts++
		frames = append(frames, &protocol.VideoFrame{
			Pts:          p.pts,
			Width:        uint16(img.Width),
			Height:       uint16(img.Height),
			EncodedBytes: pkt.Data,
		})
	}
	return frames, nil
}

func (p *Pipeline) mergedOptions() (Options, error) {
	merged := make(Options, len(p.baseOpts))
	for k, v := range p.baseOpts {
		merged[k] = v
	}
	if p.hook == nil {
		return merged, nil
	}
	hookOpts, err := p.hook()
	if err != nil {
		return nil, category.Wrap(category.Codec, err)
	}
	for k, v := range hookOpts {
		merged[k] = v
	}
	return merged, nil
}

func (p *Pipeline) releaseEncoder() {
	if p.encoder == nil {
		return
	}
	if err := p.encoder.Close(); err != nil {
		p.log.Warn("error closing encoder", "err", err)
	}
	p.encoder = nil
}

// Close releases any live encoder. Safe to call multiple times.
func (p *Pipeline) Close() {
	p.releaseEncoder()
}

// Stalled reports whether the pipeline currently holds no live encoder.
func (p *Pipeline) Stalled() bool { return p.stalled }
