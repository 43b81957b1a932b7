package audio

import (
	"github.com/hraban/opus"

	"github.com/deskrelay/deskrelay/internal/category"
)

// SampleRate and Channels fix the PCM format the whole audio plane
// negotiates; FrameSamples is opus's native 20ms frame at that rate.
const (
	SampleRate   = 48000
	Channels     = 2
	FrameMillis  = 20
	FrameSamples = SampleRate * FrameMillis / 1000 // 960 samples/channel
)

// Compressor wraps an opus.Encoder, draining a Ring at the frame-paced
// compressor's native frame size into compressed packets.
type Compressor struct {
	enc *opus.Encoder
	buf []byte
}

// NewCompressor constructs an opus encoder tuned for interactive audio.
func NewCompressor() (*Compressor, error) {
	enc, err := opus.NewEncoder(SampleRate, Channels, opus.AppAudio)
	if err != nil {
		return nil, category.Wrap(category.Audio, err)
	}
	return &Compressor{enc: enc, buf: make([]byte, 4000)}, nil
}

// Encode compresses one interleaved-stereo PCM frame of exactly
// FrameSamples*Channels samples. Frames shorter than that are rejected —
// the caller (the frame-paced loop in internal/audio/pipeline.go) is
// responsible for assembling full frames from the Ring before calling.
func (c *Compressor) Encode(pcm []int16) ([]byte, error) {
	n, err := c.enc.Encode(pcm, c.buf)
	if err != nil {
		return nil, category.Wrap(category.Audio, err)
	}
	out := make([]byte, n)
	copy(out, c.buf[:n])
	return out, nil
}

// Decompressor wraps an opus.Decoder for the client playback path.
type Decompressor struct {
	dec *opus.Decoder
	pcm []int16
}

func NewDecompressor() (*Decompressor, error) {
	dec, err := opus.NewDecoder(SampleRate, Channels)
	if err != nil {
		return nil, category.Wrap(category.Audio, err)
	}
	return &Decompressor{dec: dec, pcm: make([]int16, FrameSamples*Channels)}, nil
}

// Decode expands one compressed packet back into an interleaved-stereo
// PCM frame.
func (d *Decompressor) Decode(packet []byte) ([]int16, error) {
	n, err := d.dec.Decode(packet, d.pcm)
	if err != nil {
		return nil, category.Wrap(category.Audio, err)
	}
	out := make([]int16, n*Channels)
	copy(out, d.pcm[:n*Channels])
	return out, nil
}
