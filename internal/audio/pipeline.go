package audio

import (
	"github.com/deskrelay/deskrelay/internal/category"
	"github.com/deskrelay/deskrelay/internal/protocol"
)

// Pipeline drains a capture Ring on the frame-pacing cadence, assembling
// full opus frames and emitting AudioFrame messages. One Pipeline serves
// one Session's audio-capture direction.
type Pipeline struct {
	ring    *Ring
	comp    *Compressor
	pending []int16
	pts     uint64
}

// NewPipeline constructs a capture-side audio Pipeline over ring using
// comp for compression.
func NewPipeline(ring *Ring, comp *Compressor) *Pipeline {
	return &Pipeline{ring: ring, comp: comp}
}

// Tick drains whatever the Ring has accumulated since the last tick,
// assembles as many full FrameSamples*Channels frames as possible, and
// compresses each into an AudioFrame. Leftover samples smaller than one
// frame stay pending for the next tick rather than being padded or
// dropped, preserving freshness without silently inventing samples.
func (p *Pipeline) Tick() ([]*protocol.AudioFrame, error) {
	drained := p.ring.DrainFresh()
	for _, frame := range drained {
		p.pending = append(p.pending, frame...)
	}

	const frameLen = FrameSamples * Channels
	var out []*protocol.AudioFrame
	for len(p.pending) >= frameLen {
		chunk := p.pending[:frameLen]
		p.pending = p.pending[frameLen:]

		encoded, err := p.comp.Encode(chunk)
		if err != nil {
			return out, category.Wrap(category.Audio, err)
		}
		p.pts++
		out = append(out, &protocol.AudioFrame{Pts: p.pts, SampleCount: FrameSamples, EncodedBytes: encoded})
	}
	return out, nil
}
