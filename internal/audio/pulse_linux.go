//go:build linux

package audio

import (
	"encoding/binary"
	"sync"

	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"

	"github.com/deskrelay/deskrelay/internal/category"
)

// Capture records the default sink's monitor stream into ring, used by
// the server-side capture worker. Adapted from the teacher's AudioCapture:
// same pulse.Client/RecordStream/pcmCollector shape, but the collector
// feeds a Ring directly instead of a channel of pre-encoded opus packets
// — compression now happens downstream in Pipeline, on the ring's own
// pacing, not inline in the collector callback.
type Capture struct {
	client *pulse.Client
	stream *pulse.RecordStream
	ring   *Ring
}

type pcmCollector struct {
	mu   sync.Mutex
	buf  []int16
	ring *Ring
}

func (c *pcmCollector) Write(data []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(data) / 2
	for i := 0; i < n; i++ {
		c.buf = append(c.buf, int16(binary.LittleEndian.Uint16(data[i*2:i*2+2])))
	}
	const frameLen = FrameSamples * Channels
	for len(c.buf) >= frameLen {
		c.ring.Push(c.buf[:frameLen])
		c.buf = c.buf[frameLen:]
	}
	return len(data), nil
}

func (c *pcmCollector) Format() byte { return proto.FormatInt16LE }

// NewCapture connects to the default PulseAudio server and starts
// recording the default sink's monitor into ring.
func NewCapture(ring *Ring) (*Capture, error) {
	client, err := pulse.NewClient(pulse.ClientApplicationName("deskrelay"))
	if err != nil {
		return nil, category.Wrap(category.Audio, err)
	}

	sink, err := client.DefaultSink()
	if err != nil {
		client.Close()
		return nil, category.Wrap(category.Audio, err)
	}

	collector := &pcmCollector{ring: ring}
	stream, err := client.NewRecord(
		collector,
		pulse.RecordMonitor(sink),
		pulse.RecordStereo,
		pulse.RecordSampleRate(SampleRate),
		pulse.RecordBufferFragmentSize(uint32(FrameSamples*Channels*2)),
	)
	if err != nil {
		client.Close()
		return nil, category.Wrap(category.Audio, err)
	}
	stream.Start()

	return &Capture{client: client, stream: stream, ring: ring}, nil
}

// Close stops recording and disconnects from PulseAudio.
func (c *Capture) Close() error {
	if c.stream != nil {
		c.stream.Stop()
	}
	c.client.Close()
	return nil
}

// Output plays decoded PCM frames popped from a Playback queue through
// the default PulseAudio sink, used by the client-side playback worker.
type Output struct {
	client *pulse.Client
	stream *pulse.PlaybackStream
	play   *Playback
}

type pcmSource struct {
	play *Playback
	rem  []int16
}

func (s *pcmSource) Read(data []byte) (int, error) {
	written := 0
	for written < len(data) {
		if len(s.rem) == 0 {
			frame := s.play.Pop()
			if frame == nil {
				break
			}
			s.rem = frame
		}
		n := len(data[written:]) / 2
		if n > len(s.rem) {
			n = len(s.rem)
		}
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint16(data[written+i*2:], uint16(s.rem[i]))
		}
		s.rem = s.rem[n:]
		written += n * 2
	}
	// Silence-fill any remainder so the sink never underruns mid-frame.
	for ; written < len(data); written++ {
		data[written] = 0
	}
	return len(data), nil
}

func (s *pcmSource) Format() byte { return proto.FormatInt16LE }

// NewOutput connects to the default PulseAudio sink for playback.
func NewOutput(play *Playback) (*Output, error) {
	client, err := pulse.NewClient(pulse.ClientApplicationName("deskrelay"))
	if err != nil {
		return nil, category.Wrap(category.Audio, err)
	}

	source := &pcmSource{play: play}
	stream, err := client.NewPlayback(
		source,
		pulse.PlaybackStereo,
		pulse.PlaybackSampleRate(SampleRate),
	)
	if err != nil {
		client.Close()
		return nil, category.Wrap(category.Audio, err)
	}
	stream.Start()

	return &Output{client: client, stream: stream, play: play}, nil
}

// Close stops playback and disconnects from PulseAudio.
func (o *Output) Close() error {
	if o.stream != nil {
		o.stream.Stop()
	}
	o.client.Close()
	return nil
}
