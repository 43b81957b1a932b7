//go:build !linux

package audio

import "github.com/deskrelay/deskrelay/internal/category"

// Capture is a stub on non-Linux hosts; PulseAudio capture is Linux-only
// in this repo, matching the teacher's pulse backend's build constraint.
type Capture struct{}

func NewCapture(ring *Ring) (*Capture, error) {
	return nil, category.Wrapf(category.Audio, "pulseaudio capture is only supported on linux")
}

func (c *Capture) Close() error { return nil }

// Output is the playback-side stub.
type Output struct{}

func NewOutput(play *Playback) (*Output, error) {
	return nil, category.Wrapf(category.Audio, "pulseaudio playback is only supported on linux")
}

func (o *Output) Close() error { return nil }
