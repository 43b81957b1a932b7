//go:build !linux

package video

import (
	"github.com/deskrelay/deskrelay/internal/category"
	"github.com/deskrelay/deskrelay/internal/protocol"
)

// ShmCaptureDriver is unimplemented outside Linux: go-shm and the mmap
// calls it builds on are POSIX shared-memory specific.
type ShmCaptureDriver struct{}

func OpenShmCapture(name string, width, height int, format protocol.PixelFormat) (*ShmCaptureDriver, error) {
	return nil, category.Wrapf(category.Capture, "--extern-img-source is only supported on linux")
}

func (d *ShmCaptureDriver) Capture() (*CapturedImage, error) {
	return nil, category.Wrapf(category.Capture, "--extern-img-source is only supported on linux")
}

func (d *ShmCaptureDriver) Close() error { return nil }
