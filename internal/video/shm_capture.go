//go:build linux

package video

import (
	"os"

	"github.com/tmthrgd/go-shm"
	"golang.org/x/sys/unix"

	"github.com/deskrelay/deskrelay/internal/category"
	"github.com/deskrelay/deskrelay/internal/protocol"
)

// ShmCaptureDriver backs --extern-img-source: an external capture helper
// (e.g. a compositor plugin) writes raw frames into a POSIX shared memory
// segment, and Capture copies the whole segment out on each tick rather
// than driving the capture itself. Dirty-region detection is not provided
// by the external source, so every tick is reported fully dirty; callers
// relying on stall/resume should layer their own diffing over the copy.
type ShmCaptureDriver struct {
	file   *os.File
	data   []byte
	width  int
	height int
	format protocol.PixelFormat
	stride int
}

// bytesPerPixel covers the packed RGB/BGR formats the external source is
// expected to produce; planar YUV formats aren't meaningful for a raw
// fixed-size mmap region and aren't supported here.
func bytesPerPixel(format protocol.PixelFormat) int {
	switch format {
	case protocol.PixelBGRX8888, protocol.PixelRGBX8888:
		return 4
	default:
		return 3
	}
}

// OpenShmCapture maps name as a POSIX shared memory object sized for one
// width x height frame in format, creating it if absent. Grounded on the
// DisplayStream shm.Open/Truncate/Mmap sequence used for the droidmole
// emulator's screenshot channel.
func OpenShmCapture(name string, width, height int, format protocol.PixelFormat) (*ShmCaptureDriver, error) {
	bpp := bytesPerPixel(format)
	stride := width * bpp
	size := stride * height

	f, err := shm.Open(name, unix.O_CREAT|unix.O_RDWR, 0600)
	if err != nil {
		return nil, category.Wrapf(category.Capture, "open shm segment %q: %w", name, err)
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return nil, category.Wrapf(category.Capture, "truncate shm segment %q to %d bytes: %w", name, size, err)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, category.Wrapf(category.Capture, "mmap shm segment %q: %w", name, err)
	}
	return &ShmCaptureDriver{
		file:   f,
		data:   data,
		width:  width,
		height: height,
		format: format,
		stride: stride,
	}, nil
}

// Capture copies the current contents of the mapped region and reports
// the whole frame dirty, since the external writer gives no per-region
// change signal.
func (d *ShmCaptureDriver) Capture() (*CapturedImage, error) {
	frame := make([]byte, len(d.data))
	copy(frame, d.data)
	return &CapturedImage{
		Width:        d.width,
		Height:       d.height,
		Stride:       d.stride,
		PixelFormat:  d.format,
		Data:         frame,
		DirtyRegions: []Rect{{X: 0, Y: 0, W: d.width, H: d.height}},
	}, nil
}

// Close unmaps the shared memory segment and closes its file descriptor.
func (d *ShmCaptureDriver) Close() error {
	err := unix.Munmap(d.data)
	if cerr := d.file.Close(); err == nil {
		err = cerr
	}
	return err
}
