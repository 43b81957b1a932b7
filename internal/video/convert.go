package video

import (
	"fmt"

	"github.com/deskrelay/deskrelay/internal/colorconv"
	"github.com/deskrelay/deskrelay/internal/protocol"
)

// ConvertPixels converts data, a width x height image of pixel format from
// with the given row stride (ignored for planar/semi-planar formats, which
// are always tightly packed), into pixel format to. A no-op when the
// formats already match. YUV-to-YUV conversions pivot through packed
// RGBX8888, the only format colorconv converts every other format to and
// from directly, per §4.4 step 3's colour-conversion requirement.
func ConvertPixels(data []byte, width, height, stride int, from, to protocol.PixelFormat) ([]byte, error) {
	if from == to {
		return data, nil
	}
	rgbx, rgbStride, err := toRGBX8888(data, width, height, stride, from)
	if err != nil {
		return nil, err
	}
	return fromRGBX8888(rgbx, width, height, rgbStride, to)
}

func toRGBX8888(data []byte, width, height, stride int, from protocol.PixelFormat) ([]byte, int, error) {
	switch from {
	case protocol.PixelRGBX8888:
		return data, stride, nil
	case protocol.PixelBGRX8888:
		return swapRB(data, stride, width, height), stride, nil
	case protocol.PixelYUV420P:
		y, u, v, err := splitYUV420(data, width, height)
		if err != nil {
			return nil, 0, err
		}
		dst, dstStride := colorconv.YUV420ToRGB(y, u, v, width, height)
		return dst, dstStride, nil
	case protocol.PixelYUV444P:
		y, u, v, err := splitYUV444(data, width, height)
		if err != nil {
			return nil, 0, err
		}
		dst, dstStride := colorconv.YUV444ToRGB(y, u, v, width, height)
		return dst, dstStride, nil
	case protocol.PixelNV12:
		y, uv, err := splitNV12(data, width, height)
		if err != nil {
			return nil, 0, err
		}
		dst, dstStride := colorconv.NV12ToRGB(y, uv, width, height)
		return dst, dstStride, nil
	default:
		return nil, 0, fmt.Errorf("colorconv: unsupported source pixel format %v", from)
	}
}

func fromRGBX8888(rgbx []byte, width, height, stride int, to protocol.PixelFormat) ([]byte, error) {
	switch to {
	case protocol.PixelRGBX8888:
		return rgbx, nil
	case protocol.PixelBGRX8888:
		return swapRB(rgbx, stride, width, height), nil
	case protocol.PixelYUV420P:
		y, u, v := colorconv.RGBToYUV420(rgbx, width, height, stride)
		return concatPlanes(y, u, v), nil
	case protocol.PixelYUV444P:
		y, u, v := colorconv.RGBToYUV444(rgbx, width, height, stride)
		return concatPlanes(y, u, v), nil
	case protocol.PixelNV12:
		y, uv := colorconv.RGBToNV12(rgbx, width, height, stride)
		return concatPlanes(y, uv), nil
	default:
		return nil, fmt.Errorf("colorconv: unsupported target pixel format %v", to)
	}
}

func splitYUV420(data []byte, width, height int) (y, u, v []byte, err error) {
	cw, ch := (width+1)/2, (height+1)/2
	ySize, cSize := width*height, cw*ch
	if len(data) < ySize+2*cSize {
		return nil, nil, nil, fmt.Errorf("colorconv: short yuv420p buffer: got %d want %d", len(data), ySize+2*cSize)
	}
	return data[:ySize], data[ySize : ySize+cSize], data[ySize+cSize : ySize+2*cSize], nil
}

func splitYUV444(data []byte, width, height int) (y, u, v []byte, err error) {
	planeSize := width * height
	if len(data) < 3*planeSize {
		return nil, nil, nil, fmt.Errorf("colorconv: short yuv444p buffer: got %d want %d", len(data), 3*planeSize)
	}
	return data[:planeSize], data[planeSize : 2*planeSize], data[2*planeSize : 3*planeSize], nil
}

func splitNV12(data []byte, width, height int) (y, uv []byte, err error) {
	cw, ch := (width+1)/2, (height+1)/2
	ySize, uvSize := width*height, cw*ch*2
	if len(data) < ySize+uvSize {
		return nil, nil, fmt.Errorf("colorconv: short nv12 buffer: got %d want %d", len(data), ySize+uvSize)
	}
	return data[:ySize], data[ySize : ySize+uvSize], nil
}

// swapRB exchanges the R and B byte of every packed pixel, the only
// difference between BGRX8888 and RGBX8888, so colorconv's RGBX-order
// routines can serve both.
func swapRB(src []byte, stride, width, height int) []byte {
	out := make([]byte, len(src))
	copy(out, src)
	for row := 0; row < height; row++ {
		base := row * stride
		for x := 0; x < width; x++ {
			off := base + x*4
			out[off], out[off+2] = out[off+2], out[off]
		}
	}
	return out
}

func concatPlanes(planes ...[]byte) []byte {
	total := 0
	for _, p := range planes {
		total += len(p)
	}
	out := make([]byte, 0, total)
	for _, p := range planes {
		out = append(out, p...)
	}
	return out
}
