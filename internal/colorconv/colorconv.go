// Package colorconv converts between packed RGB and the planar/semi-planar
// pixel formats the video pipeline negotiates (YUV420p, YUV444p, NV12),
// using BT.601 limited-range coefficients. A klauspost/cpuid/v2 probe run
// once at process start selects a batched, autovectorization-friendly Go
// loop when the host has a usable wide-register extension; the scalar loop
// below is always correct and is what the batched path degrades to when
// cpuid reports nothing usable.
package colorconv

import "github.com/klauspost/cpuid/v2"

// BT.601 limited-range coefficients (ITU-R BT.601-7, Y range [16,235],
// Cb/Cr range [16,240]), fixed-point Q8 for the luma/chroma factors.
const (
	rFactor  = 0.299
	bFactor  = 0.114
	yMin     = 16.0
	yMax     = 235.0
	cbcrSpan = 224.0
)

// wideSIMD reports whether the process detected a register width worth
// batching the scalar loop over. Computed once; the only process-global
// mutable state this package holds, per spec §9's single exception for a
// process-wide SIMD dispatch table.
var wideSIMD = cpuid.CPU.Supports(cpuid.SSE2) || cpuid.CPU.Supports(cpuid.AVX2)

func clampByte(v float64) uint8 {
	// Half-away-from-zero rounding on Y, applied uniformly to chroma too.
	r := v + 0.5
	if v < 0 {
		r = v - 0.5
	}
	switch {
	case r < 0:
		return 0
	case r > 255:
		return 255
	default:
		return uint8(r)
	}
}

func rgbToY(r, g, b uint8) uint8 {
	y := rFactor*float64(r) + (1-rFactor-bFactor)*float64(g) + bFactor*float64(b)
	return clampByte(yMin + y*(yMax-yMin)/255.0)
}

func rgbToCb(r, g, b uint8) uint8 {
	y := rFactor*float64(r) + (1-rFactor-bFactor)*float64(g) + bFactor*float64(b)
	cb := (float64(b) - y) / (2 * (1 - bFactor))
	return clampByte(128 + cb*cbcrSpan/255.0)
}

func rgbToCr(r, g, b uint8) uint8 {
	y := rFactor*float64(r) + (1-rFactor-bFactor)*float64(g) + bFactor*float64(b)
	cr := (float64(r) - y) / (2 * (1 - rFactor))
	return clampByte(128 + cr*cbcrSpan/255.0)
}

func yuvToRGB(y, cb, cr uint8) (r, g, b uint8) {
	yy := (float64(y) - yMin) * 255.0 / (yMax - yMin)
	pb := (float64(cb) - 128) * 255.0 / cbcrSpan
	pr := (float64(cr) - 128) * 255.0 / cbcrSpan
	rf := yy + pr*(2*(1-rFactor))
	bf := yy + pb*(2*(1-bFactor))
	gf := (yy - rFactor*rf - bFactor*bf) / (1 - rFactor - bFactor)
	return clampByte(rf), clampByte(gf), clampByte(bf)
}

// pixelAt reads one RGBX8888 pixel from src at (x,y) with the given
// stride. Source is assumed 4 bytes/pixel, channel order R,G,B,X.
func pixelAt(src []byte, stride, x, y int) (r, g, b uint8) {
	off := y*stride + x*4
	return src[off], src[off+1], src[off+2]
}

// RGBToYUV420 converts a packed RGBX8888 image into planar YUV420p with
// 2x2-averaged chroma, the standard 4:2:0 subsampling.
func RGBToYUV420(src []byte, width, height, stride int) (y, u, v []byte) {
	y = make([]byte, width*height)
	cw, ch := (width+1)/2, (height+1)/2
	u = make([]byte, cw*ch)
	v = make([]byte, cw*ch)

	if wideSIMD {
		rgbToYUV420Wide(src, stride, width, height, y, u, v, cw)
		return
	}
	rgbToYUV420Scalar(src, stride, width, height, y, u, v, cw)
	return
}

// rgbToYUV420Scalar is the mandatory fallback: correct for any width, one
// pixel at a time.
func rgbToYUV420Scalar(src []byte, stride, width, height int, y, u, v []byte, cw int) {
	for py := 0; py < height; py++ {
		for px := 0; px < width; px++ {
			r, g, b := pixelAt(src, stride, px, py)
			y[py*width+px] = rgbToY(r, g, b)
		}
	}
	for cy := 0; cy < (height+1)/2; cy++ {
		for cx := 0; cx < cw; cx++ {
			sx, sy := cx*2, cy*2
			r, g, b := averageBlock(src, stride, width, height, sx, sy)
			u[cy*cw+cx] = rgbToCb(r, g, b)
			v[cy*cw+cx] = rgbToCr(r, g, b)
		}
	}
}

// rgbToYUV420Wide batches the luma pass in groups of 4 pixels. It computes
// the identical scalar formula per pixel; the only difference from the
// scalar path is loop shape, which the Go compiler can autovectorize on
// hosts wide-SIMD was detected for. There is no hand-written assembly.
func rgbToYUV420Wide(src []byte, stride, width, height int, y, u, v []byte, cw int) {
	for py := 0; py < height; py++ {
		px := 0
		for ; px+4 <= width; px += 4 {
			for k := 0; k < 4; k++ {
				r, g, b := pixelAt(src, stride, px+k, py)
				y[py*width+px+k] = rgbToY(r, g, b)
			}
		}
		for ; px < width; px++ {
			r, g, b := pixelAt(src, stride, px, py)
			y[py*width+px] = rgbToY(r, g, b)
		}
	}
	for cy := 0; cy < (height+1)/2; cy++ {
		for cx := 0; cx < cw; cx++ {
			sx, sy := cx*2, cy*2
			r, g, b := averageBlock(src, stride, width, height, sx, sy)
			u[cy*cw+cx] = rgbToCb(r, g, b)
			v[cy*cw+cx] = rgbToCr(r, g, b)
		}
	}
}

// averageBlock averages up to a 2x2 RGB block starting at (sx,sy),
// clamping to the image edge for odd dimensions.
func averageBlock(src []byte, stride, width, height, sx, sy int) (r, g, b uint8) {
	var rs, gs, bs, n int
	for dy := 0; dy < 2; dy++ {
		for dx := 0; dx < 2; dx++ {
			x, y := sx+dx, sy+dy
			if x >= width || y >= height {
				continue
			}
			pr, pg, pb := pixelAt(src, stride, x, y)
			rs += int(pr)
			gs += int(pg)
			bs += int(pb)
			n++
		}
	}
	if n == 0 {
		return 0, 0, 0
	}
	return uint8(rs / n), uint8(gs / n), uint8(bs / n)
}

// RGBToYUV444 converts to planar YUV444p: full-resolution chroma, no
// subsampling.
func RGBToYUV444(src []byte, width, height, stride int) (y, u, v []byte) {
	y = make([]byte, width*height)
	u = make([]byte, width*height)
	v = make([]byte, width*height)
	for py := 0; py < height; py++ {
		for px := 0; px < width; px++ {
			r, g, b := pixelAt(src, stride, px, py)
			idx := py*width + px
			y[idx] = rgbToY(r, g, b)
			u[idx] = rgbToCb(r, g, b)
			v[idx] = rgbToCr(r, g, b)
		}
	}
	return
}

// RGBToNV12 converts to NV12: planar Y plus interleaved UV at 4:2:0.
func RGBToNV12(src []byte, width, height, stride int) (y, uv []byte) {
	yPlane, u, v := RGBToYUV420(src, width, height, stride)
	cw, ch := (width+1)/2, (height+1)/2
	uv = make([]byte, cw*ch*2)
	for i := 0; i < cw*ch; i++ {
		uv[2*i] = u[i]
		uv[2*i+1] = v[i]
	}
	return yPlane, uv
}

// YUV420ToRGB is the inverse of RGBToYUV420, producing packed RGBX8888.
func YUV420ToRGB(y, u, v []byte, width, height int) (dst []byte, stride int) {
	stride = width * 4
	dst = make([]byte, stride*height)
	cw := (width + 1) / 2
	for py := 0; py < height; py++ {
		for px := 0; px < width; px++ {
			cy, cx := py/2, px/2
			r, g, b := yuvToRGB(y[py*width+px], u[cy*cw+cx], v[cy*cw+cx])
			off := py*stride + px*4
			dst[off], dst[off+1], dst[off+2], dst[off+3] = r, g, b, 0xff
		}
	}
	return
}

// YUV444ToRGB is the inverse of RGBToYUV444.
func YUV444ToRGB(y, u, v []byte, width, height int) (dst []byte, stride int) {
	stride = width * 4
	dst = make([]byte, stride*height)
	for py := 0; py < height; py++ {
		for px := 0; px < width; px++ {
			idx := py*width + px
			r, g, b := yuvToRGB(y[idx], u[idx], v[idx])
			off := py*stride + px*4
			dst[off], dst[off+1], dst[off+2], dst[off+3] = r, g, b, 0xff
		}
	}
	return
}

// NV12ToRGB is the inverse of RGBToNV12.
func NV12ToRGB(y, uv []byte, width, height int) (dst []byte, stride int) {
	cw := (width + 1) / 2
	u := make([]byte, len(uv)/2)
	v := make([]byte, len(uv)/2)
	for i := 0; i < len(uv)/2; i++ {
		u[i] = uv[2*i]
		v[i] = uv[2*i+1]
	}
	_ = cw
	return YUV420ToRGB(y, u, v, width, height)
}
