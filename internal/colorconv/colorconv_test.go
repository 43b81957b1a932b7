package colorconv

import "testing"

func solidRGBX(width, height int, r, g, b byte) ([]byte, int) {
	stride := width * 4
	buf := make([]byte, stride*height)
	for i := 0; i < width*height; i++ {
		buf[i*4], buf[i*4+1], buf[i*4+2], buf[i*4+3] = r, g, b, 0xff
	}
	return buf, stride
}

func maxAbsDiff(a, b []byte) int {
	max := 0
	for i := range a {
		d := int(a[i]) - int(b[i])
		if d < 0 {
			d = -d
		}
		if d > max {
			max = d
		}
	}
	return max
}

func TestRGBToYUV420RoundTripWithinTolerance(t *testing.T) {
	src, stride := solidRGBX(16, 16, 200, 90, 40)
	y, u, v := RGBToYUV420(src, 16, 16, stride)
	dst, _ := YUV420ToRGB(y, u, v, 16, 16)
	if diff := maxAbsDiff(src, dst); diff > 3 {
		t.Fatalf("YUV420 round trip diff too large: %d", diff)
	}
}

func TestRGBToYUV444RoundTripIsNearExact(t *testing.T) {
	src, stride := solidRGBX(8, 8, 10, 250, 60)
	y, u, v := RGBToYUV444(src, 8, 8, stride)
	dst, _ := YUV444ToRGB(y, u, v, 8, 8)
	if diff := maxAbsDiff(src, dst); diff > 2 {
		t.Fatalf("YUV444 (no subsampling) round trip diff too large: %d", diff)
	}
}

func TestRGBToNV12RoundTrip(t *testing.T) {
	src, stride := solidRGBX(16, 16, 128, 128, 128)
	y, uv := RGBToNV12(src, 16, 16, stride)
	dst, _ := NV12ToRGB(y, uv, 16, 16)
	if diff := maxAbsDiff(src, dst); diff > 3 {
		t.Fatalf("NV12 round trip diff too large: %d", diff)
	}
}

func TestBlackAndWhiteExtremesClamp(t *testing.T) {
	black, stride := solidRGBX(4, 4, 0, 0, 0)
	y, u, v := RGBToYUV420(black, 4, 4, stride)
	if y[0] == 0 {
		t.Fatal("expected limited-range black Y to clamp to 16, not 0")
	}
	white, _ := solidRGBX(4, 4, 255, 255, 255)
	yw, _, _ := RGBToYUV420(white, 4, 4, stride)
	if yw[0] >= 255 {
		t.Fatal("expected limited-range white Y to clamp to 235, not 255")
	}
	_ = u
	_ = v
}

func TestScalarAndWideSIMDPathsAgree(t *testing.T) {
	src, stride := solidRGBX(17, 9, 77, 150, 33) // odd dimensions exercise the tail loop
	ys, us, vs := make([]byte, 0), make([]byte, 0), make([]byte, 0)
	cw := (17 + 1) / 2
	ys = make([]byte, 17*9)
	us = make([]byte, cw*((9+1)/2))
	vs = make([]byte, cw*((9+1)/2))
	rgbToYUV420Scalar(src, stride, 17, 9, ys, us, vs, cw)

	yw := make([]byte, 17*9)
	uw := make([]byte, cw*((9+1)/2))
	vw := make([]byte, cw*((9+1)/2))
	rgbToYUV420Wide(src, stride, 17, 9, yw, uw, vw, cw)

	if string(ys) != string(yw) {
		t.Fatal("expected scalar and wide-SIMD luma paths to produce identical output")
	}
}
