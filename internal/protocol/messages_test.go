package protocol

import (
	"bytes"
	"testing"
)

func TestHelloRoundTrip(t *testing.T) {
	original := &Hello{
		ProtoVersion:    Version,
		SupportedCodecs: []string{"h264", "h265", "vp9"},
		ScreenHintW:     1920,
		ScreenHintH:     1080,
		AudioWanted:     true,
		ClipboardPolicy: ClipboardBoth,
	}
	var buf bytes.Buffer
	if err := WriteMessage(&buf, original); err != nil {
		t.Fatal(err)
	}
	msg, err := ReadMessage(&buf)
	if err != nil {
		t.Fatal(err)
	}
	decoded, ok := msg.(*Hello)
	if !ok {
		t.Fatalf("expected *Hello, got %T", msg)
	}
	if decoded.ProtoVersion != original.ProtoVersion ||
		decoded.ScreenHintW != original.ScreenHintW ||
		decoded.ScreenHintH != original.ScreenHintH ||
		decoded.AudioWanted != original.AudioWanted ||
		decoded.ClipboardPolicy != original.ClipboardPolicy ||
		len(decoded.SupportedCodecs) != len(original.SupportedCodecs) {
		t.Fatalf("mismatch: got %+v, want %+v", decoded, original)
	}
	for i := range original.SupportedCodecs {
		if decoded.SupportedCodecs[i] != original.SupportedCodecs[i] {
			t.Fatalf("codec[%d] mismatch: got %q, want %q", i, decoded.SupportedCodecs[i], original.SupportedCodecs[i])
		}
	}
}

func TestServerHelloRoundTrip(t *testing.T) {
	original := &ServerHello{
		ProtoVersion:     Version,
		ChosenCandidates: []string{"h264"},
		AuthMethods:      []AuthMethod{AuthMethodTLS, AuthMethodPassword},
	}
	var buf bytes.Buffer
	if err := WriteMessage(&buf, original); err != nil {
		t.Fatal(err)
	}
	msg, err := ReadMessage(&buf)
	if err != nil {
		t.Fatal(err)
	}
	decoded := msg.(*ServerHello)
	if len(decoded.AuthMethods) != 2 || decoded.AuthMethods[0] != AuthMethodTLS {
		t.Fatalf("auth methods mismatch: %+v", decoded.AuthMethods)
	}
}

func TestVideoFrameRoundTrip(t *testing.T) {
	original := &VideoFrame{
		EncodedBytes: []byte{0x00, 0x01, 0x02, 0x03, 0x04},
		Width:        1920,
		Height:       1080,
		Pts:          42,
	}
	var buf bytes.Buffer
	if err := WriteMessage(&buf, original); err != nil {
		t.Fatal(err)
	}
	msg, err := ReadMessage(&buf)
	if err != nil {
		t.Fatal(err)
	}
	decoded := msg.(*VideoFrame)
	if decoded.Pts != original.Pts || !bytes.Equal(decoded.EncodedBytes, original.EncodedBytes) {
		t.Fatalf("mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestAudioFrameRoundTrip(t *testing.T) {
	original := &AudioFrame{
		EncodedBytes: []byte{0xAA, 0xBB},
		Pts:          7,
		SampleCount:  960,
	}
	var buf bytes.Buffer
	if err := WriteMessage(&buf, original); err != nil {
		t.Fatal(err)
	}
	msg, err := ReadMessage(&buf)
	if err != nil {
		t.Fatal(err)
	}
	decoded := msg.(*AudioFrame)
	if decoded.SampleCount != original.SampleCount || decoded.Pts != original.Pts {
		t.Fatalf("mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestKeyEventRoundTrip(t *testing.T) {
	for _, down := range []bool{true, false} {
		original := &KeyEvent{RawKeycode: 0x1E, Down: down}
		var buf bytes.Buffer
		if err := WriteMessage(&buf, original); err != nil {
			t.Fatal(err)
		}
		msg, err := ReadMessage(&buf)
		if err != nil {
			t.Fatal(err)
		}
		decoded := msg.(*KeyEvent)
		if decoded.RawKeycode != original.RawKeycode || decoded.Down != original.Down {
			t.Fatalf("mismatch: got %+v, want %+v", decoded, original)
		}
	}
}

func TestPointerMotionRoundTrip(t *testing.T) {
	original := &PointerMotion{X: -5, Y: 1080}
	var buf bytes.Buffer
	if err := WriteMessage(&buf, original); err != nil {
		t.Fatal(err)
	}
	msg, err := ReadMessage(&buf)
	if err != nil {
		t.Fatal(err)
	}
	decoded := msg.(*PointerMotion)
	if decoded.X != original.X || decoded.Y != original.Y {
		t.Fatalf("mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestClipboardDataRoundTrip(t *testing.T) {
	original := &ClipboardData{Mime: "text/plain", Bytes: []byte("hello clipboard")}
	var buf bytes.Buffer
	if err := WriteMessage(&buf, original); err != nil {
		t.Fatal(err)
	}
	msg, err := ReadMessage(&buf)
	if err != nil {
		t.Fatal(err)
	}
	decoded := msg.(*ClipboardData)
	if decoded.Mime != original.Mime || !bytes.Equal(decoded.Bytes, original.Bytes) {
		t.Fatalf("mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestCursorRoundTrip(t *testing.T) {
	original := &Cursor{W: 32, H: 32, HotX: 3, HotY: 3, RGBA: make([]byte, 32*32*4)}
	var buf bytes.Buffer
	if err := WriteMessage(&buf, original); err != nil {
		t.Fatal(err)
	}
	msg, err := ReadMessage(&buf)
	if err != nil {
		t.Fatal(err)
	}
	decoded := msg.(*Cursor)
	if decoded.W != original.W || len(decoded.RGBA) != len(original.RGBA) {
		t.Fatalf("mismatch: got %+v, want len(RGBA)=%d", decoded, len(original.RGBA))
	}
}

func TestByeRoundTrip(t *testing.T) {
	for _, reason := range []ByeReason{ByeNone, ByeProtocolError, ByeVersion, ByeAuth, ByeShutdown} {
		original := &Bye{Reason: reason}
		var buf bytes.Buffer
		if err := WriteMessage(&buf, original); err != nil {
			t.Fatal(err)
		}
		msg, err := ReadMessage(&buf)
		if err != nil {
			t.Fatal(err)
		}
		decoded := msg.(*Bye)
		if decoded.Reason != original.Reason {
			t.Fatalf("reason mismatch: got %d, want %d", decoded.Reason, reason)
		}
	}
}

func TestClipboardRequestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMessage(&buf, &ClipboardRequest{}); err != nil {
		t.Fatal(err)
	}
	msg, err := ReadMessage(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := msg.(*ClipboardRequest); !ok {
		t.Fatalf("expected *ClipboardRequest, got %T", msg)
	}
}

// TestFrameAtExactly100MiBAccepted exercises the §8 boundary: a frame of
// length exactly MaxFrameLen is accepted, not rejected.
func TestFrameAtExactly100MiBAccepted(t *testing.T) {
	payload := make([]byte, MaxFrameLen-1) // -1 for the kind byte
	original := &VideoFrame{EncodedBytes: payload[:len(payload)-12], Pts: 1}

	var buf bytes.Buffer
	if err := WriteMessage(&buf, original); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadMessage(&buf); err != nil {
		t.Fatalf("frame of exactly MaxFrameLen should be accepted: %v", err)
	}
}

// TestOversizeFrameRejected exercises the §8 boundary: a frame declaring a
// length above MaxFrameLen fails the connection before any payload is read.
func TestOversizeFrameRejected(t *testing.T) {
	var buf bytes.Buffer
	var lenBuf [LengthSize]byte
	putU64(lenBuf[:], uint64(MaxFrameLen)+1)
	buf.Write(lenBuf[:])

	if _, err := ReadMessage(&buf); err != ErrFrameTooLarge {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestUnknownMessageKindRejected(t *testing.T) {
	_, err := DecodePayload(MessageKind(0xFE), nil)
	if err == nil {
		t.Fatal("expected error for unknown message kind")
	}
}

func putU64(buf []byte, v uint64) {
	for i := 0; i < 8; i++ {
		buf[7-i] = byte(v)
		v >>= 8
	}
}
