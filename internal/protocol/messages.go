package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var (
	ErrFrameTooLarge  = errors.New("frame exceeds maximum size")
	ErrUnknownMessage = errors.New("unknown message kind")
	ErrShortPayload   = errors.New("payload too short for message kind")
)

// --- Message types ---

// Hello is the client's opening message: proto_version, supported codecs,
// a capture-surface size hint, whether audio is wanted, and the clipboard
// policy the client is requesting.
type Hello struct {
	ProtoVersion    uint32
	SupportedCodecs []string
	ScreenHintW     uint16
	ScreenHintH     uint16
	AudioWanted     bool
	ClipboardPolicy ClipboardPolicy
}

// ServerHello answers Hello with the codecs the server is willing to
// negotiate and the auth methods it supports.
type ServerHello struct {
	ProtoVersion     uint32
	ChosenCandidates []string
	AuthMethods      []AuthMethod
}

// AuthChallenge carries authenticator-specific challenge bytes
// (e.g. a nonce for ticket auth, or nothing for TLS-only auth).
type AuthChallenge struct {
	Method AuthMethod
	Nonce  []byte
}

// AuthResponse carries the authenticator's response and, once the server
// has validated it, the final accept/reject outcome.
type AuthResponse struct {
	Method  AuthMethod
	Proof   []byte
	Ok      bool
	Message string
}

// ResolutionChange announces a new capture-surface size. On the wire this
// precedes the first VideoFrame encoded at the new dimensions.
type ResolutionChange struct {
	Width  uint16
	Height uint16
}

// VideoFrame carries one encoded video packet.
type VideoFrame struct {
	EncodedBytes []byte
	Width        uint16
	Height       uint16
	Pts          uint64
}

// AudioFrame carries one compressed audio packet.
type AudioFrame struct {
	EncodedBytes []byte
	Pts          uint64
	SampleCount  uint32
}

// KeyEvent carries a raw, layout-independent hardware keycode.
type KeyEvent struct {
	RawKeycode uint32
	Down       bool
}

// PointerMotion carries surface-relative integer coordinates.
type PointerMotion struct {
	X int32
	Y int32
}

// PointerButton carries a button press/release.
type PointerButton struct {
	Button uint8
	Down   bool
}

// ClipboardData carries a MIME-typed clipboard payload.
type ClipboardData struct {
	Mime  string
	Bytes []byte
}

// ClipboardRequest asks the peer to push its current selection.
type ClipboardRequest struct{}

// Cursor carries a cursor bitmap and its hotspot.
type Cursor struct {
	W, H uint16
	HotX uint16
	HotY uint16
	RGBA []byte
}

// Resize carries a capture-surface or display-surface size change.
type Resize struct {
	W uint16
	H uint16
}

// Stats carries periodic performance counters (see internal/stats).
type Stats struct {
	FpsX1000      uint32 // frames/sec * 1000, avoids a float on the wire
	EncodedBps    uint64
	AudioFpsX1000 uint32
	RttMs         uint32
}

// Bye announces session termination with a reason.
type Bye struct {
	Reason ByeReason
}

// --- Encoding ---

// WriteMessage writes a framed message (8-byte big-endian length + kind
// byte + payload) to w.
func WriteMessage(w io.Writer, msg any) error {
	var kind MessageKind
	var payload []byte

	switch m := msg.(type) {
	case *Hello:
		kind, payload = KindHello, encodeHello(m)
	case *ServerHello:
		kind, payload = KindServerHello, encodeServerHello(m)
	case *AuthChallenge:
		kind, payload = KindAuthChallenge, encodeAuthChallenge(m)
	case *AuthResponse:
		kind, payload = KindAuthResponse, encodeAuthResponse(m)
	case *ResolutionChange:
		kind, payload = KindResolutionChange, encodeResolutionChange(m)
	case *VideoFrame:
		kind, payload = KindVideoFrame, encodeVideoFrame(m)
	case *AudioFrame:
		kind, payload = KindAudioFrame, encodeAudioFrame(m)
	case *KeyEvent:
		kind, payload = KindKeyEvent, encodeKeyEvent(m)
	case *PointerMotion:
		kind, payload = KindPointerMotion, encodePointerMotion(m)
	case *PointerButton:
		kind, payload = KindPointerButton, encodePointerButton(m)
	case *ClipboardData:
		kind, payload = KindClipboardData, encodeClipboardData(m)
	case *ClipboardRequest:
		kind, payload = KindClipboardRequest, nil
	case *Cursor:
		kind, payload = KindCursor, encodeCursor(m)
	case *Resize:
		kind, payload = KindResize, encodeResize(m)
	case *Stats:
		kind, payload = KindStats, encodeStats(m)
	case *Bye:
		kind, payload = KindBye, []byte{byte(m.Reason)}
	default:
		return fmt.Errorf("unsupported message type: %T", msg)
	}

	frameLen := 1 + len(payload) // kind byte + payload
	if frameLen > MaxFrameLen {
		return ErrFrameTooLarge
	}

	var lenBuf [LengthSize]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(frameLen))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}

	var kindBuf [1]byte
	kindBuf[0] = byte(kind)
	if _, err := w.Write(kindBuf[:]); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

// --- Decoding ---

// ReadMessage reads one framed message from r.
func ReadMessage(r io.Reader) (any, error) {
	var lenBuf [LengthSize]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	frameLen := binary.BigEndian.Uint64(lenBuf[:])
	if frameLen > MaxFrameLen {
		return nil, ErrFrameTooLarge
	}
	if frameLen == 0 {
		return nil, ErrShortPayload
	}

	buf := make([]byte, frameLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	return DecodePayload(MessageKind(buf[0]), buf[1:])
}

// DecodePayload decodes a raw payload given its message kind.
func DecodePayload(kind MessageKind, payload []byte) (any, error) {
	switch kind {
	case KindHello:
		return decodeHello(payload)
	case KindServerHello:
		return decodeServerHello(payload)
	case KindAuthChallenge:
		return decodeAuthChallenge(payload)
	case KindAuthResponse:
		return decodeAuthResponse(payload)
	case KindResolutionChange:
		return decodeResolutionChange(payload)
	case KindVideoFrame:
		return decodeVideoFrame(payload)
	case KindAudioFrame:
		return decodeAudioFrame(payload)
	case KindKeyEvent:
		return decodeKeyEvent(payload)
	case KindPointerMotion:
		return decodePointerMotion(payload)
	case KindPointerButton:
		return decodePointerButton(payload)
	case KindClipboardData:
		return decodeClipboardData(payload)
	case KindClipboardRequest:
		return &ClipboardRequest{}, nil
	case KindCursor:
		return decodeCursor(payload)
	case KindResize:
		return decodeResize(payload)
	case KindStats:
		return decodeStats(payload)
	case KindBye:
		if len(payload) < 1 {
			return nil, ErrShortPayload
		}
		return &Bye{Reason: ByeReason(payload[0])}, nil
	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownMessage, byte(kind))
	}
}

// --- Per-message codecs ---
//
// String and byte-slice fields are length-prefixed with a big-endian
// uint32; everything else is fixed width. This mirrors the teacher's
// TerminalInfo encoding (uint16 length prefix), generalized to uint32
// since VideoFrame/AudioFrame payloads can be large.

func putString(buf []byte, s string) []byte {
	var l [4]byte
	binary.BigEndian.PutUint32(l[:], uint32(len(s)))
	buf = append(buf, l[:]...)
	return append(buf, s...)
}

func putBytes(buf []byte, b []byte) []byte {
	var l [4]byte
	binary.BigEndian.PutUint32(l[:], uint32(len(b)))
	buf = append(buf, l[:]...)
	return append(buf, b...)
}

func getString(payload []byte) (string, []byte, error) {
	if len(payload) < 4 {
		return "", nil, ErrShortPayload
	}
	n := binary.BigEndian.Uint32(payload[:4])
	payload = payload[4:]
	if uint64(len(payload)) < uint64(n) {
		return "", nil, ErrShortPayload
	}
	return string(payload[:n]), payload[n:], nil
}

func getBytes(payload []byte) ([]byte, []byte, error) {
	if len(payload) < 4 {
		return nil, nil, ErrShortPayload
	}
	n := binary.BigEndian.Uint32(payload[:4])
	payload = payload[4:]
	if uint64(len(payload)) < uint64(n) {
		return nil, nil, ErrShortPayload
	}
	out := make([]byte, n)
	copy(out, payload[:n])
	return out, payload[n:], nil
}

func encodeHello(m *Hello) []byte {
	buf := make([]byte, 0, 32)
	var v [4]byte
	binary.BigEndian.PutUint32(v[:], m.ProtoVersion)
	buf = append(buf, v[:]...)

	var count [4]byte
	binary.BigEndian.PutUint32(count[:], uint32(len(m.SupportedCodecs)))
	buf = append(buf, count[:]...)
	for _, c := range m.SupportedCodecs {
		buf = putString(buf, c)
	}

	var dims [4]byte
	binary.BigEndian.PutUint16(dims[0:2], m.ScreenHintW)
	binary.BigEndian.PutUint16(dims[2:4], m.ScreenHintH)
	buf = append(buf, dims[:]...)

	flags := byte(0)
	if m.AudioWanted {
		flags |= 0x01
	}
	buf = append(buf, flags, byte(m.ClipboardPolicy))
	return buf
}

func decodeHello(p []byte) (*Hello, error) {
	if len(p) < 4 {
		return nil, ErrShortPayload
	}
	m := &Hello{}
	m.ProtoVersion = binary.BigEndian.Uint32(p[:4])
	p = p[4:]

	if len(p) < 4 {
		return nil, ErrShortPayload
	}
	count := binary.BigEndian.Uint32(p[:4])
	p = p[4:]
	for i := uint32(0); i < count; i++ {
		var s string
		var err error
		s, p, err = getString(p)
		if err != nil {
			return nil, err
		}
		m.SupportedCodecs = append(m.SupportedCodecs, s)
	}

	if len(p) < 6 {
		return nil, ErrShortPayload
	}
	m.ScreenHintW = binary.BigEndian.Uint16(p[0:2])
	m.ScreenHintH = binary.BigEndian.Uint16(p[2:4])
	m.AudioWanted = p[4]&0x01 != 0
	m.ClipboardPolicy = ClipboardPolicy(p[5])
	return m, nil
}

func encodeServerHello(m *ServerHello) []byte {
	buf := make([]byte, 0, 32)
	var v [4]byte
	binary.BigEndian.PutUint32(v[:], m.ProtoVersion)
	buf = append(buf, v[:]...)

	var count [4]byte
	binary.BigEndian.PutUint32(count[:], uint32(len(m.ChosenCandidates)))
	buf = append(buf, count[:]...)
	for _, c := range m.ChosenCandidates {
		buf = putString(buf, c)
	}

	buf = append(buf, byte(len(m.AuthMethods)))
	for _, a := range m.AuthMethods {
		buf = append(buf, byte(a))
	}
	return buf
}

func decodeServerHello(p []byte) (*ServerHello, error) {
	if len(p) < 4 {
		return nil, ErrShortPayload
	}
	m := &ServerHello{}
	m.ProtoVersion = binary.BigEndian.Uint32(p[:4])
	p = p[4:]

	if len(p) < 4 {
		return nil, ErrShortPayload
	}
	count := binary.BigEndian.Uint32(p[:4])
	p = p[4:]
	for i := uint32(0); i < count; i++ {
		var s string
		var err error
		s, p, err = getString(p)
		if err != nil {
			return nil, err
		}
		m.ChosenCandidates = append(m.ChosenCandidates, s)
	}

	if len(p) < 1 {
		return nil, ErrShortPayload
	}
	n := int(p[0])
	p = p[1:]
	if len(p) < n {
		return nil, ErrShortPayload
	}
	for i := 0; i < n; i++ {
		m.AuthMethods = append(m.AuthMethods, AuthMethod(p[i]))
	}
	return m, nil
}

func encodeAuthChallenge(m *AuthChallenge) []byte {
	buf := []byte{byte(m.Method)}
	return putBytes(buf, m.Nonce)
}

func decodeAuthChallenge(p []byte) (*AuthChallenge, error) {
	if len(p) < 1 {
		return nil, ErrShortPayload
	}
	m := &AuthChallenge{Method: AuthMethod(p[0])}
	var err error
	m.Nonce, _, err = getBytes(p[1:])
	return m, err
}

func encodeAuthResponse(m *AuthResponse) []byte {
	buf := []byte{byte(m.Method)}
	buf = putBytes(buf, m.Proof)
	ok := byte(0)
	if m.Ok {
		ok = 1
	}
	buf = append(buf, ok)
	buf = putString(buf, m.Message)
	return buf
}

func decodeAuthResponse(p []byte) (*AuthResponse, error) {
	if len(p) < 1 {
		return nil, ErrShortPayload
	}
	m := &AuthResponse{Method: AuthMethod(p[0])}
	var err error
	m.Proof, p, err = getBytes(p[1:])
	if err != nil {
		return nil, err
	}
	if len(p) < 1 {
		return nil, ErrShortPayload
	}
	m.Ok = p[0] != 0
	m.Message, _, err = getString(p[1:])
	return m, err
}

func encodeResolutionChange(m *ResolutionChange) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint16(buf[0:2], m.Width)
	binary.BigEndian.PutUint16(buf[2:4], m.Height)
	return buf
}

func decodeResolutionChange(p []byte) (*ResolutionChange, error) {
	if len(p) < 4 {
		return nil, ErrShortPayload
	}
	return &ResolutionChange{
		Width:  binary.BigEndian.Uint16(p[0:2]),
		Height: binary.BigEndian.Uint16(p[2:4]),
	}, nil
}

func encodeVideoFrame(m *VideoFrame) []byte {
	buf := make([]byte, 0, 16+len(m.EncodedBytes))
	var hdr [12]byte
	binary.BigEndian.PutUint16(hdr[0:2], m.Width)
	binary.BigEndian.PutUint16(hdr[2:4], m.Height)
	binary.BigEndian.PutUint64(hdr[4:12], m.Pts)
	buf = append(buf, hdr[:]...)
	return putBytes(buf, m.EncodedBytes)
}

func decodeVideoFrame(p []byte) (*VideoFrame, error) {
	if len(p) < 12 {
		return nil, ErrShortPayload
	}
	m := &VideoFrame{
		Width:  binary.BigEndian.Uint16(p[0:2]),
		Height: binary.BigEndian.Uint16(p[2:4]),
		Pts:    binary.BigEndian.Uint64(p[4:12]),
	}
	var err error
	m.EncodedBytes, _, err = getBytes(p[12:])
	return m, err
}

func encodeAudioFrame(m *AudioFrame) []byte {
	buf := make([]byte, 0, 12+len(m.EncodedBytes))
	var hdr [12]byte
	binary.BigEndian.PutUint64(hdr[0:8], m.Pts)
	binary.BigEndian.PutUint32(hdr[8:12], m.SampleCount)
	buf = append(buf, hdr[:]...)
	return putBytes(buf, m.EncodedBytes)
}

func decodeAudioFrame(p []byte) (*AudioFrame, error) {
	if len(p) < 12 {
		return nil, ErrShortPayload
	}
	m := &AudioFrame{
		Pts:         binary.BigEndian.Uint64(p[0:8]),
		SampleCount: binary.BigEndian.Uint32(p[8:12]),
	}
	var err error
	m.EncodedBytes, _, err = getBytes(p[12:])
	return m, err
}

func encodeKeyEvent(m *KeyEvent) []byte {
	buf := make([]byte, 5)
	binary.BigEndian.PutUint32(buf[0:4], m.RawKeycode)
	if m.Down {
		buf[4] = 1
	}
	return buf
}

func decodeKeyEvent(p []byte) (*KeyEvent, error) {
	if len(p) < 5 {
		return nil, ErrShortPayload
	}
	return &KeyEvent{
		RawKeycode: binary.BigEndian.Uint32(p[0:4]),
		Down:       p[4] != 0,
	}, nil
}

func encodePointerMotion(m *PointerMotion) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint32(buf[0:4], uint32(m.X))
	binary.BigEndian.PutUint32(buf[4:8], uint32(m.Y))
	return buf
}

func decodePointerMotion(p []byte) (*PointerMotion, error) {
	if len(p) < 8 {
		return nil, ErrShortPayload
	}
	return &PointerMotion{
		X: int32(binary.BigEndian.Uint32(p[0:4])),
		Y: int32(binary.BigEndian.Uint32(p[4:8])),
	}, nil
}

func encodePointerButton(m *PointerButton) []byte {
	buf := make([]byte, 2)
	buf[0] = m.Button
	if m.Down {
		buf[1] = 1
	}
	return buf
}

func decodePointerButton(p []byte) (*PointerButton, error) {
	if len(p) < 2 {
		return nil, ErrShortPayload
	}
	return &PointerButton{Button: p[0], Down: p[1] != 0}, nil
}

func encodeClipboardData(m *ClipboardData) []byte {
	buf := putString(nil, m.Mime)
	return putBytes(buf, m.Bytes)
}

func decodeClipboardData(p []byte) (*ClipboardData, error) {
	mime, p, err := getString(p)
	if err != nil {
		return nil, err
	}
	b, _, err := getBytes(p)
	if err != nil {
		return nil, err
	}
	return &ClipboardData{Mime: mime, Bytes: b}, nil
}

func encodeCursor(m *Cursor) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint16(buf[0:2], m.W)
	binary.BigEndian.PutUint16(buf[2:4], m.H)
	binary.BigEndian.PutUint16(buf[4:6], m.HotX)
	binary.BigEndian.PutUint16(buf[6:8], m.HotY)
	return putBytes(buf, m.RGBA)
}

func decodeCursor(p []byte) (*Cursor, error) {
	if len(p) < 8 {
		return nil, ErrShortPayload
	}
	m := &Cursor{
		W:    binary.BigEndian.Uint16(p[0:2]),
		H:    binary.BigEndian.Uint16(p[2:4]),
		HotX: binary.BigEndian.Uint16(p[4:6]),
		HotY: binary.BigEndian.Uint16(p[6:8]),
	}
	var err error
	m.RGBA, _, err = getBytes(p[8:])
	return m, err
}

func encodeResize(m *Resize) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint16(buf[0:2], m.W)
	binary.BigEndian.PutUint16(buf[2:4], m.H)
	return buf
}

func decodeResize(p []byte) (*Resize, error) {
	if len(p) < 4 {
		return nil, ErrShortPayload
	}
	return &Resize{W: binary.BigEndian.Uint16(p[0:2]), H: binary.BigEndian.Uint16(p[2:4])}, nil
}

func encodeStats(m *Stats) []byte {
	buf := make([]byte, 20)
	binary.BigEndian.PutUint32(buf[0:4], m.FpsX1000)
	binary.BigEndian.PutUint64(buf[4:12], m.EncodedBps)
	binary.BigEndian.PutUint32(buf[12:16], m.AudioFpsX1000)
	binary.BigEndian.PutUint32(buf[16:20], m.RttMs)
	return buf
}

func decodeStats(p []byte) (*Stats, error) {
	if len(p) < 20 {
		return nil, ErrShortPayload
	}
	return &Stats{
		FpsX1000:      binary.BigEndian.Uint32(p[0:4]),
		EncodedBps:    binary.BigEndian.Uint64(p[4:12]),
		AudioFpsX1000: binary.BigEndian.Uint32(p[12:16]),
		RttMs:         binary.BigEndian.Uint32(p[16:20]),
	}, nil
}
