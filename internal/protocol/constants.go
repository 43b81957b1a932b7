package protocol

// Wire format version.
const Version = 1

// Frame header: an 8-byte big-endian length, followed by the payload bytes.
const LengthSize = 8

// MaxFrameLen is the maximum payload length accepted on the wire (100 MiB).
// A reader that observes a length above this fails the connection.
const MaxFrameLen = 100 * 1024 * 1024

// MessageKind identifies the type of a framed message.
type MessageKind byte

const (
	KindHello            MessageKind = 0x01
	KindServerHello      MessageKind = 0x02
	KindAuthChallenge    MessageKind = 0x03
	KindAuthResponse     MessageKind = 0x04
	KindResolutionChange MessageKind = 0x05
	KindVideoFrame       MessageKind = 0x10
	KindAudioFrame       MessageKind = 0x11
	KindKeyEvent         MessageKind = 0x20
	KindPointerMotion    MessageKind = 0x21
	KindPointerButton    MessageKind = 0x22
	KindClipboardData    MessageKind = 0x30
	KindClipboardRequest MessageKind = 0x31
	KindCursor           MessageKind = 0x32
	KindResize           MessageKind = 0x40
	KindStats            MessageKind = 0x41
	KindBye              MessageKind = 0x42
)

// PixelFormat enumerates the logical pixel layouts a CapturedImage or
// Encoder handle may carry.
type PixelFormat byte

const (
	PixelBGRX8888 PixelFormat = iota
	PixelRGBX8888
	PixelYUV420P
	PixelYUV444P
	PixelNV12
)

func (p PixelFormat) String() string {
	switch p {
	case PixelBGRX8888:
		return "bgrx8888"
	case PixelRGBX8888:
		return "rgbx8888"
	case PixelYUV420P:
		return "yuv420p"
	case PixelYUV444P:
		return "yuv444p"
	case PixelNV12:
		return "nv12"
	default:
		return "unknown"
	}
}

// ClipboardPolicy enumerates who is allowed to push a clipboard update.
type ClipboardPolicy byte

const (
	ClipboardOff ClipboardPolicy = iota
	ClipboardSrvToCli
	ClipboardCliToSrv
	ClipboardBoth
	ClipboardTrigger
)

func ParseClipboardPolicy(s string) (ClipboardPolicy, bool) {
	switch s {
	case "off":
		return ClipboardOff, true
	case "srv_to_cli":
		return ClipboardSrvToCli, true
	case "cli_to_srv":
		return ClipboardCliToSrv, true
	case "both":
		return ClipboardBoth, true
	case "trigger":
		return ClipboardTrigger, true
	default:
		return ClipboardOff, false
	}
}

// ByeReason identifies why a session was torn down.
type ByeReason byte

const (
	ByeNone          ByeReason = iota
	ByeProtocolError           // framing error / oversize / decode failure
	ByeVersion                 // protocol version mismatch
	ByeAuth                    // authentication rejected
	ByeShutdown                // clean, user-initiated disconnect
)

func (r ByeReason) String() string {
	switch r {
	case ByeProtocolError:
		return "protocol_error"
	case ByeVersion:
		return "version"
	case ByeAuth:
		return "auth"
	case ByeShutdown:
		return "shutdown"
	default:
		return "none"
	}
}

// AuthMethod identifies a pluggable authentication strategy negotiated
// during the AUTH state.
type AuthMethod byte

const (
	AuthMethodNone AuthMethod = iota
	AuthMethodTLS
	AuthMethodPassword
	AuthMethodTicket
)
