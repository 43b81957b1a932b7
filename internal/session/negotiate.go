package session

import "github.com/deskrelay/deskrelay/internal/protocol"

// codecPixelFormats records, for each codec name this repo knows how to
// drive, the pixel formats its encoder/decoder pair accepts. Negotiation
// requires the chosen codec's set to intersect the formats named in §4.2.
var codecPixelFormats = map[string][]protocol.PixelFormat{
	"h264": {protocol.PixelYUV420P, protocol.PixelNV12},
	"h265": {protocol.PixelYUV420P, protocol.PixelNV12},
	"vp9":  {protocol.PixelYUV420P, protocol.PixelYUV444P},
	"av1":  {protocol.PixelYUV420P, protocol.PixelYUV444P},
	"raw":  {protocol.PixelBGRX8888, protocol.PixelRGBX8888},
}

var requiredPixelFormats = map[protocol.PixelFormat]bool{
	protocol.PixelYUV420P:  true,
	protocol.PixelYUV444P:  true,
	protocol.PixelNV12:     true,
	protocol.PixelRGBX8888: true,
}

// PixelFormatForCodec returns the pixel format this repo's encoder/decoder
// pair for codec actually operates in: the first entry in codecPixelFormats,
// which NegotiateCodec already confirmed is a format requiredPixelFormats
// recognizes. Both session sides call this with the same negotiated codec
// name, so they agree on the format without it needing its own wire field.
func PixelFormatForCodec(codec string) protocol.PixelFormat {
	formats := codecPixelFormats[codec]
	if len(formats) == 0 {
		return protocol.PixelYUV420P
	}
	return formats[0]
}

// NegotiateCodec picks the first codec, in the server's preference order,
// that the client also advertised and whose pixel-format set intersects
// the codecs this repo's pipeline can actually feed. Returns ok=false if
// no such codec exists, which fails the session per §4.2.
func NegotiateCodec(serverCodecs, clientCodecs []string) (string, bool) {
	clientSet := make(map[string]bool, len(clientCodecs))
	for _, c := range clientCodecs {
		clientSet[c] = true
	}
	for _, c := range serverCodecs {
		if !clientSet[c] {
			continue
		}
		formats, known := codecPixelFormats[c]
		if !known {
			continue
		}
		for _, f := range formats {
			if requiredPixelFormats[f] {
				return c, true
			}
		}
	}
	return "", false
}
