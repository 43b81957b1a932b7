// Package config loads per-binary configuration from an optional INI
// file, merged under explicit CLI flags (flags win). The internal
// packages never see this package; only cmd/* imports it, handing each
// component an already-populated struct, the same "external collaborator
// at the edge" boundary the teacher draws around its own flag parsing.
package config

import (
	"strconv"

	"gopkg.in/ini.v1"

	"github.com/deskrelay/deskrelay/internal/category"
)

// Server holds deskrelay-server's merged configuration.
type Server struct {
	Backend          string
	Host             string
	Port             int
	VsockCID         uint32
	VsockPort        uint32
	Codecs           []string
	EncoderBinary    string
	FFmpegOptionsCmd string
	MaxStallImg      int
	MaxFPS           int
	ClipboardPolicy  string
	AllowPrint       bool
	AuthMethod       string
	PasswordHash     string
	ControlSocket    string
	ExternImgSource  string
	MaxAudioBufferMs int
}

// Client holds deskrelay-client's merged configuration.
type Client struct {
	Backend    string
	Host       string
	Port       int
	DecoderBin string
	AudioOut   bool
	StatsHUD   bool
}

// Proxy holds deskrelay-proxy's merged configuration.
type Proxy struct {
	ListenBackend string
	ListenHost    string
	ListenPort    int
	UpstreamHost  string
	UpstreamPort  int
	Transcode     bool
}

// LoadINI reads path into a plain key/value map under the default
// section, the same flat-section shape the teacher's agent config uses
// for its own INI file (no nested sections needed for this CLI surface).
func LoadINI(path string) (map[string]string, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, category.Wrap(category.Config, err)
	}
	sect := cfg.Section("")
	out := make(map[string]string)
	for _, key := range sect.Keys() {
		out[key.Name()] = key.Value()
	}
	return out, nil
}

// MergeString returns flagVal if it's non-empty, else the INI value for
// key, else def.
func MergeString(flagVal string, ini map[string]string, key, def string) string {
	if flagVal != "" {
		return flagVal
	}
	if v, ok := ini[key]; ok {
		return v
	}
	return def
}

// MergeInt is MergeString's integer counterpart. flagSet indicates
// whether the caller's flag was explicitly set (cobra's Flags().Changed).
func MergeInt(flagVal int, flagSet bool, ini map[string]string, key string, def int) int {
	if flagSet {
		return flagVal
	}
	if v, ok := ini[key]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// MergeBool is MergeString's boolean counterpart.
func MergeBool(flagVal bool, flagSet bool, ini map[string]string, key string, def bool) bool {
	if flagSet {
		return flagVal
	}
	if v, ok := ini[key]; ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
