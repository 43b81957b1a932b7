package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	deskaudio "github.com/deskrelay/deskrelay/internal/audio"
	"github.com/deskrelay/deskrelay/internal/auth"
	"github.com/deskrelay/deskrelay/internal/client"
	"github.com/deskrelay/deskrelay/internal/config"
	"github.com/deskrelay/deskrelay/internal/protocol"
	"github.com/deskrelay/deskrelay/internal/transport"
	"github.com/deskrelay/deskrelay/internal/version"
)

var (
	flagConfig          string
	flagBackend         string
	flagHost            string
	flagPort            int
	flagVsockCID        uint32
	flagVsockPort       uint32
	flagProxyCommand    string
	flagCodecs          string
	flagDecoderBinary   string
	flagScreenW         int
	flagScreenH         int
	flagAudio           bool
	flagMaxAudioBufMs   int
	flagClipboardPolicy string
	flagAuthMethod      string
	flagPassword        string
	flagTitle            string
	flagProfile          bool
	flagTCPKeepaliveMs   int
	flagTCPUserTimeoutMs int
)

var rootCmd = &cobra.Command{
	Use:   "deskrelay-client",
	Short: "Connect to a deskrelay remote-desktop session",
	RunE:  run,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&flagConfig, "config", "", "INI config file (flags override its values)")
	f.StringVar(&flagBackend, "backend", "tcp", "transport backend: tcp, vsock, stdio")
	f.StringVar(&flagHost, "host", "127.0.0.1", "server host to dial")
	f.IntVar(&flagPort, "port", 5900, "server port to dial")
	f.Uint32Var(&flagVsockCID, "vsock-cid", 2, "AF_VSOCK CID to dial (2 = host, from inside a guest)")
	f.Uint32Var(&flagVsockPort, "vsock-port", 5900, "AF_VSOCK port to dial")
	f.StringVar(&flagProxyCommand, "proxy-command", "", "stdio backend: shell command whose stdin/stdout carries the session")
	f.StringVar(&flagCodecs, "codecs", "h264", "comma-separated codecs offered during negotiation, in preference order")
	f.StringVar(&flagDecoderBinary, "decoder-binary", "ffmpeg", "video decoder subprocess binary")
	f.IntVar(&flagScreenW, "screen-width", 1920, "screen size hint sent in the Hello")
	f.IntVar(&flagScreenH, "screen-height", 1080, "screen size hint sent in the Hello")
	f.BoolVar(&flagAudio, "audio", true, "request audio streaming")
	f.IntVar(&flagMaxAudioBufMs, "max-audio-buffer-ms", 200, "playback ring buffer horizon before oldest frames are dropped")
	f.StringVar(&flagClipboardPolicy, "clipboard-policy", "both", "off, srv_to_cli, cli_to_srv, both, trigger")
	f.StringVar(&flagAuthMethod, "auth", "password", "tls, password, ticket")
	f.StringVar(&flagPassword, "password", "", "password auth: plaintext password (prompted if empty and --auth=password)")
	f.StringVar(&flagTitle, "title", "deskrelay", "window title, informational only")
	f.BoolVar(&flagProfile, "profile", false, "emit structured logs to stderr")
	f.IntVar(&flagTCPKeepaliveMs, "tcp-keepalive-ms", 15000, "TCP SO_KEEPALIVE probe interval in ms (TCP backend only)")
	f.IntVar(&flagTCPUserTimeoutMs, "tcp-user-timeout-ms", 30000, "TCP_USER_TIMEOUT bound in ms (TCP backend only, Linux)")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version and protocol information and exit",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("deskrelay-client %s (%s), protocol v%d\n", version.VERSION, version.Commit, protocol.Version)
		},
	}
	rootCmd.AddCommand(versionCmd)
}

// discardDisplay drops every decoded frame. Presentation surfaces (a real
// window, a framebuffer) are out of scope; this keeps the client's media
// pipeline exercised end to end without one.
type discardDisplay struct {
	log *slog.Logger
}

func (d discardDisplay) Present(frame []byte, width, height int) error {
	d.log.Debug("frame presented", "bytes", len(frame), "width", width, "height", height)
	return nil
}

func run(cmd *cobra.Command, args []string) error {
	ini := map[string]string{}
	if flagConfig != "" {
		var err error
		ini, err = config.LoadINI(flagConfig)
		if err != nil {
			return err
		}
	}
	f := cmd.Flags()

	backend := config.MergeString(flagBackend, ini, "backend", "tcp")
	host := config.MergeString(flagHost, ini, "host", "127.0.0.1")
	port := config.MergeInt(flagPort, f.Changed("port"), ini, "port", 5900)
	vsockCID := config.MergeInt(int(flagVsockCID), f.Changed("vsock-cid"), ini, "vsock_cid", 2)
	vsockPort := config.MergeInt(int(flagVsockPort), f.Changed("vsock-port"), ini, "vsock_port", 5900)
	proxyCommand := config.MergeString(flagProxyCommand, ini, "proxy_command", "")
	codecs := strings.Split(config.MergeString(flagCodecs, ini, "codecs", "h264"), ",")
	decoderBinary := config.MergeString(flagDecoderBinary, ini, "decoder_binary", "ffmpeg")
	screenW := config.MergeInt(flagScreenW, f.Changed("screen-width"), ini, "screen_width", 1920)
	screenH := config.MergeInt(flagScreenH, f.Changed("screen-height"), ini, "screen_height", 1080)
	audio := config.MergeBool(flagAudio, f.Changed("audio"), ini, "audio", true)
	maxAudioBufMs := config.MergeInt(flagMaxAudioBufMs, f.Changed("max-audio-buffer-ms"), ini, "max_audio_buffer_ms", 200)
	clipboardPolicyStr := config.MergeString(flagClipboardPolicy, ini, "clipboard_policy", "both")
	authMethod := config.MergeString(flagAuthMethod, ini, "auth", "password")
	password := config.MergeString(flagPassword, ini, "password", "")
	profile := config.MergeBool(flagProfile, f.Changed("profile"), ini, "profile", false)
	tcpKeepaliveMs := config.MergeInt(flagTCPKeepaliveMs, f.Changed("tcp-keepalive-ms"), ini, "tcp_keepalive_ms", 15000)
	tcpUserTimeoutMs := config.MergeInt(flagTCPUserTimeoutMs, f.Changed("tcp-user-timeout-ms"), ini, "tcp_user_timeout_ms", 30000)

	var backendKind transport.Backend
	switch backend {
	case "tcp":
		backendKind = transport.BackendTCP
	case "vsock":
		backendKind = transport.BackendVsock
	case "stdio":
		backendKind = transport.BackendStdio
	default:
		return fmt.Errorf("unknown backend %q", backend)
	}

	clipboardPolicy, ok := protocol.ParseClipboardPolicy(clipboardPolicyStr)
	if !ok {
		return fmt.Errorf("unknown clipboard policy %q", clipboardPolicyStr)
	}

	respond, err := buildRespond(authMethod, password)
	if err != nil {
		return err
	}

	log := slog.Default()
	cfg := client.Config{
		Transport: transport.Config{
			Backend:      backendKind,
			Host:         host,
			Port:         port,
			CID:          uint32(vsockCID),
			VsockPort:    uint32(vsockPort),
			ProxyCommand: splitCommand(proxyCommand),
			KeepAlive:    time.Duration(tcpKeepaliveMs) * time.Millisecond,
			UserTimeout:  time.Duration(tcpUserTimeoutMs) * time.Millisecond,
		},
		Hello: &protocol.Hello{
			ProtoVersion:    protocol.Version,
			SupportedCodecs: codecs,
			ScreenHintW:     uint16(screenW),
			ScreenHintH:     uint16(screenH),
			AudioWanted:     audio,
			ClipboardPolicy: clipboardPolicy,
		},
		Respond:          respond,
		DecoderBinary:    decoderBinary,
		Display:          discardDisplay{log: log},
		AudioEnabled:     audio,
		MaxAudioBufferMs: maxAudioBufMs,
		NewAudioOutput: func(play *deskaudio.Playback) (client.AudioOutputDriver, error) {
			output, err := deskaudio.NewOutput(play)
			if err != nil {
				return nil, err
			}
			return output, nil
		},
		Profile: profile,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return client.New(cfg).Run(ctx)
}

func splitCommand(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Fields(s)
}

func buildRespond(method, password string) (func(protocol.AuthMethod) (*protocol.AuthResponse, error), error) {
	switch method {
	case "tls":
		return func(protocol.AuthMethod) (*protocol.AuthResponse, error) {
			return auth.RespondTLS(), nil
		}, nil
	case "password":
		if password == "" {
			fmt.Fprint(os.Stderr, "password: ")
			pw, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return nil, fmt.Errorf("read password: %w", err)
			}
			password = string(pw)
		}
		return func(protocol.AuthMethod) (*protocol.AuthResponse, error) {
			return auth.RespondPassword(password), nil
		}, nil
	case "ticket":
		return nil, fmt.Errorf("ticket auth requires a ticket issued out of band; not wired as a standalone --auth mode")
	default:
		return nil, fmt.Errorf("unknown auth method %q", method)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
