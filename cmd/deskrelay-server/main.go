package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/deskrelay/deskrelay/internal/audio"
	"github.com/deskrelay/deskrelay/internal/auth"
	"github.com/deskrelay/deskrelay/internal/config"
	"github.com/deskrelay/deskrelay/internal/protocol"
	"github.com/deskrelay/deskrelay/internal/server"
	"github.com/deskrelay/deskrelay/internal/transport"
	"github.com/deskrelay/deskrelay/internal/version"
	"github.com/deskrelay/deskrelay/internal/video"
)

var (
	flagConfig           string
	flagBackend          string
	flagHost             string
	flagPort             int
	flagVsockCID         uint32
	flagVsockPort        uint32
	flagCodecs           string
	flagEncoderBinary    string
	flagFFmpegOptionsCmd string
	flagMaxStallImg      int
	flagMaxFPS           int
	flagAllowPrint       bool
	flagAuthMethod       string
	flagPassword         string
	flagControlSocket    string
	flagKeepListen       bool
	flagProfile          bool
	flagExternImgSource  string
	flagExternImgW       int
	flagExternImgH       int
	flagExternImgFormat  string
	flagTCPKeepaliveMs   int
	flagTCPUserTimeoutMs int
	flagMaxAudioBufferMs int
)

var rootCmd = &cobra.Command{
	Use:   "deskrelay-server",
	Short: "Host a deskrelay remote-desktop session",
	RunE:  run,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&flagConfig, "config", "", "INI config file (flags override its values)")
	f.StringVar(&flagBackend, "backend", "tcp", "transport backend: tcp, vsock")
	f.StringVar(&flagHost, "host", "0.0.0.0", "TCP listen address")
	f.IntVar(&flagPort, "port", 5900, "TCP listen port")
	f.Uint32Var(&flagVsockCID, "vsock-cid", 0, "AF_VSOCK listen CID (0 = any)")
	f.Uint32Var(&flagVsockPort, "vsock-port", 5900, "AF_VSOCK listen port")
	f.StringVar(&flagCodecs, "codecs", "h264", "comma-separated codecs offered during negotiation")
	f.StringVar(&flagEncoderBinary, "encoder-binary", "ffmpeg", "video encoder subprocess binary")
	f.StringVar(&flagFFmpegOptionsCmd, "ffmpeg-options-cmd", "", "shell command re-run on every (re)encode to produce extra encoder options")
	f.IntVar(&flagMaxStallImg, "max-stall-img", 100, "dirty-free ticks before the encoder is released")
	f.IntVar(&flagMaxFPS, "max-fps", 30, "capture pacing cap")
	f.BoolVar(&flagAllowPrint, "allow-print", false, "allow the reserved print-spool MIME type over the clipboard plane")
	f.StringVar(&flagAuthMethod, "auth", "password", "tls, password, ticket")
	f.StringVar(&flagPassword, "password", "", "password auth: plaintext password (prompted if empty and --auth=password)")
	f.StringVar(&flagControlSocket, "control-socket", "", "Unix socket path whose connection arrival hot-reloads the encoder")
	f.BoolVar(&flagKeepListen, "keep-listen", false, "accept a new client after the current one disconnects")
	f.BoolVar(&flagProfile, "profile", false, "emit structured logs to stderr")
	f.StringVar(&flagExternImgSource, "extern-img-source", "", "shared-memory segment name to capture frames from instead of an OS capture backend")
	f.IntVar(&flagExternImgW, "extern-img-width", 1920, "--extern-img-source frame width")
	f.IntVar(&flagExternImgH, "extern-img-height", 1080, "--extern-img-source frame height")
	f.StringVar(&flagExternImgFormat, "extern-img-format", "bgrx8888", "--extern-img-source pixel format: bgrx8888, rgbx8888")
	f.IntVar(&flagTCPKeepaliveMs, "tcp-keepalive-ms", 15000, "TCP SO_KEEPALIVE probe interval in ms (TCP backend only)")
	f.IntVar(&flagTCPUserTimeoutMs, "tcp-user-timeout-ms", 30000, "TCP_USER_TIMEOUT bound in ms (TCP backend only, Linux)")
	f.IntVar(&flagMaxAudioBufferMs, "max-audio-buffer-ms", 5120, "capture-side audio ring horizon before oldest samples are dropped")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("deskrelay-server %s (%s)\n", version.VERSION, version.Commit)
		},
	})
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
	host := config.MergeString(flagHost, ini, "host", "0.0.0.0")
	port := config.MergeInt(flagPort, f.Changed("port"), ini, "port", 5900)
	vsockCID := config.MergeInt(int(flagVsockCID), f.Changed("vsock-cid"), ini, "vsock_cid", 0)
	vsockPort := config.MergeInt(int(flagVsockPort), f.Changed("vsock-port"), ini, "vsock_port", 5900)
	codecs := strings.Split(config.MergeString(flagCodecs, ini, "codecs", "h264"), ",")
	encoderBinary := config.MergeString(flagEncoderBinary, ini, "encoder_binary", "ffmpeg")
	optionsCmd := config.MergeString(flagFFmpegOptionsCmd, ini, "ffmpeg_options_cmd", "")
	maxStallImg := config.MergeInt(flagMaxStallImg, f.Changed("max-stall-img"), ini, "max_stall_img", 100)
	maxFPS := config.MergeInt(flagMaxFPS, f.Changed("max-fps"), ini, "max_fps", 30)
	allowPrint := config.MergeBool(flagAllowPrint, f.Changed("allow-print"), ini, "allow_print", false)
	authMethod := config.MergeString(flagAuthMethod, ini, "auth", "password")
	password := config.MergeString(flagPassword, ini, "password", "")
	controlSocket := config.MergeString(flagControlSocket, ini, "control_socket", "")
	keepListen := config.MergeBool(flagKeepListen, f.Changed("keep-listen"), ini, "keep_listen", false)
	profile := config.MergeBool(flagProfile, f.Changed("profile"), ini, "profile", false)
	tcpKeepaliveMs := config.MergeInt(flagTCPKeepaliveMs, f.Changed("tcp-keepalive-ms"), ini, "tcp_keepalive_ms", 15000)
	tcpUserTimeoutMs := config.MergeInt(flagTCPUserTimeoutMs, f.Changed("tcp-user-timeout-ms"), ini, "tcp_user_timeout_ms", 30000)
	maxAudioBufferMs := config.MergeInt(flagMaxAudioBufferMs, f.Changed("max-audio-buffer-ms"), ini, "max_audio_buffer_ms", 5120)

	var backendKind transport.Backend
	switch backend {
	case "tcp":
		backendKind = transport.BackendTCP
	case "vsock":
		backendKind = transport.BackendVsock
	default:
		return fmt.Errorf("unknown backend %q", backend)
	}

	authenticators, err := buildAuthenticators(authMethod, password)
	if err != nil {
		return err
	}

	cfg := server.Config{
		Transport: transport.Config{
			Backend:     backendKind,
			Host:        host,
			Port:        port,
			CID:         uint32(vsockCID),
			VsockPort:   uint32(vsockPort),
			KeepAlive:   time.Duration(tcpKeepaliveMs) * time.Millisecond,
			UserTimeout: time.Duration(tcpUserTimeoutMs) * time.Millisecond,
		},
		KeepListen:       keepListen,
		ServerCodecs:     codecs,
		Authenticators:   authenticators,
		EncoderBinary:    encoderBinary,
		MaxStallImg:      maxStallImg,
		MaxFPS:           maxFPS,
		AllowPrint:       allowPrint,
		AudioEnabled:     true,
		MaxAudioBufferMs: maxAudioBufferMs,
		ControlSocket:    controlSocket,
		Profile:          profile,
		NewAudioCapture: func(ring *audio.Ring) (server.AudioCaptureDriver, error) {
			driver, err := audio.NewCapture(ring)
			if err != nil {
				return nil, err
			}
			return driver, nil
		},
	}
	if optionsCmd != "" {
		cfg.OptionsHook = video.NewCommandOptionsHook(optionsCmd)
	}

	externImgSource := config.MergeString(flagExternImgSource, ini, "extern_img_source", "")
	if externImgSource != "" {
		format, err := parsePixelFormat(config.MergeString(flagExternImgFormat, ini, "extern_img_format", "bgrx8888"))
		if err != nil {
			return err
		}
		width := config.MergeInt(flagExternImgW, f.Changed("extern-img-width"), ini, "extern_img_width", 1920)
		height := config.MergeInt(flagExternImgH, f.Changed("extern-img-height"), ini, "extern_img_height", 1080)
		driver, err := video.OpenShmCapture(externImgSource, width, height, format)
		if err != nil {
			return err
		}
		cfg.CaptureDriver = driver
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return server.New(cfg).Run(ctx)
}

func buildAuthenticators(method, password string) ([]auth.Authenticator, error) {
	switch method {
	case "tls":
		return []auth.Authenticator{&auth.TLSAuthenticator{}}, nil
	case "password":
		if password == "" {
			fmt.Fprint(os.Stderr, "server password: ")
			pw, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return nil, fmt.Errorf("read password: %w", err)
			}
			password = string(pw)
		}
		hash, err := auth.HashPassword(password)
		if err != nil {
			return nil, err
		}
		return []auth.Authenticator{&auth.PasswordAuthenticator{HashedPassword: hash}}, nil
	case "ticket":
		return nil, fmt.Errorf("ticket auth requires issuing tickets out of band; not wired as a standalone --auth mode")
	default:
		return nil, fmt.Errorf("unknown auth method %q", method)
	}
}

func parsePixelFormat(s string) (protocol.PixelFormat, error) {
	switch s {
	case "bgrx8888":
		return protocol.PixelBGRX8888, nil
	case "rgbx8888":
		return protocol.PixelRGBX8888, nil
	default:
		return 0, fmt.Errorf("unknown --extern-img-format %q", s)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
