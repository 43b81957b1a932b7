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

	"github.com/deskrelay/deskrelay/internal/auth"
	"github.com/deskrelay/deskrelay/internal/config"
	"github.com/deskrelay/deskrelay/internal/protocol"
	"github.com/deskrelay/deskrelay/internal/proxy"
	"github.com/deskrelay/deskrelay/internal/transport"
	"github.com/deskrelay/deskrelay/internal/version"
)

var (
	flagConfig string

	flagDownBackend       string
	flagDownHost          string
	flagDownPort          int
	flagDownVsockCID      uint32
	flagDownVsock         uint32
	flagDownCodecs        string
	flagKeepListen        bool
	flagDownKeepaliveMs   int
	flagDownUserTimeoutMs int

	flagUpBackend       string
	flagUpHost          string
	flagUpPort          int
	flagUpVsockCID      uint32
	flagUpVsock         uint32
	flagUpCodecs        string
	flagAuthMethod      string
	flagPassword        string
	flagUpKeepaliveMs   int
	flagUpUserTimeoutMs int

	flagTranscode     bool
	flagEncoderBinary string
	flagDecoderBinary string
	flagProfile       bool
)

var rootCmd = &cobra.Command{
	Use:   "deskrelay-proxy",
	Short: "Relay a deskrelay session between a client and a server, rewriting negotiated parameters",
	RunE:  run,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&flagConfig, "config", "", "INI config file (flags override its values)")

	f.StringVar(&flagDownBackend, "downstream-backend", "tcp", "downstream (client-facing) transport backend: tcp, vsock")
	f.StringVar(&flagDownHost, "downstream-host", "0.0.0.0", "downstream listen address")
	f.IntVar(&flagDownPort, "downstream-port", 5900, "downstream listen port")
	f.Uint32Var(&flagDownVsockCID, "downstream-vsock-cid", 0, "downstream AF_VSOCK listen CID (0 = any)")
	f.Uint32Var(&flagDownVsock, "downstream-vsock-port", 5900, "downstream AF_VSOCK listen port")
	f.StringVar(&flagDownCodecs, "downstream-codecs", "h264", "comma-separated codecs offered to the downstream client")
	f.BoolVar(&flagKeepListen, "keep-listen", false, "accept a new downstream client after the current relay ends")
	f.IntVar(&flagDownKeepaliveMs, "downstream-tcp-keepalive-ms", 15000, "downstream TCP SO_KEEPALIVE probe interval in ms (TCP backend only)")
	f.IntVar(&flagDownUserTimeoutMs, "downstream-tcp-user-timeout-ms", 30000, "downstream TCP_USER_TIMEOUT bound in ms (TCP backend only, Linux)")

	f.StringVar(&flagUpBackend, "upstream-backend", "tcp", "upstream (server-facing) transport backend: tcp, vsock")
	f.StringVar(&flagUpHost, "upstream-host", "127.0.0.1", "upstream server host to dial")
	f.IntVar(&flagUpPort, "upstream-port", 5900, "upstream server port to dial")
	f.Uint32Var(&flagUpVsockCID, "upstream-vsock-cid", 2, "upstream AF_VSOCK CID to dial")
	f.Uint32Var(&flagUpVsock, "upstream-vsock-port", 5900, "upstream AF_VSOCK port to dial")
	f.StringVar(&flagUpCodecs, "upstream-codecs", "h264", "comma-separated codecs offered to the upstream server, in preference order")
	f.StringVar(&flagAuthMethod, "upstream-auth", "password", "tls, password, ticket: auth method used against the upstream server")
	f.StringVar(&flagPassword, "upstream-password", "", "upstream password auth: plaintext password")
	f.IntVar(&flagUpKeepaliveMs, "upstream-tcp-keepalive-ms", 15000, "upstream TCP SO_KEEPALIVE probe interval in ms (TCP backend only)")
	f.IntVar(&flagUpUserTimeoutMs, "upstream-tcp-user-timeout-ms", 30000, "upstream TCP_USER_TIMEOUT bound in ms (TCP backend only, Linux)")

	f.BoolVar(&flagTranscode, "transcode", false, "decode and re-encode video when the two legs negotiate different codecs, instead of failing the relay")
	f.StringVar(&flagEncoderBinary, "encoder-binary", "ffmpeg", "video encoder subprocess binary used when transcoding")
	f.StringVar(&flagDecoderBinary, "decoder-binary", "ffmpeg", "video decoder subprocess binary used when transcoding")
	f.BoolVar(&flagProfile, "profile", false, "emit structured logs to stderr")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("deskrelay-proxy %s (%s)\n", version.VERSION, version.Commit)
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

	downBackend := config.MergeString(flagDownBackend, ini, "downstream_backend", "tcp")
	downHost := config.MergeString(flagDownHost, ini, "downstream_host", "0.0.0.0")
	downPort := config.MergeInt(flagDownPort, f.Changed("downstream-port"), ini, "downstream_port", 5900)
	downVsockCID := config.MergeInt(int(flagDownVsockCID), f.Changed("downstream-vsock-cid"), ini, "downstream_vsock_cid", 0)
	downVsockPort := config.MergeInt(int(flagDownVsock), f.Changed("downstream-vsock-port"), ini, "downstream_vsock_port", 5900)
	downCodecs := strings.Split(config.MergeString(flagDownCodecs, ini, "downstream_codecs", "h264"), ",")
	keepListen := config.MergeBool(flagKeepListen, f.Changed("keep-listen"), ini, "keep_listen", false)
	downKeepaliveMs := config.MergeInt(flagDownKeepaliveMs, f.Changed("downstream-tcp-keepalive-ms"), ini, "downstream_tcp_keepalive_ms", 15000)
	downUserTimeoutMs := config.MergeInt(flagDownUserTimeoutMs, f.Changed("downstream-tcp-user-timeout-ms"), ini, "downstream_tcp_user_timeout_ms", 30000)

	upBackend := config.MergeString(flagUpBackend, ini, "upstream_backend", "tcp")
	upHost := config.MergeString(flagUpHost, ini, "upstream_host", "127.0.0.1")
	upPort := config.MergeInt(flagUpPort, f.Changed("upstream-port"), ini, "upstream_port", 5900)
	upVsockCID := config.MergeInt(int(flagUpVsockCID), f.Changed("upstream-vsock-cid"), ini, "upstream_vsock_cid", 2)
	upVsockPort := config.MergeInt(int(flagUpVsock), f.Changed("upstream-vsock-port"), ini, "upstream_vsock_port", 5900)
	upCodecs := strings.Split(config.MergeString(flagUpCodecs, ini, "upstream_codecs", "h264"), ",")
	authMethod := config.MergeString(flagAuthMethod, ini, "upstream_auth", "password")
	password := config.MergeString(flagPassword, ini, "upstream_password", "")
	upKeepaliveMs := config.MergeInt(flagUpKeepaliveMs, f.Changed("upstream-tcp-keepalive-ms"), ini, "upstream_tcp_keepalive_ms", 15000)
	upUserTimeoutMs := config.MergeInt(flagUpUserTimeoutMs, f.Changed("upstream-tcp-user-timeout-ms"), ini, "upstream_tcp_user_timeout_ms", 30000)

	transcode := config.MergeBool(flagTranscode, f.Changed("transcode"), ini, "transcode", false)
	encoderBinary := config.MergeString(flagEncoderBinary, ini, "encoder_binary", "ffmpeg")
	decoderBinary := config.MergeString(flagDecoderBinary, ini, "decoder_binary", "ffmpeg")
	profile := config.MergeBool(flagProfile, f.Changed("profile"), ini, "profile", false)

	downBackendKind, err := parseBackend(downBackend)
	if err != nil {
		return err
	}
	upBackendKind, err := parseBackend(upBackend)
	if err != nil {
		return err
	}

	authenticators, err := buildDownstreamAuthenticators()
	if err != nil {
		return err
	}
	upstreamRespond, err := buildUpstreamRespond(authMethod, password)
	if err != nil {
		return err
	}

	cfg := proxy.Config{
		Downstream: transport.Config{
			Backend:     downBackendKind,
			Host:        downHost,
			Port:        downPort,
			CID:         uint32(downVsockCID),
			VsockPort:   uint32(downVsockPort),
			KeepAlive:   time.Duration(downKeepaliveMs) * time.Millisecond,
			UserTimeout: time.Duration(downUserTimeoutMs) * time.Millisecond,
		},
		DownstreamCodecs: downCodecs,
		Authenticators:   authenticators,
		KeepListen:       keepListen,

		Upstream: transport.Config{
			Backend:     upBackendKind,
			Host:        upHost,
			Port:        upPort,
			CID:         uint32(upVsockCID),
			VsockPort:   uint32(upVsockPort),
			KeepAlive:   time.Duration(upKeepaliveMs) * time.Millisecond,
			UserTimeout: time.Duration(upUserTimeoutMs) * time.Millisecond,
		},
		UpstreamHello: &protocol.Hello{
			ProtoVersion:    protocol.Version,
			SupportedCodecs: upCodecs,
		},
		UpstreamRespond: upstreamRespond,

		Transcode:     transcode,
		EncoderBinary: encoderBinary,
		DecoderBinary: decoderBinary,
		Profile:       profile,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return proxy.New(cfg).Run(ctx)
}

func parseBackend(s string) (transport.Backend, error) {
	switch s {
	case "tcp":
		return transport.BackendTCP, nil
	case "vsock":
		return transport.BackendVsock, nil
	default:
		return 0, fmt.Errorf("unknown backend %q", s)
	}
}

// buildDownstreamAuthenticators accepts any TLS-presented client
// certificate from the real client; the proxy's trust boundary is the
// TLS transport itself, with per-password/per-ticket checks left to the
// upstream server it relays to.
func buildDownstreamAuthenticators() ([]auth.Authenticator, error) {
	return []auth.Authenticator{&auth.TLSAuthenticator{}}, nil
}

func buildUpstreamRespond(method, password string) (func(protocol.AuthMethod) (*protocol.AuthResponse, error), error) {
	switch method {
	case "tls":
		return func(protocol.AuthMethod) (*protocol.AuthResponse, error) {
			return auth.RespondTLS(), nil
		}, nil
	case "password":
		if password == "" {
			fmt.Fprint(os.Stderr, "upstream password: ")
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
		return nil, fmt.Errorf("ticket auth requires a ticket issued out of band; not wired as a standalone --upstream-auth mode")
	default:
		return nil, fmt.Errorf("unknown upstream auth method %q", method)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
