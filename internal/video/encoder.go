package video

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"time"

	"github.com/deskrelay/deskrelay/internal/category"
	"github.com/deskrelay/deskrelay/internal/protocol"
)

// readPollTimeout bounds how long readPacket waits for the next packet's
// header to start arriving before reporting none available this round.
const readPollTimeout = 50 * time.Millisecond

// Packet is one encoded output unit ready to be wrapped in a VideoFrame.
type Packet struct {
	Data     []byte
	Keyframe bool
}

// Encoder consumes raw frames (already colour-converted to its negotiated
// pixel format) and produces zero or more compressed packets per frame,
// exactly as the teacher treats a PTY: opaque bytes in, opaque bytes out.
// The codec itself is a black box reached over a subprocess per spec §1.
type Encoder interface {
	Encode(frame []byte) ([]Packet, error)
	Close() error
}

// Decoder is the client-side inverse: compressed packets in, raw frames in
// the negotiated pixel format out.
type Decoder interface {
	Decode(packet []byte) ([]byte, error)
	Close() error
}

// Options is the string-keyed option table spec §1 and §4.4 require:
// negotiated codec options merged with whatever the ffmpeg_options_cmd
// hook produced for this tick.
type Options map[string]string

// sortedPairs renders Options deterministically for subprocess argv, so
// repeated (re)creation with the same map produces identical argv.
func (o Options) sortedPairs() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		pairs = append(pairs, "--opt", fmt.Sprintf("%s=%s", k, o[k]))
	}
	return pairs
}

// subprocessCodec drives an external encoder or decoder process over its
// stdin/stdout, length-prefixed the same way internal/protocol frames the
// session wire: a 4-byte big-endian length, then that many bytes. This is
// the stdlib-only component spec.md treats as an opaque black box; no
// example in the pack binds a matching codec SDK to wire instead.
type subprocessCodec struct {
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	stdoutFile *os.File
	stdout     *bufio.Reader
}

// startSubprocess opens stdout as our own os.Pipe rather than via
// cmd.StdoutPipe, so readPacket holds the *os.File needed to poll it with
// a read deadline instead of blocking indefinitely.
func startSubprocess(ctx context.Context, binary string, args []string) (*subprocessCodec, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, category.Wrap(category.Codec, err)
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, category.Wrap(category.Codec, err)
	}
	cmd.Stdout = stdoutW
	if err := cmd.Start(); err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return nil, category.Wrap(category.Codec, err)
	}
	stdoutW.Close()
	return &subprocessCodec{cmd: cmd, stdin: stdin, stdoutFile: stdoutR, stdout: bufio.NewReaderSize(stdoutR, 1<<20)}, nil
}

func (s *subprocessCodec) writeFrame(data []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := s.stdin.Write(lenBuf[:]); err != nil {
		return category.Wrap(category.Codec, err)
	}
	if _, err := s.stdin.Write(data); err != nil {
		return category.Wrap(category.Codec, err)
	}
	return nil
}

// readPackets drains all currently-available length-prefixed packets from
// stdout without blocking past what the subprocess has already flushed.
// The subprocess is expected to write a packet per input frame it has
// enough buffered state to emit, possibly zero (B-frame reordering), so
// awaitPacket bounds the wait for the next header instead of blocking
// forever on one that may not be coming this round.
func (s *subprocessCodec) readPacket() ([]byte, bool, error) {
	ready, err := s.awaitPacket()
	if err != nil {
		return nil, false, err
	}
	if !ready {
		return nil, false, nil
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(s.stdout, lenBuf[:]); err != nil {
		if err == io.EOF {
			return nil, false, nil
		}
		return nil, false, category.Wrap(category.Codec, err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > protocol.MaxFrameLen {
		return nil, false, category.Wrapf(category.Codec, "subprocess packet %d exceeds max payload", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(s.stdout, buf); err != nil {
		return nil, false, category.Wrap(category.Codec, err)
	}
	return buf, true, nil
}

// awaitPacket peeks for the next packet's first byte under readPollTimeout,
// without consuming it, so a timeout never desynchronizes the
// length-prefix framing the way a partially-read header would.
func (s *subprocessCodec) awaitPacket() (bool, error) {
	if err := s.stdoutFile.SetReadDeadline(time.Now().Add(readPollTimeout)); err != nil {
		return true, nil // deadlines unsupported on this platform/fd: fall back to a plain blocking read
	}
	_, err := s.stdout.Peek(1)
	s.stdoutFile.SetReadDeadline(time.Time{})
	if err == nil {
		return true, nil
	}
	if os.IsTimeout(err) {
		return false, nil
	}
	if err == io.EOF {
		return false, nil
	}
	return false, category.Wrap(category.Codec, err)
}

func (s *subprocessCodec) Close() error {
	s.stdin.Close()
	err := s.cmd.Wait()
	s.stdoutFile.Close()
	return err
}

// SubprocessEncoder drives --encoder as a subprocess: raw frames in, zero
// or more compressed packets back per frame. The first byte of each
// returned packet is a keyframe flag (1/0) the subprocess is expected to
// prepend, mirroring how codecs report IDR/keyframe status out-of-band.
type SubprocessEncoder struct{ proc *subprocessCodec }

// NewSubprocessEncoder starts binary with argv built from codec, pixel
// format, dimensions, and opts (negotiated options merged with the
// ffmpeg_options_cmd hook's output, per §4.4 step 3).
func NewSubprocessEncoder(ctx context.Context, binary, codec string, format protocol.PixelFormat, width, height int, opts Options) (*SubprocessEncoder, error) {
	args := append([]string{
		"encode", "--codec", codec,
		"--format", format.String(),
		"--width", fmt.Sprint(width),
		"--height", fmt.Sprint(height),
	}, opts.sortedPairs()...)
	proc, err := startSubprocess(ctx, binary, args)
	if err != nil {
		return nil, err
	}
	return &SubprocessEncoder{proc: proc}, nil
}

func (e *SubprocessEncoder) Encode(frame []byte) ([]Packet, error) {
	if err := e.proc.writeFrame(frame); err != nil {
		return nil, err
	}
	var packets []Packet
	for {
		raw, ok, err := e.proc.readPacket()
		if err != nil {
			return packets, err
		}
		if !ok {
			break
		}
		if len(raw) == 0 {
			break
		}
		packets = append(packets, Packet{Data: raw[1:], Keyframe: raw[0] == 1})
	}
	return packets, nil
}

func (e *SubprocessEncoder) Close() error { return e.proc.Close() }

// SubprocessDecoder is the client-side counterpart.
type SubprocessDecoder struct{ proc *subprocessCodec }

func NewSubprocessDecoder(ctx context.Context, binary, codec string, format protocol.PixelFormat, width, height int) (*SubprocessDecoder, error) {
	args := []string{
		"decode", "--codec", codec,
		"--format", format.String(),
		"--width", fmt.Sprint(width),
		"--height", fmt.Sprint(height),
	}
	proc, err := startSubprocess(ctx, binary, args)
	if err != nil {
		return nil, err
	}
	return &SubprocessDecoder{proc: proc}, nil
}

func (d *SubprocessDecoder) Decode(packet []byte) ([]byte, error) {
	if err := d.proc.writeFrame(packet); err != nil {
		return nil, err
	}
	raw, ok, err := d.proc.readPacket()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return raw, nil
}

func (d *SubprocessDecoder) Close() error { return d.proc.Close() }
