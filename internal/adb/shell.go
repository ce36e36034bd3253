package adb

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Shell v2 packet ids for the packets we read. Ids 0, 4 and 5 are
// host-to-device (stdin, close stdin, window size).
const (
	shellStdout = 1
	shellStderr = 2
	shellExit   = 3
)

// exitMarker tags the exit status line appended to legacy shell commands.
const exitMarker = "\x1esbctool-exit:"

// Opener starts services on a device. Conn does it over a direct
// transport; the server client relays through the local adb server.
type Opener interface {
	Open(ctx context.Context, service string) (io.ReadWriteCloser, error)
}

// Shell runs commands on one device, choosing the shell protocol the
// device advertises.
type Shell struct {
	opener  Opener
	shellV2 bool
}

// NewShell wraps an opener. shellV2 comes from the device's features.
func NewShell(opener Opener, shellV2 bool) *Shell {
	return &Shell{opener: opener, shellV2: shellV2}
}

// Exec runs cmd to completion. Cancelling ctx closes the stream.
func (s *Shell) Exec(ctx context.Context, cmd string) (stdout, stderr []byte, exitCode int, err error) {
	service := "shell,v2,raw:" + cmd
	if !s.shellV2 {
		service = "shell:" + cmd + legacyExitSuffix
	}

	stream, err := s.opener.Open(ctx, service)
	if err != nil {
		return nil, nil, -1, err
	}
	defer stream.Close()

	stop := context.AfterFunc(ctx, func() { stream.Close() })
	defer stop()

	var outBuf, errBuf bytes.Buffer
	if s.shellV2 {
		exitCode, err = demuxShellV2(stream, &outBuf, &errBuf)
	} else {
		_, err = io.Copy(&outBuf, stream)
		if err == nil {
			var out []byte
			out, exitCode, err = splitLegacyExit(outBuf.Bytes())
			outBuf.Reset()
			outBuf.Write(out)
		}
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, nil, -1, fmt.Errorf("exec %q: %w", cmd, ctxErr)
	}
	if err != nil {
		return nil, nil, -1, err
	}
	return outBuf.Bytes(), errBuf.Bytes(), exitCode, nil
}

// Stream starts a long-running cmd and returns its combined output.
// Closing the reader closes the device stream.
func (s *Shell) Stream(ctx context.Context, cmd string) (io.ReadCloser, error) {
	service := "shell,v2,raw:" + cmd
	if !s.shellV2 {
		service = "shell:" + cmd
	}

	stream, err := s.opener.Open(ctx, service)
	if err != nil {
		return nil, err
	}
	if !s.shellV2 {
		return stream, nil
	}

	pr, pw := io.Pipe()
	go func() {
		_, err := demuxShellV2(stream, pw, pw)
		if err == nil {
			err = io.EOF
		}
		pw.CloseWithError(err)
	}()
	return &shellStream{PipeReader: pr, stream: stream}, nil
}

type shellStream struct {
	*io.PipeReader
	stream io.Closer
}

func (s *shellStream) Close() error {
	s.stream.Close()
	return s.PipeReader.Close()
}

// legacyExitSuffix makes the legacy shell print the exit status last.
const legacyExitSuffix = `; echo "` + exitMarker + `$?"`

// splitLegacyExit strips the exit marker line and returns the status.
func splitLegacyExit(out []byte) ([]byte, int, error) {
	text := strings.ReplaceAll(string(out), "\r\n", "\n")
	idx := strings.LastIndex(text, exitMarker)
	if idx < 0 {
		return nil, -1, fmt.Errorf("shell output ended before the exit status")
	}
	status := strings.TrimSpace(text[idx+len(exitMarker):])
	code, err := strconv.Atoi(status)
	if err != nil {
		return nil, -1, fmt.Errorf("bad exit status %q: %w", status, err)
	}
	return []byte(text[:idx]), code, nil
}

// demuxShellV2 copies stdout and stderr packets until the exit packet.
// Packets are [id:1][length:4 LE][payload].
func demuxShellV2(r io.Reader, stdout, stderr io.Writer) (int, error) {
	var header [5]byte
	for {
		if _, err := io.ReadFull(r, header[:]); err != nil {
			if err == io.EOF {
				return -1, fmt.Errorf("shell stream ended without exit status: %w", io.ErrUnexpectedEOF)
			}
			return -1, err
		}
		length := binary.LittleEndian.Uint32(header[1:])
		if length > MaxPayload {
			return -1, fmt.Errorf("shell packet of %d bytes exceeds limit", length)
		}

		switch header[0] {
		case shellStdout:
			if _, err := io.CopyN(stdout, r, int64(length)); err != nil {
				return -1, err
			}
		case shellStderr:
			if _, err := io.CopyN(stderr, r, int64(length)); err != nil {
				return -1, err
			}
		case shellExit:
			payload := make([]byte, length)
			if _, err := io.ReadFull(r, payload); err != nil {
				return -1, err
			}
			if len(payload) == 0 {
				return -1, fmt.Errorf("empty exit packet")
			}
			return int(payload[0]), nil
		default:
			if _, err := io.CopyN(io.Discard, r, int64(length)); err != nil {
				return -1, err
			}
		}
	}
}
