package adb

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitLegacyExit(t *testing.T) {
	tests := []struct {
		name     string
		out      string
		want     string
		wantCode int
		wantErr  bool
	}{
		{"zero", "hello\n" + exitMarker + "0\n", "hello\n", 0, false},
		{"crlf from pty", "a\r\nb\r\n" + exitMarker + "127\r\n", "a\nb\n", 127, false},
		{"empty output", exitMarker + "1\n", "", 1, false},
		{"marker missing", "truncated", "", -1, true},
		{"garbage status", exitMarker + "x\n", "", -1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, code, err := splitLegacyExit([]byte(tt.out))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(out))
			assert.Equal(t, tt.wantCode, code)
		})
	}
}

func TestDemuxShellV2(t *testing.T) {
	var in bytes.Buffer
	in.Write(shellPacket(shellStdout, []byte("out1 ")))
	in.Write(shellPacket(shellStderr, []byte("err")))
	in.Write(shellPacket(5, []byte{0, 0, 0, 0})) // window size, ignored
	in.Write(shellPacket(shellStdout, []byte("out2")))
	in.Write(exitPacket(42))
	in.Write(shellPacket(shellStdout, []byte("after exit")))

	var stdout, stderr bytes.Buffer
	code, err := demuxShellV2(&in, &stdout, &stderr)
	require.NoError(t, err)
	assert.Equal(t, 42, code)
	assert.Equal(t, "out1 out2", stdout.String())
	assert.Equal(t, "err", stderr.String())
}

func TestDemuxShellV2_MissingExit(t *testing.T) {
	in := bytes.NewReader(shellPacket(shellStdout, []byte("partial")))
	_, err := demuxShellV2(in, io.Discard, io.Discard)
	require.Error(t, err)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
