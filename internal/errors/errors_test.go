package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorCodes(t *testing.T) {
	codes := []string{
		ErrConfig,
		ErrUsage,
		ErrSSH,
		ErrADB,
		ErrConnect,
		ErrSession,
		ErrNoDevice,
		ErrAuth,
		ErrHandshakeTimeout,
	}

	seen := make(map[string]bool)
	for _, code := range codes {
		assert.NotEmpty(t, code, "error code should not be empty")
		assert.False(t, seen[code], "error code %q should be unique", code)
		seen[code] = true
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name       string
		code       string
		message    string
		suggestion string
	}{
		{
			name:       "config error",
			code:       ErrConfig,
			message:    "Invalid configuration in .sbctool.yaml",
			suggestion: "Check your configuration file syntax",
		},
		{
			name:       "no device",
			code:       ErrNoDevice,
			message:    "No Android device found",
			suggestion: "Plug in a device or pass -s <serial>",
		},
		{
			name:       "auth error",
			code:       ErrAuth,
			message:    "SSH auth to 'khadas' failed",
			suggestion: "Check your keys are loaded: ssh-add -l",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, tt.message, tt.suggestion)

			require.NotNil(t, err)
			assert.Equal(t, tt.code, err.Code)
			assert.Equal(t, tt.message, err.Message)
			assert.Equal(t, tt.suggestion, err.Suggestion)
			assert.Nil(t, err.Cause)
		})
	}
}

func TestErrorFormatting(t *testing.T) {
	tests := []struct {
		name          string
		err           *Error
		expectedParts []string
	}{
		{
			name:          "basic",
			err:           New(ErrConfig, "Invalid configuration", "Check .sbctool.yaml syntax"),
			expectedParts: []string{"✗", "Invalid configuration", "Check .sbctool.yaml syntax"},
		},
		{
			name:          "with cause",
			err:           WrapWithCode(errors.New("i/o timeout"), ErrHandshakeTimeout, "ADB handshake timed out", ""),
			expectedParts: []string{"ADB handshake timed out", "i/o timeout"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output := tt.err.Error()
			for _, part := range tt.expectedParts {
				assert.Contains(t, output, part)
			}
		})
	}
}

func TestErrorMessageStructure(t *testing.T) {
	err := WrapWithCode(
		errors.New("connection refused"),
		ErrConnect,
		"Can't reach 'khadas' at 192.168.1.4:22",
		"Is SSH running on that box?",
	)

	lines := strings.Split(err.Error(), "\n")
	assert.True(t, strings.HasPrefix(lines[0], "✗"))
	assert.Contains(t, lines[0], "Can't reach 'khadas'")
}

func TestWrap(t *testing.T) {
	cause := errors.New("underlying network error")
	wrapped := Wrap(cause, "connect failed")

	assert.Equal(t, ErrConnect, wrapped.Code, "Wrap should default to ErrConnect")
	assert.Equal(t, cause, wrapped.Cause)
	assert.True(t, errors.Is(wrapped, cause))
}

func TestIsCode(t *testing.T) {
	err := New(ErrAuth, "auth failed", "")

	assert.True(t, IsCode(err, ErrAuth))
	assert.False(t, IsCode(err, ErrSSH))
	assert.False(t, IsCode(errors.New("standard error"), ErrAuth))
	assert.False(t, IsCode(nil, ErrAuth))
	assert.True(t, IsCode(fmt.Errorf("context: %w", err), ErrAuth))
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"plain error", errors.New("boom"), ExitGeneric},
		{"usage", New(ErrUsage, "bad args", ""), ExitGeneric},
		{"config", New(ErrConfig, "bad config", ""), ExitGeneric},
		{"connect", New(ErrConnect, "refused", ""), ExitConnect},
		{"ssh", New(ErrSSH, "channel failed", ""), ExitConnect},
		{"adb", New(ErrADB, "protocol error", ""), ExitConnect},
		{"no device", New(ErrNoDevice, "none", ""), ExitNoDevice},
		{"auth", New(ErrAuth, "denied", ""), ExitAuth},
		{"handshake", New(ErrHandshakeTimeout, "slow", ""), ExitHandshakeTimeout},
		{"wrapped", fmt.Errorf("outer: %w", New(ErrNoDevice, "none", "")), ExitNoDevice},
		{"explicit", NewExitError(42), 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestExitCodesDistinct(t *testing.T) {
	codes := []int{ExitConnect, ExitNoDevice, ExitAuth, ExitHandshakeTimeout}
	seen := map[int]bool{ExitOK: true, ExitGeneric: true}
	for _, c := range codes {
		assert.False(t, seen[c], "exit code %d reused", c)
		seen[c] = true
	}
}

func TestSummary(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"plain", errors.New("boom\nmore detail"), "✗ boom"},
		{"structured", New(ErrNoDevice, "No Android device found", "plug one in"), "✗ No Android device found"},
		{
			name: "with cause",
			err:  WrapWithCode(errors.New("i/o timeout"), ErrHandshakeTimeout, "ADB handshake with 192.168.1.215:5555 timed out", "hint"),
			want: "✗ ADB handshake with 192.168.1.215:5555 timed out: i/o timeout",
		},
		{
			name: "nested structured cause",
			err:  WrapWithCode(New(ErrAuth, "key rejected", "x"), ErrAuth, "SSH auth failed", ""),
			want: "✗ SSH auth failed: key rejected",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Summary(tt.err)
			assert.Equal(t, tt.want, got)
			assert.NotContains(t, got, "\n")
		})
	}
}

func TestExitError(t *testing.T) {
	err := NewExitError(137)
	assert.Equal(t, "exit code 137", err.Error())

	code, ok := GetExitCode(fmt.Errorf("wrapped: %w", err))
	assert.True(t, ok)
	assert.Equal(t, 137, code)

	_, ok = GetExitCode(errors.New("standard"))
	assert.False(t, ok)
}
