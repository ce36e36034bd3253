package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/sbctool/sbctool/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// withTerminal makes every stdio stream look like a terminal, or not.
func withTerminal(t *testing.T, tty bool) {
	t.Helper()
	orig := isTerminal
	isTerminal = func(*os.File) bool { return tty }
	t.Cleanup(func() { isTerminal = orig })
}

// writeConfig writes a config file and returns its path.
func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".sbctool.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func executeRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	a := newApp()
	t.Cleanup(a.close)

	cmd := a.rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestBackendHelpDoesNotConnect(t *testing.T) {
	withTerminal(t, false)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"ssh help", []string{"ssh", "help"}, "sbctool ssh [user@host|alias]"},
		{"adb help", []string{"adb", "help"}, "sbctool adb [-s serial]"},
		{"ssh --help", []string{"ssh", "--help"}, "sbctool ssh [user@host|alias]"},
		// A broken config path proves setup never ran.
		{"help skips config", []string{"adb", "help", "--config", "/no/such/file.yaml"}, "device serial or ip[:port]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := executeRoot(t, tt.args...)
			require.NoError(t, err)
			assert.Contains(t, out, "Usage:")
			assert.Contains(t, out, tt.want)
		})
	}
}

func TestUsageErrors(t *testing.T) {
	withTerminal(t, false)
	cfg := writeConfig(t, "poll_interval: 2s\n")

	tests := []struct {
		name    string
		args    []string
		message string
	}{
		{"adb positional", []string{"adb", "0123456789", "--config", cfg}, "Unexpected argument: 0123456789"},
		{"ssh two targets", []string{"ssh", "a", "b", "--config", cfg}, "Too many arguments"},
		{"ssh without target off a terminal", []string{"ssh", "--config", cfg}, "No SSH target given"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := executeRoot(t, tt.args...)
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.ErrUsage), "got %v", err)
			assert.Contains(t, errors.Summary(err), tt.message)
			assert.Equal(t, errors.ExitGeneric, errors.ExitCode(err))
		})
	}
}

func TestConfigErrorsStopBeforeConnecting(t *testing.T) {
	withTerminal(t, false)

	t.Run("interval below minimum", func(t *testing.T) {
		cfg := writeConfig(t, "")
		_, err := executeRoot(t, "ssh", "pi@192.0.2.1", "--config", cfg, "--interval", "10ms")
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.ErrConfig))
		assert.Contains(t, errors.Summary(err), "poll_interval 10ms is too short")
	})

	t.Run("missing config file", func(t *testing.T) {
		_, err := executeRoot(t, "adb", "--config", filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.ErrConfig))
		assert.Equal(t, errors.ExitGeneric, errors.ExitCode(err))
	})

	t.Run("bad log level", func(t *testing.T) {
		cfg := writeConfig(t, "")
		_, err := executeRoot(t, "adb", "--config", cfg, "--log-level", "loud")
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.ErrConfig))
	})
}

func TestSetupModes(t *testing.T) {
	cfg := writeConfig(t, "")

	tests := []struct {
		name            string
		tty             bool
		once            bool
		wantOnce        bool
		wantInteractive bool
	}{
		{"terminal", true, false, false, true},
		{"terminal with --once", true, true, true, true},
		{"piped", false, false, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withTerminal(t, tt.tty)
			a := newApp()
			t.Cleanup(a.close)
			cmd := a.rootCmd()
			args := []string{"--config", cfg}
			if tt.once {
				args = append(args, "--once")
			}
			require.NoError(t, cmd.ParseFlags(args))

			require.NoError(t, a.setup(cmd))
			assert.Equal(t, tt.wantOnce, a.once)
			assert.Equal(t, tt.wantInteractive, a.interactive)
			assert.NotNil(t, a.cfg)
			assert.NotNil(t, a.logs)
		})
	}
}

func TestWantsHelp(t *testing.T) {
	assert.True(t, wantsHelp([]string{"help"}))
	assert.False(t, wantsHelp(nil))
	assert.False(t, wantsHelp([]string{"helper"}))
	assert.False(t, wantsHelp([]string{"help", "me"}))
}
