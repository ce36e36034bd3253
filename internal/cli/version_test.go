package cli

import (
	"bytes"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setVersion swaps the build info for one test.
func setVersion(t *testing.T, v, c, d string) {
	t.Helper()
	origVersion, origCommit, origDate := version, commit, date
	t.Cleanup(func() {
		version, commit, date = origVersion, origCommit, origDate
	})
	SetVersionInfo(v, c, d)
}

func runVersion(t *testing.T, args ...string) string {
	t.Helper()
	cmd := newVersionCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute())
	return buf.String()
}

func TestVersionOutput(t *testing.T) {
	setVersion(t, "1.2.3", "abc1234", "2026-01-08T12:00:00Z")

	output := runVersion(t)
	assert.Contains(t, output, "sbctool v1.2.3", "should show version with v prefix")
	assert.Contains(t, output, "commit: abc1234")
	assert.Contains(t, output, "built: 2026-01-08T12:00:00Z")
	assert.Contains(t, output, "go: "+runtime.Version())
	assert.Contains(t, output, "os/arch: "+runtime.GOOS+"/"+runtime.GOARCH)
}

func TestVersionOutputShort(t *testing.T) {
	setVersion(t, "1.2.3", "none", "unknown")

	output := strings.TrimSpace(runVersion(t, "--short"))
	assert.Equal(t, "1.2.3", output, "short output should only show version")
}

func TestVersionOutputDev(t *testing.T) {
	setVersion(t, "dev", "none", "unknown")

	assert.Contains(t, runVersion(t), "sbctool dev", "dev version should not have v prefix")
	assert.Equal(t, "dev", GetVersion())
}

func TestVersionThroughRoot(t *testing.T) {
	setVersion(t, "0.4.0", "none", "unknown")

	// version never loads config, so a bad path is fine.
	out, err := executeRoot(t, "version", "--short", "--config", "/no/such/file.yaml")
	require.NoError(t, err)
	assert.Equal(t, "0.4.0", strings.TrimSpace(out))
}

func TestFormatVersion(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty string", "", ""},
		{"dev version", "dev", "dev"},
		{"version without prefix", "1.2.3", "v1.2.3"},
		{"version with prefix", "v1.2.3", "v1.2.3"},
		{"version with prerelease", "1.2.3-beta.1", "v1.2.3-beta.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatVersion(tt.input))
		})
	}
}
