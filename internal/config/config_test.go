package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sbctool/sbctool/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// realTempDir resolves symlinks so paths compare equal to os.Getwd output.
func realTempDir(t *testing.T) string {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	return dir
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.Equal(t, 5*time.Second, cfg.CommandTimeout)
	assert.Equal(t, 500, cfg.LogBuffer)
	assert.Equal(t, 5, cfg.Reconnect.MaxRetries)
	assert.Equal(t, "127.0.0.1:5037", cfg.ADB.ServerAddress)
	assert.Equal(t, 5555, cfg.ADB.DefaultPort)
	assert.True(t, cfg.SSH.StrictHostKeyChecking)
	assert.NoError(t, Validate(cfg))
}

func TestLoad_EmptyPathGivesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DefaultConfig().PollInterval, cfg.PollInterval)
	assert.Equal(t, DefaultConfig().Reconnect, cfg.Reconnect)
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
poll_interval: 5s
command_timeout: 3s
log_buffer: 200
reconnect:
  base_delay: 1s
  max_delay: 30s
  max_retries: 10
ssh:
  config_file: /tmp/ssh_config
  strict_host_key_checking: false
adb:
  server_address: 127.0.0.1:5038
  usb: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, 3*time.Second, cfg.CommandTimeout)
	assert.Equal(t, 200, cfg.LogBuffer)
	assert.Equal(t, time.Second, cfg.Reconnect.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.Reconnect.MaxDelay)
	assert.Equal(t, 10, cfg.Reconnect.MaxRetries)
	assert.Equal(t, "/tmp/ssh_config", cfg.SSH.ConfigFile)
	assert.False(t, cfg.SSH.StrictHostKeyChecking)
	assert.Equal(t, "127.0.0.1:5038", cfg.ADB.ServerAddress)
	assert.False(t, cfg.ADB.USB)

	// Untouched keys keep their defaults.
	assert.Equal(t, 5555, cfg.ADB.DefaultPort)
	assert.Equal(t, 2*time.Second, cfg.ShutdownGrace)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("SBCTOOL_POLL_INTERVAL", "7s")
	t.Setenv("SBCTOOL_RECONNECT_MAX_RETRIES", "2")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7*time.Second, cfg.PollInterval)
	assert.Equal(t, 2, cfg.Reconnect.MaxRetries)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrConfig))
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "poll_interval: [unclosed")
	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrConfig))
}

func TestLoad_ExpandsHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".android", "adbkey"), cfg.ADB.KeyPath)
}

func TestFind(t *testing.T) {
	t.Run("explicit path wins", func(t *testing.T) {
		path := writeConfig(t, t.TempDir(), "poll_interval: 3s\n")
		found, err := Find(path)
		require.NoError(t, err)
		assert.Equal(t, path, found)
	})

	t.Run("explicit missing path errors", func(t *testing.T) {
		_, err := Find(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.True(t, errors.IsCode(err, errors.ErrConfig))
	})

	t.Run("current directory", func(t *testing.T) {
		dir := realTempDir(t)
		path := writeConfig(t, dir, "log_buffer: 50\n")
		t.Chdir(dir)

		found, err := Find("")
		require.NoError(t, err)
		assert.Equal(t, path, found)
	})

	t.Run("parent directory", func(t *testing.T) {
		dir := realTempDir(t)
		path := writeConfig(t, dir, "log_buffer: 50\n")
		child := filepath.Join(dir, "a", "b")
		require.NoError(t, os.MkdirAll(child, 0755))
		t.Chdir(child)

		found, err := Find("")
		require.NoError(t, err)
		assert.Equal(t, path, found)
	})
}
