package config

import (
	"fmt"
	"time"

	"github.com/sbctool/sbctool/internal/errors"
)

// MinPollInterval keeps the poll loop from hammering slow boards.
const MinPollInterval = 500 * time.Millisecond

// MinLogBuffer is the smallest useful log panel.
const MinLogBuffer = 10

// Validate checks the config for errors and returns structured error messages.
func Validate(cfg *Config) error {
	if cfg.Version > CurrentConfigVersion {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("This config is from the future (version %d, but sbctool only knows up to %d)", cfg.Version, CurrentConfigVersion),
			"Upgrade sbctool or lower the version field")
	}

	if cfg.PollInterval < MinPollInterval {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("poll_interval %s is too short", cfg.PollInterval),
			fmt.Sprintf("Use at least %s", MinPollInterval))
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"command_timeout", cfg.CommandTimeout},
		{"connect_timeout", cfg.ConnectTimeout},
		{"shutdown_grace", cfg.ShutdownGrace},
		{"reconnect.base_delay", cfg.Reconnect.BaseDelay},
		{"reconnect.max_delay", cfg.Reconnect.MaxDelay},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return errors.New(errors.ErrConfig,
				fmt.Sprintf("%s must be positive, got %s", d.name, d.value),
				"Use a Go duration like 500ms, 5s or 1m")
		}
	}

	if cfg.Reconnect.BaseDelay > cfg.Reconnect.MaxDelay {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("reconnect.base_delay (%s) is larger than reconnect.max_delay (%s)",
				cfg.Reconnect.BaseDelay, cfg.Reconnect.MaxDelay),
			"Raise max_delay or lower base_delay")
	}

	if cfg.Reconnect.MaxRetries < 0 {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("reconnect.max_retries must not be negative, got %d", cfg.Reconnect.MaxRetries),
			"Use 0 to disable automatic reconnects")
	}

	if cfg.LogBuffer < MinLogBuffer {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("log_buffer %d is too small", cfg.LogBuffer),
			fmt.Sprintf("Use at least %d lines", MinLogBuffer))
	}

	if cfg.ADB.DefaultPort <= 0 || cfg.ADB.DefaultPort > 65535 {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("adb.default_port %d is out of range", cfg.ADB.DefaultPort),
			"Use a TCP port between 1 and 65535 (adb uses 5555)")
	}

	return nil
}
