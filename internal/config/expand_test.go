package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "empty string", input: "", expected: ""},
		{name: "tilde alone", input: "~", expected: home},
		{name: "tilde path", input: "~/.android/adbkey", expected: filepath.Join(home, ".android/adbkey")},
		{name: "other user untouched", input: "~pi/.ssh/config", expected: "~pi/.ssh/config"},
		{name: "absolute path unchanged", input: "/etc/ssh/ssh_config", expected: "/etc/ssh/ssh_config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExpandTilde(tt.input))
		})
	}
}

func TestExpand(t *testing.T) {
	t.Setenv("USER", "khadas")
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "empty string", input: "", expected: ""},
		{name: "USER expands", input: "/tmp/sbctool-${USER}.log", expected: "/tmp/sbctool-khadas.log"},
		{name: "HOME expands", input: "${HOME}/.android/adbkey", expected: home + "/.android/adbkey"},
		{name: "tilde left alone", input: "~/x", expected: "~/x"},
		{name: "unknown variable left alone", input: "${BOARD}/x", expected: "${BOARD}/x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Expand(tt.input))
		})
	}
}

func TestGetUserFallsBack(t *testing.T) {
	t.Setenv("USER", "")
	t.Setenv("LOGNAME", "board")
	assert.Equal(t, "board", getUser())
}

func TestExpandPath(t *testing.T) {
	t.Setenv("USER", "pi")
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "logs/pi.log"), ExpandPath("~/logs/${USER}.log"))
}
