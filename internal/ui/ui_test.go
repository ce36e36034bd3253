package ui

import (
	"bytes"
	stderrors "errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbctool/sbctool/internal/errors"
	"github.com/sbctool/sbctool/internal/transport"
)

func init() {
	DisableColors()
}

func TestConnectionStatusString(t *testing.T) {
	tests := []struct {
		status ConnectionStatus
		want   string
	}{
		{StatusTrying, "trying"},
		{StatusSuccess, "connected"},
		{StatusTimeout, "timeout"},
		{StatusNoDevice, "no device"},
		{StatusAuthFailed, "auth failed"},
		{StatusFailed, "failed"},
		{ConnectionStatus(99), "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.String())
		})
	}
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, StatusTimeout, StatusFor(errors.New(errors.ErrHandshakeTimeout, "slow", "")))
	assert.Equal(t, StatusAuthFailed, StatusFor(errors.New(errors.ErrAuth, "denied", "")))
	assert.Equal(t, StatusNoDevice, StatusFor(errors.New(errors.ErrNoDevice, "none", "")))
	assert.Equal(t, StatusFailed, StatusFor(stderrors.New("boom")))
}

func TestRenderAttemptLine(t *testing.T) {
	line := RenderAttemptLine("tcp 192.168.1.215:5555", StatusTimeout, 2*time.Second, "")
	assert.True(t, strings.HasPrefix(line, "  "+SymbolPending+" tcp 192.168.1.215:5555"))
	assert.True(t, strings.HasSuffix(line, "timeout (2.0s)"))

	line = RenderAttemptLine("ssh root@orangepi:2222", StatusSuccess, 300*time.Millisecond, "")
	assert.Contains(t, line, SymbolComplete)
	assert.True(t, strings.HasSuffix(line, "0.3s"))

	line = RenderAttemptLine("adb server ohm80566015800b1e", StatusFailed, 0, "device offline")
	assert.True(t, strings.HasSuffix(line, "device offline"))

	long := strings.Repeat("x", 60)
	assert.Contains(t, RenderAttemptLine(long, StatusFailed, 0, ""), long+"  failed")
}

func TestConnectionDisplay_Events(t *testing.T) {
	var buf bytes.Buffer
	cd := NewConnectionDisplay(&buf, false)
	cd.Start("adb")

	usb := transport.NewStrategy(transport.KindADBUSB, "0123", "0123", nil)
	server := transport.NewStrategy(transport.KindADBServer, "0123", "0123", nil)

	cd.HandleEvent(transport.ConnectionEvent{Type: transport.EventTrying, Strategy: usb})
	cd.HandleEvent(transport.ConnectionEvent{Type: transport.EventFailed, Strategy: usb,
		Error: errors.New(errors.ErrAuth, "Device 0123 did not authorize this computer", "")})
	cd.HandleEvent(transport.ConnectionEvent{Type: transport.EventConnected, Strategy: server, Latency: 40 * time.Millisecond})
	cd.Success("adb", server.String())

	out := buf.String()
	assert.Contains(t, out, usb.String())
	assert.Contains(t, out, "auth failed")
	assert.Contains(t, out, "Connected to adb via "+server.String())
	assert.NotContains(t, out, "trying")

	attempts := cd.Attempts()
	require.Len(t, attempts, 2)
	assert.Equal(t, StatusAuthFailed, attempts[0].Status)
	assert.Equal(t, StatusSuccess, attempts[1].Status)
	assert.True(t, cd.HasFailedAttempts())
}

func TestConnectionDisplay_Fail(t *testing.T) {
	var buf bytes.Buffer
	cd := NewConnectionDisplay(&buf, false)
	cd.Start("khadas")
	cd.Fail(errors.New(errors.ErrConnect, "Couldn't connect to khadas", "Check the board is powered"))

	out := buf.String()
	assert.Contains(t, out, SymbolFail+" Connection failed: Couldn't connect to khadas")
	assert.False(t, cd.HasFailedAttempts())
}

func TestConnectionDisplay_AnimatedSpinnerIsCleared(t *testing.T) {
	var mu sync.Mutex
	var buf bytes.Buffer
	w := writerFunc(func(p []byte) (int, error) {
		mu.Lock()
		defer mu.Unlock()
		return buf.Write(p)
	})

	cd := NewConnectionDisplay(w, true)
	cd.Start("khadas")
	time.Sleep(20 * time.Millisecond)
	cd.Success("khadas", "ssh user@192.168.1.4:22")

	mu.Lock()
	defer mu.Unlock()
	out := buf.String()
	assert.Contains(t, out, "Connecting to khadas...")
	assert.True(t, strings.HasSuffix(strings.TrimRight(out, "\n"), "s"))
	assert.Contains(t, out, "Connected to khadas via ssh user@192.168.1.4:22")
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

func TestSpinner_Lifecycle(t *testing.T) {
	var mu sync.Mutex
	var out strings.Builder
	s := NewSpinner("Handshake")
	s.SetOutput(func(str string) {
		mu.Lock()
		out.WriteString(str)
		mu.Unlock()
	})

	assert.Equal(t, SpinnerPending, s.State())
	s.Start()
	s.Start()
	assert.Equal(t, SpinnerInProgress, s.State())

	s.SetLabel("Handshake with 0123")
	time.Sleep(100 * time.Millisecond)
	s.Fail()

	assert.Equal(t, SpinnerFailed, s.State())
	assert.Equal(t, "Handshake with 0123", s.Label())

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, out.String(), SymbolFail+" Handshake with 0123")
}

func TestSpinner_StopWithoutStart(t *testing.T) {
	s := NewSpinner("idle")
	s.SetOutput(func(string) {})
	s.Stop()
	s.Success()
	assert.Equal(t, SpinnerSuccess, s.State())
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0.05s", formatDuration(50*time.Millisecond))
	assert.Equal(t, "1.5s", formatDuration(1500*time.Millisecond))
}

func TestDisableColors(t *testing.T) {
	DisableColors()
	assert.False(t, ColorsEnabled())
	assert.Len(t, GradientColors, 4)
}
