package cli

import (
	stderrors "errors"
	"testing"
	"time"

	"github.com/sbctool/sbctool/internal/logger"
	"github.com/sbctool/sbctool/internal/transport"
	"github.com/sbctool/sbctool/pkg/sshutil"
	"github.com/stretchr/testify/assert"
)

func TestLogEvents(t *testing.T) {
	log := logger.NewBufferLogger()
	handle := logEvents(log)
	st := transport.NewStrategy(transport.KindADBTCP, "192.168.1.77:5555", "192.168.1.77:5555", nil)

	handle(transport.ConnectionEvent{Type: transport.EventTrying, Strategy: st, Message: "trying tcp 192.168.1.77:5555"})
	handle(transport.ConnectionEvent{Type: transport.EventFailed, Strategy: st, Error: stderrors.New("connection refused"), Latency: 3 * time.Millisecond})
	handle(transport.ConnectionEvent{Type: transport.EventConnected, Strategy: st, Message: "connected via tcp 192.168.1.77:5555"})

	assert.True(t, log.HasLevel("debug"))
	assert.True(t, log.HasLevel("warn"))
	assert.True(t, log.HasLevel("info"))
	assert.True(t, log.Contains("connection refused"))
	assert.True(t, log.Contains("connected via tcp 192.168.1.77:5555"))
}

func TestHostLabel(t *testing.T) {
	tests := []struct {
		name  string
		entry sshutil.HostEntry
		want  string
	}{
		{"alias only", sshutil.HostEntry{Alias: "khadas"}, "khadas"},
		{"with hostname and user", sshutil.HostEntry{Alias: "pi", Hostname: "192.168.1.50", User: "pi"}, "pi (192.168.1.50, user: pi)"},
		{"custom port", sshutil.HostEntry{Alias: "rock", Port: "2222"}, "rock (port: 2222)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, hostLabel(tt.entry))
		})
	}
}
