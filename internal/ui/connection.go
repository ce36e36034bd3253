package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/sbctool/sbctool/internal/errors"
	"github.com/sbctool/sbctool/internal/transport"
)

// ConnectionAttempt is one dialed strategy.
type ConnectionAttempt struct {
	Strategy string
	Status   ConnectionStatus
	Latency  time.Duration
	Error    string
}

// ConnectionStatus represents the outcome of a connection attempt.
type ConnectionStatus int

const (
	StatusTrying ConnectionStatus = iota
	StatusSuccess
	StatusTimeout
	StatusNoDevice
	StatusAuthFailed
	StatusFailed
)

// String returns a human-readable description of the status.
func (s ConnectionStatus) String() string {
	switch s {
	case StatusTrying:
		return "trying"
	case StatusSuccess:
		return "connected"
	case StatusTimeout:
		return "timeout"
	case StatusNoDevice:
		return "no device"
	case StatusAuthFailed:
		return "auth failed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// StatusFor maps a dial error onto a display status by its error code.
func StatusFor(err error) ConnectionStatus {
	switch errors.CodeOf(err) {
	case errors.ErrHandshakeTimeout:
		return StatusTimeout
	case errors.ErrNoDevice:
		return StatusNoDevice
	case errors.ErrAuth:
		return StatusAuthFailed
	default:
		return StatusFailed
	}
}

// ConnectionDisplay renders connection progress, one line per strategy.
//
// Example output:
//
//	⣾ Connecting to adb...
//	  ○ usb 0123456789ABCDEF                               auth failed
//	  ● adb server 192.168.1.215:5555                             0.3s
//	● Connected to adb via adb server 192.168.1.215:5555          0.4s
type ConnectionDisplay struct {
	mu       sync.Mutex
	w        io.Writer
	attempts []ConnectionAttempt
	spinner  *Spinner
	started  time.Time
	animate  bool
}

// NewConnectionDisplay creates a connection display writing to w. The
// spinner only runs when animate is set, so piped output stays clean.
func NewConnectionDisplay(w io.Writer, animate bool) *ConnectionDisplay {
	return &ConnectionDisplay{w: w, animate: animate}
}

// Start begins the connection phase.
func (cd *ConnectionDisplay) Start(target string) {
	cd.mu.Lock()
	defer cd.mu.Unlock()

	cd.started = time.Now()
	if !cd.animate {
		return
	}
	cd.spinner = NewSpinner("Connecting to " + target)
	cd.spinner.SetOutput(func(s string) { fmt.Fprint(cd.w, s) })
	cd.spinner.Start()
}

// HandleEvent is a transport.EventHandler.
func (cd *ConnectionDisplay) HandleEvent(event transport.ConnectionEvent) {
	switch event.Type {
	case transport.EventFailed:
		cd.AddAttempt(event.Strategy.String(), StatusFor(event.Error), event.Latency, shortError(event.Error))
	case transport.EventConnected:
		cd.AddAttempt(event.Strategy.String(), StatusSuccess, event.Latency, "")
	}
}

func shortError(err error) string {
	if err == nil {
		return ""
	}
	return strings.TrimPrefix(errors.Summary(err), SymbolFail+" ")
}

// AddAttempt records and prints one attempt.
func (cd *ConnectionDisplay) AddAttempt(strategy string, status ConnectionStatus, latency time.Duration, errMsg string) {
	cd.mu.Lock()
	defer cd.mu.Unlock()

	attempt := ConnectionAttempt{Strategy: strategy, Status: status, Latency: latency, Error: errMsg}
	cd.attempts = append(cd.attempts, attempt)

	running := cd.spinner != nil && cd.spinner.State() == SpinnerInProgress
	if running {
		cd.spinner.Stop()
	}
	fmt.Fprintln(cd.w, renderAttempt(attempt, true))
	if running && status != StatusSuccess {
		cd.spinner.Start()
	}
}

// renderAttempt formats "  ○ strategy            status".
func renderAttempt(a ConnectionAttempt, styled bool) string {
	symbol, color := SymbolPending, ColorMuted
	status := a.Status.String()
	switch a.Status {
	case StatusSuccess:
		symbol, color = SymbolComplete, ColorSuccess
		status = formatDuration(a.Latency)
	case StatusTimeout:
		status = fmt.Sprintf("timeout (%s)", formatDuration(a.Latency))
	case StatusFailed:
		if a.Error != "" {
			status = a.Error
		}
	}

	padding := 50 - len(a.Strategy)
	if padding < 2 {
		padding = 2
	}

	if styled {
		symbol = lipgloss.NewStyle().Foreground(color).Render(symbol)
		status = lipgloss.NewStyle().Foreground(ColorMuted).Render(status)
	}
	return fmt.Sprintf("  %s %s%s%s", symbol, a.Strategy, strings.Repeat(" ", padding), status)
}

// RenderAttemptLine returns an unstyled attempt line.
func RenderAttemptLine(strategy string, status ConnectionStatus, latency time.Duration, errMsg string) string {
	return renderAttempt(ConnectionAttempt{Strategy: strategy, Status: status, Latency: latency, Error: errMsg}, false)
}

// Success prints the final "Connected to X via Y" line.
func (cd *ConnectionDisplay) Success(target, via string) {
	cd.finish(SymbolComplete, ColorSuccess, fmt.Sprintf("Connected to %s via %s", target, via))
}

// Fail prints the final failure line.
func (cd *ConnectionDisplay) Fail(err error) {
	msg := "Connection failed"
	if s := shortError(err); s != "" {
		msg += ": " + s
	}
	cd.finish(SymbolFail, ColorError, msg)
}

func (cd *ConnectionDisplay) finish(symbol string, color lipgloss.Color, msg string) {
	cd.mu.Lock()
	defer cd.mu.Unlock()

	if cd.spinner != nil {
		cd.spinner.Stop()
	}
	fmt.Fprintf(cd.w, "%s %s %s\n",
		lipgloss.NewStyle().Foreground(color).Render(symbol),
		msg,
		lipgloss.NewStyle().Foreground(ColorMuted).Render(formatDuration(time.Since(cd.started))))
}

// Attempts returns a copy of all recorded attempts.
func (cd *ConnectionDisplay) Attempts() []ConnectionAttempt {
	cd.mu.Lock()
	defer cd.mu.Unlock()
	return append([]ConnectionAttempt(nil), cd.attempts...)
}

// HasFailedAttempts reports whether any attempt failed.
func (cd *ConnectionDisplay) HasFailedAttempts() bool {
	cd.mu.Lock()
	defer cd.mu.Unlock()
	for _, a := range cd.attempts {
		if a.Status != StatusSuccess && a.Status != StatusTrying {
			return true
		}
	}
	return false
}
