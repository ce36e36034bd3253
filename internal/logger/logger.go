// Package logger provides a small logging interface for sbctool components.
// It lets packages log debug, info, warn, and error messages without being
// coupled to a specific logging implementation. The production backend is
// log/slog, configured through a Manager.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Logger defines the interface for logging operations.
// All methods accept a format string and arguments, similar to fmt.Printf.
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
}

// slogLogger adapts a *slog.Logger to the printf-style Logger interface.
type slogLogger struct {
	l *slog.Logger
}

// FromSlog wraps a slog logger.
func FromSlog(l *slog.Logger) Logger {
	return &slogLogger{l: l}
}

func (s *slogLogger) log(level slog.Level, format string, args []interface{}) {
	if !s.l.Enabled(context.Background(), level) {
		return
	}
	s.l.Log(context.Background(), level, fmt.Sprintf(format, args...))
}

func (s *slogLogger) Debug(format string, args ...interface{}) { s.log(slog.LevelDebug, format, args) }
func (s *slogLogger) Info(format string, args ...interface{})  { s.log(slog.LevelInfo, format, args) }
func (s *slogLogger) Warn(format string, args ...interface{})  { s.log(slog.LevelWarn, format, args) }
func (s *slogLogger) Error(format string, args ...interface{}) { s.log(slog.LevelError, format, args) }

// Manager owns the slog configuration and the optional log file.
type Manager struct {
	mu     sync.RWMutex
	out    io.Writer
	level  slog.LevelVar
	logger *slog.Logger
	file   *os.File
}

// NewManager creates a manager writing to out at warn level.
func NewManager(out io.Writer) *Manager {
	m := &Manager{out: out}
	m.level.Set(slog.LevelWarn)
	m.logger = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: &m.level}))
	return m
}

// Configure sets the level and, when filePath is non-empty, redirects output
// to that file (append mode). The dashboard owns the terminal while it runs,
// so the CLI passes io.Discard as out and relies on the file for diagnostics.
func (m *Manager) Configure(level, filePath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}

	if m.file != nil {
		_ = m.file.Close()
		m.file = nil
	}

	writer := m.out
	if filePath != "" {
		cleanPath := filepath.Clean(filePath)
		file, err := os.OpenFile(cleanPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		m.file = file
		writer = file
	}

	m.level.Set(lvl)
	m.logger = slog.New(slog.NewTextHandler(writer, &slog.HandlerOptions{Level: &m.level}))
	return nil
}

// Logger returns a component-scoped logger.
func (m *Manager) Logger(component string) Logger {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return FromSlog(m.logger.With("component", component))
}

// Close releases the log file if one is open.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.file == nil {
		return nil
	}
	err := m.file.Close()
	m.file = nil
	return err
}

// ParseLevel maps a level name to a slog level. Empty means warn.
func ParseLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning", "":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported log level: %q", raw)
	}
}

// noopLogger implements Logger but discards all messages.
type noopLogger struct{}

// Noop returns a logger that discards all messages.
func Noop() Logger {
	return &noopLogger{}
}

func (l *noopLogger) Debug(format string, args ...interface{}) {}
func (l *noopLogger) Info(format string, args ...interface{})  {}
func (l *noopLogger) Warn(format string, args ...interface{})  {}
func (l *noopLogger) Error(format string, args ...interface{}) {}

// LogMessage represents a captured log message.
type LogMessage struct {
	Level   string
	Message string
}

// BufferLogger captures log messages for testing. Safe for concurrent use,
// since the poll and stream loops log from their own goroutines.
type BufferLogger struct {
	mu       sync.Mutex
	messages []LogMessage
}

// NewBufferLogger creates a logger that captures messages for inspection.
func NewBufferLogger() *BufferLogger {
	return &BufferLogger{}
}

func (l *BufferLogger) add(level, format string, args []interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, LogMessage{Level: level, Message: fmt.Sprintf(format, args...)})
}

func (l *BufferLogger) Debug(format string, args ...interface{}) { l.add("debug", format, args) }
func (l *BufferLogger) Info(format string, args ...interface{})  { l.add("info", format, args) }
func (l *BufferLogger) Warn(format string, args ...interface{})  { l.add("warn", format, args) }
func (l *BufferLogger) Error(format string, args ...interface{}) { l.add("error", format, args) }

// Messages returns a copy of everything captured so far.
func (l *BufferLogger) Messages() []LogMessage {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]LogMessage, len(l.messages))
	copy(out, l.messages)
	return out
}

// HasLevel returns true if any message was logged at the given level.
func (l *BufferLogger) HasLevel(level string) bool {
	for _, m := range l.Messages() {
		if m.Level == level {
			return true
		}
	}
	return false
}

// Contains returns true if any captured message contains substr.
func (l *BufferLogger) Contains(substr string) bool {
	for _, m := range l.Messages() {
		if strings.Contains(m.Message, substr) {
			return true
		}
	}
	return false
}

// Clear removes all captured messages.
func (l *BufferLogger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = l.messages[:0]
}

var (
	defaultMu     sync.RWMutex
	defaultLogger = envDefault()
)

// envDefault logs to stderr, at debug level when SBCTOOL_DEBUG is set.
func envDefault() Logger {
	level := slog.LevelWarn
	if os.Getenv("SBCTOOL_DEBUG") != "" {
		level = slog.LevelDebug
	}
	return FromSlog(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// Default returns the package-level logger.
func Default() Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// SetDefault replaces the package-level logger.
func SetDefault(l Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = l
}
