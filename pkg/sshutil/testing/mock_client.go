package testing

import (
	"context"
	"errors"
	"io"
	"regexp"
	"strings"
	"sync"
	"time"
)

// ErrClosed is returned by a MockRunner after Close.
var ErrClosed = errors.New("connection closed")

// CommandResponse defines a canned response for a specific command pattern.
type CommandResponse struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Error    error
	Delay    time.Duration // simulated remote latency, honors ctx
}

// MockRunner implements sshutil.Runner with canned responses.
type MockRunner struct {
	mu        sync.Mutex
	closed    bool
	commands  map[string]CommandResponse
	streams   map[string][]string
	calls     []string
	active    int
	maxActive int
	readers   []*mockStream
}

// NewMockRunner creates a runner with no canned responses.
// Unknown commands exit 127 like a shell would.
func NewMockRunner() *MockRunner {
	return &MockRunner{
		commands: make(map[string]CommandResponse),
		streams:  make(map[string][]string),
	}
}

// SetCommandResponse registers a canned response for a command pattern.
// The pattern can be an exact string or a regex pattern.
func (m *MockRunner) SetCommandResponse(pattern string, resp CommandResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands[pattern] = resp
}

// SetStream registers the lines a streaming command emits before blocking.
func (m *MockRunner) SetStream(cmd string, lines ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams[cmd] = lines
}

func (m *MockRunner) lookup(cmd string) (CommandResponse, bool) {
	if resp, ok := m.commands[cmd]; ok {
		return resp, true
	}
	for pattern, resp := range m.commands {
		if matched, _ := regexp.MatchString(pattern, cmd); matched {
			return resp, true
		}
	}
	return CommandResponse{}, false
}

// Exec returns the canned response for cmd.
func (m *MockRunner) Exec(ctx context.Context, cmd string) ([]byte, []byte, int, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, nil, -1, ErrClosed
	}
	m.calls = append(m.calls, cmd)
	m.active++
	if m.active > m.maxActive {
		m.maxActive = m.active
	}
	resp, ok := m.lookup(cmd)
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.active--
		m.mu.Unlock()
	}()

	if !ok {
		return nil, []byte("sh: " + cmd + ": not found\n"), 127, nil
	}

	if resp.Delay > 0 {
		select {
		case <-time.After(resp.Delay):
		case <-ctx.Done():
			return nil, nil, -1, ctx.Err()
		}
	}

	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil, nil, -1, ErrClosed
	}

	return resp.Stdout, resp.Stderr, resp.ExitCode, resp.Error
}

// Stream emits the registered lines and then blocks until closed,
// like `journalctl -f`.
func (m *MockRunner) Stream(cmd string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	m.calls = append(m.calls, cmd)

	pr, pw := io.Pipe()
	s := &mockStream{PipeReader: pr, pw: pw}
	m.readers = append(m.readers, s)

	lines := m.streams[cmd]
	go func() {
		for _, line := range lines {
			if _, err := io.WriteString(pw, line+"\n"); err != nil {
				return
			}
		}
	}()
	return s, nil
}

// Close marks the runner closed and ends every open stream.
func (m *MockRunner) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for _, s := range m.readers {
		s.pw.CloseWithError(ErrClosed)
	}
	return nil
}

// Calls returns every command seen so far.
func (m *MockRunner) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// CallCount returns how many commands contained substr.
func (m *MockRunner) CallCount(substr string) int {
	n := 0
	for _, c := range m.Calls() {
		if strings.Contains(c, substr) {
			n++
		}
	}
	return n
}

// MaxConcurrent returns the peak number of overlapping Exec calls.
func (m *MockRunner) MaxConcurrent() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxActive
}

// OpenStreams returns how many streams have not been closed.
func (m *MockRunner) OpenStreams() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.readers {
		if !s.isClosed() {
			n++
		}
	}
	return n
}

type mockStream struct {
	*io.PipeReader
	pw     *io.PipeWriter
	mu     sync.Mutex
	closed bool
}

func (s *mockStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.pw.Close()
	return s.PipeReader.Close()
}

func (s *mockStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
