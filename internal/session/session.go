// Package session gives every backend the same two operations: one-shot
// commands on a serialized command channel and line streams on channels of
// their own. Which backend moves the bytes is invisible to callers.
package session

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// DefaultTimeout bounds Execute calls that pass no timeout.
const DefaultTimeout = 5 * time.Second

var (
	// ErrDisconnected means the session's transport is gone. Close
	// returns it to every Execute still in flight.
	ErrDisconnected = stderrors.New("session disconnected")

	// ErrCommandTimeout means a command outlived its timeout.
	ErrCommandTimeout = stderrors.New("command timed out")

	// ErrStreamClosed ends every line stream.
	ErrStreamClosed = stderrors.New("stream closed")
)

// ExitError reports a command that ran but exited non-zero.
type ExitError struct {
	Command string
	Code    int
	Stderr  string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%q exited with status %d", e.Command, e.Code)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		if i := strings.IndexByte(s, '\n'); i >= 0 {
			s = s[:i]
		}
		msg += ": " + s
	}
	return msg
}

// Result is the captured output of one command.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Session is one connected backend.
type Session interface {
	// Execute runs cmd and waits at most timeout for it. Only one command
	// runs at a time; later callers queue. A non-zero exit returns the
	// full Result together with an *ExitError.
	Execute(ctx context.Context, cmd string, timeout time.Duration) (Result, error)

	// OpenStream starts cmd on a dedicated channel. It never waits for
	// Execute and Execute never waits for it.
	OpenStream(ctx context.Context, cmd string) (*LineStream, error)

	// Close releases the transport and every stream opened on it.
	Close() error

	// String names the target for display.
	String() string

	sealed()
}

// backend moves bytes for one transport.
type backend interface {
	exec(ctx context.Context, cmd string) (stdout, stderr []byte, code int, err error)
	stream(ctx context.Context, cmd string) (io.ReadCloser, error)
	close() error
}

type session struct {
	name    string
	backend backend

	// cmdSlot holds a token while a command runs.
	cmdSlot chan struct{}

	ctx    context.Context
	cancel context.CancelCauseFunc

	mu      sync.Mutex
	streams map[*LineStream]struct{}
	closed  bool
}

func newSession(name string, b backend) *session {
	ctx, cancel := context.WithCancelCause(context.Background())
	return &session{
		name:    name,
		backend: b,
		cmdSlot: make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
		streams: make(map[*LineStream]struct{}),
	}
}

func (s *session) sealed() {}

func (s *session) String() string { return s.name }

type execResult struct {
	stdout, stderr []byte
	code           int
	err            error
}

func (s *session) Execute(ctx context.Context, cmd string, timeout time.Duration) (Result, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	// The timeout covers queueing behind an earlier command too.
	execCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	timer := time.AfterFunc(timeout, func() { cancel(ErrCommandTimeout) })
	defer timer.Stop()
	stop := context.AfterFunc(s.ctx, func() { cancel(ErrDisconnected) })
	defer stop()

	select {
	case s.cmdSlot <- struct{}{}:
	case <-execCtx.Done():
		return Result{}, interrupted(execCtx, cmd, timeout)
	}
	if s.ctx.Err() != nil {
		<-s.cmdSlot
		return Result{}, ErrDisconnected
	}

	// A backend may not notice cancellation on a dead link, so Execute
	// stops waiting on its own. The slot stays taken until the backend
	// really returns.
	done := make(chan execResult, 1)
	go func() {
		defer func() { <-s.cmdSlot }()
		stdout, stderr, code, err := s.backend.exec(execCtx, cmd)
		done <- execResult{stdout, stderr, code, err}
	}()

	var r execResult
	select {
	case r = <-done:
	case <-execCtx.Done():
		return Result{}, interrupted(execCtx, cmd, timeout)
	}

	if r.err != nil {
		if execCtx.Err() != nil {
			return Result{}, interrupted(execCtx, cmd, timeout)
		}
		return Result{}, fmt.Errorf("%w: %v", ErrDisconnected, r.err)
	}

	res := Result{Stdout: r.stdout, Stderr: r.stderr, ExitCode: r.code}
	if r.code != 0 {
		return res, &ExitError{Command: cmd, Code: r.code, Stderr: string(r.stderr)}
	}
	return res, nil
}

// interrupted maps the reason execCtx ended to the error Execute returns.
func interrupted(execCtx context.Context, cmd string, timeout time.Duration) error {
	switch cause := context.Cause(execCtx); cause {
	case ErrCommandTimeout:
		return fmt.Errorf("%q after %s: %w", cmd, timeout, ErrCommandTimeout)
	case ErrDisconnected:
		return ErrDisconnected
	default:
		return cause
	}
}

func (s *session) OpenStream(ctx context.Context, cmd string) (*LineStream, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrDisconnected
	}
	s.mu.Unlock()

	rc, err := s.backend.stream(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("%w: open stream %q: %v", ErrDisconnected, cmd, err)
	}

	ls := newLineStream(rc)
	ls.onClose = func() {
		s.mu.Lock()
		delete(s.streams, ls)
		s.mu.Unlock()
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		rc.Close()
		return nil, ErrDisconnected
	}
	s.streams[ls] = struct{}{}
	s.mu.Unlock()
	return ls, nil
}

func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	streams := make([]*LineStream, 0, len(s.streams))
	for ls := range s.streams {
		streams = append(streams, ls)
	}
	s.mu.Unlock()

	s.cancel(ErrDisconnected)
	for _, ls := range streams {
		ls.Close()
	}
	return s.backend.close()
}
