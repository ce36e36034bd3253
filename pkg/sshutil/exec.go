package sshutil

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sbctool/sbctool/internal/errors"
	"golang.org/x/crypto/ssh"
)

// KeepaliveTimeout bounds the liveness check run after a command is
// abandoned. A connection that doesn't answer in time is closed.
var KeepaliveTimeout = 3 * time.Second

type execResult struct {
	stdout, stderr []byte
	code           int
	err            error
}

// Exec runs a command on a fresh channel and returns the output.
// A non-zero exit status is reported through exitCode with a nil error.
// Cancelling ctx returns at once with an error wrapping ctx.Err(), even when
// the peer has stopped answering; the channel is closed in the background.
func (c *Client) Exec(ctx context.Context, cmd string) (stdout, stderr []byte, exitCode int, err error) {
	var (
		mu      sync.Mutex
		session *ssh.Session
		aborted bool
	)
	abort := func() {
		mu.Lock()
		aborted = true
		s := session
		mu.Unlock()
		if s != nil {
			_ = s.Close()
		}
	}

	resultCh := make(chan execResult, 1)
	go func() {
		// NewSession takes no context and blocks on a dead link.
		s, err := c.NewSession()
		if err != nil {
			resultCh <- execResult{code: -1, err: errors.WrapWithCode(err, errors.ErrSSH,
				"Failed to create SSH session",
				"Connection may have been closed. Try reconnecting.")}
			return
		}
		mu.Lock()
		if aborted {
			mu.Unlock()
			_ = s.Close()
			return
		}
		session = s
		mu.Unlock()
		defer s.Close()

		resultCh <- runSession(s, cmd)
	}()

	select {
	case r := <-resultCh:
		return r.stdout, r.stderr, r.code, r.err
	case <-ctx.Done():
		abort()
		go c.closeIfDead(KeepaliveTimeout)
		return nil, nil, -1, fmt.Errorf("exec %q: %w", cmd, ctx.Err())
	}
}

func runSession(session *ssh.Session, cmd string) execResult {
	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	if err := session.Run(cmd); err != nil {
		var exitErr *ssh.ExitError
		if stderrors.As(err, &exitErr) {
			return execResult{stdoutBuf.Bytes(), stderrBuf.Bytes(), exitErr.ExitStatus(), nil}
		}
		return execResult{code: -1, err: errors.WrapWithCode(err, errors.ErrSSH,
			fmt.Sprintf("Failed to execute command: %s", cmd),
			"Connection may have been closed. Try reconnecting.")}
	}
	return execResult{stdoutBuf.Bytes(), stderrBuf.Bytes(), 0, nil}
}

// Alive sends a keepalive@openssh.com global request and reports whether
// the peer answered within timeout. Any reply, even a refusal, means the
// link works.
func (c *Client) Alive(timeout time.Duration) bool {
	if c.Client == nil {
		return false
	}
	reply := make(chan error, 1)
	go func() {
		_, _, err := c.SendRequest("keepalive@openssh.com", true, nil)
		reply <- err
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-reply:
		return err == nil
	case <-timer.C:
		return false
	}
}

// closeIfDead closes the connection when a keepalive goes unanswered, which
// fails every channel still waiting on it.
func (c *Client) closeIfDead(timeout time.Duration) {
	if !c.Alive(timeout) {
		_ = c.Close()
	}
}

// Stream starts cmd on its own channel and returns its combined stdout and
// stderr. Closing the reader closes the channel; the remote command gets
// SIGHUP when its channel goes away.
func (c *Client) Stream(cmd string) (io.ReadCloser, error) {
	session, err := c.NewSession()
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrSSH,
			"Failed to create SSH session",
			"Connection may have been closed. Try reconnecting.")
	}

	pr, pw := io.Pipe()
	session.Stdout = pw
	session.Stderr = pw

	if err := session.Start(cmd); err != nil {
		session.Close()
		pw.Close()
		return nil, errors.WrapWithCode(err, errors.ErrSSH,
			fmt.Sprintf("Failed to start stream: %s", cmd),
			"Connection may have been closed. Try reconnecting.")
	}

	go func() {
		err := session.Wait()
		if err == nil {
			err = io.EOF
		}
		pw.CloseWithError(err)
	}()

	return &streamReader{PipeReader: pr, session: session}, nil
}

type streamReader struct {
	*io.PipeReader
	session   *ssh.Session
	closeOnce sync.Once
}

func (s *streamReader) Close() error {
	s.closeOnce.Do(func() {
		s.session.Close()
		s.PipeReader.Close()
	})
	return nil
}
