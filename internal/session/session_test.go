package session

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sshtest "github.com/sbctool/sbctool/pkg/sshutil/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockSession(t *testing.T) (Session, *sshtest.MockRunner) {
	t.Helper()
	runner := sshtest.NewMockRunner()
	s := NewSSH(runner, "khadas")
	t.Cleanup(func() { s.Close() })
	return s, runner
}

func TestExecute_Success(t *testing.T) {
	s, runner := newMockSession(t)
	runner.SetCommandResponse("uname -r", sshtest.CommandResponse{Stdout: []byte("5.10.110\n")})

	res, err := s.Execute(context.Background(), "uname -r", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "5.10.110\n", string(res.Stdout))
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "khadas", s.String())
}

func TestExecute_NonZeroExit(t *testing.T) {
	s, runner := newMockSession(t)
	runner.SetCommandResponse("cat /nope", sshtest.CommandResponse{
		Stderr:   []byte("cat: /nope: No such file or directory\n"),
		ExitCode: 1,
	})

	res, err := s.Execute(context.Background(), "cat /nope", time.Second)
	require.Error(t, err)

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 1, exitErr.Code)
	assert.Equal(t, 1, res.ExitCode, "output is still returned")
	assert.Contains(t, err.Error(), "No such file")
	assert.NotErrorIs(t, err, ErrDisconnected)
}

func TestExecute_Timeout(t *testing.T) {
	s, runner := newMockSession(t)
	runner.SetCommandResponse("sleep 10", sshtest.CommandResponse{Delay: 10 * time.Second})

	start := time.Now()
	_, err := s.Execute(context.Background(), "sleep 10", 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrCommandTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)

	// The session survives a timed-out command.
	runner.SetCommandResponse("true", sshtest.CommandResponse{})
	_, err = s.Execute(context.Background(), "true", time.Second)
	assert.NoError(t, err)
}

func TestExecute_CallerCancel(t *testing.T) {
	s, runner := newMockSession(t)
	runner.SetCommandResponse("sleep 10", sshtest.CommandResponse{Delay: 10 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	_, err := s.Execute(ctx, "sleep 10", 5*time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExecute_TransportErrorIsDisconnect(t *testing.T) {
	s, runner := newMockSession(t)
	runner.SetCommandResponse("uptime", sshtest.CommandResponse{Error: stderrors.New("EOF")})

	_, err := s.Execute(context.Background(), "uptime", time.Second)
	assert.ErrorIs(t, err, ErrDisconnected)
}

func TestExecute_Serialized(t *testing.T) {
	s, runner := newMockSession(t)
	runner.SetCommandResponse("^cmd-", sshtest.CommandResponse{Delay: 10 * time.Millisecond})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Execute(context.Background(), fmt.Sprintf("cmd-%d", i), 5*time.Second)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, runner.MaxConcurrent())
	assert.Equal(t, 8, runner.CallCount("cmd-"))
}

func TestClose_FailsInFlightExecute(t *testing.T) {
	s, runner := newMockSession(t)
	runner.SetCommandResponse("sleep 10", sshtest.CommandResponse{Delay: 10 * time.Second})

	done := make(chan error, 1)
	go func() {
		_, err := s.Execute(context.Background(), "sleep 10", 30*time.Second)
		done <- err
	}()

	require.Eventually(t, func() bool { return runner.CallCount("sleep") == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrDisconnected)
	case <-time.After(2 * time.Second):
		t.Fatal("Execute still blocked after Close")
	}

	_, err := s.Execute(context.Background(), "true", time.Second)
	assert.ErrorIs(t, err, ErrDisconnected)
	_, err = s.OpenStream(context.Background(), "journalctl -f")
	assert.ErrorIs(t, err, ErrDisconnected)
}

// deafBackend ignores cancellation: exec returns only once released.
type deafBackend struct {
	release chan struct{}
	calls   atomic.Int32
}

func (b *deafBackend) exec(ctx context.Context, cmd string) ([]byte, []byte, int, error) {
	b.calls.Add(1)
	<-b.release
	return nil, nil, -1, io.EOF
}

func (b *deafBackend) stream(ctx context.Context, cmd string) (io.ReadCloser, error) {
	return nil, stderrors.New("no streams")
}

func (b *deafBackend) close() error { return nil }

func TestExecute_DeafBackendTimesOut(t *testing.T) {
	b := &deafBackend{release: make(chan struct{})}
	s := newSession("dead", b)
	t.Cleanup(func() { s.Close() })

	start := time.Now()
	_, err := s.Execute(context.Background(), "uptime", 100*time.Millisecond)
	assert.ErrorIs(t, err, ErrCommandTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)

	// The stuck command still owns the channel; the next one waits only as
	// long as its own timeout and never runs alongside it.
	_, err = s.Execute(context.Background(), "uptime", 100*time.Millisecond)
	assert.ErrorIs(t, err, ErrCommandTimeout)
	assert.Equal(t, int32(1), b.calls.Load())

	close(b.release)
	assert.Eventually(t, func() bool {
		_, err := s.Execute(context.Background(), "uptime", 100*time.Millisecond)
		return stderrors.Is(err, ErrDisconnected)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClose_FailsExecuteOnDeafBackend(t *testing.T) {
	b := &deafBackend{release: make(chan struct{})}
	t.Cleanup(func() { close(b.release) })
	s := newSession("dead", b)

	done := make(chan error, 1)
	go func() {
		_, err := s.Execute(context.Background(), "uptime", time.Minute)
		done <- err
	}()
	require.Eventually(t, func() bool { return b.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrDisconnected)
	case <-time.After(2 * time.Second):
		t.Fatal("Execute still blocked after Close")
	}
}

func TestOpenStream_LinesInOrder(t *testing.T) {
	s, runner := newMockSession(t)
	var lines []string
	for i := 1; i <= 50; i++ {
		lines = append(lines, fmt.Sprintf("L%d", i))
	}
	runner.SetStream("journalctl -f", lines...)

	ls, err := s.OpenStream(context.Background(), "journalctl -f")
	require.NoError(t, err)
	defer ls.Close()

	for _, want := range lines {
		line, ok := ls.Next()
		require.True(t, ok)
		assert.Equal(t, want, line.Text)
		assert.False(t, line.Time.IsZero())
	}
	assert.NoError(t, ls.Err())
}

func TestOpenStream_DoesNotBlockExecute(t *testing.T) {
	s, runner := newMockSession(t)
	runner.SetStream("journalctl -f", "only line")
	runner.SetCommandResponse("hostname", sshtest.CommandResponse{Stdout: []byte("vim3\n")})

	ls, err := s.OpenStream(context.Background(), "journalctl -f")
	require.NoError(t, err)
	defer ls.Close()

	_, ok := ls.Next()
	require.True(t, ok)

	// The stream is now blocked waiting for more output.
	res, err := s.Execute(context.Background(), "hostname", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "vim3\n", string(res.Stdout))
}

func TestLineStream_CloseReleasesChannel(t *testing.T) {
	s, runner := newMockSession(t)
	runner.SetStream("logcat", "a")

	ls, err := s.OpenStream(context.Background(), "logcat")
	require.NoError(t, err)
	assert.Equal(t, 1, runner.OpenStreams())

	next := make(chan bool, 1)
	_, ok := ls.Next()
	require.True(t, ok)
	go func() {
		_, ok := ls.Next()
		next <- ok
	}()

	require.NoError(t, ls.Close())
	select {
	case ok := <-next:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("Next still blocked after Close")
	}
	assert.Equal(t, 0, runner.OpenStreams())
	assert.ErrorIs(t, ls.Err(), ErrStreamClosed)
}

func TestClose_EndsStreams(t *testing.T) {
	s, runner := newMockSession(t)
	runner.SetStream("journalctl -f")

	ls, err := s.OpenStream(context.Background(), "journalctl -f")
	require.NoError(t, err)

	require.NoError(t, s.Close())
	_, ok := ls.Next()
	assert.False(t, ok)
	assert.ErrorIs(t, ls.Err(), ErrStreamClosed)
	assert.Equal(t, 0, runner.OpenStreams())
}

func TestExitError_Message(t *testing.T) {
	err := &ExitError{Command: "ls /x", Code: 2, Stderr: "ls: /x: missing\nmore\n"}
	assert.Equal(t, `"ls /x" exited with status 2: ls: /x: missing`, err.Error())
	assert.Equal(t, `"true" exited with status 1`, (&ExitError{Command: "true", Code: 1}).Error())
}
