package session

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/sbctool/sbctool/pkg/sshutil"
	sshtest "github.com/sbctool/sbctool/pkg/sshutil/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func board(ctx context.Context, cmd string, stdout, stderr io.Writer) int {
	switch cmd {
	case "cat /etc/hostname":
		fmt.Fprintln(stdout, "khadas")
		return 0
	case "hang":
		<-ctx.Done()
		return 0
	case "journalctl -f":
		fmt.Fprintln(stdout, "first")
		fmt.Fprintln(stdout, "second")
		<-ctx.Done()
		return 0
	}
	return 127
}

func dialBoard(t *testing.T) (*sshtest.Server, Session) {
	t.Helper()
	srv, err := sshtest.NewServer(board)
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := sshutil.Handshake(ctx, "khadas", srv.Addr(), srv.ClientConfig("khadas"))
	require.NoError(t, err)

	s := NewSSH(client, "khadas@"+srv.Addr())
	t.Cleanup(func() { s.Close() })
	return srv, s
}

func TestSSHSession_ExecuteAndStream(t *testing.T) {
	_, s := dialBoard(t)

	ls, err := s.OpenStream(context.Background(), "journalctl -f")
	require.NoError(t, err)
	defer ls.Close()

	res, err := s.Execute(context.Background(), "cat /etc/hostname", 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "khadas\n", string(res.Stdout))

	for _, want := range []string{"first", "second"} {
		line, ok := ls.Next()
		require.True(t, ok)
		assert.Equal(t, want, line.Text)
	}
}

func TestSSHSession_DroppedLinkFailsExecute(t *testing.T) {
	srv, s := dialBoard(t)

	done := make(chan error, 1)
	go func() {
		_, err := s.Execute(context.Background(), "hang", 10*time.Second)
		done <- err
	}()
	time.Sleep(50 * time.Millisecond)
	srv.DropConnections()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrDisconnected)
	case <-time.After(5 * time.Second):
		t.Fatal("Execute hung after the link dropped")
	}
}

func TestSSHSession_HalfOpenLinkTimesOut(t *testing.T) {
	srv, err := sshtest.NewServer(board)
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })
	proxy, err := sshtest.NewStallProxy(srv.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { proxy.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := sshutil.Handshake(ctx, "khadas", proxy.Addr(), srv.ClientConfig("khadas"))
	require.NoError(t, err)
	s := NewSSH(client, "khadas@"+proxy.Addr())
	t.Cleanup(func() { s.Close() })

	_, err = s.Execute(context.Background(), "cat /etc/hostname", 2*time.Second)
	require.NoError(t, err)

	proxy.Stall()

	start := time.Now()
	_, err = s.Execute(context.Background(), "cat /etc/hostname", 300*time.Millisecond)
	assert.ErrorIs(t, err, ErrCommandTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)

	done := make(chan error, 1)
	go func() {
		_, err := s.Execute(context.Background(), "cat /etc/hostname", time.Minute)
		done <- err
	}()
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, s.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrDisconnected)
	case <-time.After(3 * time.Second):
		t.Fatal("Close did not fail the in-flight Execute")
	}
}
