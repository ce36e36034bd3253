package sshutil

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/sbctool/sbctool/internal/errors"
	sshtesting "github.com/sbctool/sbctool/pkg/sshutil/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// boardHandler answers a few commands like a small Linux board would.
func boardHandler(ctx context.Context, cmd string, stdout, stderr io.Writer) int {
	switch {
	case cmd == "hostname":
		fmt.Fprintln(stdout, "khadas")
		return 0
	case cmd == "false":
		fmt.Fprintln(stderr, "nope")
		return 3
	case cmd == "sleep":
		<-ctx.Done()
		return 0
	case strings.HasPrefix(cmd, "follow"):
		for i := 1; ; i++ {
			if _, err := fmt.Fprintf(stdout, "line %d\n", i); err != nil {
				return 0
			}
			select {
			case <-ctx.Done():
				return 0
			case <-time.After(5 * time.Millisecond):
			}
		}
	default:
		fmt.Fprintf(stderr, "sh: %s: not found\n", cmd)
		return 127
	}
}

func startServer(t *testing.T) (*sshtesting.Server, *Client) {
	t.Helper()
	srv, err := sshtesting.NewServer(boardHandler)
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Handshake(ctx, "board", srv.Addr(), srv.ClientConfig("user"))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return srv, client
}

func TestExec_Success(t *testing.T) {
	_, client := startServer(t)

	stdout, stderr, code, err := client.Exec(context.Background(), "hostname")
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, "khadas\n", string(stdout))
	assert.Empty(t, stderr)
}

func TestExec_NonZeroExit(t *testing.T) {
	_, client := startServer(t)

	_, stderr, code, err := client.Exec(context.Background(), "false")
	require.NoError(t, err, "non-zero exit is not a transport error")
	assert.Equal(t, 3, code)
	assert.Equal(t, "nope\n", string(stderr))
}

func TestExec_ContextCancelClosesChannel(t *testing.T) {
	_, client := startServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, _, code, err := client.Exec(ctx, "sleep")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, -1, code)
	assert.Less(t, time.Since(start), 2*time.Second)

	// The connection is still usable for the next command.
	out, _, _, err := client.Exec(context.Background(), "hostname")
	require.NoError(t, err)
	assert.Equal(t, "khadas\n", string(out))
}

func TestExec_HalfOpenLink(t *testing.T) {
	srv, err := sshtesting.NewServer(boardHandler)
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })
	proxy, err := sshtesting.NewStallProxy(srv.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { proxy.Close() })

	orig := KeepaliveTimeout
	KeepaliveTimeout = 200 * time.Millisecond
	t.Cleanup(func() { KeepaliveTimeout = orig })

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer dialCancel()
	client, err := Handshake(dialCtx, "board", proxy.Addr(), srv.ClientConfig("user"))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	_, _, _, err = client.Exec(context.Background(), "hostname")
	require.NoError(t, err)
	assert.True(t, client.Alive(time.Second))

	proxy.Stall()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, _, code, err := client.Exec(ctx, "hostname")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, -1, code)
	assert.Less(t, time.Since(start), 2*time.Second)

	// The unanswered keepalive closes the connection, so later commands fail
	// on their own instead of waiting for their context.
	assert.Eventually(t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_, _, _, err := client.Exec(ctx, "hostname")
		return errors.IsCode(err, errors.ErrSSH)
	}, 5*time.Second, 50*time.Millisecond)
	assert.False(t, client.Alive(100*time.Millisecond))
}

func TestExec_AfterDisconnect(t *testing.T) {
	srv, client := startServer(t)
	srv.DropConnections()

	_, _, _, err := client.Exec(context.Background(), "hostname")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrSSH))
}

func TestStream_LinesAndClose(t *testing.T) {
	_, client := startServer(t)

	rc, err := client.Stream("follow")
	require.NoError(t, err)

	sc := bufio.NewScanner(rc)
	for i := 1; i <= 3; i++ {
		require.True(t, sc.Scan())
		assert.Equal(t, fmt.Sprintf("line %d", i), sc.Text())
	}

	require.NoError(t, rc.Close())
	require.NoError(t, rc.Close(), "close is idempotent")

	// The stream channel is gone; a command still works on the same connection.
	out, _, _, err := client.Exec(context.Background(), "hostname")
	require.NoError(t, err)
	assert.Equal(t, "khadas\n", string(out))
}

func TestStream_EndsOnDisconnect(t *testing.T) {
	srv, client := startServer(t)

	rc, err := client.Stream("follow")
	require.NoError(t, err)
	defer rc.Close()

	srv.DropConnections()

	done := make(chan error, 1)
	go func() {
		_, err := io.Copy(io.Discard, rc)
		done <- err
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not end after disconnect")
	}
}

func TestHandshake_AuthFailure(t *testing.T) {
	srv, err := sshtesting.NewServer(boardHandler)
	require.NoError(t, err)
	defer srv.Close()

	cfg := srv.ClientConfig("user")
	cfg.Auth = []ssh.AuthMethod{ssh.Password("wrong")}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = Handshake(ctx, "board", srv.Addr(), cfg)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrAuth), "got %v", err)
}

func TestHandshake_Timeout(t *testing.T) {
	// Accepts TCP but never speaks SSH.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err = Handshake(ctx, "silent", ln.Addr().String(), &ssh.ClientConfig{
		User:            "user",
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // test server
	})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrHandshakeTimeout), "got %v", err)
}

func TestHandshake_Refused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, err = Handshake(context.Background(), "gone", addr, &ssh.ClientConfig{
		User:            "user",
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // test server
	})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrConnect))
}

func TestExpandPath(t *testing.T) {
	home := homeDir()
	assert.Equal(t, home+"/.ssh/id_rsa", expandPath("~/.ssh/id_rsa"))
	assert.Equal(t, "/abs/key", expandPath("/abs/key"))
	assert.Equal(t, "relative", expandPath("relative"))
}

func TestSuggestionForDialError(t *testing.T) {
	tests := []struct {
		errMsg string
		want   string
	}{
		{"dial tcp: connection refused", "Is SSH running"},
		{"dial tcp: no route to host", "Can't route"},
		{"dial tcp: i/o timeout", "timed out"},
		{"dial tcp: lookup khadas: no such host", "didn't resolve"},
		{"weird", "ping"},
	}

	for _, tt := range tests {
		t.Run(tt.errMsg, func(t *testing.T) {
			assert.Contains(t, suggestionForDialError(fmt.Errorf("%s", tt.errMsg)), tt.want)
		})
	}
}

func TestKeyFileAuth_Missing(t *testing.T) {
	_, err := keyFileAuth("/nonexistent/key")
	assert.Error(t, err)
}

func TestHostKeyMismatchError_Suggestion(t *testing.T) {
	e := &HostKeyMismatchError{Hostname: "192.168.1.4:22", ReceivedType: "ssh-ed25519", KnownHosts: "/home/u/.ssh/known_hosts"}
	assert.Contains(t, e.Error(), "192.168.1.4:22")
	assert.Contains(t, e.Suggestion(), "ssh-keygen -R 192.168.1.4 -f /home/u/.ssh/known_hosts")
}
