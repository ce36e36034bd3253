package session

import (
	"context"
	"io"

	"github.com/sbctool/sbctool/internal/adb"
	"github.com/sbctool/sbctool/pkg/sshutil"
)

// NewSSH wraps a connected SSH runner. Every command and stream gets its
// own channel on the one connection.
func NewSSH(runner sshutil.Runner, name string) Session {
	return newSession(name, sshBackend{runner: runner})
}

type sshBackend struct {
	runner sshutil.Runner
}

func (b sshBackend) exec(ctx context.Context, cmd string) ([]byte, []byte, int, error) {
	return b.runner.Exec(ctx, cmd)
}

func (b sshBackend) stream(_ context.Context, cmd string) (io.ReadCloser, error) {
	return b.runner.Stream(cmd)
}

func (b sshBackend) close() error {
	return b.runner.Close()
}

// NewADBUSB wraps a handshaken ADB connection over USB bulk endpoints.
func NewADBUSB(conn *adb.Conn, serial string) Session {
	return newADB(conn, serial+" (usb)")
}

// NewADBTCP wraps a handshaken ADB connection over a raw TCP socket.
func NewADBTCP(conn *adb.Conn, addr string) Session {
	return newADB(conn, addr+" (tcp)")
}

// NewADBServer relays through the local adb server. Each command opens a
// fresh server connection, so closing the session owns nothing but streams.
func NewADBServer(relay adb.Relay, serial string, shellV2 bool) Session {
	return newSession(serial+" (adb server)", adbBackend{
		shell: adb.NewShell(adb.DeviceOpener{Relay: relay, Serial: serial}, shellV2),
	})
}

func newADB(conn *adb.Conn, name string) Session {
	return newSession(name, adbBackend{
		shell:  adb.NewShell(conn, conn.Banner().HasShellV2()),
		closer: conn,
	})
}

type adbBackend struct {
	shell  *adb.Shell
	closer io.Closer
}

func (b adbBackend) exec(ctx context.Context, cmd string) ([]byte, []byte, int, error) {
	return b.shell.Exec(ctx, cmd)
}

func (b adbBackend) stream(ctx context.Context, cmd string) (io.ReadCloser, error) {
	return b.shell.Stream(ctx, cmd)
}

func (b adbBackend) close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer.Close()
}
