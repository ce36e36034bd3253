package sshutil

import (
	"context"
	"io"
)

// Runner is the part of Client the session layer depends on.
// Fakes in tests implement it without a network.
type Runner interface {
	// Exec runs a command and returns stdout, stderr, and exit code.
	// A non-zero exit code with nil error means the command ran but failed.
	Exec(ctx context.Context, cmd string) (stdout, stderr []byte, exitCode int, err error)

	// Stream starts a long-running command; closing the reader stops it.
	Stream(cmd string) (io.ReadCloser, error)

	// Close closes the SSH connection.
	Close() error
}

var _ Runner = (*Client)(nil)
