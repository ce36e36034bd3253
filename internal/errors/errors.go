package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes for categorizing errors
const (
	ErrConfig  = "CONFIG"
	ErrUsage   = "USAGE"
	ErrSSH     = "SSH"
	ErrADB     = "ADB"
	ErrConnect = "CONNECT"
	ErrSession = "SESSION"

	// Transport failures that map to their own exit codes.
	ErrNoDevice         = "NO_DEVICE"
	ErrAuth             = "AUTH"
	ErrHandshakeTimeout = "HANDSHAKE_TIMEOUT"
)

// Process exit codes. Scripts depend on these staying stable.
const (
	ExitOK               = 0
	ExitGeneric          = 1
	ExitConnect          = 2
	ExitNoDevice         = 3
	ExitAuth             = 4
	ExitHandshakeTimeout = 5
)

// Error represents a structured error with code, message, suggestion, and optional cause.
// Rendered as:
//
//	✗ <What failed>
//
//	  <Why it failed - technical details>
//
//	  <How to fix it - actionable steps>
type Error struct {
	Code       string
	Message    string
	Suggestion string
	Cause      error
}

// New creates a new structured error with the given code, message, and suggestion.
func New(code, message, suggestion string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Suggestion: suggestion,
	}
}

// Wrap wraps an existing error with a message, defaulting to ErrConnect code.
func Wrap(err error, message string) *Error {
	return &Error{
		Code:    ErrConnect,
		Message: message,
		Cause:   err,
	}
}

// WrapWithCode wraps an existing error with a specific code, message, and suggestion.
func WrapWithCode(err error, code, message, suggestion string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Suggestion: suggestion,
		Cause:      err,
	}
}

// Error implements the error interface with the multi-line layout above.
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("✗ %s\n", e.Message))

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf("\n  %s\n", e.Cause.Error()))
	}

	if e.Suggestion != "" {
		b.WriteString(fmt.Sprintf("\n  %s\n", e.Suggestion))
	}

	return b.String()
}

// Unwrap returns the underlying cause for use with errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsCode checks if an error is a structured Error with the given code.
func IsCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var sbErr *Error
	if errors.As(err, &sbErr) {
		return sbErr.Code == code
	}
	return false
}

// CodeOf returns the code of the outermost structured Error in the chain, or "".
func CodeOf(err error) string {
	var sbErr *Error
	if errors.As(err, &sbErr) {
		return sbErr.Code
	}
	return ""
}

// ExitCode maps an error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	if code, ok := GetExitCode(err); ok {
		return code
	}
	switch CodeOf(err) {
	case ErrNoDevice:
		return ExitNoDevice
	case ErrAuth:
		return ExitAuth
	case ErrHandshakeTimeout:
		return ExitHandshakeTimeout
	case ErrConnect, ErrSSH, ErrADB, ErrSession:
		return ExitConnect
	default:
		return ExitGeneric
	}
}

// Summary renders an error as a single diagnostic line.
func Summary(err error) string {
	if err == nil {
		return ""
	}
	var sbErr *Error
	if !errors.As(err, &sbErr) {
		return "✗ " + firstLine(err.Error())
	}
	line := "✗ " + sbErr.Message
	if sbErr.Cause != nil {
		cause := firstLine(sbErr.Cause.Error())
		// Nested structured errors already carry the marker.
		cause = strings.TrimPrefix(cause, "✗ ")
		if cause != "" && cause != sbErr.Message {
			line += ": " + cause
		}
	}
	return line
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

// ExitError carries an explicit exit code without printing anything extra.
type ExitError struct {
	Code int
}

// NewExitError creates an ExitError for the given code.
func NewExitError(code int) *ExitError {
	return &ExitError{Code: code}
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

// GetExitCode extracts the code from an ExitError anywhere in the chain.
func GetExitCode(err error) (int, bool) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code, true
	}
	return 0, false
}
