package session

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// maxLineLength caps one log line; longer lines end the stream with an error.
const maxLineLength = 1 << 20

// LogLine is one line of stream output stamped with its receipt time.
type LogLine struct {
	Time time.Time
	Text string
}

// LineStream yields lines lazily, in the order they arrived. It is meant
// for a single consumer.
type LineStream struct {
	rc      io.ReadCloser
	scanner *bufio.Scanner
	now     func() time.Time

	mu        sync.Mutex
	err       error
	closed    bool
	closeOnce sync.Once
	onClose   func()
}

func newLineStream(rc io.ReadCloser) *LineStream {
	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineLength)
	return &LineStream{rc: rc, scanner: scanner, now: time.Now}
}

// Next blocks for the next line. It returns false once the stream has
// ended; Err then says why.
func (l *LineStream) Next() (LogLine, bool) {
	if l.scanner.Scan() {
		return LogLine{Time: l.now(), Text: strings.TrimRight(l.scanner.Text(), "\r")}, true
	}

	l.mu.Lock()
	if l.err == nil {
		if err := l.scanner.Err(); err != nil && !l.closed {
			l.err = fmt.Errorf("%w: %v", ErrStreamClosed, err)
		} else {
			l.err = ErrStreamClosed
		}
	}
	l.mu.Unlock()

	l.Close()
	return LogLine{}, false
}

// Err reports why the stream ended. It is nil while lines may still come.
func (l *LineStream) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Close releases the underlying channel. A Next blocked in another
// goroutine returns false.
func (l *LineStream) Close() error {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.mu.Unlock()
		l.rc.Close()
		if l.onClose != nil {
			l.onClose()
		}
	})
	return nil
}
