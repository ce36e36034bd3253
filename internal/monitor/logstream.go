package monitor

import (
	"regexp"
	"strings"
	"time"
)

// Level is the severity guessed for a log line.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelError:
		return "ERROR"
	case LevelWarn:
		return "WARN"
	case LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}

// LogEntry is one line in the log panel.
type LogEntry struct {
	Time  time.Time
	Text  string
	Level Level
	// Local marks lines sbctool wrote itself, such as stream restarts.
	Local bool
}

// StreamCommand follows the system log. Android gets logcat; Linux gets
// journald, then the classic syslog files.
const StreamCommand = `if [ -n "$(getprop ro.build.version.release 2>/dev/null)" ]; then ` +
	`exec logcat -v time -T 50; ` +
	`elif command -v journalctl >/dev/null 2>&1; then ` +
	`exec journalctl -f --no-hostname --output=short-iso -n 50; ` +
	`elif [ -r /var/log/syslog ]; then exec tail -n 50 -F /var/log/syslog; ` +
	`elif [ -r /var/log/messages ]; then exec tail -n 50 -F /var/log/messages; ` +
	`else exec tail -n 50 -F /var/log/kern.log; fi`

// logcat -v time: "10-19 12:00:01.234 E/Tag( 123): message"
var logcatLevel = regexp.MustCompile(`^\d\d-\d\d \d\d:\d\d:\d\d\.\d+\s+([VDIWEF])/`)

// ClassifyLevel guesses the severity of a line. logcat lines carry their
// own priority; everything else goes by keyword.
func ClassifyLevel(text string) Level {
	if m := logcatLevel.FindStringSubmatch(text); m != nil {
		switch m[1] {
		case "E", "F":
			return LevelError
		case "W":
			return LevelWarn
		case "I":
			return LevelInfo
		default:
			return LevelDebug
		}
	}

	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "error"), strings.Contains(lower, "fatal"), strings.Contains(lower, "panic"):
		return LevelError
	case strings.Contains(lower, "warn"):
		return LevelWarn
	case strings.Contains(lower, "info"):
		return LevelInfo
	default:
		return LevelDebug
	}
}
