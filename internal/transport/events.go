package transport

import "time"

// ConnectionEvent reports progress while strategies are dialed.
type ConnectionEvent struct {
	Type     ConnectionEventType
	Strategy Strategy
	Message  string
	Error    error
	Latency  time.Duration
}

// ConnectionEventType categorizes connection events.
type ConnectionEventType int

const (
	// EventTrying indicates a strategy is being dialed.
	EventTrying ConnectionEventType = iota
	// EventFailed indicates a strategy failed.
	EventFailed
	// EventConnected indicates a live session.
	EventConnected
)

// String returns a human-readable description of the event type.
func (t ConnectionEventType) String() string {
	switch t {
	case EventTrying:
		return "trying"
	case EventFailed:
		return "failed"
	case EventConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// EventHandler is a callback for connection events.
type EventHandler func(event ConnectionEvent)
