// Package monitor runs the live view of one board.
//
// # Architecture
//
// An Engine drives two loops against the session held by a
// connection.Manager:
//
//   - Poll loop: every interval (or on Refresh) runs one facts batch
//     command and publishes a Snapshot. Snapshots carry a sequence number
//     and are swapped in atomically; a failed poll republishes the last
//     good facts marked stale.
//   - Stream loop: follows the system log and appends each line to a
//     bounded Ring. When the stream ends it is reopened with the reconnect
//     backoff policy.
//
// Neither loop waits on the other. The bubbletea Model reads the latest
// snapshot and ring contents, and learns about connection state changes
// from the bus.
//
// # Layout
//
//	header  target, state badge, last updated
//	left    system facts
//	right   log viewport (follows the tail unless scrolled)
//	footer  key help
//
// # Keyboard Shortcuts
//
//	q, Esc, Ctrl+C  - Quit
//	r               - Refresh now
//	R               - Reconnect (runs strategy selection again)
//	↑/↓, PgUp/PgDn  - Scroll logs
//	g/G             - Top / bottom of logs
//	f               - Toggle follow
//	?               - Toggle full help
package monitor
