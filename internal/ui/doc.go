// Package ui renders sbctool's line-oriented terminal output: the
// connection progress printed before the dashboard starts and in --once
// mode.
//
// # Components
//
//	Spinner           - Animated status indicator for the connect phase
//	ConnectionDisplay - One line per dialed strategy, then the outcome
//
// # Color Scheme
//
// Colors are ANSI codes for broad terminal compatibility:
//
//	ColorSuccess (green)  - Connected
//	ColorError   (red)    - Failed
//	ColorWarning (yellow) - Fallbacks
//	ColorMuted   (gray)   - Timing and secondary text
//
// Use DisableColors() for --no-color and non-terminal output.
package ui
