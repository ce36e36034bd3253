// Package cli implements the sbctool command line.
//
// The root command loads config (file, SBCTOOL_* environment, then flags),
// sets up logging, and hands off to a backend subcommand:
//
//	sbctool ssh [user@host|alias]   monitor over SSH
//	sbctool adb [-s serial]         monitor over ADB (USB, TCP or adb server)
//	sbctool version
//
// Both backends either open the dashboard or, with --once or a non-terminal
// stdout, print a YAML snapshot per device. Errors reach the user as one
// line on stderr and the process exits with errors.ExitCode.
package cli
