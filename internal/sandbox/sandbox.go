// Package sandbox provides the two execution paths for classified commands:
// direct host execution and isolated container execution with a reusable
// session. Every path produces the same normalized Outcome, so callers never
// branch on where a command actually ran.
package sandbox

import "time"

// Standard exit codes surfaced to every caller, regardless of destination.
const (
	// ExitFailure is the generic "unstructured/unknown failure" fallback.
	ExitFailure = 1
	// ExitTimeout is reported when execution exceeds its time budget.
	ExitTimeout = 124
	// ExitNotFound is reported when the target binary is absent.
	ExitNotFound = 127
)

// Outcome is the normalized result of a single command execution.
// ExitCode is always set; ambiguous provider responses default to
// ExitFailure rather than leaving it undefined.
type Outcome struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
	Isolated bool
	Duration time.Duration
}

// Failed reports whether the command finished unsuccessfully.
func (o *Outcome) Failed() bool { return o.ExitCode != 0 }
