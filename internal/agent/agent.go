// Package agent wires command generation, safety classification, and routed
// execution into the conversational loop.
package agent

import (
	"github.com/wanjiru/amri/internal/safety"
	"github.com/wanjiru/amri/internal/sandbox"
)

// Confirmer asks the user to approve a dangerous command before it runs.
// Implementations prompt on the terminal; tests substitute a canned answer.
type Confirmer interface {
	Confirm(command string) (bool, error)
}

// ConfirmFunc adapts a function to the Confirmer interface.
type ConfirmFunc func(command string) (bool, error)

func (f ConfirmFunc) Confirm(command string) (bool, error) { return f(command) }

// Result is the assistant's answer to one user input.
type Result struct {
	Input   string
	Command string // Generated shell command, empty for questions.
	Answer  string // Prose reply for questions, or a post-run explanation.
	Tier    safety.Tier

	Cached    bool // Command came from the generation cache.
	Cancelled bool // User declined to run a dangerous command.

	// Outcome is the execution result. Nil for questions and cancelled
	// commands.
	Outcome *sandbox.Outcome
}

// Executed reports whether the input produced a command that actually ran.
func (r *Result) Executed() bool { return r.Outcome != nil }
