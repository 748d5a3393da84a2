// Package llm defines the provider-agnostic interface for turning natural
// language requests into shell commands.
package llm

import (
	"context"
	"strings"
)

// MaxInputLength caps the user input forwarded to the model. Longer requests
// are truncated, not rejected.
const MaxInputLength = 500

// Truncate bounds user input to MaxInputLength characters.
func Truncate(input string) string {
	if len(input) <= MaxInputLength {
		return input
	}
	return input[:MaxInputLength]
}

// Request is a natural language request for a shell command.
type Request struct {
	// Input is the user's request in natural language.
	Input string
	// History holds recent exchanges, oldest first, used as conversational
	// context. A request with history must not be cached: the same words can
	// mean something different after "the previous file" style references.
	History []string
	// WorkDir is the directory the generated command will run in.
	WorkDir string
}

// Contextual reports whether the request depends on conversation history.
func (r *Request) Contextual() bool { return len(r.History) > 0 }

// Generation is the model's answer to a request: either a runnable shell
// command or a plain-language reply when the input was a question rather
// than a task.
type Generation struct {
	Command string
	Answer  string
}

// IsQuestion reports whether the model answered with prose instead of a
// command.
func (g *Generation) IsQuestion() bool { return g.Command == "" && g.Answer != "" }

// Valid reports whether the generation carries usable content. Cache entries
// failing this check are treated as corrupt and dropped.
func (g *Generation) Valid() bool {
	if g == nil {
		return false
	}
	return strings.TrimSpace(g.Command) != "" || strings.TrimSpace(g.Answer) != ""
}

// Provider is the abstraction over any LLM backend that can translate
// natural language into shell commands.
type Provider interface {
	// GenerateCommand translates a natural language request into a shell
	// command, or into a prose answer when the input is a question.
	GenerateCommand(ctx context.Context, req *Request) (*Generation, error)

	// Explain produces a short plain-language explanation of what a command
	// does, optionally informed by its output.
	Explain(ctx context.Context, command, output string) (string, error)

	// Available probes whether the backend is reachable and the configured
	// model is present.
	Available(ctx context.Context) error

	// Name returns the provider identifier (e.g. "ollama").
	Name() string
}
