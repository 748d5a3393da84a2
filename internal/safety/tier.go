// Package safety classifies shell commands by risk tier.
// Classification is purely lexical: pattern matching over the command
// string, never semantic analysis of what the command would actually do.
package safety

// Tier is the risk classification of a single command.
type Tier int

const (
	// TierSafe: read-only inspection commands, always run on the host.
	TierSafe Tier = iota
	// TierModerate: mutating but recoverable operations, sandboxed by default.
	TierModerate
	// TierDangerous: destructive operations, require confirmation and a sandbox.
	TierDangerous
)

// String returns the lowercase tier name for logs and metrics labels.
func (t Tier) String() string {
	switch t {
	case TierSafe:
		return "safe"
	case TierModerate:
		return "moderate"
	case TierDangerous:
		return "dangerous"
	default:
		return "unknown"
	}
}

// RequiresSandbox reports whether a command of this tier must run in the
// sandbox. Safe commands never do. Moderate commands may run on the host
// when the operator opts in via runModerateOnHost.
func (t Tier) RequiresSandbox(runModerateOnHost bool) bool {
	if t == TierSafe {
		return false
	}
	if t == TierModerate && runModerateOnHost {
		return false
	}
	return true
}

// RequiresConfirmation reports whether the user must explicitly confirm
// before a command of this tier is executed.
func (t Tier) RequiresConfirmation() bool {
	return t == TierDangerous
}
