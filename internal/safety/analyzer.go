package safety

import (
	"fmt"
	"regexp"
	"strings"
)

// Rules holds the classification rule set. Zero-value fields fall back to
// the package defaults, so callers only override what they need.
type Rules struct {
	// SafeCommands are base commands considered strictly read-only.
	SafeCommands []string
	// ModerateCommands are base commands that modify files or system state
	// but are recoverable.
	ModerateCommands []string
	// DangerousPatterns are regular expressions matched against the whole
	// command string. Any match classifies the command as Dangerous.
	DangerousPatterns []string
}

// DefaultSafeCommands is the default read-only command set.
func DefaultSafeCommands() []string {
	return []string{
		"ls", "pwd", "whoami", "date", "cal",
		"cat", "less", "more", "head", "tail",
		"grep", "find", "wc", "sort", "uniq",
		"diff", "file", "stat", "df", "du",
		"ps", "top", "htop",
		"which", "whereis", "man",
		"history", "env", "printenv",
		"basename", "dirname", "realpath",
	}
}

// DefaultModerateCommands is the default mutating-but-recoverable command set.
func DefaultModerateCommands() []string {
	return []string{
		"sed", "awk", "gawk", "mawk",
		"touch", "mkdir", "rmdir",
		"cp", "mv", "ln",
		"wget", "curl",
		"git", "npm", "pip", "apt",
		"tar", "gzip", "unzip", "zip",
		"chmod", "chown",
		"tee", "xargs",
		"clear",
	}
}

// DefaultDangerousPatterns is the default destructive-signature list.
func DefaultDangerousPatterns() []string {
	return []string{
		// Destructive file operations.
		`\brm\b`,
		`rm\s+-rf`,
		`rm\s+.*\*`,
		`\s-delete\b`,

		// Disk operations and raw device writes.
		`\bdd\b`,
		`\bmkfs\b`,
		`\bfdisk\b`,
		`\bparted\b`,
		`>\s*/dev/`,

		// Permission changes on system paths.
		`chmod\s+777`,
		`chmod\s+-R\s+777`,
		`chown\s+-R`,

		// System control.
		`\bshutdown\b`,
		`\breboot\b`,
		`\bpoweroff\b`,

		// Process killing.
		`\bkill\b`,
		`\bpkill\b`,
		`\bkillall\b`,

		// Fork bomb.
		`:\(\)\{:\|:&\};:`,

		// Fetch-then-execute.
		`curl.*\|.*sh`,
		`wget.*\|.*sh`,
		`\|\s*sh`,

		// Hiding data in /dev/null.
		`mv\s+.*\s+/dev/null`,

		// Filesystem wipe tools.
		`\bshred\b`,
		`\bwipefs\b`,
	}
}

// Compound/chained command operators. Chaining defeats per-command
// classification, so any chain is treated as Dangerous outright.
var dangerousOperators = []*regexp.Regexp{
	regexp.MustCompile(`&&`),
	regexp.MustCompile(`\|\|`),
	regexp.MustCompile(`;`),
	regexp.MustCompile(`\$\(`),
	regexp.MustCompile("`"),
	regexp.MustCompile(`\n`),
}

// Pipes into shells and interpreters. Pipes into filters (wc, head, grep…)
// are fine; pipes into anything that executes its stdin are not.
var dangerousPipes = []*regexp.Regexp{
	regexp.MustCompile(`\|\s*sh\b`),
	regexp.MustCompile(`\|\s*bash\b`),
	regexp.MustCompile(`\|\s*zsh\b`),
	regexp.MustCompile(`\|\s*python\b`),
	regexp.MustCompile(`\|\s*perl\b`),
	regexp.MustCompile(`\|\s*ruby\b`),
	regexp.MustCompile(`\|\s*nc\b`),
	regexp.MustCompile(`\|\s*curl\b`),
	regexp.MustCompile(`\|\s*wget\b`),
	regexp.MustCompile(`\|\s*telnet\b`),
}

// Analyzer classifies commands against a compiled rule set.
// Safe for concurrent use; all state is immutable after construction.
type Analyzer struct {
	safe      map[string]struct{}
	moderate  map[string]struct{}
	dangerous []*regexp.Regexp
}

// NewAnalyzer compiles the rule set into an Analyzer. Empty rule fields
// fall back to the package defaults. Patterns that fail to compile are
// rejected so a typo in config cannot silently disable a signature.
func NewAnalyzer(rules Rules) (*Analyzer, error) {
	safeList := rules.SafeCommands
	if len(safeList) == 0 {
		safeList = DefaultSafeCommands()
	}
	moderateList := rules.ModerateCommands
	if len(moderateList) == 0 {
		moderateList = DefaultModerateCommands()
	}
	patterns := rules.DangerousPatterns
	if len(patterns) == 0 {
		patterns = DefaultDangerousPatterns()
	}

	a := &Analyzer{
		safe:     make(map[string]struct{}, len(safeList)),
		moderate: make(map[string]struct{}, len(moderateList)),
	}
	for _, c := range safeList {
		a.safe[c] = struct{}{}
	}
	for _, c := range moderateList {
		a.moderate[c] = struct{}{}
	}
	for _, p := range patterns {
		re, err := regexp.Compile(`(?i)` + p)
		if err != nil {
			return nil, fmt.Errorf("compiling dangerous pattern %q: %w", p, err)
		}
		a.dangerous = append(a.dangerous, re)
	}
	return a, nil
}

// Classify returns the risk tier of a command plus a human-readable reason.
// It never fails: empty or malformed input classifies as Moderate (the most
// conservative tier that still allows continuation), never as Safe.
//
// Evaluation order guarantees most-dangerous-wins: every Dangerous check
// runs before the Safe/Moderate lookups, so a safe-looking base command
// (e.g. find) with a destructive flag is still Dangerous.
func (a *Analyzer) Classify(command string) (Tier, string) {
	command = strings.TrimSpace(command)
	if command == "" {
		return TierModerate, "empty command, treated conservatively"
	}

	// 1. Compound/chained commands first.
	for _, re := range dangerousOperators {
		if re.MatchString(command) {
			return TierDangerous, fmt.Sprintf("compound or chained command detected: %s", re.String())
		}
	}

	// 2. Pipes into shells/interpreters.
	for _, re := range dangerousPipes {
		if re.MatchString(command) {
			return TierDangerous, "pipe to shell or interpreter detected"
		}
	}

	// 3. Destructive signatures.
	for _, re := range a.dangerous {
		if re.MatchString(command) {
			return TierDangerous, fmt.Sprintf("matches dangerous pattern: %s", re.String())
		}
	}

	base := baseCommand(command)

	// 4. Read-only commands.
	if _, ok := a.safe[base]; ok {
		return TierSafe, "read-only command, safe to execute on host"
	}

	// 5. Known mutating commands.
	if _, ok := a.moderate[base]; ok {
		return TierModerate, "file modification command, will run in sandbox"
	}

	// 6. Unknown commands default to Moderate, never Safe.
	return TierModerate, "unknown command, will run in sandbox for safety"
}

// baseCommand extracts the program name from a command string.
// "sudo apt-get install x" → "apt-get", "ls -la /home" → "ls".
func baseCommand(command string) string {
	command = strings.TrimSpace(command)
	command = strings.TrimPrefix(command, "sudo ")
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
