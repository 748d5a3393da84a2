package executor

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/wanjiru/amri/internal/safety"
	"github.com/wanjiru/amri/internal/sandbox"
)

type recordingRunner struct {
	calls   int
	lastCmd string
	outcome *sandbox.Outcome
}

func (r *recordingRunner) Run(_ context.Context, command, _ string, _ time.Duration) *sandbox.Outcome {
	r.calls++
	r.lastCmd = command
	return r.outcome
}

func newTestExecutor(host, sbx *recordingRunner, moderateOnHost bool) *Executor {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var s SandboxRunner
	if sbx != nil {
		s = sbx
	}
	return New(host, s, Config{RunModerateOnHost: moderateOnHost}, logger, nil)
}

func TestExecute_RoutingByTier(t *testing.T) {
	tests := []struct {
		name           string
		tier           safety.Tier
		moderateOnHost bool
		wantHost       bool
	}{
		{"safe goes to host", safety.TierSafe, false, true},
		{"safe stays on host regardless", safety.TierSafe, true, true},
		{"moderate defaults to sandbox", safety.TierModerate, false, false},
		{"moderate on host with opt-in", safety.TierModerate, true, true},
		{"dangerous always sandboxed", safety.TierDangerous, false, false},
		{"dangerous sandboxed despite opt-in", safety.TierDangerous, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host := &recordingRunner{outcome: &sandbox.Outcome{}}
			sbx := &recordingRunner{outcome: &sandbox.Outcome{Isolated: true}}
			e := newTestExecutor(host, sbx, tt.moderateOnHost)

			out := e.Execute(context.Background(), "cmd", tt.tier, "/proj", time.Second)

			if tt.wantHost {
				if host.calls != 1 || sbx.calls != 0 {
					t.Errorf("host=%d sandbox=%d, want host only", host.calls, sbx.calls)
				}
				if out.Isolated {
					t.Error("host outcome should not be isolated")
				}
			} else {
				if host.calls != 0 || sbx.calls != 1 {
					t.Errorf("host=%d sandbox=%d, want sandbox only", host.calls, sbx.calls)
				}
				if !out.Isolated {
					t.Error("sandbox outcome should be isolated")
				}
			}
		})
	}
}

func TestExecute_SandboxUnavailableIsDiagnostic(t *testing.T) {
	host := &recordingRunner{outcome: &sandbox.Outcome{}}
	e := newTestExecutor(host, nil, false)

	out := e.Execute(context.Background(), "rm -rf build", safety.TierDangerous, "/proj", time.Second)

	if out.ExitCode != sandbox.ExitFailure {
		t.Errorf("exit code = %d, want %d", out.ExitCode, sandbox.ExitFailure)
	}
	if !strings.Contains(out.Stderr, "sandbox unavailable") {
		t.Errorf("stderr = %q", out.Stderr)
	}
	// The dangerous command must never leak to the host.
	if host.calls != 0 {
		t.Errorf("host ran %d times, want 0", host.calls)
	}
}

func TestExecute_CommandPassedThrough(t *testing.T) {
	host := &recordingRunner{outcome: &sandbox.Outcome{}}
	e := newTestExecutor(host, nil, false)

	e.Execute(context.Background(), "ls -la", safety.TierSafe, "/proj", time.Second)
	if host.lastCmd != "ls -la" {
		t.Errorf("command = %q", host.lastCmd)
	}
}

func TestDestination(t *testing.T) {
	e := newTestExecutor(&recordingRunner{}, &recordingRunner{}, false)
	if e.Destination(safety.TierSafe) != DestinationHost {
		t.Error("safe should route to host")
	}
	if e.Destination(safety.TierDangerous) != DestinationSandbox {
		t.Error("dangerous should route to sandbox")
	}
}
