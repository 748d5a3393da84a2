package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/wanjiru/amri/internal/executor"
	"github.com/wanjiru/amri/internal/llm"
	"github.com/wanjiru/amri/internal/safety"
	"github.com/wanjiru/amri/internal/sandbox"
)

type fakeProvider struct {
	gen   *llm.Generation
	err   error
	calls int
}

func (f *fakeProvider) GenerateCommand(context.Context, *llm.Request) (*llm.Generation, error) {
	f.calls++
	return f.gen, f.err
}

func (f *fakeProvider) Explain(context.Context, string, string) (string, error) {
	return "does a thing", nil
}

func (f *fakeProvider) Available(context.Context) error { return nil }
func (f *fakeProvider) Name() string                    { return "fake" }

type fakeRunner struct {
	calls   int
	lastCmd string
	outcome *sandbox.Outcome
}

func (f *fakeRunner) Run(_ context.Context, command, _ string, _ time.Duration) *sandbox.Outcome {
	f.calls++
	f.lastCmd = command
	return f.outcome
}

type env struct {
	provider *fakeProvider
	host     *fakeRunner
	sbx      *fakeRunner
	asst     *Assistant
}

func newEnv(t *testing.T, gen *llm.Generation) *env {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	analyzer, err := safety.NewAnalyzer(safety.Rules{})
	if err != nil {
		t.Fatalf("NewAnalyzer: %v", err)
	}

	host := &fakeRunner{outcome: &sandbox.Outcome{Stdout: "host\n"}}
	sbx := &fakeRunner{outcome: &sandbox.Outcome{Stdout: "sandboxed\n", Isolated: true}}
	exec := executor.New(host, sbx, executor.Config{}, logger, nil)

	provider := &fakeProvider{gen: gen}
	asst := NewAssistant(provider, analyzer, exec, t.TempDir(), logger)
	return &env{provider: provider, host: host, sbx: sbx, asst: asst}
}

func TestHandle_SafeCommandRunsOnHost(t *testing.T) {
	e := newEnv(t, &llm.Generation{Command: "ls -la"})

	res, err := e.asst.Handle(context.Background(), "list files")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res.Command != "ls -la" || res.Tier != safety.TierSafe {
		t.Errorf("result = %+v", res)
	}
	if !res.Executed() || res.Outcome.Stdout != "host\n" {
		t.Errorf("outcome = %+v", res.Outcome)
	}
	if e.host.calls != 1 || e.sbx.calls != 0 {
		t.Errorf("host=%d sandbox=%d", e.host.calls, e.sbx.calls)
	}
}

func TestHandle_QuestionSkipsExecution(t *testing.T) {
	e := newEnv(t, &llm.Generation{Answer: "A pipe connects processes."})

	res, err := e.asst.Handle(context.Background(), "what is a pipe?")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res.Answer == "" || res.Executed() {
		t.Errorf("result = %+v", res)
	}
	if e.host.calls != 0 || e.sbx.calls != 0 {
		t.Error("questions must not execute anything")
	}
}

func TestHandle_DangerousDeclined(t *testing.T) {
	e := newEnv(t, &llm.Generation{Command: "rm -rf build"})
	e.asst.WithConfirmer(ConfirmFunc(func(string) (bool, error) { return false, nil }))

	res, err := e.asst.Handle(context.Background(), "delete the build dir")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !res.Cancelled || res.Executed() {
		t.Errorf("result = %+v, want cancelled without execution", res)
	}
	if e.host.calls != 0 || e.sbx.calls != 0 {
		t.Error("declined command must not run anywhere")
	}
}

func TestHandle_DangerousApprovedRunsSandboxed(t *testing.T) {
	e := newEnv(t, &llm.Generation{Command: "rm -rf build"})
	var prompted string
	e.asst.WithConfirmer(ConfirmFunc(func(cmd string) (bool, error) {
		prompted = cmd
		return true, nil
	}))

	res, err := e.asst.Handle(context.Background(), "delete the build dir")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if prompted != "rm -rf build" {
		t.Errorf("prompted = %q", prompted)
	}
	if res.Tier != safety.TierDangerous {
		t.Errorf("tier = %v", res.Tier)
	}
	if e.sbx.calls != 1 || e.host.calls != 0 {
		t.Errorf("host=%d sandbox=%d, want sandbox only", e.host.calls, e.sbx.calls)
	}
	if !res.Outcome.Isolated {
		t.Error("outcome should be isolated")
	}
}

func TestHandle_CacheSkipsProvider(t *testing.T) {
	e := newEnv(t, &llm.Generation{Command: "ls"})
	e.asst.WithCache(llm.NewCache(10, nil))
	ctx := context.Background()

	if _, err := e.asst.Handle(ctx, "list files"); err != nil {
		t.Fatalf("first Handle: %v", err)
	}
	res, err := e.asst.Handle(ctx, "list files")
	if err != nil {
		t.Fatalf("second Handle: %v", err)
	}
	if e.provider.calls != 1 {
		t.Errorf("provider calls = %d, want 1", e.provider.calls)
	}
	if !res.Cached {
		t.Error("second result should be cached")
	}
}

func TestHandle_EmptyInput(t *testing.T) {
	e := newEnv(t, &llm.Generation{Command: "ls"})
	if _, err := e.asst.Handle(context.Background(), "   "); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("err = %v, want ErrEmptyInput", err)
	}
}

func TestHandle_ProviderError(t *testing.T) {
	e := newEnv(t, nil)
	e.provider.err = errors.New("model offline")
	if _, err := e.asst.Handle(context.Background(), "list files"); err == nil {
		t.Fatal("expected error")
	}
}

func TestRunCommand_BypassesGeneration(t *testing.T) {
	e := newEnv(t, &llm.Generation{Command: "should-not-be-used"})

	res, err := e.asst.RunCommand(context.Background(), "pwd")
	if err != nil {
		t.Fatalf("RunCommand: %v", err)
	}
	if res.Command != "pwd" {
		t.Errorf("command = %q", res.Command)
	}
	if e.provider.calls != 0 {
		t.Errorf("provider calls = %d, want 0", e.provider.calls)
	}
}

func TestRepeatLast(t *testing.T) {
	e := newEnv(t, &llm.Generation{Command: "ls"})
	ctx := context.Background()

	if _, err := e.asst.RepeatLast(ctx); !errors.Is(err, ErrNothingToRepeat) {
		t.Errorf("err = %v, want ErrNothingToRepeat", err)
	}

	if _, err := e.asst.Handle(ctx, "list files"); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	res, err := e.asst.RepeatLast(ctx)
	if err != nil {
		t.Fatalf("RepeatLast: %v", err)
	}
	if res.Command != "ls" {
		t.Errorf("command = %q", res.Command)
	}
	if e.host.calls != 2 {
		t.Errorf("host calls = %d, want 2", e.host.calls)
	}
	// No second generation.
	if e.provider.calls != 1 {
		t.Errorf("provider calls = %d, want 1", e.provider.calls)
	}
}

func TestChangeDirectory(t *testing.T) {
	e := newEnv(t, &llm.Generation{Command: "ls"})

	dir := t.TempDir()
	if err := e.asst.ChangeDirectory(dir); err != nil {
		t.Fatalf("ChangeDirectory: %v", err)
	}
	if e.asst.WorkDir() != dir {
		t.Errorf("workdir = %q", e.asst.WorkDir())
	}

	if err := e.asst.ChangeDirectory("/definitely/not/a/dir"); err == nil {
		t.Error("expected error for missing directory")
	}
}
