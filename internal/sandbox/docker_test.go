package sandbox

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"
)

// testImage is the Docker image used for integration tests. Any image with
// a POSIX shell and the timeout utility works.
const testImage = "alpine:3.20"

// skipIfNoDocker skips the test if Docker is unavailable.
func skipIfNoDocker(t *testing.T) {
	t.Helper()
	if err := exec.Command("docker", "info").Run(); err != nil {
		t.Skip("docker not available, skipping integration test")
	}
}

// skipIfNoImage skips the test if the image isn't pulled locally.
func skipIfNoImage(t *testing.T) {
	t.Helper()
	out, err := exec.Command("docker", "images", "-q", testImage).Output()
	if err != nil || strings.TrimSpace(string(out)) == "" {
		t.Skipf("docker image %s not found, skipping (pull with: docker pull %s)", testImage, testImage)
	}
}

func newIntegrationManager(t *testing.T, reuse bool) *Manager {
	t.Helper()
	skipIfNoDocker(t)
	skipIfNoImage(t)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	rt, err := NewDockerRuntime(logger)
	if err != nil {
		t.Fatalf("NewDockerRuntime: %v", err)
	}
	t.Cleanup(func() { rt.Close() })

	m := NewManager(rt, Config{
		Image: testImage,
		Limits: Limits{
			MemoryBytes: 64 * 1024 * 1024,
			CPUCores:    0.5,
			PIDs:        32,
		},
		ReuseSession:   reuse,
		DefaultTimeout: 30 * time.Second,
	}, logger, nil)
	t.Cleanup(func() { m.Shutdown(context.Background()) })
	return m
}

func TestDockerIntegration_OneShot(t *testing.T) {
	m := newIntegrationManager(t, false)

	out := m.Execute(context.Background(), nil, "echo hello", t.TempDir(), 30*time.Second)
	if out.ExitCode != 0 {
		t.Fatalf("exit code = %d, stderr: %s", out.ExitCode, out.Stderr)
	}
	if !strings.Contains(out.Stdout, "hello") {
		t.Errorf("stdout = %q", out.Stdout)
	}
	if !out.Isolated {
		t.Error("outcome should be isolated")
	}
}

func TestDockerIntegration_SessionReuseAndMount(t *testing.T) {
	m := newIntegrationManager(t, true)
	ctx := context.Background()
	dir := t.TempDir()

	if err := os.WriteFile(dir+"/marker.txt", []byte("ok"), 0o644); err != nil {
		t.Fatal(err)
	}

	s1, err := m.Acquire(ctx, dir)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	out := m.Execute(ctx, s1, "cat marker.txt", dir, 30*time.Second)
	if out.ExitCode != 0 || !strings.Contains(out.Stdout, "ok") {
		t.Fatalf("outcome = %+v", out)
	}

	s2, err := m.Acquire(ctx, dir)
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	if s1.ID != s2.ID {
		t.Error("expected session reuse for the same directory")
	}
}

func TestDockerIntegration_ExitCodes(t *testing.T) {
	m := newIntegrationManager(t, true)
	ctx := context.Background()
	dir := t.TempDir()

	s, err := m.Acquire(ctx, dir)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	if out := m.Execute(ctx, s, "exit 7", dir, 30*time.Second); out.ExitCode != 7 {
		t.Errorf("exit code = %d, want 7", out.ExitCode)
	}
	if out := m.Execute(ctx, s, "definitely-not-a-binary", dir, 30*time.Second); out.ExitCode != ExitNotFound {
		t.Errorf("exit code = %d, want %d", out.ExitCode, ExitNotFound)
	}
}

func TestDockerIntegration_Timeout(t *testing.T) {
	m := newIntegrationManager(t, true)
	ctx := context.Background()
	dir := t.TempDir()

	s, err := m.Acquire(ctx, dir)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	out := m.Execute(ctx, s, "sleep 30", dir, time.Second)
	if out.ExitCode != ExitTimeout || !out.TimedOut {
		t.Errorf("outcome = %+v, want exit 124 with TimedOut", out)
	}
}
