package sandbox

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"syscall"
	"time"
)

// maxOutputBytes caps stdout/stderr to prevent OOM from chatty commands.
const maxOutputBytes = 1 << 20 // 1 MB

// defaultHostTimeout bounds host execution when the caller passes zero.
const defaultHostTimeout = 30 * time.Second

// HostExecutor runs commands directly on the host. Only commands the
// classifier tiers as Safe (or Moderate with the host opt-in) reach this
// path; everything else goes through the container sandbox.
type HostExecutor struct {
	defaultTimeout time.Duration
	logger         *slog.Logger
}

// NewHostExecutor creates a host executor with the given default timeout.
func NewHostExecutor(defaultTimeout time.Duration, logger *slog.Logger) *HostExecutor {
	if defaultTimeout <= 0 {
		defaultTimeout = defaultHostTimeout
	}
	return &HostExecutor{defaultTimeout: defaultTimeout, logger: logger}
}

// Run executes a shell command on the host with a timeout and returns a
// normalized Outcome. Execution failures are data, not errors: timeouts map
// to exit 124, a missing shell/binary to 127, anything unclassifiable to 1.
func (h *HostExecutor) Run(ctx context.Context, command, dir string, timeout time.Duration) *Outcome {
	if timeout <= 0 {
		timeout = h.defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	cmd.Dir = dir

	// The child runs in its own process group so the whole group can be
	// killed on timeout, including anything the command spawned.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdoutBuf, remaining: maxOutputBytes}
	cmd.Stderr = &limitedWriter{w: &stderrBuf, remaining: maxOutputBytes}

	h.logger.Debug("host executing",
		slog.String("command", command),
		slog.String("dir", dir),
		slog.Duration("timeout", timeout),
	)

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	outcome := &Outcome{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		Duration: duration,
	}

	switch {
	case runErr == nil:
		// Exit 0.

	case ctx.Err() != nil:
		h.logger.Warn("host execution timed out",
			slog.String("command", command),
			slog.Duration("timeout", timeout),
		)
		outcome.ExitCode = ExitTimeout
		outcome.TimedOut = true
		outcome.Stderr = "command timed out after " + timeout.String()

	default:
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			// Non-zero exit is a result, not an error.
			outcome.ExitCode = exitErr.ExitCode()
		} else if errors.Is(runErr, exec.ErrNotFound) {
			outcome.ExitCode = ExitNotFound
			outcome.Stderr = "command not found: " + command
		} else {
			outcome.ExitCode = ExitFailure
			outcome.Stderr = "error executing command: " + runErr.Error()
		}
	}

	h.logger.Debug("host execution completed",
		slog.Int("exit_code", outcome.ExitCode),
		slog.Duration("duration", duration),
	)
	return outcome
}

// limitedWriter wraps a writer and stops writing after a byte limit.
// Excess data is silently discarded; capped, not an error.
type limitedWriter struct {
	w         io.Writer
	remaining int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	if lw.remaining <= 0 {
		return len(p), nil
	}
	if len(p) > lw.remaining {
		n, err := lw.w.Write(p[:lw.remaining])
		lw.remaining -= n
		if err != nil {
			return n, err
		}
		return len(p), nil
	}
	n, err := lw.w.Write(p)
	lw.remaining -= n
	return n, err
}
