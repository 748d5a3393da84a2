package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/wanjiru/amri/internal/observability"
)

// ErrRuntimeUnavailable is returned when a session is requested but no
// container engine is configured or reachable.
var ErrRuntimeUnavailable = errors.New("container runtime unavailable")

// SessionStatus tracks the lifecycle of the reusable sandbox session.
type SessionStatus int

const (
	StatusAbsent SessionStatus = iota
	StatusCreating
	StatusRunning
	StatusStopped
)

// Session is the reusable sandbox container. At most one exists per Manager;
// its mount is fixed at creation, so a different working directory means
// teardown and recreate.
type Session struct {
	ID     string // Container handle.
	Dir    string // Host directory mounted at the container workdir.
	Status SessionStatus
}

// Config configures the sandbox manager.
type Config struct {
	Image          string
	Limits         Limits
	NetworkAllowed bool
	// ReuseSession keeps one container alive across executions. When false,
	// every execution gets a one-shot container.
	ReuseSession bool
	// DefaultTimeout bounds each command when the caller passes zero.
	DefaultTimeout time.Duration
	// StopGraceSeconds is the graceful-stop budget before force removal.
	StopGraceSeconds int
	// ExecGrace pads API deadlines past the in-container timeout so the
	// timeout utility's exit 124 normally wins over the API cancel.
	ExecGrace time.Duration
}

// Manager owns the sandbox lifecycle: session creation and reuse, directory
// rebinding, command execution, and teardown.
//
// The session pointer swap is guarded by a mutex, but concurrent Execute
// calls against the same reused session are NOT serialized here; callers
// that overlap requests must serialize them.
type Manager struct {
	runtime Runtime // nil = no container engine, sandboxing unavailable.
	cfg     Config
	logger  *slog.Logger
	metrics *observability.MetricsCollector // optional

	mu      sync.Mutex
	session *Session
}

// NewManager creates a sandbox manager. A nil runtime is allowed: every
// sandboxed execution then reports a diagnostic outcome instead of running.
func NewManager(rt Runtime, cfg Config, logger *slog.Logger, metrics *observability.MetricsCollector) *Manager {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 5 * time.Minute
	}
	if cfg.StopGraceSeconds <= 0 {
		cfg.StopGraceSeconds = 2
	}
	if cfg.ExecGrace <= 0 {
		cfg.ExecGrace = 10 * time.Second
	}
	return &Manager{
		runtime: rt,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
	}
}

// Available reports whether the container engine is reachable.
func (m *Manager) Available(ctx context.Context) bool {
	if m.runtime == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return m.runtime.Ping(ctx) == nil
}

// Acquire returns the session to execute in. Nil (with nil error) means
// "use a one-shot container"; either reuse is disabled or the engine is
// not configured for sessions.
//
// Reuse rules: a running session mounted on the same directory is returned
// unchanged; anything else (no session, dead session, directory mismatch)
// tears down the old session and creates a fresh one bound to dir.
func (m *Manager) Acquire(ctx context.Context, dir string) (*Session, error) {
	if !m.cfg.ReuseSession {
		return nil, nil
	}
	if m.runtime == nil {
		return nil, ErrRuntimeUnavailable
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil {
		running, err := m.runtime.ContainerRunning(ctx, m.session.ID)
		switch {
		case err != nil:
			// Engine is confused about our container; start over.
			m.logger.Warn("session state check failed, recreating",
				slog.String("container", m.session.ID),
				slog.String("error", err.Error()),
			)
			m.teardownLocked()
		case running && m.session.Dir == dir:
			m.recordSession("reused")
			return m.session, nil
		default:
			// Stopped, or mounted on a different directory. The bind mount
			// is fixed at creation time, so rebinding means recreating.
			m.teardownLocked()
		}
	}

	return m.createLocked(ctx, dir)
}

// createLocked creates a fresh session bound to dir. Caller holds m.mu.
func (m *Manager) createLocked(ctx context.Context, dir string) (*Session, error) {
	if err := m.runtime.EnsureImage(ctx, m.cfg.Image); err != nil {
		return nil, err
	}

	m.session = &Session{Dir: dir, Status: StatusCreating}
	id, err := m.runtime.CreateContainer(ctx, ContainerSpec{
		Image: m.cfg.Image,
		// The session container just stays alive; commands arrive via exec.
		Cmd:            []string{"sleep", "infinity"},
		HostDir:        dir,
		Limits:         m.cfg.Limits,
		NetworkAllowed: m.cfg.NetworkAllowed,
	})
	if err != nil {
		m.session = nil
		return nil, fmt.Errorf("creating sandbox session: %w", err)
	}

	m.session.ID = id
	m.session.Status = StatusRunning
	m.recordSession("created")
	m.logger.Info("sandbox session created",
		slog.String("container", id),
		slog.String("dir", dir),
	)
	return m.session, nil
}

// teardownLocked stops and removes the current session, best-effort.
// Graceful stop first, then force removal; an already-gone container never
// raises. Caller holds m.mu.
func (m *Manager) teardownLocked() {
	if m.session == nil {
		return
	}
	s := m.session
	m.session = nil
	if s.ID == "" {
		return
	}

	// Teardown must finish even when the caller's context is already dead.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := m.runtime.StopContainer(ctx, s.ID, m.cfg.StopGraceSeconds); err != nil {
		m.logger.Warn("graceful session stop failed, forcing removal",
			slog.String("container", s.ID),
			slog.String("error", err.Error()),
		)
	}
	if err := m.runtime.RemoveContainer(ctx, s.ID); err != nil {
		m.logger.Warn("session removal failed",
			slog.String("container", s.ID),
			slog.String("error", err.Error()),
		)
	}
	s.Status = StatusStopped
	m.recordSession("teardown")
}

// Execute runs a command in the sandbox. A non-nil session uses the fast
// exec path on the existing container; nil creates a one-shot container
// that is removed on every exit path. The returned Outcome always has
// Isolated set and an exit code; runtime failures become diagnostics.
func (m *Manager) Execute(ctx context.Context, session *Session, command, dir string, timeout time.Duration) *Outcome {
	if m.runtime == nil {
		return &Outcome{
			ExitCode: ExitFailure,
			Isolated: true,
			Stderr:   "container runtime unavailable: sandboxed execution is disabled",
		}
	}
	if timeout <= 0 {
		timeout = m.cfg.DefaultTimeout
	}
	if session != nil {
		return m.executeInSession(ctx, session, command, timeout)
	}
	return m.executeOneShot(ctx, command, dir, timeout)
}

// wrapCommand builds the in-container command line. The timeout utility
// inside the container enforces the budget server-side (the Engine API has
// no exec timeout), and the API call itself carries a deadline as a second
// line of defense.
func wrapCommand(command string, timeout time.Duration) []string {
	secs := int(timeout.Seconds())
	if secs < 1 {
		secs = 1
	}
	return []string{"timeout", strconv.Itoa(secs), "sh", "-c", command}
}

func (m *Manager) executeInSession(ctx context.Context, session *Session, command string, timeout time.Duration) *Outcome {
	// Grace on top of the in-container timeout so the 124 from the timeout
	// utility normally wins over the API deadline.
	execCtx, cancel := context.WithTimeout(ctx, timeout+m.cfg.ExecGrace)
	defer cancel()

	start := time.Now()
	res, err := m.runtime.Exec(execCtx, session.ID, wrapCommand(command, timeout))
	duration := time.Since(start)

	if err != nil {
		if execCtx.Err() != nil {
			// The exec itself hung past the budget. The container may still
			// be running the command; tear it down to force a stop.
			m.logger.Warn("session exec timed out, tearing down session",
				slog.String("container", session.ID),
				slog.Duration("timeout", timeout),
			)
			m.mu.Lock()
			m.teardownLocked()
			m.mu.Unlock()
			return &Outcome{
				ExitCode: ExitTimeout,
				TimedOut: true,
				Isolated: true,
				Stderr:   "command timed out after " + timeout.String(),
				Duration: duration,
			}
		}

		// Session container died underneath us. Drop it and fall back to a
		// one-shot container rather than failing the command.
		m.logger.Warn("session exec failed, falling back to one-shot container",
			slog.String("container", session.ID),
			slog.String("error", err.Error()),
		)
		m.mu.Lock()
		m.teardownLocked()
		m.mu.Unlock()
		return m.executeOneShot(ctx, command, session.Dir, timeout)
	}

	return m.normalize(res, duration)
}

func (m *Manager) executeOneShot(ctx context.Context, command, dir string, timeout time.Duration) *Outcome {
	m.recordSession("oneshot")

	createCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := m.runtime.EnsureImage(createCtx, m.cfg.Image); err != nil {
		return &Outcome{ExitCode: ExitFailure, Isolated: true, Stderr: err.Error()}
	}

	start := time.Now()
	id, err := m.runtime.CreateContainer(createCtx, ContainerSpec{
		Image:          m.cfg.Image,
		Cmd:            wrapCommand(command, timeout),
		HostDir:        dir,
		Limits:         m.cfg.Limits,
		NetworkAllowed: m.cfg.NetworkAllowed,
	})
	if err != nil {
		return &Outcome{
			ExitCode: ExitFailure,
			Isolated: true,
			Stderr:   "creating one-shot sandbox: " + err.Error(),
		}
	}

	// The one-shot container is removed on every exit path; timeout and
	// crash included.
	defer m.forceRemove(id)

	waitCtx, cancelWait := context.WithTimeout(ctx, timeout+m.cfg.ExecGrace)
	defer cancelWait()

	exitCode, waitErr := m.runtime.WaitContainer(waitCtx, id)
	duration := time.Since(start)

	stdout, stderr, logErr := m.collectOutput(id)

	if waitErr != nil {
		if waitCtx.Err() != nil {
			return &Outcome{
				ExitCode: ExitTimeout,
				TimedOut: true,
				Isolated: true,
				Stdout:   stdout,
				Stderr:   "command timed out after " + timeout.String(),
				Duration: duration,
			}
		}
		return &Outcome{
			ExitCode: ExitFailure,
			Isolated: true,
			Stdout:   stdout,
			Stderr:   "sandbox execution failed: " + waitErr.Error(),
			Duration: duration,
		}
	}
	if logErr != nil {
		m.logger.Warn("collecting one-shot output failed", slog.String("error", logErr.Error()))
	}

	return m.normalize(&ExecResult{ExitCode: exitCode, Stdout: stdout, Stderr: stderr}, duration)
}

// collectOutput fetches container output with its own short deadline so a
// finished-but-chatty container can't stall the result.
func (m *Manager) collectOutput(id string) (string, string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return m.runtime.ContainerOutput(ctx, id)
}

// forceRemove is the cleanup safety net for one-shot containers.
func (m *Manager) forceRemove(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.runtime.RemoveContainer(ctx, id); err != nil {
		m.logger.Warn("one-shot container removal failed",
			slog.String("container", id),
			slog.String("error", err.Error()),
		)
	}
}

// normalize maps a raw engine result onto the outcome contract: 124 flags a
// timeout, 127 passes through as missing-binary, and exit codes the engine
// reports outside the valid range collapse to the generic failure code.
func (m *Manager) normalize(res *ExecResult, duration time.Duration) *Outcome {
	out := &Outcome{
		ExitCode: res.ExitCode,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		Isolated: true,
		Duration: duration,
	}
	switch {
	case res.ExitCode == ExitTimeout:
		out.TimedOut = true
	case res.ExitCode < 0 || res.ExitCode > 255:
		out.ExitCode = ExitFailure
	}
	return out
}

// Run acquires a session for dir (or decides on a one-shot container) and
// executes the command in it. This is the composed entry point callers use;
// Acquire and Execute stay exported for finer control.
func (m *Manager) Run(ctx context.Context, command, dir string, timeout time.Duration) *Outcome {
	session, err := m.Acquire(ctx, dir)
	if err != nil && !errors.Is(err, ErrRuntimeUnavailable) {
		// Session creation failed with a live engine. One-shot still works.
		m.logger.Warn("session acquisition failed, using one-shot container",
			slog.String("error", err.Error()),
		)
	}
	return m.Execute(ctx, session, command, dir, timeout)
}

// Shutdown stops and removes the owned session. Idempotent, safe with no
// session, and never raises on an already-gone container.
func (m *Manager) Shutdown(_ context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownLocked()
}

func (m *Manager) recordSession(event string) {
	if m.metrics != nil {
		m.metrics.SandboxSessionsTotal.WithLabelValues(event).Inc()
	}
}
