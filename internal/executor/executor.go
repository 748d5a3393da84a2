// Package executor routes classified commands to the host or the container
// sandbox and normalizes the result.
package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/wanjiru/amri/internal/observability"
	"github.com/wanjiru/amri/internal/safety"
	"github.com/wanjiru/amri/internal/sandbox"
)

// Destination names where a command ran.
type Destination string

const (
	DestinationHost    Destination = "host"
	DestinationSandbox Destination = "sandbox"
)

// HostRunner executes a command directly on the host.
type HostRunner interface {
	Run(ctx context.Context, command, dir string, timeout time.Duration) *sandbox.Outcome
}

// SandboxRunner executes a command in an isolated container.
type SandboxRunner interface {
	Run(ctx context.Context, command, dir string, timeout time.Duration) *sandbox.Outcome
}

// Config tunes routing.
type Config struct {
	// RunModerateOnHost sends moderate-tier commands to the host instead of
	// the sandbox. Safe commands always run on the host; dangerous commands
	// always run sandboxed.
	RunModerateOnHost bool
	// DefaultTimeout bounds each command when the caller passes zero.
	DefaultTimeout time.Duration
}

// Executor dispatches commands by risk tier. Every execution produces an
// Outcome; infrastructure failures surface as diagnostic outcomes with a
// non-zero exit code, never as panics or errors.
type Executor struct {
	host    HostRunner
	sandbox SandboxRunner
	cfg     Config
	logger  *slog.Logger
	metrics *observability.MetricsCollector // optional
}

// New creates an executor. A nil sandbox runner means isolation is
// unavailable: commands that require it get a diagnostic outcome.
func New(host HostRunner, sbx SandboxRunner, cfg Config, logger *slog.Logger, metrics *observability.MetricsCollector) *Executor {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 5 * time.Minute
	}
	return &Executor{
		host:    host,
		sandbox: sbx,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
	}
}

// Destination returns where a command of the given tier will run.
func (e *Executor) Destination(tier safety.Tier) Destination {
	if tier.RequiresSandbox(e.cfg.RunModerateOnHost) {
		return DestinationSandbox
	}
	return DestinationHost
}

// Execute runs a classified command and returns its outcome. The tier alone
// decides the destination; callers that want confirmation for dangerous
// commands ask before calling.
func (e *Executor) Execute(ctx context.Context, command string, tier safety.Tier, dir string, timeout time.Duration) *sandbox.Outcome {
	if timeout <= 0 {
		timeout = e.cfg.DefaultTimeout
	}

	dest := e.Destination(tier)
	e.logger.Debug("routing command",
		slog.String("tier", tier.String()),
		slog.String("destination", string(dest)),
	)

	var out *sandbox.Outcome
	switch dest {
	case DestinationSandbox:
		if e.sandbox == nil {
			out = &sandbox.Outcome{
				ExitCode: sandbox.ExitFailure,
				Isolated: true,
				Stderr:   "sandbox unavailable: refusing to run a " + tier.String() + " command on the host",
			}
			break
		}
		out = e.sandbox.Run(ctx, command, dir, timeout)
	default:
		out = e.host.Run(ctx, command, dir, timeout)
	}

	e.record(dest, out)
	return out
}

func (e *Executor) record(dest Destination, out *sandbox.Outcome) {
	if e.metrics == nil {
		return
	}
	status := "ok"
	switch {
	case out.TimedOut:
		status = "timeout"
	case out.Failed():
		status = "error"
	}
	e.metrics.ExecutionsTotal.WithLabelValues(string(dest), status).Inc()
	e.metrics.ExecutionDuration.WithLabelValues(string(dest)).Observe(out.Duration.Seconds())
}
