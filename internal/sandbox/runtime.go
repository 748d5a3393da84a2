package sandbox

import "context"

// Limits constrains a sandbox container.
type Limits struct {
	MemoryBytes int64   // Hard memory ceiling. Swap is pinned to the same value.
	CPUCores    float64 // CPU share (e.g. 0.5 = half a core).
	PIDs        int64   // Max processes (fork bomb protection).
}

// ContainerSpec describes a container to create.
type ContainerSpec struct {
	Image string
	// Cmd is the container command. The session container runs a sleep
	// holder; one-shot containers run the wrapped user command directly.
	Cmd []string
	// HostDir, when non-empty, is bind-mounted read-write at the container
	// working directory. The mount is fixed at creation time.
	HostDir string
	Limits  Limits
	// NetworkAllowed enables the bridge network. Default is no network at all.
	NetworkAllowed bool
}

// ExecResult is the raw result the container engine reports for a command.
// The manager validates it and maps it onto a normalized Outcome.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Runtime abstracts the container engine. The Docker implementation talks to
// the daemon over the Engine API; tests substitute a fake to drive the
// manager through every lifecycle transition without a real engine.
//
// All methods block on external I/O and must be called with a bounded
// context so a hung engine cannot hang the process.
type Runtime interface {
	// Ping probes whether the engine is reachable.
	Ping(ctx context.Context) error

	// EnsureImage verifies the sandbox image is present locally.
	EnsureImage(ctx context.Context, image string) error

	// CreateContainer creates and starts a container, returning its ID.
	CreateContainer(ctx context.Context, spec ContainerSpec) (string, error)

	// ContainerRunning reports whether the container exists and is running.
	ContainerRunning(ctx context.Context, id string) (bool, error)

	// Exec runs a command inside a running container and returns its result.
	Exec(ctx context.Context, id string, command []string) (*ExecResult, error)

	// WaitContainer blocks until the container stops and returns its exit code.
	WaitContainer(ctx context.Context, id string) (int, error)

	// ContainerOutput returns the accumulated stdout and stderr of a container.
	ContainerOutput(ctx context.Context, id string) (stdout, stderr string, err error)

	// StopContainer stops a container gracefully within the given grace period.
	StopContainer(ctx context.Context, id string, graceSeconds int) error

	// RemoveContainer force-removes a container. Removing an already-absent
	// container is not an error.
	RemoveContainer(ctx context.Context, id string) error
}
