package toolrunner

import (
	"context"
	"errors"
	"os/exec"
	"strings"

	"github.com/first-fluke/cratos-sub006/pkg/models"
)

// BackendKind names an execution vessel. Preference order for medium/high
// risk tools is VM > Process > None (in-process), per §4.5.
type BackendKind string

const (
	BackendVM      BackendKind = "vm"
	BackendProcess BackendKind = "process"
	BackendNone    BackendKind = "none"
)

// ResourceLimits is applied by whichever backend actually runs the tool.
// A backend that cannot enforce a given limit (e.g. the in-process
// backend enforcing none of them) documents that in its own doc comment
// rather than silently ignoring the caller's intent.
type ResourceLimits struct {
	MemoryMB      int
	CPUShare      float64 // fraction of one core, e.g. 0.5
	PIDCap        int
	ReadOnlyFS    bool
	NoSwap        bool
	Mounts        []string
	NetworkMode   string // "none" (default), "restricted", "full"
	WallClockNote string // diagnostic only; the actual timeout is enforced by the caller's context
}

// DefaultResourceLimits matches §4.5's "default no network" and
// conservative resource posture.
func DefaultResourceLimits() ResourceLimits {
	return ResourceLimits{
		MemoryMB:    512,
		CPUShare:    1.0,
		PIDCap:      64,
		ReadOnlyFS:  true,
		NoSwap:      true,
		NetworkMode: "none",
	}
}

// Backend runs one tool invocation under some isolation vessel.
type Backend interface {
	Kind() BackendKind
	// Run executes command with args under the given limits, returning
	// combined notion of stdout as output. The backend must guarantee the
	// underlying process/container is torn down when ctx is cancelled.
	Run(ctx context.Context, command string, args []string, stdin string, limits ResourceLimits) (output string, err error)
}

// ErrUnavailable is returned by a Backend constructor when its vessel
// (e.g. a VM hypervisor binary) isn't present on this host.
var ErrUnavailable = errors.New("toolrunner: sandbox backend unavailable")

// NoneBackend runs the command directly in-process-adjacent (as a plain
// child process with no isolation beyond the OS default). Used for
// low-risk tools, or as the final fallback when no isolation backend is
// available.
type NoneBackend struct{}

func (NoneBackend) Kind() BackendKind { return BackendNone }

func (NoneBackend) Run(ctx context.Context, command string, args []string, stdin string, _ ResourceLimits) (string, error) {
	cmd := exec.CommandContext(ctx, command, args...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// ProcessBackend runs the command as a child process with OS-level
// resource limits applied via the platform's process attributes. This
// module applies only the limits the standard library's os/exec exposes
// portably (working directory confinement, environment scrubbing); PID
// caps, memory caps, and filesystem read-only enforcement require
// platform-specific cgroup/rlimit wiring that belongs in a deployment's
// container runtime, not in this in-process fallback.
type ProcessBackend struct {
	// WorkDir confines the child process's working directory.
	WorkDir string
}

func (ProcessBackend) Kind() BackendKind { return BackendProcess }

func (b ProcessBackend) Run(ctx context.Context, command string, args []string, stdin string, limits ResourceLimits) (string, error) {
	cmd := exec.CommandContext(ctx, command, args...)
	if b.WorkDir != "" {
		cmd.Dir = b.WorkDir
	}
	if limits.NetworkMode == "none" {
		cmd.Env = []string{"PATH=/usr/bin:/bin"}
	}
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// VMBackend is a placeholder for a hypervisor-isolated backend (e.g.
// Firecracker microVMs). Selection falls through to it only when
// NewVMBackend reports availability; this module does not ship a VM
// implementation, so SelectBackend never picks it unless the caller
// supplies one explicitly via PreferredBackends.
type VMBackend struct {
	Run_ func(ctx context.Context, command string, args []string, stdin string, limits ResourceLimits) (string, error)
}

func (VMBackend) Kind() BackendKind { return BackendVM }

func (b VMBackend) Run(ctx context.Context, command string, args []string, stdin string, limits ResourceLimits) (string, error) {
	if b.Run_ == nil {
		return "", ErrUnavailable
	}
	return b.Run_(ctx, command, args, stdin, limits)
}

// SelectBackend picks the highest-preference available backend for a
// tool's risk level: low risk always runs in-process (None); medium/high
// risk prefers VM, then Process, then None, skipping any backend absent
// from available. A disabled sandbox policy (sandboxDisabled=true) always
// returns NoneBackend regardless of risk.
func SelectBackend(risk models.RiskLevel, sandboxDisabled bool, available []Backend) Backend {
	if sandboxDisabled || risk == models.RiskLow {
		return NoneBackend{}
	}
	preference := []BackendKind{BackendVM, BackendProcess, BackendNone}
	byKind := make(map[BackendKind]Backend, len(available))
	for _, b := range available {
		byKind[b.Kind()] = b
	}
	for _, kind := range preference {
		if b, ok := byKind[kind]; ok {
			return b
		}
	}
	return NoneBackend{}
}
