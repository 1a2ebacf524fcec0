package toolrunner

import (
	"errors"
	"os/exec"
)

// exitCode extracts a process exit code from err, if err wraps an
// *exec.ExitError. Used to recognize "informational exit" commands
// (grep-like tools where exit code 1 means "ran fine, found nothing").
func exitCode(err error) (int, bool) {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), true
	}
	return 0, false
}
