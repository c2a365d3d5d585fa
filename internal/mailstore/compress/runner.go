package compress

import (
	"context"
	"os/exec"
)

// DefaultRunShell is the engine's default RunShell collaborator: running
// hook commands through /bin/sh is explicitly a host concern (spec §1),
// but a concrete os/exec-based implementation lets the engine run
// end-to-end without a host-supplied shell runner.
func DefaultRunShell(ctx context.Context, cmd string) (int, error) {
	c := exec.CommandContext(ctx, "/bin/sh", "-c", cmd)
	err := c.Run()
	if err == nil {
		return 0, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}
