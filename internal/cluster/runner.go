package cluster

import (
	"context"
	"os/exec"
)

// Runner executes an external command and returns its combined output.
// The seam exists so tests can script kubectl and kind without a cluster.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands on the host, optionally inside a working
// directory.
type ExecRunner struct {
	Dir string
}

func (r ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = r.Dir
	return cmd.CombinedOutput()
}
