package vector

import (
	"context"
	"os"
	"os/exec"
)

// CommandRunner executes an external command and returns its combined
// output. The production implementation shells out; tests inject fakes.
type CommandRunner interface {
	Run(ctx context.Context, name string, args []string, extraEnv []string) ([]byte, error)
}

// ExecRunner runs commands via os/exec with the process environment plus
// any extra variables.
type ExecRunner struct{}

// Run implements CommandRunner.
func (ExecRunner) Run(ctx context.Context, name string, args []string, extraEnv []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), extraEnv...)
	return cmd.CombinedOutput()
}
