package vector

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// defaultReloadCommand signals the supervisor-managed Vector process to
// re-read its configuration.
var defaultReloadCommand = []string{"supervisorctl", "signal", "HUP", "vector"}

// ExecReloader reloads the shipper by running an external command.
type ExecReloader struct {
	command []string
	runner  CommandRunner
	logger  *slog.Logger
}

// NewExecReloader creates a reloader running command, or the default
// supervisor signal when command is empty.
func NewExecReloader(command []string, runner CommandRunner, logger *slog.Logger) *ExecReloader {
	if len(command) == 0 {
		command = defaultReloadCommand
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &ExecReloader{command: command, runner: runner, logger: logger}
}

// Reload implements Reloader.
func (r *ExecReloader) Reload(ctx context.Context) error {
	output, err := r.runner.Run(ctx, r.command[0], r.command[1:], nil)
	if err != nil {
		return fmt.Errorf("%s: %w (%s)",
			strings.Join(r.command, " "), err, strings.TrimSpace(string(output)))
	}
	r.logger.Debug("shipper reload signalled")
	return nil
}
