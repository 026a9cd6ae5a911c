package installer

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
)

// Runner executes external commands. The single production implementation
// shells out; tests substitute a fake to drive installer outcomes without
// touching the machine.
type Runner interface {
	// Run executes command with arguments and returns combined captured
	// output and the process exit code. A non-zero exit is not an error at
	// this layer; err is reserved for failures to start or context
	// cancellation.
	Run(ctx context.Context, command string, args ...string) (output string, exitCode int, err error)
}

// ExecRunner runs commands through os/exec.
type ExecRunner struct{}

// NewExecRunner returns the default subprocess runner.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run implements Runner. Stdout and stderr are captured into one buffer in
// arrival order so installer logs interleave the way the console would.
func (r *ExecRunner) Run(ctx context.Context, command string, args ...string) (string, int, error) {
	cmd := exec.CommandContext(ctx, command, args...)

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	output := buf.String()

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return output, exitErr.ExitCode(), nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return output, -1, ctxErr
		}
		return output, -1, err
	}
	return output, 0, nil
}
