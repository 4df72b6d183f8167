package tool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// CommandResult carries the observable outcome of one command invocation.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// CommandExecutor runs external commands for action steps. Tests substitute
// a fake; production uses ExecExecutor.
type CommandExecutor interface {
	Run(ctx context.Context, argv []string, env map[string]string, dir string) (*CommandResult, error)
}

// ExecExecutor runs commands with os/exec, inheriting the process
// environment plus step-level overrides.
type ExecExecutor struct{}

func (e *ExecExecutor) Run(ctx context.Context, argv []string, env map[string]string, dir string) (*CommandResult, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty argv")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := &CommandResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, fmt.Errorf("command %q exited with code %d", argv[0], res.ExitCode)
		}
		return res, fmt.Errorf("run %q: %w", argv[0], err)
	}
	return res, nil
}
