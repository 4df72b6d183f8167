package tool

import (
	"context"
	"fmt"
	"strings"

	"github.com/weftlabs/weft/pkg/schema"
)

// ActionTool runs an external command through the run's command executor,
// subject to the recipe's governance policy. Stdout and stderr can be
// captured into run variables.
type ActionTool struct{}

func (t *ActionTool) Kind() string { return "action" }

func (t *ActionTool) Validate(rc *RunContext, step schema.Step) error {
	cfg := step.Action
	if cfg == nil {
		return fmt.Errorf("step %q: missing action config", step.Name)
	}
	if len(cfg.Argv) == 0 {
		return fmt.Errorf("step %q: action needs argv", step.Name)
	}
	for target, source := range cfg.Capture {
		if source != "stdout" && source != "stderr" {
			return fmt.Errorf("step %q: capture %q: unknown source %q (want stdout or stderr)", step.Name, target, source)
		}
	}
	return nil
}

func (t *ActionTool) Execute(ctx context.Context, rc *RunContext, step schema.Step) (*Result, error) {
	cfg := step.Action

	argv, err := rc.resolveArgv(cfg.Argv)
	if err != nil {
		return nil, fmt.Errorf("step %q: resolve argv: %w", step.Name, err)
	}
	if err := checkGovernance(rc.Governance, argv[0]); err != nil {
		return nil, fmt.Errorf("step %q: %w", step.Name, err)
	}

	env, err := rc.resolveMap(cfg.Env)
	if err != nil {
		return nil, fmt.Errorf("step %q: resolve env: %w", step.Name, err)
	}

	if rc.Executor == nil {
		return nil, fmt.Errorf("step %q: no command executor configured", step.Name)
	}

	res, err := rc.Executor.Run(ctx, argv, env, rc.Root)
	if err != nil {
		if res != nil && res.Stderr != "" {
			return nil, fmt.Errorf("step %q: %w\nstderr: %s", step.Name, err, strings.TrimSpace(res.Stderr))
		}
		return nil, fmt.Errorf("step %q: %w", step.Name, err)
	}

	captures := make(map[string]string, len(cfg.Capture))
	for target, source := range cfg.Capture {
		switch source {
		case "stdout":
			captures[target] = strings.TrimSpace(res.Stdout)
		case "stderr":
			captures[target] = strings.TrimSpace(res.Stderr)
		}
	}

	return &Result{
		Captures: captures,
		Summary:  fmt.Sprintf("ran %s (exit 0)", argv[0]),
	}, nil
}

// checkGovernance enforces the recipe's command policy: denied commands
// always lose, and a non-empty allowlist admits only its members.
func checkGovernance(policy *schema.GovernancePolicy, command string) error {
	if policy == nil {
		return nil
	}
	for _, denied := range policy.DeniedCommands {
		if command == denied {
			return fmt.Errorf("command %q is denied by governance policy", command)
		}
	}
	if len(policy.AllowedCommands) > 0 {
		for _, allowed := range policy.AllowedCommands {
			if command == allowed {
				return nil
			}
		}
		return fmt.Errorf("command %q is not in the governance allowlist", command)
	}
	return nil
}
