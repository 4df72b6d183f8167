package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/weftlabs/weft/pkg/ai"
	"github.com/weftlabs/weft/pkg/schema"
	"github.com/weftlabs/weft/pkg/tool"
)

// executeStep resolves a step's tool, validates its parameters, and runs
// Execute up to retries+1 times. Validation failures are never retried;
// neither are budget errors or cancellation.
func (e *Engine) executeStep(ctx context.Context, rec *schema.Recipe, rc *tool.RunContext, step schema.Step, logger *slog.Logger) (*tool.Result, int, error) {
	t, err := e.Registry.Resolve(step.Tool)
	if err != nil {
		return nil, 0, err
	}
	if err := t.Validate(rc, step); err != nil {
		return nil, 0, fmt.Errorf("validate: %w", err)
	}

	timeout, err := stepTimeout(rec, step)
	if err != nil {
		return nil, 0, err
	}

	attempts := 0
	var lastErr error
	for attempt := 0; attempt <= step.Retries; attempt++ {
		if ctx.Err() != nil {
			return nil, attempts, ctx.Err()
		}
		attempts++

		attemptCtx := ctx
		cancel := context.CancelFunc(func() {})
		if timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		}
		res, execErr := t.Execute(attemptCtx, rc, step)
		cancel()

		if execErr == nil {
			return res, attempts, nil
		}
		lastErr = execErr

		if errors.Is(execErr, ai.ErrBudgetExceeded) || errors.Is(execErr, context.Canceled) {
			break
		}
		if attempt < step.Retries {
			logger.Warn("step attempt failed, retrying",
				"step", step.Name, "attempt", attempts, "error", execErr)
		}
	}
	return nil, attempts, lastErr
}

// stepTimeout resolves the effective timeout: the step's own setting wins
// over the recipe default; absent both means no timeout.
func stepTimeout(rec *schema.Recipe, step schema.Step) (time.Duration, error) {
	raw := step.Timeout
	if raw == "" && rec.Meta.Defaults != nil {
		raw = rec.Meta.Defaults.Timeout
	}
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("step %q: invalid timeout %q: %w", step.Name, raw, err)
	}
	return d, nil
}
