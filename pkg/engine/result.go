// Package engine schedules and executes recipe steps: dependency-ordered
// dispatch with bounded concurrency, per-step retry and timeout policy,
// conditional guards, and aggregation into a run result.
package engine

import (
	"time"

	"github.com/weftlabs/weft/pkg/output"
)

// StepStatus is the lifecycle state of one step within a run.
type StepStatus string

const (
	StatusPending   StepStatus = "pending"
	StatusRunning   StepStatus = "running"
	StatusSucceeded StepStatus = "succeeded"
	StatusFailed    StepStatus = "failed"
	StatusSkipped   StepStatus = "skipped"
	StatusCancelled StepStatus = "cancelled"
)

// RunStatus is the aggregate outcome of a recipe run.
type RunStatus string

const (
	// RunSucceeded: every step succeeded or was skipped by its guard.
	RunSucceeded RunStatus = "succeeded"
	// RunCompletedWithErrors: steps failed, but every failure was marked
	// continue_on_error so the rest of the recipe still ran.
	RunCompletedWithErrors RunStatus = "completed_with_errors"
	// RunFailed: a failure blocked downstream steps from running.
	RunFailed RunStatus = "failed"
	// RunCancelled: the run's context was cancelled mid-flight.
	RunCancelled RunStatus = "cancelled"
)

// StepResult records one step's outcome. Failed steps carry the error
// text; skipped steps carry the reason.
type StepResult struct {
	Name     string        `yaml:"name" json:"name"`
	Status   StepStatus    `yaml:"status" json:"status"`
	Attempts int           `yaml:"attempts,omitempty" json:"attempts,omitempty"`
	Error    string        `yaml:"error,omitempty" json:"error,omitempty"`
	Reason   string        `yaml:"reason,omitempty" json:"reason,omitempty"`
	Summary  string        `yaml:"summary,omitempty" json:"summary,omitempty"`
	Duration time.Duration `yaml:"duration,omitempty" json:"duration,omitempty"`

	// Files lists the paths of the file operations this step emitted, in
	// application order. Dry runs record them too.
	Files []string `yaml:"files,omitempty" json:"files,omitempty"`

	// blocked marks a skip caused by an upstream failure rather than by
	// the step's own guard. Guard skips satisfy dependents; blocked skips
	// propagate.
	blocked bool
}

// RecipeResult aggregates a whole run.
type RecipeResult struct {
	RunID    string            `yaml:"run_id" json:"run_id"`
	Recipe   string            `yaml:"recipe" json:"recipe"`
	Status   RunStatus         `yaml:"status" json:"status"`
	Started  time.Time         `yaml:"started" json:"started"`
	Finished time.Time         `yaml:"finished" json:"finished"`
	Steps    []StepResult      `yaml:"steps" json:"steps"`
	Captures map[string]string `yaml:"captures,omitempty" json:"captures,omitempty"`

	// Ops are the file operations applied during the run, in application
	// order. Retained for dry-run reporting.
	Ops []output.FileOp `yaml:"-" json:"-"`
}

// Failed returns the results of every failed step.
func (r *RecipeResult) Failed() []StepResult {
	var failed []StepResult
	for _, s := range r.Steps {
		if s.Status == StatusFailed {
			failed = append(failed, s)
		}
	}
	return failed
}

// Step returns the result for a named step, if present.
func (r *RecipeResult) Step(name string) (StepResult, bool) {
	for _, s := range r.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return StepResult{}, false
}
