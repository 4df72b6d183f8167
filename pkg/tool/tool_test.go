package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/weftlabs/weft/pkg/schema"
)

// fakeExecutor records invocations and serves scripted results.
type fakeExecutor struct {
	calls   [][]string
	stdout  string
	stderr  string
	failErr error
}

func (f *fakeExecutor) Run(ctx context.Context, argv []string, env map[string]string, dir string) (*CommandResult, error) {
	f.calls = append(f.calls, argv)
	if f.failErr != nil {
		return &CommandResult{Stderr: f.stderr, ExitCode: 1}, f.failErr
	}
	return &CommandResult{Stdout: f.stdout, Stderr: f.stderr}, nil
}

func testRunContext() *RunContext {
	return &RunContext{
		Vars: map[string]string{"service": "billing"},
	}
}

func TestRegistryResolveUnknownKind(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r)
	_, err := r.Resolve("quantum")
	if err == nil {
		t.Fatal("unknown kind must error")
	}
	if !strings.Contains(err.Error(), "quantum") {
		t.Errorf("error must name the kind, got %v", err)
	}
	if !errors.Is(err, ErrToolNotFound) {
		t.Errorf("error must wrap ErrToolNotFound, got %v", err)
	}
}

func TestRegistryLastRegistrationWins(t *testing.T) {
	r := NewRegistry()
	first := &ActionTool{}
	if replaced := r.Register(first); replaced {
		t.Error("first registration reported replacement")
	}
	if replaced := r.Register(&ActionTool{}); !replaced {
		t.Error("second registration must report replacement")
	}
}

func TestResolveVars(t *testing.T) {
	rc := testRunContext()
	got, err := rc.ResolveVars("internal/{{.service}}/handler.go")
	if err != nil {
		t.Fatal(err)
	}
	if got != "internal/billing/handler.go" {
		t.Errorf("got %q", got)
	}

	if _, err := rc.ResolveVars("{{.unknown}}"); err == nil {
		t.Error("unknown variable must fail")
	}

	plain, err := rc.ResolveVars("no markers here")
	if err != nil || plain != "no markers here" {
		t.Errorf("plain strings must pass through: %q, %v", plain, err)
	}
}

func TestActionToolCapturesStdout(t *testing.T) {
	exec := &fakeExecutor{stdout: "v1.2.3\n"}
	rc := testRunContext()
	rc.Executor = exec

	step := schema.Step{
		Name: "get-version",
		Tool: "action",
		Action: &schema.ActionConfig{
			Argv:    []string{"git", "describe", "--tags"},
			Capture: map[string]string{"version": "stdout"},
		},
	}

	tool := &ActionTool{}
	if err := tool.Validate(rc, step); err != nil {
		t.Fatal(err)
	}
	res, err := tool.Execute(context.Background(), rc, step)
	if err != nil {
		t.Fatal(err)
	}
	if res.Captures["version"] != "v1.2.3" {
		t.Errorf("capture = %q", res.Captures["version"])
	}
	if len(exec.calls) != 1 || exec.calls[0][0] != "git" {
		t.Errorf("executor calls = %v", exec.calls)
	}
}

func TestActionToolResolvesArgvVars(t *testing.T) {
	exec := &fakeExecutor{}
	rc := testRunContext()
	rc.Executor = exec

	step := schema.Step{
		Name:   "fmt",
		Tool:   "action",
		Action: &schema.ActionConfig{Argv: []string{"gofmt", "-w", "internal/{{.service}}"}},
	}
	if _, err := (&ActionTool{}).Execute(context.Background(), rc, step); err != nil {
		t.Fatal(err)
	}
	if exec.calls[0][2] != "internal/billing" {
		t.Errorf("argv not resolved: %v", exec.calls[0])
	}
}

func TestActionToolGovernanceDeny(t *testing.T) {
	rc := testRunContext()
	rc.Executor = &fakeExecutor{}
	rc.Governance = &schema.GovernancePolicy{DeniedCommands: []string{"rm"}}

	step := schema.Step{
		Name:   "cleanup",
		Tool:   "action",
		Action: &schema.ActionConfig{Argv: []string{"rm", "-rf", "build"}},
	}
	if _, err := (&ActionTool{}).Execute(context.Background(), rc, step); err == nil {
		t.Fatal("denied command must not execute")
	}
}

func TestActionToolGovernanceAllowlist(t *testing.T) {
	rc := testRunContext()
	rc.Executor = &fakeExecutor{}
	rc.Governance = &schema.GovernancePolicy{AllowedCommands: []string{"gofmt"}}

	allowed := schema.Step{Name: "a", Tool: "action", Action: &schema.ActionConfig{Argv: []string{"gofmt", "-l", "."}}}
	if _, err := (&ActionTool{}).Execute(context.Background(), rc, allowed); err != nil {
		t.Fatalf("allowlisted command rejected: %v", err)
	}

	other := schema.Step{Name: "b", Tool: "action", Action: &schema.ActionConfig{Argv: []string{"curl", "example.com"}}}
	if _, err := (&ActionTool{}).Execute(context.Background(), rc, other); err == nil {
		t.Fatal("command outside the allowlist must not execute")
	}
}

func TestActionToolFailureIncludesStderr(t *testing.T) {
	rc := testRunContext()
	rc.Executor = &fakeExecutor{stderr: "permission denied", failErr: fmt.Errorf("command \"install\" exited with code 1")}

	step := schema.Step{Name: "install", Tool: "action", Action: &schema.ActionConfig{Argv: []string{"install"}}}
	_, err := (&ActionTool{}).Execute(context.Background(), rc, step)
	if err == nil || !strings.Contains(err.Error(), "permission denied") {
		t.Fatalf("stderr must surface in the error, got %v", err)
	}
}

func TestActionToolValidateRejectsBadCaptureSource(t *testing.T) {
	step := schema.Step{
		Name: "a",
		Tool: "action",
		Action: &schema.ActionConfig{
			Argv:    []string{"echo"},
			Capture: map[string]string{"out": "exitcode"},
		},
	}
	if err := (&ActionTool{}).Validate(testRunContext(), step); err == nil {
		t.Fatal("capture source other than stdout/stderr must be rejected")
	}
}

func TestCodemodToolEmitsOp(t *testing.T) {
	rc := testRunContext()
	step := schema.Step{
		Name: "register",
		Tool: "codemod",
		Codemod: &schema.CodemodConfig{
			File:    "internal/{{.service}}/routes.go",
			Mode:    "inject",
			Anchor:  "// routes",
			Content: "r.Handle(\"/{{.service}}\", handler)",
		},
	}

	tool := &CodemodTool{}
	if err := tool.Validate(rc, step); err != nil {
		t.Fatal(err)
	}
	res, err := tool.Execute(context.Background(), rc, step)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Ops) != 1 {
		t.Fatalf("expected 1 op, got %d", len(res.Ops))
	}
	op := res.Ops[0]
	if op.Path != "internal/billing/routes.go" {
		t.Errorf("path not resolved: %q", op.Path)
	}
	if !strings.Contains(op.Content, "/billing") {
		t.Errorf("content not resolved: %q", op.Content)
	}
}

func TestCodemodToolValidateRejectsCreateMode(t *testing.T) {
	step := schema.Step{
		Name:    "bad",
		Tool:    "codemod",
		Codemod: &schema.CodemodConfig{File: "f", Mode: "create", Anchor: "x", Content: "y"},
	}
	if err := (&CodemodTool{}).Validate(testRunContext(), step); err == nil {
		t.Fatal("codemod create mode must be rejected")
	}
}

func TestRecipeToolDepthLimit(t *testing.T) {
	rc := testRunContext()
	rc.Depth = MaxRecipeDepth
	rc.RunChild = func(ctx context.Context, path string, inputs map[string]string) (map[string]string, error) {
		t.Fatal("child must not run past the depth limit")
		return nil, nil
	}

	step := schema.Step{Name: "nest", Tool: "recipe", Recipe: &schema.RecipeConfig{File: "child.yaml"}}
	if _, err := (&RecipeTool{}).Execute(context.Background(), rc, step); err == nil {
		t.Fatal("expected depth limit error")
	}
}

func TestRecipeToolSurfacesChildCaptures(t *testing.T) {
	rc := testRunContext()
	var gotPath string
	var gotInputs map[string]string
	rc.RunChild = func(ctx context.Context, path string, inputs map[string]string) (map[string]string, error) {
		gotPath = path
		gotInputs = inputs
		return map[string]string{"endpoint": "/billing"}, nil
	}

	step := schema.Step{
		Name: "nest",
		Tool: "recipe",
		Recipe: &schema.RecipeConfig{
			File:   "children/{{.service}}.yaml",
			Inputs: map[string]string{"name": "{{.service}}"},
		},
	}
	res, err := (&RecipeTool{}).Execute(context.Background(), rc, step)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(gotPath, "children/billing.yaml") {
		t.Errorf("path = %q", gotPath)
	}
	if gotInputs["name"] != "billing" {
		t.Errorf("inputs = %v", gotInputs)
	}
	if res.Captures["endpoint"] != "/billing" {
		t.Errorf("captures = %v", res.Captures)
	}
}

func TestMCPToolValidate(t *testing.T) {
	tool := &MCPTool{}
	step := schema.Step{Name: "m", Tool: "mcp", MCP: &schema.MCPConfig{Server: "srv"}}
	if err := tool.Validate(testRunContext(), step); err == nil {
		t.Fatal("mcp config without a tool name must be rejected")
	}
	step.MCP.Tool = "search"
	if err := tool.Validate(testRunContext(), step); err != nil {
		t.Fatal(err)
	}
}
