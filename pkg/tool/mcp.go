package tool

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/weftlabs/weft/pkg/schema"
)

// MCPTool delegates a step to a tool exposed by an external MCP server.
// The server process is spawned per step over stdio, initialized, invoked
// once, and shut down. Long-lived server pooling is a deliberate non-goal;
// recipe steps are coarse enough that spawn cost does not dominate.
type MCPTool struct{}

func (t *MCPTool) Kind() string { return "mcp" }

func (t *MCPTool) Validate(rc *RunContext, step schema.Step) error {
	cfg := step.MCP
	if cfg == nil {
		return fmt.Errorf("step %q: missing mcp config", step.Name)
	}
	if cfg.Server == "" {
		return fmt.Errorf("step %q: mcp needs a server command", step.Name)
	}
	if cfg.Tool == "" {
		return fmt.Errorf("step %q: mcp needs a tool name", step.Name)
	}
	return nil
}

func (t *MCPTool) Execute(ctx context.Context, rc *RunContext, step schema.Step) (*Result, error) {
	cfg := step.MCP

	server, err := rc.ResolveVars(cfg.Server)
	if err != nil {
		return nil, fmt.Errorf("step %q: resolve server: %w", step.Name, err)
	}
	if err := checkGovernance(rc.Governance, server); err != nil {
		return nil, fmt.Errorf("step %q: %w", step.Name, err)
	}
	argv, err := rc.resolveArgv(cfg.Argv)
	if err != nil {
		return nil, fmt.Errorf("step %q: resolve argv: %w", step.Name, err)
	}
	args, err := rc.resolveMap(cfg.Args)
	if err != nil {
		return nil, fmt.Errorf("step %q: resolve args: %w", step.Name, err)
	}

	c, err := client.NewStdioMCPClient(server, nil, argv...)
	if err != nil {
		return nil, fmt.Errorf("step %q: spawn mcp server %s: %w", step.Name, server, err)
	}
	defer c.Close()

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "weft", Version: "1.0.0"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		return nil, fmt.Errorf("step %q: initialize mcp server %s: %w", step.Name, server, err)
	}

	callReq := mcp.CallToolRequest{}
	callReq.Params.Name = cfg.Tool
	if len(args) > 0 {
		callArgs := make(map[string]any, len(args))
		for k, v := range args {
			callArgs[k] = v
		}
		callReq.Params.Arguments = callArgs
	}

	res, err := c.CallTool(ctx, callReq)
	if err != nil {
		return nil, fmt.Errorf("step %q: call mcp tool %s: %w", step.Name, cfg.Tool, err)
	}

	text := flattenContent(res.Content)
	if res.IsError {
		return nil, fmt.Errorf("step %q: mcp tool %s reported an error: %s", step.Name, cfg.Tool, text)
	}

	captures := make(map[string]string, len(cfg.Capture))
	for target, source := range cfg.Capture {
		// The only capture source an MCP call exposes is its text output.
		if source == "output" || source == "stdout" {
			captures[target] = text
		}
	}

	return &Result{
		Captures: captures,
		Summary:  fmt.Sprintf("called %s on %s", cfg.Tool, server),
	}, nil
}

// flattenContent joins the text parts of an MCP result. Non-text content
// (images, resources) is skipped.
func flattenContent(content []mcp.Content) string {
	var parts []string
	for _, item := range content {
		if tc, ok := item.(mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
