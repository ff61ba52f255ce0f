package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const ServerName = "imgrelay"

// MCPServer exposes process_image as a Model Context Protocol tool. The
// result of every call is the JSON Response as text content; a failed run
// is also flagged with IsError.
func (t *Tool) MCPServer(version string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: ServerName, Version: version}, &mcp.ServerOptions{
		Logger: t.logger,
	})
	desc := Describe()
	server.AddTool(&mcp.Tool{
		Name:        desc.Name,
		Description: desc.Description,
		InputSchema: desc.InputSchema,
	}, t.callTool)
	return server
}

func (t *Tool) callTool(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in Request
	if args := req.Params.Arguments; len(args) > 0 {
		if err := json.Unmarshal(args, &in); err != nil {
			return textResult(Response{Error: "Invalid arguments: " + err.Error()})
		}
	}
	return textResult(t.Process(ctx, in))
}

func textResult(resp Response) (*mcp.CallToolResult, error) {
	text, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode tool result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(text)}},
		IsError: !resp.Success,
	}, nil
}

// ServeMCP runs the MCP server on transport until the client disconnects
// or ctx is cancelled. Cancellation is not an error.
func (t *Tool) ServeMCP(ctx context.Context, transport mcp.Transport, version string) error {
	t.logger.Info("MCP server starting", "name", ServerName, "version", version)
	if err := t.MCPServer(version).Run(ctx, transport); err != nil && ctx.Err() == nil {
		return fmt.Errorf("mcp server stopped: %w", err)
	}
	t.logger.Info("MCP server stopped")
	return nil
}
