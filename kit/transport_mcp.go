package kit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Scope derives the call context from decoded tool arguments, typically
// to attach the owner. A non-nil error rejects the call as invalid.
type Scope[Req any] func(ctx context.Context, req Req) (context.Context, error)

// RegisterMCPTool exposes handle as an MCP tool on srv. Arguments are decoded
// from JSON into Req, the response is returned as JSON text content, and
// every failure is reported as a tool error rather than a protocol error.
func RegisterMCPTool[Req, Resp any](srv *mcp.Server, tool *mcp.Tool, scope Scope[Req], handle func(context.Context, Req) (Resp, error)) {
	srv.AddTool(tool, func(ctx context.Context, call *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var req Req
		if len(call.Params.Arguments) > 0 {
			if err := json.Unmarshal(call.Params.Arguments, &req); err != nil {
				return toolError(fmt.Errorf("invalid arguments: %w", err)), nil
			}
		}
		ctx = WithTransport(ctx, "mcp")
		if scope != nil {
			var err error
			if ctx, err = scope(ctx, req); err != nil {
				return toolError(fmt.Errorf("invalid arguments: %w", err)), nil
			}
		}

		resp, err := handle(ctx, req)
		if err != nil {
			return toolError(err), nil
		}
		data, err := json.Marshal(resp)
		if err != nil {
			return toolError(fmt.Errorf("marshal: %w", err)), nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

func toolError(err error) *mcp.CallToolResult {
	var res mcp.CallToolResult
	res.SetError(err)
	return &res
}
