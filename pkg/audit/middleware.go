package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// sensitiveKeys are argument names whose values never reach the trail.
var sensitiveKeys = map[string]bool{
	"password": true,
}

// Wrap decorates a tool handler: it measures duration and records the
// invocation (redacted params, result or error) asynchronously. A nil
// logger returns the handler unchanged.
func Wrap(logger Logger, tool string, next server.ToolHandlerFunc) server.ToolHandlerFunc {
	if logger == nil {
		return next
	}
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()

		result, err := next(ctx, req)

		entry := &Entry{
			Tool:       tool,
			DurationMs: time.Since(start).Milliseconds(),
		}
		if params, e := json.Marshal(redact(req.GetArguments())); e == nil {
			entry.Parameters = string(params)
		}
		switch {
		case err != nil:
			entry.Error = err.Error()
		case result != nil && result.IsError:
			entry.Error = resultText(result)
		default:
			entry.Result = resultText(result)
		}

		logger.LogAsync(entry)
		return result, err
	}
}

func redact(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		if sensitiveKeys[k] {
			out[k] = "[redacted]"
		} else {
			out[k] = v
		}
	}
	return out
}

func resultText(result *mcp.CallToolResult) string {
	if result == nil {
		return ""
	}
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}
