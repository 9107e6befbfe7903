// Package mcp registers the database tools, the db://status resource, and
// the SQL prompt template on an MCP server.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hazyhaar/crdb-mcp/internal/config"
	"github.com/hazyhaar/crdb-mcp/internal/db"
	"github.com/hazyhaar/crdb-mcp/pkg/audit"
)

// NewServer creates an MCPServer with all crdb-mcp tools registered.
func NewServer(version string, manager *db.Manager, cfg *config.Config, auditLog audit.Logger) *server.MCPServer {
	srv := server.NewMCPServer(
		cfg.Server.Name,
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, false),
		server.WithPromptCapabilities(false),
	)

	registerConnectDatabase(srv, manager, cfg, auditLog)
	registerInitializeConnection(srv, manager, cfg, auditLog)
	registerDisconnectDatabase(srv, manager, auditLog)
	registerGetTables(srv, manager, auditLog)
	registerGetTableSchema(srv, manager, auditLog)
	registerExecuteQuery(srv, manager, auditLog)
	registerStatusResource(srv, manager)
	registerQueryPrompt(srv)

	return srv
}

var connectSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"jdbc_url": map[string]string{"type": "string", "description": "Connection URL, e.g. jdbc:postgresql://localhost:26257/defaultdb"},
		"username": map[string]string{"type": "string", "description": "Database username"},
		"password": map[string]string{"type": "string", "description": "Database password"},
	},
	"required": []string{"jdbc_url", "username", "password"},
}

// --- connect_database ---

func registerConnectDatabase(srv *server.MCPServer, manager *db.Manager, cfg *config.Config, auditLog audit.Logger) {
	schema, _ := json.Marshal(connectSchema)
	tool := mcp.NewToolWithRawSchema("connect_database", "Connect to a CockroachDB database", schema)

	srv.AddTool(tool, audit.Wrap(auditLog, "connect_database", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return connectHandler(ctx, req, manager, cfg)
	}))
}

// --- initialize_connection ---

func registerInitializeConnection(srv *server.MCPServer, manager *db.Manager, cfg *config.Config, auditLog audit.Logger) {
	schema, _ := json.Marshal(connectSchema)
	tool := mcp.NewToolWithRawSchema("initialize_connection", "Initialize the database connection when the client session starts", schema)

	srv.AddTool(tool, audit.Wrap(auditLog, "initialize_connection", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return connectHandler(ctx, req, manager, cfg)
	}))
}

func connectHandler(ctx context.Context, req mcp.CallToolRequest, manager *db.Manager, cfg *config.Config) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	params, err := connectParams(args, cfg)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid connection descriptor: %v", err)), nil
	}
	version, err := manager.Connect(ctx, *params)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("database connection failed: %v", err)), nil
	}
	return mcp.NewToolResultText(version), nil
}

// connectParams parses the descriptor and overlays the process-wide tuning
// from config; TLS mode and keepalive are not per-call configurable.
func connectParams(args map[string]any, cfg *config.Config) (*db.ConnectParams, error) {
	params, err := db.ParseDescriptor(stringArg(args, "jdbc_url"), stringArg(args, "username"), stringArg(args, "password"))
	if err != nil {
		return nil, err
	}
	if cfg.Database.SSLMode != "" {
		params.SSLMode = cfg.Database.SSLMode
	}
	if cfg.Database.ApplicationName != "" {
		params.AppName = cfg.Database.ApplicationName
	}
	if cfg.Keepalive.TCPIdleSec > 0 {
		params.KeepaliveIdleSec = cfg.Keepalive.TCPIdleSec
	}
	if cfg.Keepalive.TCPIntervalSec > 0 {
		params.KeepaliveIntervalSec = cfg.Keepalive.TCPIntervalSec
	}
	if cfg.Keepalive.TCPCount > 0 {
		params.KeepaliveCount = cfg.Keepalive.TCPCount
	}
	return params, nil
}

// --- disconnect_database ---

func registerDisconnectDatabase(srv *server.MCPServer, manager *db.Manager, auditLog audit.Logger) {
	schema, _ := json.Marshal(map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	})
	tool := mcp.NewToolWithRawSchema("disconnect_database", "Close the current database connection", schema)

	srv.AddTool(tool, audit.Wrap(auditLog, "disconnect_database", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := manager.Disconnect(ctx); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("disconnect failed: %v", err)), nil
		}
		return mcp.NewToolResultText("database connection closed"), nil
	}))
}

// --- get_tables ---

func registerGetTables(srv *server.MCPServer, manager *db.Manager, auditLog audit.Logger) {
	schema, _ := json.Marshal(map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	})
	tool := mcp.NewToolWithRawSchema("get_tables", "List all user tables with their columns", schema)

	srv.AddTool(tool, audit.Wrap(auditLog, "get_tables", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tables, err := manager.ListTables(ctx)
		if err != nil {
			return toolError(err), nil
		}
		return jsonResult(map[string]any{"tables": tables})
	}))
}

// --- get_table_schema ---

func registerGetTableSchema(srv *server.MCPServer, manager *db.Manager, auditLog audit.Logger) {
	schema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"table_name": map[string]string{"type": "string", "description": "Name of the table to describe"},
		},
		"required": []string{"table_name"},
	})
	tool := mcp.NewToolWithRawSchema("get_table_schema", "Get columns and indexes of a table", schema)

	srv.AddTool(tool, audit.Wrap(auditLog, "get_table_schema", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		table := stringArg(req.GetArguments(), "table_name")
		if table == "" {
			return mcp.NewToolResultError("table_name is required"), nil
		}
		detail, err := manager.DescribeTable(ctx, table)
		if err != nil {
			return toolError(err), nil
		}
		return jsonResult(detail)
	}))
}

// --- execute_query ---

func registerExecuteQuery(srv *server.MCPServer, manager *db.Manager, auditLog audit.Logger) {
	schema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]string{"type": "string", "description": "SQL statement to execute"},
		},
		"required": []string{"query"},
	})
	tool := mcp.NewToolWithRawSchema("execute_query", "Execute a SQL statement and return rows or the affected-row count", schema)

	srv.AddTool(tool, audit.Wrap(auditLog, "execute_query", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query := stringArg(req.GetArguments(), "query")
		if query == "" {
			return mcp.NewToolResultError("query is required"), nil
		}
		result, err := manager.RunQuery(ctx, query)
		if err != nil {
			return toolError(err), nil
		}
		return jsonResult(result)
	}))
}

// --- db://status ---

func registerStatusResource(srv *server.MCPServer, manager *db.Manager) {
	res := mcp.NewResource("db://status", "Database connection status",
		mcp.WithResourceDescription("Current state of the managed database connection"),
		mcp.WithMIMEType("text/plain"),
	)
	srv.AddResource(res, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      "db://status",
				MIMEType: "text/plain",
				Text:     manager.Status().String(),
			},
		}, nil
	})
}

// --- sql_query_template ---

const sqlTemplate = `-- Query example
SELECT * FROM table_name WHERE condition;

-- Insert example
INSERT INTO table_name (column1, column2) VALUES (value1, value2);

-- Update example
UPDATE table_name SET column1 = value1 WHERE condition;

-- Delete example
DELETE FROM table_name WHERE condition;
`

func registerQueryPrompt(srv *server.MCPServer) {
	prompt := mcp.NewPrompt("sql_query_template",
		mcp.WithPromptDescription("SQL statement templates for common operations"),
	)
	srv.AddPrompt(prompt, func(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		return mcp.NewGetPromptResult("SQL query templates", []mcp.PromptMessage{
			mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(sqlTemplate)),
		}), nil
	})
}

// --- helpers ---

// toolError maps operation failures to short, cause-specific messages so a
// caller can tell connection trouble from SQL trouble from a missing table.
func toolError(err error) *mcp.CallToolResult {
	var nf *db.NotFoundError
	switch {
	case errors.Is(err, db.ErrNeverConnected):
		return mcp.NewToolResultError("not connected to database: call connect_database first")
	case errors.As(err, &nf):
		return mcp.NewToolResultError(nf.Error())
	default:
		return mcp.NewToolResultError(err.Error())
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encoding result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}
