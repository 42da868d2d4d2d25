// Package mcpapi provides a stateless MCP streamable-HTTP adapter.
package mcpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/hylla/bomcat/internal/adapters/server/common"
)

// Config captures MCP transport configuration.
type Config struct {
	ServerName    string
	ServerVersion string
	EndpointPath  string
}

// Handler wraps one stateless MCP streamable HTTP handler.
type Handler struct {
	httpHandler http.Handler
}

// NewHandler builds one stateless MCP adapter exposing process, issue and heatmap tools.
func NewHandler(cfg Config, service common.ProcessService) (*Handler, error) {
	if service == nil {
		return nil, fmt.Errorf("process service is required")
	}
	cfg = normalizeConfig(cfg)

	mcpSrv := mcpserver.NewMCPServer(
		cfg.ServerName,
		cfg.ServerVersion,
		mcpserver.WithToolCapabilities(false),
	)
	registerProcessTools(mcpSrv, service)
	registerIssueTools(mcpSrv, service)
	registerHeatmapTool(mcpSrv, service)

	streamable := mcpserver.NewStreamableHTTPServer(
		mcpSrv,
		mcpserver.WithEndpointPath(cfg.EndpointPath),
		mcpserver.WithStateLess(true),
	)
	return &Handler{httpHandler: streamable}, nil
}

// ServeHTTP handles one MCP streamable HTTP request.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.httpHandler == nil {
		http.Error(w, "mcp handler unavailable", http.StatusServiceUnavailable)
		return
	}
	h.httpHandler.ServeHTTP(w, r)
}

// normalizeConfig applies deterministic defaults to MCP adapter config.
func normalizeConfig(cfg Config) Config {
	cfg.ServerName = strings.TrimSpace(cfg.ServerName)
	if cfg.ServerName == "" {
		cfg.ServerName = "bomcat"
	}
	cfg.ServerVersion = strings.TrimSpace(cfg.ServerVersion)
	if cfg.ServerVersion == "" {
		cfg.ServerVersion = "dev"
	}
	cfg.EndpointPath = strings.TrimSpace(cfg.EndpointPath)
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/mcp"
	}
	cfg.EndpointPath = "/" + strings.Trim(cfg.EndpointPath, "/")
	return cfg
}

// tenantOptions are the identity arguments every tool accepts.
func tenantOptions() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("tenant_id", mcp.Required(), mcp.Description("Tenant identifier")),
		mcp.WithString("actor_id", mcp.Description("Optional acting user recorded on issues and history")),
	}
}

// newTool builds one tool definition carrying the tenant identity arguments.
func newTool(name, description string, opts ...mcp.ToolOption) mcp.Tool {
	all := append([]mcp.ToolOption{mcp.WithDescription(description)}, tenantOptions()...)
	return mcp.NewTool(name, append(all, opts...)...)
}

// tenantCall resolves the tenant and actor of req, runs call and encodes its result.
func tenantCall[T any](ctx context.Context, req mcp.CallToolRequest, operation string, call func(ctx context.Context, tenantID string) (T, error)) (*mcp.CallToolResult, error) {
	tenantID, err := req.RequireString("tenant_id")
	if err != nil {
		return invalidRequestToolResult(err), nil
	}
	ctx = common.WithActor(ctx, req.GetString("actor_id", ""))
	out, err := call(ctx, tenantID)
	if err != nil {
		return toolResultFromError(err), nil
	}
	result, err := mcp.NewToolResultJSON(out)
	if err != nil {
		return nil, fmt.Errorf("encode %s result: %w", operation, err)
	}
	return result, nil
}

// toolResultFromError maps adapter errors into `code: message` tool failures.
func toolResultFromError(err error) *mcp.CallToolResult {
	if err == nil {
		return mcp.NewToolResultError("internal_error: unknown error")
	}
	code := common.DescribeError(err).Code
	switch {
	case errors.Is(err, common.ErrInvalidRequest),
		errors.Is(err, common.ErrNotFound),
		errors.Is(err, common.ErrConflict),
		errors.Is(err, common.ErrUnprocessable),
		errors.Is(err, common.ErrUnavailable):
	default:
		code = "internal_error"
	}
	return mcp.NewToolResultError(code + ": " + err.Error())
}

// invalidRequestToolResult wraps argument-binding failures as deterministic tool errors.
func invalidRequestToolResult(err error) *mcp.CallToolResult {
	if err == nil {
		return mcp.NewToolResultError("invalid_request: malformed arguments")
	}
	return mcp.NewToolResultError("invalid_request: " + err.Error())
}
