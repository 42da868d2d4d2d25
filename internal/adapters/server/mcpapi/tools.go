package mcpapi

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/hylla/bomcat/internal/adapters/server/common"
)

var (
	dimensionEnum    = []string{"people", "process", "system", "data"}
	criticalityEnum  = []string{"high", "medium", "low"}
	issueStatusEnum  = []string{"open", "in_progress", "resolved", "deferred", "closed"}
	nodeStatusEnum   = []string{"draft", "active", "under_review", "deprecated"}
	explicitRAGEnum  = []string{"green", "neutral"}
	heatmapViewsEnum = []string{"direct", "rollup"}
)

// bound decodes req arguments into a request value before calling fn.
func bound[In, Out any](fn func(ctx context.Context, tenantID string, in In) (Out, error)) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var in In
		if err := req.BindArguments(&in); err != nil {
			return invalidRequestToolResult(err), nil
		}
		return tenantCall(ctx, req, req.Params.Name, func(ctx context.Context, tenantID string) (Out, error) {
			return fn(ctx, tenantID, in)
		})
	}
}

// byID requires argument key before calling fn with its value.
func byID[Out any](key string, fn func(ctx context.Context, tenantID, id string) (Out, error)) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString(key)
		if err != nil {
			return invalidRequestToolResult(err), nil
		}
		return tenantCall(ctx, req, req.Params.Name, func(ctx context.Context, tenantID string) (Out, error) {
			return fn(ctx, tenantID, id)
		})
	}
}

// registerProcessTools registers tree maintenance tools.
func registerProcessTools(srv *mcpserver.MCPServer, svc common.ProcessService) {
	srv.AddTool(
		newTool("bomcat.list_processes", "List the process nodes of a tenant ordered by creation.",
			mcp.WithBoolean("include_archived", mcp.Description("Include archived nodes")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return tenantCall(ctx, req, "list_processes", func(ctx context.Context, tenantID string) (map[string]any, error) {
				nodes, err := svc.ListNodes(ctx, tenantID, req.GetBool("include_archived", false))
				return map[string]any{"processes": nodes}, err
			})
		},
	)

	srv.AddTool(
		newTool("bomcat.get_process", "Return one process node with its RAG statuses.",
			mcp.WithString("process_id", mcp.Required(), mcp.Description("Process identifier")),
		),
		byID("process_id", svc.GetNode),
	)

	srv.AddTool(
		newTool("bomcat.insert_node", "Insert a process node and allocate its dotted code.",
			mcp.WithString("parent_id", mcp.Description("Parent process; omit for a root node")),
			mcp.WithNumber("position", mcp.Description("Sibling position; omit to append")),
			mcp.WithString("name", mcp.Required(), mcp.Description("Process name")),
			mcp.WithString("description", mcp.Description("Optional description")),
			mcp.WithString("status", mcp.Description("Lifecycle status"), mcp.Enum(nodeStatusEnum...)),
		),
		bound(svc.InsertNode),
	)

	srv.AddTool(
		newTool("bomcat.update_node", "Edit the name, description or lifecycle status of a process node.",
			mcp.WithString("process_id", mcp.Required(), mcp.Description("Process identifier")),
			mcp.WithString("name", mcp.Required(), mcp.Description("Process name")),
			mcp.WithString("description", mcp.Description("Optional description")),
			mcp.WithString("status", mcp.Description("Lifecycle status"), mcp.Enum(nodeStatusEnum...)),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			id, err := req.RequireString("process_id")
			if err != nil {
				return invalidRequestToolResult(err), nil
			}
			return bound(func(ctx context.Context, tenantID string, in common.UpdateNodeRequest) (common.ProcessNode, error) {
				return svc.UpdateNode(ctx, tenantID, id, in)
			})(ctx, req)
		},
	)

	srv.AddTool(
		newTool("bomcat.reparent_node", "Move a process node under a new parent and renumber affected codes.",
			mcp.WithString("process_id", mcp.Required(), mcp.Description("Process identifier")),
			mcp.WithString("parent_id", mcp.Description("New parent; omit to move to the root level")),
			mcp.WithNumber("position", mcp.Description("Sibling position under the new parent")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			id, err := req.RequireString("process_id")
			if err != nil {
				return invalidRequestToolResult(err), nil
			}
			return bound(func(ctx context.Context, tenantID string, in common.MoveNodeRequest) (common.ProcessNode, error) {
				return svc.MoveNode(ctx, tenantID, id, in)
			})(ctx, req)
		},
	)

	srv.AddTool(
		newTool("bomcat.archive_node", "Archive a process node with its subtree.",
			mcp.WithString("process_id", mcp.Required(), mcp.Description("Process identifier")),
		),
		byID("process_id", svc.ArchiveNode),
	)

	srv.AddTool(
		newTool("bomcat.regenerate_codes", "Recompute every dotted code of the tenant from tree positions."),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return tenantCall(ctx, req, "regenerate_codes", svc.RegenerateCodes)
		},
	)

	srv.AddTool(
		newTool("bomcat.recompute_rag", "Recompute every derived RAG status of the tenant from open issues."),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return tenantCall(ctx, req, "recompute_rag", svc.RecomputeRAG)
		},
	)

	srv.AddTool(
		newTool("bomcat.set_explicit_rag", "Record an explicit green or neutral review for one dimension.",
			mcp.WithString("process_id", mcp.Required(), mcp.Description("Process identifier")),
			mcp.WithString("dimension", mcp.Required(), mcp.Enum(dimensionEnum...)),
			mcp.WithString("status", mcp.Required(), mcp.Enum(explicitRAGEnum...)),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			id, err := req.RequireString("process_id")
			if err != nil {
				return invalidRequestToolResult(err), nil
			}
			return bound(func(ctx context.Context, tenantID string, in common.SetRAGRequest) (common.ProcessNode, error) {
				return svc.SetExplicitRAG(ctx, tenantID, id, in)
			})(ctx, req)
		},
	)
}

// registerIssueTools registers issue lifecycle tools.
func registerIssueTools(srv *mcpserver.MCPServer, svc common.ProcessService) {
	srv.AddTool(
		newTool("bomcat.create_issue", "Raise an issue against a process dimension.",
			mcp.WithString("process_id", mcp.Required(), mcp.Description("Process identifier")),
			mcp.WithString("title", mcp.Required(), mcp.Description("Short title")),
			mcp.WithString("description", mcp.Description("Optional description")),
			mcp.WithString("dimension", mcp.Required(), mcp.Enum(dimensionEnum...)),
			mcp.WithString("criticality", mcp.Required(), mcp.Enum(criticalityEnum...)),
			mcp.WithString("assignee_id", mcp.Description("Optional assignee")),
			mcp.WithString("target_resolution_at", mcp.Description("Optional RFC3339 target date")),
		),
		bound(svc.CreateIssue),
	)

	srv.AddTool(
		newTool("bomcat.update_issue", "Edit issue fields. Omitted fields are unchanged.",
			mcp.WithString("issue_id", mcp.Required(), mcp.Description("Issue identifier")),
			mcp.WithString("title", mcp.Description("Short title")),
			mcp.WithString("description", mcp.Description("Description")),
			mcp.WithString("dimension", mcp.Enum(dimensionEnum...)),
			mcp.WithString("criticality", mcp.Enum(criticalityEnum...)),
			mcp.WithString("assignee_id", mcp.Description("Assignee")),
			mcp.WithString("target_resolution_at", mcp.Description("RFC3339 target date")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			id, err := req.RequireString("issue_id")
			if err != nil {
				return invalidRequestToolResult(err), nil
			}
			return bound(func(ctx context.Context, tenantID string, in common.UpdateIssueRequest) (common.Issue, error) {
				return svc.UpdateIssue(ctx, tenantID, id, in)
			})(ctx, req)
		},
	)

	srv.AddTool(
		newTool("bomcat.transition_issue", "Move an issue to another lifecycle status.",
			mcp.WithString("issue_id", mcp.Required(), mcp.Description("Issue identifier")),
			mcp.WithString("status", mcp.Required(), mcp.Enum(issueStatusEnum...)),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			id, err := req.RequireString("issue_id")
			if err != nil {
				return invalidRequestToolResult(err), nil
			}
			return bound(func(ctx context.Context, tenantID string, in common.TransitionIssueRequest) (common.Issue, error) {
				return svc.TransitionIssue(ctx, tenantID, id, in)
			})(ctx, req)
		},
	)

	srv.AddTool(
		newTool("bomcat.delete_issue", "Delete an issue; its history is kept.",
			mcp.WithString("issue_id", mcp.Required(), mcp.Description("Issue identifier")),
		),
		byID("issue_id", func(ctx context.Context, tenantID, id string) (map[string]any, error) {
			if err := svc.DeleteIssue(ctx, tenantID, id); err != nil {
				return nil, err
			}
			return map[string]any{"deleted": id}, nil
		}),
	)

	srv.AddTool(
		newTool("bomcat.get_issue", "Return one issue.",
			mcp.WithString("issue_id", mcp.Required(), mcp.Description("Issue identifier")),
		),
		byID("issue_id", svc.GetIssue),
	)

	srv.AddTool(
		newTool("bomcat.list_issues", "List issues filtered by process, dimension or status.",
			mcp.WithString("process_id", mcp.Description("Process identifier")),
			mcp.WithString("dimension", mcp.Enum(dimensionEnum...)),
			mcp.WithArray("statuses", mcp.Description("Statuses to include"), mcp.WithStringItems()),
		),
		bound(func(ctx context.Context, tenantID string, in common.ListIssuesRequest) (map[string]any, error) {
			issues, err := svc.ListIssues(ctx, tenantID, in)
			return map[string]any{"issues": issues}, err
		}),
	)

	srv.AddTool(
		newTool("bomcat.issue_history", "Return the change ledger of one issue.",
			mcp.WithString("issue_id", mcp.Required(), mcp.Description("Issue identifier")),
		),
		byID("issue_id", func(ctx context.Context, tenantID, id string) (map[string]any, error) {
			entries, err := svc.ListIssueHistory(ctx, tenantID, id)
			return map[string]any{"history": entries}, err
		}),
	)
}

// registerHeatmapTool registers the heatmap projection tool.
func registerHeatmapTool(srv *mcpserver.MCPServer, svc common.ProcessService) {
	srv.AddTool(
		newTool("bomcat.get_heatmap", "Return open-issue counts and colours per process.",
			mcp.WithString("view", mcp.Description("direct or rollup"), mcp.Enum(heatmapViewsEnum...)),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return tenantCall(ctx, req, "get_heatmap", func(ctx context.Context, tenantID string) (common.Heatmap, error) {
				return svc.GetHeatmap(ctx, tenantID, req.GetString("view", ""))
			})
		},
	)
}
