// Package common provides transport-agnostic server contracts used by HTTP and MCP adapters.
package common

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidRequest reports malformed or out-of-range transport input.
var ErrInvalidRequest = errors.New("invalid request")

// ErrNotFound reports missing transport-visible resources.
var ErrNotFound = errors.New("not found")

// ErrConflict reports a request that contradicts current state and may succeed once that state changes.
var ErrConflict = errors.New("conflict")

// ErrUnprocessable reports a well-formed request that violates a tree or lifecycle rule.
var ErrUnprocessable = errors.New("unprocessable")

// ErrUnavailable reports a transient inability to complete the request.
var ErrUnavailable = errors.New("temporarily unavailable")

// requestValidate checks struct tags on every request type below.
var requestValidate = validator.New()

// RAGView carries the four dimension statuses of one process.
type RAGView struct {
	People  string `json:"people"`
	Process string `json:"process"`
	System  string `json:"system"`
	Data    string `json:"data"`
}

// ProcessNode is the transport view of one process node.
type ProcessNode struct {
	ID             string     `json:"id"`
	ParentID       string     `json:"parent_id,omitempty"`
	Position       int        `json:"position"`
	DepthLevel     int        `json:"depth_level"`
	Code           string     `json:"code"`
	Name           string     `json:"name"`
	Description    string     `json:"description,omitempty"`
	Status         string     `json:"status"`
	RAG            RAGView    `json:"rag"`
	OverallRAG     string     `json:"overall_rag"`
	LastReviewedAt *time.Time `json:"last_reviewed_at,omitempty"`
	ReviewedBy     string     `json:"reviewed_by,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	ArchivedAt     *time.Time `json:"archived_at,omitempty"`
}

// ProcessSnapshot is the immutable process copy carried by an issue.
type ProcessSnapshot struct {
	Code       string `json:"code"`
	Name       string `json:"name"`
	DepthLevel int    `json:"depth_level"`
}

// Issue is the transport view of one issue.
type Issue struct {
	ID                 string          `json:"id"`
	DisplayID          string          `json:"display_id"`
	SequenceNumber     int64           `json:"sequence_number"`
	Title              string          `json:"title"`
	Description        string          `json:"description,omitempty"`
	Dimension          string          `json:"dimension"`
	Criticality        string          `json:"criticality"`
	Status             string          `json:"status"`
	ProcessID          string          `json:"process_id"`
	Process            ProcessSnapshot `json:"process"`
	AssigneeID         string          `json:"assignee_id,omitempty"`
	RaisedBy           string          `json:"raised_by"`
	RaisedAt           time.Time       `json:"raised_at"`
	TargetResolutionAt *time.Time      `json:"target_resolution_at,omitempty"`
	ResolvedAt         *time.Time      `json:"resolved_at,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// HistoryEntry is one row of an issue's change ledger.
type HistoryEntry struct {
	ID        string    `json:"id"`
	IssueID   string    `json:"issue_id"`
	Field     string    `json:"field"`
	OldValue  string    `json:"old_value"`
	NewValue  string    `json:"new_value"`
	ChangedBy string    `json:"changed_by"`
	ChangedAt time.Time `json:"changed_at"`
}

// IssueCounts summarizes open issues of one dimension.
type IssueCounts struct {
	Total  int `json:"total"`
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

// HeatmapCell is one process row of a heatmap.
type HeatmapCell struct {
	ProcessID     string                 `json:"process_id"`
	ParentID      string                 `json:"parent_id,omitempty"`
	Code          string                 `json:"code"`
	Name          string                 `json:"name"`
	DepthLevel    int                    `json:"depth_level"`
	Counts        map[string]IssueCounts `json:"counts"`
	Colours       RAGView                `json:"colours"`
	OverallColour string                 `json:"overall_colour"`
}

// Heatmap is one direct or rollup projection of a tenant tree.
type Heatmap struct {
	View  string        `json:"view"`
	Cells []HeatmapCell `json:"cells"`
}

// ArchiveResult lists every node archived by one request.
type ArchiveResult struct {
	ArchivedIDs []string `json:"archived_ids"`
}

// CountResult reports how many records a maintenance operation changed.
type CountResult struct {
	Changed int `json:"changed"`
}

// InsertNodeRequest captures input for a new process node.
type InsertNodeRequest struct {
	ParentID    string `json:"parent_id,omitempty"`
	Position    *int   `json:"position,omitempty" validate:"omitempty,gte=0"`
	Name        string `json:"name" validate:"required,max=200"`
	Description string `json:"description,omitempty" validate:"max=4000"`
	Status      string `json:"status,omitempty" validate:"omitempty,oneof=draft active under_review deprecated"`
}

// UpdateNodeRequest captures descriptive edits of a process node.
type UpdateNodeRequest struct {
	Name        string `json:"name" validate:"required,max=200"`
	Description string `json:"description,omitempty" validate:"max=4000"`
	Status      string `json:"status,omitempty" validate:"omitempty,oneof=draft active under_review deprecated"`
}

// MoveNodeRequest captures a reparent. An empty parent moves the node to the root level.
type MoveNodeRequest struct {
	ParentID string `json:"parent_id"`
	Position int    `json:"position" validate:"gte=0"`
}

// SetRAGRequest captures an explicit RAG assessment.
type SetRAGRequest struct {
	Dimension string `json:"dimension" validate:"required,oneof=people process system data"`
	Status    string `json:"status" validate:"required,oneof=green neutral"`
}

// CreateIssueRequest captures input for a new issue.
type CreateIssueRequest struct {
	ProcessID          string     `json:"process_id" validate:"required"`
	Title              string     `json:"title" validate:"required,max=300"`
	Description        string     `json:"description,omitempty" validate:"max=8000"`
	Dimension          string     `json:"dimension" validate:"required,oneof=people process system data"`
	Criticality        string     `json:"criticality" validate:"required,oneof=high medium low"`
	AssigneeID         string     `json:"assignee_id,omitempty"`
	RaisedAt           *time.Time `json:"raised_at,omitempty"`
	TargetResolutionAt *time.Time `json:"target_resolution_at,omitempty"`
}

// UpdateIssueRequest captures partial issue edits. Omitted fields are left unchanged.
type UpdateIssueRequest struct {
	Title              *string    `json:"title,omitempty" validate:"omitempty,min=1,max=300"`
	Description        *string    `json:"description,omitempty" validate:"omitempty,max=8000"`
	Dimension          *string    `json:"dimension,omitempty" validate:"omitempty,oneof=people process system data"`
	Criticality        *string    `json:"criticality,omitempty" validate:"omitempty,oneof=high medium low"`
	AssigneeID         *string    `json:"assignee_id,omitempty"`
	TargetResolutionAt *time.Time `json:"target_resolution_at,omitempty"`
}

// TransitionIssueRequest captures a lifecycle move.
type TransitionIssueRequest struct {
	Status string `json:"status" validate:"required,oneof=open in_progress resolved deferred closed"`
}

// ListIssuesRequest captures issue listing filters.
type ListIssuesRequest struct {
	ProcessID string   `json:"process_id,omitempty"`
	Dimension string   `json:"dimension,omitempty" validate:"omitempty,oneof=people process system data"`
	Statuses  []string `json:"statuses,omitempty" validate:"dive,oneof=open in_progress resolved deferred closed"`
}

// ProcessService is the tenant-scoped surface shared by HTTP and MCP handlers.
type ProcessService interface {
	InsertNode(ctx context.Context, tenantID string, in InsertNodeRequest) (ProcessNode, error)
	UpdateNode(ctx context.Context, tenantID, nodeID string, in UpdateNodeRequest) (ProcessNode, error)
	MoveNode(ctx context.Context, tenantID, nodeID string, in MoveNodeRequest) (ProcessNode, error)
	ArchiveNode(ctx context.Context, tenantID, nodeID string) (ArchiveResult, error)
	GetNode(ctx context.Context, tenantID, nodeID string) (ProcessNode, error)
	ListNodes(ctx context.Context, tenantID string, includeArchived bool) ([]ProcessNode, error)
	RegenerateCodes(ctx context.Context, tenantID string) (CountResult, error)
	RecomputeRAG(ctx context.Context, tenantID string) (CountResult, error)
	SetExplicitRAG(ctx context.Context, tenantID, nodeID string, in SetRAGRequest) (ProcessNode, error)

	CreateIssue(ctx context.Context, tenantID string, in CreateIssueRequest) (Issue, error)
	UpdateIssue(ctx context.Context, tenantID, issueID string, in UpdateIssueRequest) (Issue, error)
	TransitionIssue(ctx context.Context, tenantID, issueID string, in TransitionIssueRequest) (Issue, error)
	DeleteIssue(ctx context.Context, tenantID, issueID string) error
	GetIssue(ctx context.Context, tenantID, issueID string) (Issue, error)
	ListIssues(ctx context.Context, tenantID string, in ListIssuesRequest) ([]Issue, error)
	ListIssueHistory(ctx context.Context, tenantID, issueID string) ([]HistoryEntry, error)

	GetHeatmap(ctx context.Context, tenantID, view string) (Heatmap, error)
}

// ReadinessChecker reports whether backing stores are reachable.
type ReadinessChecker interface {
	Ping(context.Context) error
}
