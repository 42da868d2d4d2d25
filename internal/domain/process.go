package domain

import (
	"slices"
	"strconv"
	"strings"
	"time"
)

// MaxDepthLevel is the deepest level a process node may occupy; roots are level 0.
const MaxDepthLevel = 5

// NodeStatus represents the lifecycle status of a process node.
type NodeStatus string

// NodeStatus values.
const (
	NodeStatusDraft       NodeStatus = "draft"
	NodeStatusActive      NodeStatus = "active"
	NodeStatusUnderReview NodeStatus = "under_review"
	NodeStatusDeprecated  NodeStatus = "deprecated"
	NodeStatusArchived    NodeStatus = "archived"
)

// validNodeStatuses stores all supported node status values.
var validNodeStatuses = []NodeStatus{
	NodeStatusDraft,
	NodeStatusActive,
	NodeStatusUnderReview,
	NodeStatusDeprecated,
	NodeStatusArchived,
}

// NormalizeNodeStatus canonicalizes a node status value.
func NormalizeNodeStatus(status NodeStatus) NodeStatus {
	return NodeStatus(strings.TrimSpace(strings.ToLower(string(status))))
}

// IsValidNodeStatus reports whether status is supported.
func IsValidNodeStatus(status NodeStatus) bool {
	return slices.Contains(validNodeStatuses, NormalizeNodeStatus(status))
}

// ProcessNode represents one node of a tenant's process hierarchy.
type ProcessNode struct {
	ID             string
	TenantID       string
	ParentID       string
	Position       int
	DepthLevel     int
	Code           string
	Name           string
	Description    string
	Status         NodeStatus
	RAG            RAGState
	LastReviewedAt *time.Time
	ReviewedBy     string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ArchivedAt     *time.Time
}

// ProcessNodeInput holds write-time values for a new process node.
type ProcessNodeInput struct {
	ID          string
	TenantID    string
	ParentID    string
	Name        string
	Description string
	Status      NodeStatus
}

// NewProcessNode validates and constructs a process node without tree placement.
func NewProcessNode(in ProcessNodeInput, now time.Time) (ProcessNode, error) {
	in.ID = strings.TrimSpace(in.ID)
	in.TenantID = strings.TrimSpace(in.TenantID)
	in.ParentID = strings.TrimSpace(in.ParentID)
	in.Name = strings.TrimSpace(in.Name)
	in.Status = NormalizeNodeStatus(in.Status)
	if in.ID == "" {
		return ProcessNode{}, ErrInvalidID
	}
	if in.TenantID == "" {
		return ProcessNode{}, ErrInvalidTenantID
	}
	if in.Name == "" {
		return ProcessNode{}, ErrInvalidName
	}
	if in.Status == "" {
		in.Status = NodeStatusDraft
	}
	if !IsValidNodeStatus(in.Status) || in.Status == NodeStatusArchived {
		return ProcessNode{}, ErrInvalidNodeStatus
	}

	return ProcessNode{
		ID:          in.ID,
		TenantID:    in.TenantID,
		ParentID:    in.ParentID,
		Name:        in.Name,
		Description: strings.TrimSpace(in.Description),
		Status:      in.Status,
		RAG:         NeutralRAGState(),
		CreatedAt:   now.UTC(),
		UpdatedAt:   now.UTC(),
	}, nil
}

// IsRoot reports whether the node has no parent.
func (n ProcessNode) IsRoot() bool {
	return n.ParentID == ""
}

// IsArchived reports whether the node has been soft-deleted.
func (n ProcessNode) IsArchived() bool {
	return n.ArchivedAt != nil
}

// Overall returns the derived overall RAG status.
func (n ProcessNode) Overall() RAGStatus {
	return n.RAG.Overall()
}

// UpdateDetails updates descriptive fields. Archival is only reachable through Archive.
func (n *ProcessNode) UpdateDetails(name, description string, status NodeStatus, now time.Time) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrInvalidName
	}
	status = NormalizeNodeStatus(status)
	if status == "" {
		status = n.Status
	}
	if !IsValidNodeStatus(status) || status == NodeStatusArchived {
		return ErrInvalidNodeStatus
	}
	n.Name = name
	n.Description = strings.TrimSpace(description)
	n.Status = status
	n.UpdatedAt = now.UTC()
	return nil
}

// MarkReviewed stamps an explicit human assessment.
func (n *ProcessNode) MarkReviewed(reviewer string, now time.Time) {
	ts := now.UTC()
	n.LastReviewedAt = &ts
	n.ReviewedBy = strings.TrimSpace(reviewer)
	n.UpdatedAt = ts
}

// Archive soft-deletes the node, freezing its code and position.
func (n *ProcessNode) Archive(now time.Time) {
	ts := now.UTC()
	n.ArchivedAt = &ts
	n.Status = NodeStatusArchived
	n.UpdatedAt = ts
}

// RootCode returns the code of a root at a zero-based position.
func RootCode(position int) string {
	return strconv.Itoa(position + 1)
}

// ChildCode returns the code of a child at a zero-based position under parentCode.
func ChildCode(parentCode string, position int) string {
	if parentCode == "" {
		return RootCode(position)
	}
	return parentCode + "." + strconv.Itoa(position+1)
}
