package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Criticality represents the severity of an issue.
type Criticality string

// Criticality values.
const (
	CriticalityHigh   Criticality = "high"
	CriticalityMedium Criticality = "medium"
	CriticalityLow    Criticality = "low"
)

// validCriticalities stores all supported criticality values.
var validCriticalities = []Criticality{CriticalityHigh, CriticalityMedium, CriticalityLow}

// NormalizeCriticality canonicalizes a criticality value.
func NormalizeCriticality(c Criticality) Criticality {
	return Criticality(strings.TrimSpace(strings.ToLower(string(c))))
}

// IsValidCriticality reports whether c is supported.
func IsValidCriticality(c Criticality) bool {
	return slices.Contains(validCriticalities, NormalizeCriticality(c))
}

// IssueStatus represents the lifecycle status of an issue.
type IssueStatus string

// IssueStatus values.
const (
	IssueStatusOpen       IssueStatus = "open"
	IssueStatusInProgress IssueStatus = "in_progress"
	IssueStatusResolved   IssueStatus = "resolved"
	IssueStatusClosed     IssueStatus = "closed"
	IssueStatusDeferred   IssueStatus = "deferred"
)

// issueTransitions stores the allowed outgoing transitions per status. Closed is terminal.
var issueTransitions = map[IssueStatus][]IssueStatus{
	IssueStatusOpen:       {IssueStatusInProgress, IssueStatusDeferred, IssueStatusClosed},
	IssueStatusInProgress: {IssueStatusResolved, IssueStatusDeferred, IssueStatusOpen},
	IssueStatusResolved:   {IssueStatusClosed, IssueStatusInProgress},
	IssueStatusDeferred:   {IssueStatusOpen, IssueStatusClosed},
	IssueStatusClosed:     {},
}

// NormalizeIssueStatus canonicalizes an issue status value.
func NormalizeIssueStatus(status IssueStatus) IssueStatus {
	return IssueStatus(strings.TrimSpace(strings.ToLower(string(status))))
}

// IsValidIssueStatus reports whether status is supported.
func IsValidIssueStatus(status IssueStatus) bool {
	_, ok := issueTransitions[NormalizeIssueStatus(status)]
	return ok
}

// IsOpen reports whether issues in this status participate in RAG and heatmap computation.
func (s IssueStatus) IsOpen() bool {
	return s == IssueStatusOpen || s == IssueStatusInProgress
}

// OpenIssueStatuses lists the statuses counted as open.
func OpenIssueStatuses() []IssueStatus {
	return []IssueStatus{IssueStatusOpen, IssueStatusInProgress}
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to IssueStatus) bool {
	return slices.Contains(issueTransitions[NormalizeIssueStatus(from)], NormalizeIssueStatus(to))
}

// ProcessSnapshot is a copy of the linked process taken when an issue is raised.
type ProcessSnapshot struct {
	Code       string
	Name       string
	DepthLevel int
}

// SnapshotOf captures the display fields of a process node.
func SnapshotOf(node ProcessNode) ProcessSnapshot {
	return ProcessSnapshot{Code: node.Code, Name: node.Name, DepthLevel: node.DepthLevel}
}

// Issue represents one operational issue raised against a process node.
type Issue struct {
	ID                 string
	TenantID           string
	SequenceNumber     int64
	Title              string
	Description        string
	Dimension          Dimension
	Criticality        Criticality
	Status             IssueStatus
	ProcessID          string
	Process            ProcessSnapshot
	AssigneeID         string
	RaisedBy           string
	RaisedAt           time.Time
	TargetResolutionAt *time.Time
	ResolvedAt         *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// IssueInput holds write-time values for a new issue.
type IssueInput struct {
	ID                 string
	TenantID           string
	SequenceNumber     int64
	Title              string
	Description        string
	Dimension          Dimension
	Criticality        Criticality
	Process            ProcessNode
	AssigneeID         string
	RaisedBy           string
	RaisedAt           *time.Time
	TargetResolutionAt *time.Time
}

// NewIssue validates and constructs an open issue linked to a process node.
func NewIssue(in IssueInput, now time.Time) (Issue, error) {
	in.ID = strings.TrimSpace(in.ID)
	in.TenantID = strings.TrimSpace(in.TenantID)
	in.Title = strings.TrimSpace(in.Title)
	in.Dimension = NormalizeDimension(in.Dimension)
	in.Criticality = NormalizeCriticality(in.Criticality)
	if in.ID == "" {
		return Issue{}, ErrInvalidID
	}
	if in.TenantID == "" {
		return Issue{}, ErrInvalidTenantID
	}
	if strings.TrimSpace(in.Process.ID) == "" {
		return Issue{}, ErrInvalidID
	}
	if in.Title == "" {
		return Issue{}, ErrInvalidTitle
	}
	if !IsValidDimension(in.Dimension) {
		return Issue{}, ErrInvalidDimension
	}
	if !IsValidCriticality(in.Criticality) {
		return Issue{}, ErrInvalidCriticality
	}
	if in.Process.IsArchived() {
		return Issue{}, ErrNodeArchived
	}

	ts := now.UTC()
	raisedAt := ts
	if in.RaisedAt != nil {
		raisedAt = in.RaisedAt.UTC()
	}
	return Issue{
		ID:                 in.ID,
		TenantID:           in.TenantID,
		SequenceNumber:     in.SequenceNumber,
		Title:              in.Title,
		Description:        strings.TrimSpace(in.Description),
		Dimension:          in.Dimension,
		Criticality:        in.Criticality,
		Status:             IssueStatusOpen,
		ProcessID:          in.Process.ID,
		Process:            SnapshotOf(in.Process),
		AssigneeID:         strings.TrimSpace(in.AssigneeID),
		RaisedBy:           strings.TrimSpace(in.RaisedBy),
		RaisedAt:           raisedAt,
		TargetResolutionAt: utcPtr(in.TargetResolutionAt),
		CreatedAt:          ts,
		UpdatedAt:          ts,
	}, nil
}

// DisplayID returns the human-facing identifier, for example ISS-0042.
func (i Issue) DisplayID(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "ISS"
	}
	return fmt.Sprintf("%s-%04d", prefix, i.SequenceNumber)
}

// IsOpen reports whether the issue counts towards RAG and heatmap results.
func (i Issue) IsOpen() bool {
	return i.Status.IsOpen()
}

// Transition moves the issue through the status state machine.
func (i *Issue) Transition(to IssueStatus, now time.Time) error {
	to = NormalizeIssueStatus(to)
	if !IsValidIssueStatus(to) {
		return ErrInvalidIssueStatus
	}
	if !CanTransition(i.Status, to) {
		return &InvalidTransitionError{From: i.Status, To: to}
	}
	ts := now.UTC()
	i.Status = to
	if to == IssueStatusResolved && i.ResolvedAt == nil {
		i.ResolvedAt = &ts
	}
	i.UpdatedAt = ts
	return nil
}

// IssueDetails holds mutable descriptive and classification fields.
type IssueDetails struct {
	Title              string
	Description        string
	Dimension          Dimension
	Criticality        Criticality
	AssigneeID         string
	TargetResolutionAt *time.Time
}

// UpdateDetails replaces descriptive and classification fields. The process snapshot is never refreshed.
func (i *Issue) UpdateDetails(in IssueDetails, now time.Time) error {
	in.Title = strings.TrimSpace(in.Title)
	in.Dimension = NormalizeDimension(in.Dimension)
	in.Criticality = NormalizeCriticality(in.Criticality)
	if in.Title == "" {
		return ErrInvalidTitle
	}
	if !IsValidDimension(in.Dimension) {
		return ErrInvalidDimension
	}
	if !IsValidCriticality(in.Criticality) {
		return ErrInvalidCriticality
	}
	i.Title = in.Title
	i.Description = strings.TrimSpace(in.Description)
	i.Dimension = in.Dimension
	i.Criticality = in.Criticality
	i.AssigneeID = strings.TrimSpace(in.AssigneeID)
	i.TargetResolutionAt = utcPtr(in.TargetResolutionAt)
	i.UpdatedAt = now.UTC()
	return nil
}

// utcPtr copies a time pointer in UTC.
func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	ts := t.UTC()
	return &ts
}
