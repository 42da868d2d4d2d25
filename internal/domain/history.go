package domain

import (
	"strings"
	"time"
)

// HistoryField names an issue field tracked by the history ledger.
type HistoryField string

// HistoryField values.
const (
	HistoryFieldStatus             HistoryField = "lifecycle_status"
	HistoryFieldCriticality        HistoryField = "criticality"
	HistoryFieldAssignee           HistoryField = "assignee_id"
	HistoryFieldTargetResolutionAt HistoryField = "target_resolution_at"
	HistoryFieldResolvedAt         HistoryField = "resolved_at"
)

// HistoryEntry represents one append-only field-level change of an issue.
type HistoryEntry struct {
	ID        string
	TenantID  string
	IssueID   string
	Field     HistoryField
	OldValue  string
	NewValue  string
	ChangedBy string
	ChangedAt time.Time
}

// FieldChange describes one tracked field that differs between two issue versions.
type FieldChange struct {
	Field    HistoryField
	OldValue string
	NewValue string
}

// DiffIssue returns the tracked changes from before to after. Date fields are reported only when first set.
func DiffIssue(before, after Issue) []FieldChange {
	changes := make([]FieldChange, 0, 2)
	if before.Status != after.Status {
		changes = append(changes, FieldChange{Field: HistoryFieldStatus, OldValue: string(before.Status), NewValue: string(after.Status)})
	}
	if before.Criticality != after.Criticality {
		changes = append(changes, FieldChange{Field: HistoryFieldCriticality, OldValue: string(before.Criticality), NewValue: string(after.Criticality)})
	}
	if before.AssigneeID != after.AssigneeID {
		changes = append(changes, FieldChange{Field: HistoryFieldAssignee, OldValue: before.AssigneeID, NewValue: after.AssigneeID})
	}
	if before.TargetResolutionAt == nil && after.TargetResolutionAt != nil {
		changes = append(changes, FieldChange{Field: HistoryFieldTargetResolutionAt, NewValue: after.TargetResolutionAt.UTC().Format(time.RFC3339Nano)})
	}
	if before.ResolvedAt == nil && after.ResolvedAt != nil {
		changes = append(changes, FieldChange{Field: HistoryFieldResolvedAt, NewValue: after.ResolvedAt.UTC().Format(time.RFC3339Nano)})
	}
	return changes
}

// NewHistoryEntry constructs a history entry for one field change.
func NewHistoryEntry(id, tenantID, issueID string, change FieldChange, changedBy string, now time.Time) (HistoryEntry, error) {
	id = strings.TrimSpace(id)
	tenantID = strings.TrimSpace(tenantID)
	issueID = strings.TrimSpace(issueID)
	if id == "" || issueID == "" {
		return HistoryEntry{}, ErrInvalidID
	}
	if tenantID == "" {
		return HistoryEntry{}, ErrInvalidTenantID
	}
	return HistoryEntry{
		ID:        id,
		TenantID:  tenantID,
		IssueID:   issueID,
		Field:     change.Field,
		OldValue:  change.OldValue,
		NewValue:  change.NewValue,
		ChangedBy: strings.TrimSpace(changedBy),
		ChangedAt: now.UTC(),
	}, nil
}
