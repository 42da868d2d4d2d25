package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/hylla/bomcat/internal/app"
	"github.com/hylla/bomcat/internal/domain"
)

// issueColumns lists issues columns in scanIssue order.
const issueColumns = `id, tenant_id, sequence_number, title, description, dimension, criticality, status, process_id,
	process_code, process_name, process_depth, assignee_id, raised_by, raised_at, target_resolution_at, resolved_at,
	created_at, updated_at`

// NextIssueSequence returns the next free per-tenant sequence number.
func (t *tenantTx) NextIssueSequence(ctx context.Context) (int64, error) {
	var next int64
	err := t.queryRow(ctx, `SELECT COALESCE(MAX(sequence_number), 0) + 1 FROM issues WHERE tenant_id = ?`, t.tenantID).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next issue sequence: %w", err)
	}
	return next, nil
}

// CreateIssue inserts an issue, mapping a sequence collision to ErrSequenceConflict.
func (t *tenantTx) CreateIssue(ctx context.Context, i domain.Issue) error {
	_, err := t.exec(ctx, `
		INSERT INTO issues(`+issueColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		i.ID,
		t.tenantID,
		i.SequenceNumber,
		i.Title,
		i.Description,
		string(i.Dimension),
		string(i.Criticality),
		string(i.Status),
		i.ProcessID,
		i.Process.Code,
		i.Process.Name,
		i.Process.DepthLevel,
		i.AssigneeID,
		i.RaisedBy,
		ts(i.RaisedAt),
		nullableTS(i.TargetResolutionAt),
		nullableTS(i.ResolvedAt),
		ts(i.CreatedAt),
		ts(i.UpdatedAt),
	)
	if err != nil {
		if t.dialect.IsSequenceConflict != nil && t.dialect.IsSequenceConflict(err) {
			return errors.Join(app.ErrSequenceConflict, err)
		}
		return fmt.Errorf("insert issue %q: %w", i.ID, err)
	}
	return nil
}

// UpdateIssue writes the mutable fields of an issue. The process snapshot is immutable.
func (t *tenantTx) UpdateIssue(ctx context.Context, i domain.Issue) error {
	res, err := t.exec(ctx, `
		UPDATE issues
		SET title = ?, description = ?, dimension = ?, criticality = ?, status = ?, assignee_id = ?,
			target_resolution_at = ?, resolved_at = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`,
		i.Title,
		i.Description,
		string(i.Dimension),
		string(i.Criticality),
		string(i.Status),
		i.AssigneeID,
		nullableTS(i.TargetResolutionAt),
		nullableTS(i.ResolvedAt),
		ts(i.UpdatedAt),
		t.tenantID,
		i.ID,
	)
	if err != nil {
		return err
	}
	return translateNoRows(res)
}

// DeleteIssue removes an issue. Its history rows are kept.
func (t *tenantTx) DeleteIssue(ctx context.Context, id string) error {
	res, err := t.exec(ctx, `DELETE FROM issues WHERE tenant_id = ? AND id = ?`, t.tenantID, id)
	if err != nil {
		return err
	}
	return translateNoRows(res)
}

// GetIssue returns one issue of the tenant.
func (t *tenantTx) GetIssue(ctx context.Context, id string) (domain.Issue, error) {
	row := t.queryRow(ctx, `SELECT `+issueColumns+` FROM issues WHERE tenant_id = ? AND id = ?`, t.tenantID, id)
	return scanIssue(row)
}

// ListIssues lists issues matching filter ordered by sequence number.
func (t *tenantTx) ListIssues(ctx context.Context, filter app.IssueFilter) ([]domain.Issue, error) {
	var (
		where = []string{"tenant_id = ?"}
		args  = []any{t.tenantID}
	)
	if id := strings.TrimSpace(filter.ProcessID); id != "" {
		where = append(where, "process_id = ?")
		args = append(args, id)
	}
	if filter.Dimension != "" {
		where = append(where, "dimension = ?")
		args = append(args, string(filter.Dimension))
	}
	if len(filter.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(filter.Statuses))+")")
		for _, status := range filter.Statuses {
			args = append(args, string(status))
		}
	}
	query := `SELECT ` + issueColumns + ` FROM issues WHERE ` + strings.Join(where, " AND ") + ` ORDER BY sequence_number ASC`
	rows, err := t.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Issue, 0)
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, issue)
	}
	return out, rows.Err()
}

// AppendHistory inserts history entries in order.
func (t *tenantTx) AppendHistory(ctx context.Context, entries []domain.HistoryEntry) error {
	for _, entry := range entries {
		_, err := t.exec(ctx, `
			INSERT INTO issue_history(id, tenant_id, issue_id, field, old_value, new_value, changed_by, changed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`,
			entry.ID,
			t.tenantID,
			entry.IssueID,
			string(entry.Field),
			entry.OldValue,
			entry.NewValue,
			entry.ChangedBy,
			ts(entry.ChangedAt),
		)
		if err != nil {
			return fmt.Errorf("insert issue history %q: %w", entry.ID, err)
		}
	}
	return nil
}

// ListHistory returns the ledger of one issue in insertion order.
func (t *tenantTx) ListHistory(ctx context.Context, issueID string) ([]domain.HistoryEntry, error) {
	rows, err := t.query(ctx, `
		SELECT id, tenant_id, issue_id, field, old_value, new_value, changed_by, changed_at
		FROM issue_history
		WHERE tenant_id = ? AND issue_id = ?
		ORDER BY seq ASC
	`, t.tenantID, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.HistoryEntry, 0)
	for rows.Next() {
		var (
			entry      domain.HistoryEntry
			fieldRaw   string
			changedRaw string
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.TenantID,
			&entry.IssueID,
			&fieldRaw,
			&entry.OldValue,
			&entry.NewValue,
			&entry.ChangedBy,
			&changedRaw,
		); err != nil {
			return nil, err
		}
		entry.Field = domain.HistoryField(fieldRaw)
		entry.ChangedAt = parseTS(changedRaw)
		out = append(out, entry)
	}
	return out, rows.Err()
}

// scanIssue decodes one issues row.
func scanIssue(s scanner) (domain.Issue, error) {
	var (
		i              domain.Issue
		dimensionRaw   string
		criticalityRaw string
		statusRaw      string
		raisedRaw      string
		targetRaw      sql.NullString
		resolvedRaw    sql.NullString
		createdRaw     string
		updatedRaw     string
	)
	if err := s.Scan(
		&i.ID,
		&i.TenantID,
		&i.SequenceNumber,
		&i.Title,
		&i.Description,
		&dimensionRaw,
		&criticalityRaw,
		&statusRaw,
		&i.ProcessID,
		&i.Process.Code,
		&i.Process.Name,
		&i.Process.DepthLevel,
		&i.AssigneeID,
		&i.RaisedBy,
		&raisedRaw,
		&targetRaw,
		&resolvedRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Issue{}, app.ErrNotFound
		}
		return domain.Issue{}, err
	}
	i.Dimension = domain.NormalizeDimension(domain.Dimension(dimensionRaw))
	if !domain.IsValidDimension(i.Dimension) {
		return domain.Issue{}, fmt.Errorf("decode issue dimension %q: %w", dimensionRaw, domain.ErrInvalidDimension)
	}
	i.Criticality = domain.NormalizeCriticality(domain.Criticality(criticalityRaw))
	i.Status = domain.NormalizeIssueStatus(domain.IssueStatus(statusRaw))
	i.RaisedAt = parseTS(raisedRaw)
	i.TargetResolutionAt = parseNullTS(targetRaw)
	i.ResolvedAt = parseNullTS(resolvedRaw)
	i.CreatedAt = parseTS(createdRaw)
	i.UpdatedAt = parseTS(updatedRaw)
	return i, nil
}
