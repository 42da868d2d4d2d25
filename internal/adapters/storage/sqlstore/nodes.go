package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hylla/bomcat/internal/app"
	"github.com/hylla/bomcat/internal/domain"
)

// nodeColumns lists process_nodes columns in scanNode order.
const nodeColumns = `id, tenant_id, parent_id, position, depth_level, code, name, description, status,
	rag_people, rag_process, rag_system, rag_data, last_reviewed_at, reviewed_by, created_at, updated_at, archived_at`

// ListNodes lists the tenant's nodes ordered by creation.
func (t *tenantTx) ListNodes(ctx context.Context, includeArchived bool) ([]domain.ProcessNode, error) {
	query := `SELECT ` + nodeColumns + ` FROM process_nodes WHERE tenant_id = ?`
	if !includeArchived {
		query += ` AND archived_at IS NULL`
	}
	query += ` ORDER BY created_at ASC, id ASC`
	rows, err := t.query(ctx, query, t.tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.ProcessNode, 0)
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, node)
	}
	return out, rows.Err()
}

// GetNode returns one node of the tenant.
func (t *tenantTx) GetNode(ctx context.Context, id string) (domain.ProcessNode, error) {
	row := t.queryRow(ctx, `SELECT `+nodeColumns+` FROM process_nodes WHERE tenant_id = ? AND id = ?`, t.tenantID, id)
	return scanNode(row)
}

// CreateNode inserts a new node.
func (t *tenantTx) CreateNode(ctx context.Context, n domain.ProcessNode) error {
	_, err := t.exec(ctx, `
		INSERT INTO process_nodes(`+nodeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		n.ID,
		t.tenantID,
		n.ParentID,
		n.Position,
		n.DepthLevel,
		n.Code,
		n.Name,
		n.Description,
		string(n.Status),
		string(n.RAG.People),
		string(n.RAG.Process),
		string(n.RAG.System),
		string(n.RAG.Data),
		nullableTS(n.LastReviewedAt),
		n.ReviewedBy,
		ts(n.CreatedAt),
		ts(n.UpdatedAt),
		nullableTS(n.ArchivedAt),
	)
	if err != nil {
		return fmt.Errorf("insert process node %q: %w", n.ID, err)
	}
	return nil
}

// SaveNodes writes placement in two phases so the unique code index never sees a transient duplicate.
// Status is written only for archived nodes; descriptive edits committed since the tree load survive.
func (t *tenantTx) SaveNodes(ctx context.Context, nodes []domain.ProcessNode) error {
	for _, n := range nodes {
		res, err := t.exec(ctx, `UPDATE process_nodes SET code = ? WHERE tenant_id = ? AND id = ?`, "~"+n.ID, t.tenantID, n.ID)
		if err != nil {
			return fmt.Errorf("park code of %q: %w", n.ID, err)
		}
		if err := translateNoRows(res); err != nil {
			return err
		}
	}
	for _, n := range nodes {
		var status any
		if n.IsArchived() {
			status = string(n.Status)
		}
		_, err := t.exec(ctx, `
			UPDATE process_nodes
			SET parent_id = ?, position = ?, depth_level = ?, code = ?, status = COALESCE(?, status), updated_at = ?, archived_at = ?
			WHERE tenant_id = ? AND id = ?
		`,
			n.ParentID,
			n.Position,
			n.DepthLevel,
			n.Code,
			status,
			ts(n.UpdatedAt),
			nullableTS(n.ArchivedAt),
			t.tenantID,
			n.ID,
		)
		if err != nil {
			return fmt.Errorf("save placement of %q: %w", n.ID, err)
		}
	}
	return nil
}

// UpdateNodeDetails writes the descriptive fields of a node.
func (t *tenantTx) UpdateNodeDetails(ctx context.Context, n domain.ProcessNode) error {
	res, err := t.exec(ctx, `
		UPDATE process_nodes
		SET name = ?, description = ?, status = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`, n.Name, n.Description, string(n.Status), ts(n.UpdatedAt), t.tenantID, n.ID)
	if err != nil {
		return err
	}
	return translateNoRows(res)
}

// UpdateNodeRAG writes the persisted RAG state and review stamp of a node.
func (t *tenantTx) UpdateNodeRAG(ctx context.Context, n domain.ProcessNode) error {
	res, err := t.exec(ctx, `
		UPDATE process_nodes
		SET rag_people = ?, rag_process = ?, rag_system = ?, rag_data = ?, last_reviewed_at = ?, reviewed_by = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`,
		string(n.RAG.People),
		string(n.RAG.Process),
		string(n.RAG.System),
		string(n.RAG.Data),
		nullableTS(n.LastReviewedAt),
		n.ReviewedBy,
		ts(n.UpdatedAt),
		t.tenantID,
		n.ID,
	)
	if err != nil {
		return err
	}
	return translateNoRows(res)
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanNode decodes one process_nodes row.
func scanNode(s scanner) (domain.ProcessNode, error) {
	var (
		n           domain.ProcessNode
		statusRaw   string
		peopleRaw   string
		processRaw  string
		systemRaw   string
		dataRaw     string
		reviewedRaw sql.NullString
		createdRaw  string
		updatedRaw  string
		archivedRaw sql.NullString
	)
	if err := s.Scan(
		&n.ID,
		&n.TenantID,
		&n.ParentID,
		&n.Position,
		&n.DepthLevel,
		&n.Code,
		&n.Name,
		&n.Description,
		&statusRaw,
		&peopleRaw,
		&processRaw,
		&systemRaw,
		&dataRaw,
		&reviewedRaw,
		&n.ReviewedBy,
		&createdRaw,
		&updatedRaw,
		&archivedRaw,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ProcessNode{}, app.ErrNotFound
		}
		return domain.ProcessNode{}, err
	}
	n.Status = domain.NormalizeNodeStatus(domain.NodeStatus(statusRaw))
	n.RAG = domain.RAGState{
		People:  scanRAG(peopleRaw),
		Process: scanRAG(processRaw),
		System:  scanRAG(systemRaw),
		Data:    scanRAG(dataRaw),
	}
	n.LastReviewedAt = parseNullTS(reviewedRaw)
	n.CreatedAt = parseTS(createdRaw)
	n.UpdatedAt = parseTS(updatedRaw)
	n.ArchivedAt = parseNullTS(archivedRaw)
	return n, nil
}

// scanRAG decodes a stored RAG value, reading unknown values as neutral.
func scanRAG(raw string) domain.RAGStatus {
	status := domain.NormalizeRAGStatus(domain.RAGStatus(raw))
	if !domain.IsValidRAGStatus(status) {
		return domain.RAGNeutral
	}
	return status
}
