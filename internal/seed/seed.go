// Package seed loads YAML process trees and applies them to one tenant through the process service.
package seed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hylla/bomcat/internal/adapters/server/common"
	"github.com/hylla/bomcat/internal/domain"
)

// ErrEmptyDocument reports a seed file without any process.
var ErrEmptyDocument = errors.New("seed: document has no processes")

// Document is the root of a seed file.
type Document struct {
	Processes []Process `yaml:"processes"`
}

// Process is one node of the seeded tree. Children keep their file order.
type Process struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description,omitempty"`
	Status      string    `yaml:"status,omitempty"`
	Issues      []Issue   `yaml:"issues,omitempty"`
	Children    []Process `yaml:"children,omitempty"`
}

// Issue is one issue raised against its enclosing process.
type Issue struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description,omitempty"`
	Dimension   string `yaml:"dimension"`
	Criticality string `yaml:"criticality"`
	Assignee    string `yaml:"assignee,omitempty"`
	Status      string `yaml:"status,omitempty"`
}

// Service is the subset of the process service a seed run needs.
type Service interface {
	InsertNode(ctx context.Context, tenantID string, in common.InsertNodeRequest) (common.ProcessNode, error)
	CreateIssue(ctx context.Context, tenantID string, in common.CreateIssueRequest) (common.Issue, error)
	TransitionIssue(ctx context.Context, tenantID, issueID string, in common.TransitionIssueRequest) (common.Issue, error)
}

// Result counts what one Apply created.
type Result struct {
	Processes int
	Issues    int
}

// Parse decodes and validates one seed payload.
func Parse(data []byte) (Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Document{}, ErrEmptyDocument
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("seed: decode document: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// LoadFile reads and parses the seed file at path.
func LoadFile(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("seed: read %s: %w", path, err)
	}
	doc, err := Parse(data)
	if err != nil {
		return Document{}, fmt.Errorf("seed: %s: %w", path, err)
	}
	return doc, nil
}

// Validate checks names, classifications and target statuses before anything is written.
func (d Document) Validate() error {
	if len(d.Processes) == 0 {
		return ErrEmptyDocument
	}
	for idx, process := range d.Processes {
		if err := process.validate(fmt.Sprintf("processes[%d]", idx)); err != nil {
			return err
		}
	}
	return nil
}

// validate checks one process and its subtree. path locates it in the document.
func (p Process) validate(path string) error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("seed: %s: name is required", path)
	}
	if status := domain.NormalizeNodeStatus(domain.NodeStatus(p.Status)); status != "" &&
		(!domain.IsValidNodeStatus(status) || status == domain.NodeStatusArchived) {
		return fmt.Errorf("seed: %s: invalid status %q", path, p.Status)
	}
	for idx, issue := range p.Issues {
		issuePath := fmt.Sprintf("%s.issues[%d]", path, idx)
		if strings.TrimSpace(issue.Title) == "" {
			return fmt.Errorf("seed: %s: title is required", issuePath)
		}
		if !domain.IsValidDimension(domain.Dimension(issue.Dimension)) {
			return fmt.Errorf("seed: %s: invalid dimension %q", issuePath, issue.Dimension)
		}
		if !domain.IsValidCriticality(domain.Criticality(issue.Criticality)) {
			return fmt.Errorf("seed: %s: invalid criticality %q", issuePath, issue.Criticality)
		}
		if _, ok := transitionPath(issue.Status); !ok {
			return fmt.Errorf("seed: %s: invalid status %q", issuePath, issue.Status)
		}
	}
	for idx, child := range p.Children {
		if err := child.validate(fmt.Sprintf("%s.children[%d]", path, idx)); err != nil {
			return err
		}
	}
	return nil
}

// Apply inserts the document depth-first under the tenant's existing roots.
// Issues with a non-open status are walked there through legal transitions.
func Apply(ctx context.Context, svc Service, tenantID string, doc Document) (Result, error) {
	if err := doc.Validate(); err != nil {
		return Result{}, err
	}
	var result Result
	for _, process := range doc.Processes {
		if err := applyProcess(ctx, svc, tenantID, "", process, &result); err != nil {
			return result, err
		}
	}
	return result, nil
}

// applyProcess inserts p under parentID, then its issues, then its children.
func applyProcess(ctx context.Context, svc Service, tenantID, parentID string, p Process, result *Result) error {
	node, err := svc.InsertNode(ctx, tenantID, common.InsertNodeRequest{
		ParentID:    parentID,
		Name:        p.Name,
		Description: p.Description,
		Status:      string(domain.NormalizeNodeStatus(domain.NodeStatus(p.Status))),
	})
	if err != nil {
		return fmt.Errorf("insert process %q: %w", p.Name, err)
	}
	result.Processes++

	for _, in := range p.Issues {
		issue, err := svc.CreateIssue(ctx, tenantID, common.CreateIssueRequest{
			ProcessID:   node.ID,
			Title:       in.Title,
			Description: in.Description,
			Dimension:   string(domain.NormalizeDimension(domain.Dimension(in.Dimension))),
			Criticality: string(domain.NormalizeCriticality(domain.Criticality(in.Criticality))),
			AssigneeID:  in.Assignee,
		})
		if err != nil {
			return fmt.Errorf("create issue %q on %s: %w", in.Title, node.Code, err)
		}
		steps, _ := transitionPath(in.Status)
		for _, status := range steps {
			if _, err := svc.TransitionIssue(ctx, tenantID, issue.ID, common.TransitionIssueRequest{Status: string(status)}); err != nil {
				return fmt.Errorf("transition issue %s to %s: %w", issue.DisplayID, status, err)
			}
		}
		result.Issues++
	}

	for _, child := range p.Children {
		if err := applyProcess(ctx, svc, tenantID, node.ID, child, result); err != nil {
			return err
		}
	}
	return nil
}

// transitionPath returns the transitions that take a new issue from open to status.
func transitionPath(status string) ([]domain.IssueStatus, bool) {
	switch domain.NormalizeIssueStatus(domain.IssueStatus(status)) {
	case "", domain.IssueStatusOpen:
		return nil, true
	case domain.IssueStatusInProgress:
		return []domain.IssueStatus{domain.IssueStatusInProgress}, true
	case domain.IssueStatusResolved:
		return []domain.IssueStatus{domain.IssueStatusInProgress, domain.IssueStatusResolved}, true
	case domain.IssueStatusDeferred:
		return []domain.IssueStatus{domain.IssueStatusDeferred}, true
	case domain.IssueStatusClosed:
		return []domain.IssueStatus{domain.IssueStatusClosed}, true
	default:
		return nil, false
	}
}
