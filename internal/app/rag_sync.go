package app

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"time"

	"github.com/hylla/bomcat/internal/domain"
)

// RagSynchronizer derives persisted dimension statuses of a process node from its open issues.
type RagSynchronizer struct {
	repo TenantRepository
	now  time.Time
}

// NewRagSynchronizer constructs a synchronizer bound to one tenant transaction.
func NewRagSynchronizer(repo TenantRepository, now time.Time) *RagSynchronizer {
	return &RagSynchronizer{repo: repo, now: now.UTC()}
}

// Recompute re-derives and persists the four dimension statuses of processID.
func (r *RagSynchronizer) Recompute(ctx context.Context, processID string) (domain.ProcessNode, error) {
	node, _, err := r.recompute(ctx, processID)
	return node, err
}

// recompute re-derives processID and reports whether its stored state changed.
func (r *RagSynchronizer) recompute(ctx context.Context, processID string) (domain.ProcessNode, bool, error) {
	node, err := r.loadNode(ctx, processID)
	if err != nil {
		return domain.ProcessNode{}, false, err
	}
	return r.persist(ctx, node, false)
}

// Assess applies an explicit human assessment of one dimension. Green is rejected while the dimension has open issues.
func (r *RagSynchronizer) Assess(ctx context.Context, processID string, dim domain.Dimension, status domain.RAGStatus, reviewer string) (domain.ProcessNode, error) {
	dim = domain.NormalizeDimension(dim)
	status = domain.NormalizeRAGStatus(status)
	if !domain.IsValidDimension(dim) {
		return domain.ProcessNode{}, domain.ErrInvalidDimension
	}
	if status != domain.RAGGreen && status != domain.RAGNeutral {
		return domain.ProcessNode{}, domain.ErrInvalidRAGStatus
	}
	node, err := r.loadNode(ctx, processID)
	if err != nil {
		return domain.ProcessNode{}, err
	}
	if node.IsArchived() {
		return domain.ProcessNode{}, domain.ErrNodeArchived
	}
	if status == domain.RAGGreen {
		open, err := r.repo.ListIssues(ctx, IssueFilter{ProcessID: node.ID, Dimension: dim, Statuses: domain.OpenIssueStatuses()})
		if err != nil {
			return domain.ProcessNode{}, err
		}
		if len(open) > 0 {
			return domain.ProcessNode{}, &domain.OpenIssuesConflictError{Dimension: dim, OpenIssueIDs: issueIDs(open)}
		}
	}
	if err := node.RAG.Set(dim, status); err != nil {
		return domain.ProcessNode{}, err
	}
	node.MarkReviewed(reviewer, r.now)
	node, _, err = r.persist(ctx, node, true)
	return node, err
}

// persist recomputes node from its open issues and writes it when anything changed.
func (r *RagSynchronizer) persist(ctx context.Context, node domain.ProcessNode, force bool) (domain.ProcessNode, bool, error) {
	open, err := r.repo.ListIssues(ctx, IssueFilter{ProcessID: node.ID, Statuses: domain.OpenIssueStatuses()})
	if err != nil {
		return domain.ProcessNode{}, false, err
	}
	next := DeriveRAG(node, open)
	changed := next != node.RAG
	ragRecomputes.WithLabelValues(string(next.Overall()), strconv.FormatBool(changed || force)).Inc()
	if !changed && !force {
		return node, false, nil
	}
	node.RAG = next
	node.UpdatedAt = r.now
	if err := r.repo.UpdateNodeRAG(ctx, node); err != nil {
		return domain.ProcessNode{}, false, err
	}
	return node, changed, nil
}

// loadNode fetches a node, reporting a missing id as ProcessNotFoundError.
func (r *RagSynchronizer) loadNode(ctx context.Context, processID string) (domain.ProcessNode, error) {
	node, err := r.repo.GetNode(ctx, processID)
	if errors.Is(err, ErrNotFound) {
		return domain.ProcessNode{}, &ProcessNotFoundError{ProcessID: processID}
	}
	return node, err
}

// DeriveRAG applies the precedence rules to node using its open issues.
// High forces red, any other open issue forces amber, a reviewed green survives only without issues, and everything else is neutral.
func DeriveRAG(node domain.ProcessNode, issues []domain.Issue) domain.RAGState {
	type tally struct {
		high bool
		any  bool
	}
	tallies := map[domain.Dimension]*tally{}
	for _, dim := range domain.Dimensions {
		tallies[dim] = &tally{}
	}
	for _, issue := range issues {
		if issue.ProcessID != node.ID || !issue.IsOpen() {
			continue
		}
		t, ok := tallies[issue.Dimension]
		if !ok {
			continue
		}
		t.any = true
		if issue.Criticality == domain.CriticalityHigh {
			t.high = true
		}
	}

	out := domain.NeutralRAGState()
	for _, dim := range domain.Dimensions {
		t := tallies[dim]
		next := domain.RAGNeutral
		switch {
		case t.high:
			next = domain.RAGRed
		case t.any:
			next = domain.RAGAmber
		case node.LastReviewedAt != nil && node.RAG.Get(dim) == domain.RAGGreen:
			next = domain.RAGGreen
		}
		_ = out.Set(dim, next)
	}
	return out
}

// issueIDs returns the sorted ids of issues.
func issueIDs(issues []domain.Issue) []string {
	ids := make([]string, 0, len(issues))
	for _, issue := range issues {
		ids = append(ids, issue.ID)
	}
	slices.Sort(ids)
	return ids
}
