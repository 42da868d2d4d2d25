package app

import (
	"context"

	"github.com/hylla/bomcat/internal/domain"
)

// issueWriter is the only path that mutates issues. Every write finishes with a RAG recompute of the linked process.
type issueWriter struct {
	repo  TenantRepository
	rag   *RagSynchronizer
	idGen IDGenerator
	actor string
}

// newIssueWriter binds an issue writer to one tenant transaction.
func newIssueWriter(repo TenantRepository, rag *RagSynchronizer, idGen IDGenerator, actor string) *issueWriter {
	return &issueWriter{repo: repo, rag: rag, idGen: idGen, actor: actor}
}

// create stores a new issue and recomputes its process.
func (w *issueWriter) create(ctx context.Context, issue domain.Issue) error {
	if err := w.repo.CreateIssue(ctx, issue); err != nil {
		return err
	}
	_, err := w.rag.Recompute(ctx, issue.ProcessID)
	return err
}

// update stores after, appends history for tracked field changes, and recomputes the process.
func (w *issueWriter) update(ctx context.Context, before, after domain.Issue) error {
	if err := w.repo.UpdateIssue(ctx, after); err != nil {
		return err
	}
	changes := domain.DiffIssue(before, after)
	if len(changes) > 0 {
		entries := make([]domain.HistoryEntry, 0, len(changes))
		for _, change := range changes {
			entry, err := domain.NewHistoryEntry(w.idGen(), after.TenantID, after.ID, change, w.actor, after.UpdatedAt)
			if err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		if err := w.repo.AppendHistory(ctx, entries); err != nil {
			return err
		}
	}
	_, err := w.rag.Recompute(ctx, after.ProcessID)
	return err
}

// delete removes issue and recomputes its process. History rows are kept.
func (w *issueWriter) delete(ctx context.Context, issue domain.Issue) error {
	if err := w.repo.DeleteIssue(ctx, issue.ID); err != nil {
		return err
	}
	_, err := w.rag.Recompute(ctx, issue.ProcessID)
	return err
}
