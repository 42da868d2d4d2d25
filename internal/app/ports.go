package app

import (
	"context"

	"github.com/hylla/bomcat/internal/domain"
)

// Repository opens tenant-scoped transactional units of work.
type Repository interface {
	// WithTenant runs fn inside one transaction bound to tenantID. A non-nil error from fn rolls back every write.
	WithTenant(ctx context.Context, tenantID string, fn func(TenantRepository) error) error
}

// TenantRepository is the storage surface for one tenant inside one transaction. Ids from other tenants are reported as ErrNotFound.
type TenantRepository interface {
	TenantID() string

	// LockTree serializes structural mutations of the tenant tree for the rest of the transaction.
	LockTree(context.Context) error
	// LockProcess serializes RAG recompute for one process for the rest of the transaction.
	LockProcess(context.Context, string) error

	ListNodes(context.Context, bool) ([]domain.ProcessNode, error)
	GetNode(context.Context, string) (domain.ProcessNode, error)
	CreateNode(context.Context, domain.ProcessNode) error
	// SaveNodes persists tree placement, code and lifecycle fields of the given nodes as one batch.
	SaveNodes(context.Context, []domain.ProcessNode) error
	UpdateNodeDetails(context.Context, domain.ProcessNode) error
	UpdateNodeRAG(context.Context, domain.ProcessNode) error

	NextIssueSequence(context.Context) (int64, error)
	// CreateIssue returns ErrSequenceConflict when the sequence number is already taken.
	CreateIssue(context.Context, domain.Issue) error
	UpdateIssue(context.Context, domain.Issue) error
	DeleteIssue(context.Context, string) error
	GetIssue(context.Context, string) (domain.Issue, error)
	ListIssues(context.Context, IssueFilter) ([]domain.Issue, error)

	AppendHistory(context.Context, []domain.HistoryEntry) error
	ListHistory(context.Context, string) ([]domain.HistoryEntry, error)
}

// IssueFilter narrows issue listings. Zero values match everything.
type IssueFilter struct {
	ProcessID string
	Dimension domain.Dimension
	Statuses  []domain.IssueStatus
}

// Locker provides keyed mutual exclusion across requests.
type Locker interface {
	// Lock blocks until key is held or ctx is done. The returned function releases the key.
	Lock(ctx context.Context, key string) (func(), error)
}
