package app

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/hylla/bomcat/internal/domain"
)

type fakeState struct {
	nodes   map[string]domain.ProcessNode
	issues  map[string]domain.Issue
	history []domain.HistoryEntry
}

func (s *fakeState) clone() *fakeState {
	return &fakeState{
		nodes:   maps.Clone(s.nodes),
		issues:  maps.Clone(s.issues),
		history: slices.Clone(s.history),
	}
}

// fakeRepo is a transactional in-memory Repository. Each WithTenant call works on a copy committed only on success.
type fakeRepo struct {
	mu           sync.Mutex
	tenants      map[string]*fakeState
	seqConflicts int
	treeLocks    int
	processLocks []string
	// afterTreeLoad runs once inside the next full tree load, after the snapshot is taken.
	afterTreeLoad func(tx *fakeTx)
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{tenants: map[string]*fakeState{}}
}

func (f *fakeRepo) WithTenant(_ context.Context, tenantID string, fn func(TenantRepository) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.tenants[tenantID]
	if !ok {
		state = &fakeState{nodes: map[string]domain.ProcessNode{}, issues: map[string]domain.Issue{}}
	}
	tx := &fakeTx{repo: f, tenantID: tenantID, state: state.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	f.tenants[tenantID] = tx.state
	return nil
}

// state returns a committed snapshot for assertions.
func (f *fakeRepo) state(tenantID string) *fakeState {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.tenants[tenantID]
	if !ok {
		return &fakeState{nodes: map[string]domain.ProcessNode{}, issues: map[string]domain.Issue{}}
	}
	return state.clone()
}

// putNode overwrites a committed node, bypassing the service.
func (f *fakeRepo) putNode(node domain.ProcessNode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tenants[node.TenantID].nodes[node.ID] = node
}

type fakeTx struct {
	repo     *fakeRepo
	tenantID string
	state    *fakeState
}

func (t *fakeTx) TenantID() string { return t.tenantID }

func (t *fakeTx) LockTree(context.Context) error {
	t.repo.treeLocks++
	return nil
}

func (t *fakeTx) LockProcess(_ context.Context, id string) error {
	if _, ok := t.state.nodes[id]; !ok {
		return ErrNotFound
	}
	t.repo.processLocks = append(t.repo.processLocks, id)
	return nil
}

func (t *fakeTx) ListNodes(_ context.Context, includeArchived bool) ([]domain.ProcessNode, error) {
	out := make([]domain.ProcessNode, 0, len(t.state.nodes))
	for _, n := range t.state.nodes {
		if !includeArchived && n.IsArchived() {
			continue
		}
		out = append(out, n)
	}
	slices.SortFunc(out, func(a, b domain.ProcessNode) int { return a.CreatedAt.Compare(b.CreatedAt) })
	if hook := t.repo.afterTreeLoad; hook != nil && includeArchived {
		t.repo.afterTreeLoad = nil
		hook(t)
	}
	return out, nil
}

func (t *fakeTx) GetNode(_ context.Context, id string) (domain.ProcessNode, error) {
	n, ok := t.state.nodes[id]
	if !ok {
		return domain.ProcessNode{}, ErrNotFound
	}
	return n, nil
}

func (t *fakeTx) CreateNode(_ context.Context, n domain.ProcessNode) error {
	if _, ok := t.state.nodes[n.ID]; ok {
		return fmt.Errorf("duplicate node id %q", n.ID)
	}
	t.state.nodes[n.ID] = n
	return t.checkCodes()
}

// SaveNodes mirrors the placement UPDATE: status is only written for archived nodes.
func (t *fakeTx) SaveNodes(_ context.Context, nodes []domain.ProcessNode) error {
	for _, n := range nodes {
		current, ok := t.state.nodes[n.ID]
		if !ok {
			return ErrNotFound
		}
		current.ParentID, current.Position, current.DepthLevel, current.Code = n.ParentID, n.Position, n.DepthLevel, n.Code
		current.UpdatedAt, current.ArchivedAt = n.UpdatedAt, n.ArchivedAt
		if n.IsArchived() {
			current.Status = n.Status
		}
		t.state.nodes[n.ID] = current
	}
	return t.checkCodes()
}

func (t *fakeTx) UpdateNodeDetails(_ context.Context, n domain.ProcessNode) error {
	current, ok := t.state.nodes[n.ID]
	if !ok {
		return ErrNotFound
	}
	current.Name, current.Description, current.Status, current.UpdatedAt = n.Name, n.Description, n.Status, n.UpdatedAt
	t.state.nodes[n.ID] = current
	return nil
}

func (t *fakeTx) UpdateNodeRAG(_ context.Context, n domain.ProcessNode) error {
	current, ok := t.state.nodes[n.ID]
	if !ok {
		return ErrNotFound
	}
	current.RAG, current.LastReviewedAt, current.ReviewedBy, current.UpdatedAt = n.RAG, n.LastReviewedAt, n.ReviewedBy, n.UpdatedAt
	t.state.nodes[n.ID] = current
	return nil
}

// checkCodes mirrors the unique (tenant_id, code) index over active nodes.
func (t *fakeTx) checkCodes() error {
	seen := map[string]string{}
	for _, n := range t.state.nodes {
		if n.IsArchived() {
			continue
		}
		if other, ok := seen[n.Code]; ok {
			return fmt.Errorf("duplicate code %q for %s and %s", n.Code, other, n.ID)
		}
		seen[n.Code] = n.ID
	}
	return nil
}

func (t *fakeTx) NextIssueSequence(context.Context) (int64, error) {
	var maxSeq int64
	for _, i := range t.state.issues {
		maxSeq = max(maxSeq, i.SequenceNumber)
	}
	return maxSeq + 1, nil
}

func (t *fakeTx) CreateIssue(_ context.Context, issue domain.Issue) error {
	if t.repo.seqConflicts > 0 {
		t.repo.seqConflicts--
		return ErrSequenceConflict
	}
	for _, existing := range t.state.issues {
		if existing.SequenceNumber == issue.SequenceNumber {
			return ErrSequenceConflict
		}
	}
	t.state.issues[issue.ID] = issue
	return nil
}

func (t *fakeTx) UpdateIssue(_ context.Context, issue domain.Issue) error {
	if _, ok := t.state.issues[issue.ID]; !ok {
		return ErrNotFound
	}
	t.state.issues[issue.ID] = issue
	return nil
}

func (t *fakeTx) DeleteIssue(_ context.Context, id string) error {
	if _, ok := t.state.issues[id]; !ok {
		return ErrNotFound
	}
	delete(t.state.issues, id)
	return nil
}

func (t *fakeTx) GetIssue(_ context.Context, id string) (domain.Issue, error) {
	issue, ok := t.state.issues[id]
	if !ok {
		return domain.Issue{}, ErrNotFound
	}
	return issue, nil
}

func (t *fakeTx) ListIssues(_ context.Context, filter IssueFilter) ([]domain.Issue, error) {
	out := make([]domain.Issue, 0, len(t.state.issues))
	for _, issue := range t.state.issues {
		if filter.ProcessID != "" && issue.ProcessID != filter.ProcessID {
			continue
		}
		if filter.Dimension != "" && issue.Dimension != filter.Dimension {
			continue
		}
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, issue.Status) {
			continue
		}
		out = append(out, issue)
	}
	slices.SortFunc(out, func(a, b domain.Issue) int { return int(a.SequenceNumber - b.SequenceNumber) })
	return out, nil
}

func (t *fakeTx) AppendHistory(_ context.Context, entries []domain.HistoryEntry) error {
	t.state.history = append(t.state.history, entries...)
	return nil
}

func (t *fakeTx) ListHistory(_ context.Context, issueID string) ([]domain.HistoryEntry, error) {
	out := make([]domain.HistoryEntry, 0)
	for _, entry := range t.state.history {
		if entry.IssueID == issueID {
			out = append(out, entry)
		}
	}
	return out, nil
}

// newTestService builds a service with sequential ids and a clock that advances one second per call.
func newTestService(repo *fakeRepo, cfg ServiceConfig) *Service {
	base := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	var (
		mu      sync.Mutex
		counter int
		ticks   int
	)
	return NewService(repo, func() string {
		mu.Lock()
		defer mu.Unlock()
		counter++
		return fmt.Sprintf("id-%03d", counter)
	}, func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		ticks++
		return base.Add(time.Duration(ticks) * time.Second)
	}, cfg)
}
