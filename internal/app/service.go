package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/hylla/bomcat/internal/domain"
)

// DefaultMaxTreeNodes and related constants define package defaults.
const (
	DefaultMaxTreeNodes    = 50000
	DefaultSequenceRetries = 3
	DefaultIssuePrefix     = "ISS"
)

// heatmapBuildTimeout bounds one shared heatmap build independently of the callers waiting on it.
const heatmapBuildTimeout = 30 * time.Second

// ServiceConfig holds configuration for service.
type ServiceConfig struct {
	MaxTreeNodes    int
	SequenceRetries int
	IssuePrefix     string
	Locker          Locker
	Logger          *log.Logger
}

// IDGenerator returns unique identifiers for new entities.
type IDGenerator func() string

// Clock returns the current time.
type Clock func() time.Time

// Service runs the process hierarchy and derived-status operations.
type Service struct {
	repo            Repository
	idGen           IDGenerator
	clock           Clock
	locker          Locker
	logger          *log.Logger
	maxTreeNodes    int
	sequenceRetries int
	issuePrefix     string
	heatmaps        singleflight.Group
}

// NewService constructs a new value for this package.
func NewService(repo Repository, idGen IDGenerator, clock Clock, cfg ServiceConfig) *Service {
	if idGen == nil {
		idGen = uuid.NewString
	}
	if clock == nil {
		clock = time.Now
	}
	if cfg.MaxTreeNodes <= 0 {
		cfg.MaxTreeNodes = DefaultMaxTreeNodes
	}
	if cfg.SequenceRetries <= 0 {
		cfg.SequenceRetries = DefaultSequenceRetries
	}
	cfg.IssuePrefix = strings.TrimSpace(cfg.IssuePrefix)
	if cfg.IssuePrefix == "" {
		cfg.IssuePrefix = DefaultIssuePrefix
	}
	if cfg.Locker == nil {
		cfg.Locker = NewLocalLocker()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard)
	}

	return &Service{
		repo:            repo,
		idGen:           idGen,
		clock:           clock,
		locker:          cfg.Locker,
		logger:          cfg.Logger,
		maxTreeNodes:    cfg.MaxTreeNodes,
		sequenceRetries: cfg.SequenceRetries,
		issuePrefix:     cfg.IssuePrefix,
	}
}

// IssuePrefix returns the configured display-id prefix.
func (s *Service) IssuePrefix() string {
	return s.issuePrefix
}

// InsertNodeInput holds input values for insert node operations.
type InsertNodeInput struct {
	ParentID    string
	Position    *int
	Name        string
	Description string
	Status      domain.NodeStatus
}

// InsertNode creates a process node under ParentID. A nil Position appends; other positions are clamped and later siblings shift.
func (s *Service) InsertNode(ctx context.Context, tenantID string, in InsertNodeInput) (node domain.ProcessNode, err error) {
	ctx, span := startSpan(ctx, "InsertNode", tenantID, attribute.String("bomcat.parent_id", in.ParentID))
	defer func() { endSpan(span, err) }()

	tenantID, err = normalizeTenant(tenantID)
	if err != nil {
		return domain.ProcessNode{}, err
	}
	now := s.clock()
	node, err = domain.NewProcessNode(domain.ProcessNodeInput{
		ID:          s.idGen(),
		TenantID:    tenantID,
		ParentID:    in.ParentID,
		Name:        in.Name,
		Description: in.Description,
		Status:      in.Status,
	}, now)
	if err != nil {
		return domain.ProcessNode{}, err
	}

	err = s.structural(ctx, tenantID, now, func(ctx context.Context, repo TenantRepository, alloc *CodeAllocator) error {
		placed, err := alloc.Insert(node, in.Position)
		if err != nil {
			return err
		}
		shifted := alloc.Dirty()
		if err := repo.SaveNodes(ctx, shifted); err != nil {
			return err
		}
		if err := repo.CreateNode(ctx, placed); err != nil {
			return err
		}
		codesRenumbered.WithLabelValues("insert").Add(float64(len(shifted)))
		node = placed
		return nil
	})
	if err != nil {
		return domain.ProcessNode{}, fmt.Errorf("insert node: %w", err)
	}
	s.logger.Info("process node inserted", "tenant_id", tenantID, "node_id", node.ID, "code", node.Code)
	return node, nil
}

// ReparentNode moves nodeID under newParentID at newPosition. Reorder is a reparent to the current parent.
func (s *Service) ReparentNode(ctx context.Context, tenantID, nodeID, newParentID string, newPosition int) (node domain.ProcessNode, err error) {
	ctx, span := startSpan(ctx, "ReparentNode", tenantID, attribute.String("bomcat.node_id", nodeID), attribute.String("bomcat.parent_id", newParentID))
	defer func() { endSpan(span, err) }()

	tenantID, err = normalizeTenant(tenantID)
	if err != nil {
		return domain.ProcessNode{}, err
	}
	nodeID = strings.TrimSpace(nodeID)
	newParentID = strings.TrimSpace(newParentID)
	err = s.structural(ctx, tenantID, s.clock(), func(ctx context.Context, repo TenantRepository, alloc *CodeAllocator) error {
		if err := alloc.Reparent(nodeID, newParentID, newPosition); err != nil {
			return err
		}
		dirty := alloc.Dirty()
		if err := repo.SaveNodes(ctx, dirty); err != nil {
			return err
		}
		codesRenumbered.WithLabelValues("reparent").Add(float64(len(dirty)))
		moved, _ := alloc.tree.Node(nodeID)
		node = *moved
		return nil
	})
	if err != nil {
		return domain.ProcessNode{}, fmt.Errorf("reparent node: %w", err)
	}
	s.logger.Info("process node moved", "tenant_id", tenantID, "node_id", node.ID, "parent_id", node.ParentID, "code", node.Code)
	return node, nil
}

// ArchiveNode soft-deletes nodeID with its subtree and renumbers the surviving siblings. It returns the archived ids.
func (s *Service) ArchiveNode(ctx context.Context, tenantID, nodeID string) (archived []string, err error) {
	ctx, span := startSpan(ctx, "ArchiveNode", tenantID, attribute.String("bomcat.node_id", nodeID))
	defer func() { endSpan(span, err) }()

	tenantID, err = normalizeTenant(tenantID)
	if err != nil {
		return nil, err
	}
	nodeID = strings.TrimSpace(nodeID)
	err = s.structural(ctx, tenantID, s.clock(), func(ctx context.Context, repo TenantRepository, alloc *CodeAllocator) error {
		ids, err := alloc.Archive(nodeID)
		if err != nil {
			return err
		}
		dirty := alloc.Dirty()
		if err := repo.SaveNodes(ctx, dirty); err != nil {
			return err
		}
		codesRenumbered.WithLabelValues("archive").Add(float64(len(dirty) - len(ids)))
		archived = ids
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("archive node: %w", err)
	}
	s.logger.Info("process node archived", "tenant_id", tenantID, "node_id", nodeID, "archived", len(archived))
	return archived, nil
}

// RegenerateCodes repairs every code of the tenant and returns how many nodes changed.
func (s *Service) RegenerateCodes(ctx context.Context, tenantID string) (count int, err error) {
	ctx, span := startSpan(ctx, "RegenerateCodes", tenantID)
	defer func() { endSpan(span, err) }()

	tenantID, err = normalizeTenant(tenantID)
	if err != nil {
		return 0, err
	}
	err = s.structural(ctx, tenantID, s.clock(), func(ctx context.Context, repo TenantRepository, alloc *CodeAllocator) error {
		count = alloc.RegenerateAll()
		if err := repo.SaveNodes(ctx, alloc.Dirty()); err != nil {
			return err
		}
		codesRenumbered.WithLabelValues("regenerate").Add(float64(count))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("regenerate codes: %w", err)
	}
	s.logger.Info("process codes regenerated", "tenant_id", tenantID, "changed", count)
	return count, nil
}

// UpdateNodeInput holds input values for update node operations.
type UpdateNodeInput struct {
	NodeID      string
	Name        string
	Description string
	Status      domain.NodeStatus
}

// UpdateNodeDetails renames or re-describes a node. Issue snapshots are left untouched.
func (s *Service) UpdateNodeDetails(ctx context.Context, tenantID string, in UpdateNodeInput) (node domain.ProcessNode, err error) {
	ctx, span := startSpan(ctx, "UpdateNodeDetails", tenantID, attribute.String("bomcat.node_id", in.NodeID))
	defer func() { endSpan(span, err) }()

	tenantID, err = normalizeTenant(tenantID)
	if err != nil {
		return domain.ProcessNode{}, err
	}
	unlock, err := s.locker.Lock(ctx, treeLockKey(tenantID))
	if err != nil {
		return domain.ProcessNode{}, fmt.Errorf("update node: %w", err)
	}
	defer unlock()
	err = s.repo.WithTenant(ctx, tenantID, func(repo TenantRepository) error {
		if err := repo.LockTree(ctx); err != nil {
			return err
		}
		current, err := repo.GetNode(ctx, strings.TrimSpace(in.NodeID))
		if err != nil {
			return err
		}
		if current.IsArchived() {
			return domain.ErrNodeArchived
		}
		if err := current.UpdateDetails(in.Name, in.Description, in.Status, s.clock()); err != nil {
			return err
		}
		if err := repo.UpdateNodeDetails(ctx, current); err != nil {
			return err
		}
		node = current
		return nil
	})
	if err != nil {
		return domain.ProcessNode{}, fmt.Errorf("update node: %w", err)
	}
	return node, nil
}

// GetNode returns one node of the tenant.
func (s *Service) GetNode(ctx context.Context, tenantID, nodeID string) (node domain.ProcessNode, err error) {
	tenantID, err = normalizeTenant(tenantID)
	if err != nil {
		return domain.ProcessNode{}, err
	}
	err = s.repo.WithTenant(ctx, tenantID, func(repo TenantRepository) error {
		node, err = repo.GetNode(ctx, strings.TrimSpace(nodeID))
		return err
	})
	return node, err
}

// ListNodes returns active nodes in tree pre-order, followed by archived nodes when requested.
func (s *Service) ListNodes(ctx context.Context, tenantID string, includeArchived bool) (out []domain.ProcessNode, err error) {
	tenantID, err = normalizeTenant(tenantID)
	if err != nil {
		return nil, err
	}
	var nodes []domain.ProcessNode
	err = s.repo.WithTenant(ctx, tenantID, func(repo TenantRepository) error {
		nodes, err = repo.ListNodes(ctx, includeArchived)
		return err
	})
	if err != nil {
		return nil, err
	}
	tree := domain.NewProcessTree(nodes)
	order := tree.Preorder()
	out = make([]domain.ProcessNode, 0, len(nodes))
	for _, node := range order {
		out = append(out, *node)
	}
	if includeArchived {
		archived := make([]domain.ProcessNode, 0)
		for _, node := range nodes {
			if node.IsArchived() {
				archived = append(archived, node)
			}
		}
		slices.SortFunc(archived, func(a, b domain.ProcessNode) int {
			return a.ArchivedAt.Compare(*b.ArchivedAt)
		})
		out = append(out, archived...)
	}
	return out, nil
}

// CreateIssueInput holds input values for create issue operations.
type CreateIssueInput struct {
	ProcessID          string
	Title              string
	Description        string
	Dimension          domain.Dimension
	Criticality        domain.Criticality
	AssigneeID         string
	RaisedAt           *time.Time
	TargetResolutionAt *time.Time
}

// CreateIssue raises an issue against a process and recomputes its RAG state. Sequence collisions are retried a bounded number of times.
func (s *Service) CreateIssue(ctx context.Context, tenantID string, in CreateIssueInput) (issue domain.Issue, err error) {
	ctx, span := startSpan(ctx, "CreateIssue", tenantID, attribute.String("bomcat.process_id", in.ProcessID))
	defer func() { endSpan(span, err) }()

	tenantID, err = normalizeTenant(tenantID)
	if err != nil {
		return domain.Issue{}, err
	}
	in.ProcessID = strings.TrimSpace(in.ProcessID)
	if in.ProcessID == "" {
		return domain.Issue{}, &ProcessNotFoundError{}
	}
	unlock, err := s.locker.Lock(ctx, ragLockKey(tenantID, in.ProcessID))
	if err != nil {
		return domain.Issue{}, err
	}
	defer unlock()

	actor := actorOrDefault(ctx)
	for attempt := 1; attempt <= s.sequenceRetries; attempt++ {
		issue, err = s.createIssueOnce(ctx, tenantID, in, actor)
		if !errors.Is(err, ErrSequenceConflict) {
			if err != nil {
				return domain.Issue{}, fmt.Errorf("create issue: %w", err)
			}
			s.logger.Info("issue created", "tenant_id", tenantID, "issue", issue.DisplayID(s.issuePrefix), "process_id", issue.ProcessID)
			return issue, nil
		}
		sequenceRetries.Inc()
		s.logger.Warn("issue sequence collision", "tenant_id", tenantID, "attempt", attempt)
	}
	return domain.Issue{}, &SequenceExhaustedError{Attempts: s.sequenceRetries}
}

// createIssueOnce runs one create attempt in its own transaction.
func (s *Service) createIssueOnce(ctx context.Context, tenantID string, in CreateIssueInput, actor string) (issue domain.Issue, err error) {
	err = s.repo.WithTenant(ctx, tenantID, func(repo TenantRepository) error {
		now := s.clock()
		if err := lockProcess(ctx, repo, in.ProcessID); err != nil {
			return err
		}
		node, err := repo.GetNode(ctx, in.ProcessID)
		if errors.Is(err, ErrNotFound) {
			return &ProcessNotFoundError{ProcessID: in.ProcessID}
		}
		if err != nil {
			return err
		}
		seq, err := repo.NextIssueSequence(ctx)
		if err != nil {
			return err
		}
		issue, err = domain.NewIssue(domain.IssueInput{
			ID:                 s.idGen(),
			TenantID:           tenantID,
			SequenceNumber:     seq,
			Title:              in.Title,
			Description:        in.Description,
			Dimension:          in.Dimension,
			Criticality:        in.Criticality,
			Process:            node,
			AssigneeID:         in.AssigneeID,
			RaisedBy:           actor,
			RaisedAt:           in.RaisedAt,
			TargetResolutionAt: in.TargetResolutionAt,
		}, now)
		if err != nil {
			return err
		}
		return s.writer(repo, now, actor).create(ctx, issue)
	})
	return issue, err
}

// UpdateIssueInput holds input values for update issue operations. Nil fields are left unchanged.
type UpdateIssueInput struct {
	IssueID            string
	Title              *string
	Description        *string
	Dimension          *domain.Dimension
	Criticality        *domain.Criticality
	AssigneeID         *string
	TargetResolutionAt *time.Time
}

// UpdateIssue changes descriptive or classification fields and recomputes the linked process.
func (s *Service) UpdateIssue(ctx context.Context, tenantID string, in UpdateIssueInput) (issue domain.Issue, err error) {
	ctx, span := startSpan(ctx, "UpdateIssue", tenantID, attribute.String("bomcat.issue_id", in.IssueID))
	defer func() { endSpan(span, err) }()

	issue, err = s.mutateIssue(ctx, tenantID, in.IssueID, func(issue *domain.Issue, now time.Time) error {
		details := domain.IssueDetails{
			Title:              issue.Title,
			Description:        issue.Description,
			Dimension:          issue.Dimension,
			Criticality:        issue.Criticality,
			AssigneeID:         issue.AssigneeID,
			TargetResolutionAt: issue.TargetResolutionAt,
		}
		if in.Title != nil {
			details.Title = *in.Title
		}
		if in.Description != nil {
			details.Description = *in.Description
		}
		if in.Dimension != nil {
			details.Dimension = *in.Dimension
		}
		if in.Criticality != nil {
			details.Criticality = *in.Criticality
		}
		if in.AssigneeID != nil {
			details.AssigneeID = *in.AssigneeID
		}
		if in.TargetResolutionAt != nil {
			details.TargetResolutionAt = in.TargetResolutionAt
		}
		return issue.UpdateDetails(details, now)
	})
	if err != nil {
		return domain.Issue{}, fmt.Errorf("update issue: %w", err)
	}
	return issue, nil
}

// TransitionIssue moves an issue through its status state machine and recomputes the linked process.
func (s *Service) TransitionIssue(ctx context.Context, tenantID, issueID string, status domain.IssueStatus) (issue domain.Issue, err error) {
	ctx, span := startSpan(ctx, "TransitionIssue", tenantID, attribute.String("bomcat.issue_id", issueID), attribute.String("bomcat.status", string(status)))
	defer func() { endSpan(span, err) }()

	issue, err = s.mutateIssue(ctx, tenantID, issueID, func(issue *domain.Issue, now time.Time) error {
		return issue.Transition(status, now)
	})
	if err != nil {
		return domain.Issue{}, fmt.Errorf("transition issue: %w", err)
	}
	s.logger.Info("issue transitioned", "tenant_id", issue.TenantID, "issue", issue.DisplayID(s.issuePrefix), "status", issue.Status)
	return issue, nil
}

// DeleteIssue removes an issue and recomputes the linked process. Its history is kept.
func (s *Service) DeleteIssue(ctx context.Context, tenantID, issueID string) (err error) {
	ctx, span := startSpan(ctx, "DeleteIssue", tenantID, attribute.String("bomcat.issue_id", issueID))
	defer func() { endSpan(span, err) }()

	tenantID, err = normalizeTenant(tenantID)
	if err != nil {
		return err
	}
	issueID = strings.TrimSpace(issueID)
	current, err := s.GetIssue(ctx, tenantID, issueID)
	if err != nil {
		return err
	}
	unlock, err := s.locker.Lock(ctx, ragLockKey(tenantID, current.ProcessID))
	if err != nil {
		return err
	}
	defer unlock()

	err = s.repo.WithTenant(ctx, tenantID, func(repo TenantRepository) error {
		if err := lockProcess(ctx, repo, current.ProcessID); err != nil {
			return err
		}
		issue, err := repo.GetIssue(ctx, issueID)
		if err != nil {
			return err
		}
		return s.writer(repo, s.clock(), actorOrDefault(ctx)).delete(ctx, issue)
	})
	if err != nil {
		return fmt.Errorf("delete issue: %w", err)
	}
	return nil
}

// mutateIssue loads issueID under the process lock, applies mutate, and routes the write through the issue writer.
func (s *Service) mutateIssue(ctx context.Context, tenantID, issueID string, mutate func(*domain.Issue, time.Time) error) (issue domain.Issue, err error) {
	tenantID, err = normalizeTenant(tenantID)
	if err != nil {
		return domain.Issue{}, err
	}
	issueID = strings.TrimSpace(issueID)
	current, err := s.GetIssue(ctx, tenantID, issueID)
	if err != nil {
		return domain.Issue{}, err
	}
	unlock, err := s.locker.Lock(ctx, ragLockKey(tenantID, current.ProcessID))
	if err != nil {
		return domain.Issue{}, err
	}
	defer unlock()

	actor := actorOrDefault(ctx)
	err = s.repo.WithTenant(ctx, tenantID, func(repo TenantRepository) error {
		if err := lockProcess(ctx, repo, current.ProcessID); err != nil {
			return err
		}
		before, err := repo.GetIssue(ctx, issueID)
		if err != nil {
			return err
		}
		now := s.clock()
		after := before
		if err := mutate(&after, now); err != nil {
			return err
		}
		if err := s.writer(repo, now, actor).update(ctx, before, after); err != nil {
			return err
		}
		issue = after
		return nil
	})
	return issue, err
}

// GetIssue returns one issue of the tenant.
func (s *Service) GetIssue(ctx context.Context, tenantID, issueID string) (issue domain.Issue, err error) {
	tenantID, err = normalizeTenant(tenantID)
	if err != nil {
		return domain.Issue{}, err
	}
	err = s.repo.WithTenant(ctx, tenantID, func(repo TenantRepository) error {
		issue, err = repo.GetIssue(ctx, strings.TrimSpace(issueID))
		return err
	})
	return issue, err
}

// ListIssues returns tenant issues matching filter ordered by sequence number.
func (s *Service) ListIssues(ctx context.Context, tenantID string, filter IssueFilter) (issues []domain.Issue, err error) {
	tenantID, err = normalizeTenant(tenantID)
	if err != nil {
		return nil, err
	}
	err = s.repo.WithTenant(ctx, tenantID, func(repo TenantRepository) error {
		issues, err = repo.ListIssues(ctx, filter)
		return err
	})
	return issues, err
}

// ListIssueHistory returns the history of one issue oldest first. History outlives deleted issues.
func (s *Service) ListIssueHistory(ctx context.Context, tenantID, issueID string) (entries []domain.HistoryEntry, err error) {
	tenantID, err = normalizeTenant(tenantID)
	if err != nil {
		return nil, err
	}
	err = s.repo.WithTenant(ctx, tenantID, func(repo TenantRepository) error {
		entries, err = repo.ListHistory(ctx, strings.TrimSpace(issueID))
		return err
	})
	return entries, err
}

// SetExplicitRAG records an explicit review of one dimension. Green is rejected with OpenIssuesConflictError while open issues exist.
func (s *Service) SetExplicitRAG(ctx context.Context, tenantID, processID string, dim domain.Dimension, status domain.RAGStatus) (node domain.ProcessNode, err error) {
	ctx, span := startSpan(ctx, "SetExplicitRAG", tenantID, attribute.String("bomcat.process_id", processID), attribute.String("bomcat.dimension", string(dim)))
	defer func() { endSpan(span, err) }()

	tenantID, err = normalizeTenant(tenantID)
	if err != nil {
		return domain.ProcessNode{}, err
	}
	processID = strings.TrimSpace(processID)
	unlock, err := s.locker.Lock(ctx, ragLockKey(tenantID, processID))
	if err != nil {
		return domain.ProcessNode{}, err
	}
	defer unlock()

	reviewer := actorOrDefault(ctx)
	err = s.repo.WithTenant(ctx, tenantID, func(repo TenantRepository) error {
		if err := lockProcess(ctx, repo, processID); err != nil {
			return err
		}
		node, err = NewRagSynchronizer(repo, s.clock()).Assess(ctx, processID, dim, status, reviewer)
		return err
	})
	if err != nil {
		return domain.ProcessNode{}, fmt.Errorf("set explicit rag: %w", err)
	}
	s.logger.Info("rag assessed", "tenant_id", tenantID, "process_id", processID, "dimension", dim, "status", status, "reviewed_by", reviewer)
	return node, nil
}

// RecomputeAllRAG re-derives every active node of the tenant and returns how many changed.
func (s *Service) RecomputeAllRAG(ctx context.Context, tenantID string) (count int, err error) {
	ctx, span := startSpan(ctx, "RecomputeAllRAG", tenantID)
	defer func() { endSpan(span, err) }()

	nodes, err := s.ListNodes(ctx, tenantID, false)
	if err != nil {
		return 0, err
	}
	tenantID = strings.TrimSpace(tenantID)
	for _, node := range nodes {
		changed, err := s.recomputeOne(ctx, tenantID, node.ID)
		if err != nil {
			return count, fmt.Errorf("recompute rag %s: %w", node.ID, err)
		}
		if changed {
			count++
		}
	}
	s.logger.Info("rag recomputed", "tenant_id", tenantID, "nodes", len(nodes), "changed", count)
	return count, nil
}

// recomputeOne recomputes one process under its lock.
func (s *Service) recomputeOne(ctx context.Context, tenantID, processID string) (changed bool, err error) {
	unlock, err := s.locker.Lock(ctx, ragLockKey(tenantID, processID))
	if err != nil {
		return false, err
	}
	defer unlock()
	err = s.repo.WithTenant(ctx, tenantID, func(repo TenantRepository) error {
		if err := lockProcess(ctx, repo, processID); err != nil {
			return err
		}
		_, changed, err = NewRagSynchronizer(repo, s.clock()).recompute(ctx, processID)
		return err
	})
	return changed, err
}

// GetHeatmap builds the direct or rollup heatmap for the tenant. Identical concurrent requests share one build.
func (s *Service) GetHeatmap(ctx context.Context, tenantID string, rollup bool) (cells []domain.HeatmapCell, err error) {
	view := domain.HeatmapViewDirect
	if rollup {
		view = domain.HeatmapViewRollup
	}
	ctx, span := startSpan(ctx, "GetHeatmap", tenantID, attribute.String("bomcat.view", string(view)))
	defer func() { endSpan(span, err) }()

	tenantID, err = normalizeTenant(tenantID)
	if err != nil {
		return nil, err
	}
	results := s.heatmaps.DoChan(tenantID+"|"+string(view), func() (any, error) {
		// The shared build outlives the caller that started it; every caller still honours its own ctx.
		buildCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), heatmapBuildTimeout)
		defer cancel()
		started := time.Now()
		defer func() { heatmapDuration.WithLabelValues(string(view)).Observe(time.Since(started).Seconds()) }()

		var (
			nodes  []domain.ProcessNode
			issues []domain.Issue
		)
		err := s.repo.WithTenant(buildCtx, tenantID, func(repo TenantRepository) error {
			var err error
			nodes, err = repo.ListNodes(buildCtx, false)
			if err != nil {
				return err
			}
			issues, err = repo.ListIssues(buildCtx, IssueFilter{Statuses: domain.OpenIssueStatuses()})
			return err
		})
		if err != nil {
			return nil, err
		}
		return BuildHeatmap(nodes, issues, view)
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("get heatmap: %w", ctx.Err())
	case res := <-results:
		if res.Err != nil {
			return nil, fmt.Errorf("get heatmap: %w", res.Err)
		}
		return slices.Clone(res.Val.([]domain.HeatmapCell)), nil
	}
}

// structural runs fn with the tenant tree loaded and structural writes serialized.
func (s *Service) structural(ctx context.Context, tenantID string, now time.Time, fn func(context.Context, TenantRepository, *CodeAllocator) error) error {
	unlock, err := s.locker.Lock(ctx, treeLockKey(tenantID))
	if err != nil {
		return err
	}
	defer unlock()

	return s.repo.WithTenant(ctx, tenantID, func(repo TenantRepository) error {
		if err := repo.LockTree(ctx); err != nil {
			return err
		}
		nodes, err := repo.ListNodes(ctx, true)
		if err != nil {
			return err
		}
		if len(nodes) > s.maxTreeNodes {
			return fmt.Errorf("%w: %d nodes exceeds limit %d", ErrTreeTooLarge, len(nodes), s.maxTreeNodes)
		}
		return fn(ctx, repo, NewCodeAllocator(domain.NewProcessTree(nodes), now))
	})
}

// writer binds an issue writer to repo.
func (s *Service) writer(repo TenantRepository, now time.Time, actor string) *issueWriter {
	return newIssueWriter(repo, NewRagSynchronizer(repo, now), s.idGen, actor)
}

// lockProcess takes the storage row lock of processID, reporting a missing id as ProcessNotFoundError.
func lockProcess(ctx context.Context, repo TenantRepository, processID string) error {
	err := repo.LockProcess(ctx, processID)
	if errors.Is(err, ErrNotFound) {
		return &ProcessNotFoundError{ProcessID: processID}
	}
	return err
}

// normalizeTenant trims and validates a tenant id.
func normalizeTenant(tenantID string) (string, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return "", ErrInvalidTenant
	}
	return tenantID, nil
}
