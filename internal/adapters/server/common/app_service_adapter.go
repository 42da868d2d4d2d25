package common

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hylla/bomcat/internal/app"
	"github.com/hylla/bomcat/internal/domain"
)

// AppServiceAdapter maps transport contracts onto app.Service.
type AppServiceAdapter struct {
	service *app.Service
}

// NewAppServiceAdapter builds one common adapter over an app.Service instance.
func NewAppServiceAdapter(service *app.Service) *AppServiceAdapter {
	return &AppServiceAdapter{service: service}
}

// WithActor attaches the calling user to ctx for history and review attribution.
func WithActor(ctx context.Context, actorID string) context.Context {
	if strings.TrimSpace(actorID) == "" {
		return ctx
	}
	return app.WithActor(ctx, actorID)
}

// InsertNode creates one process node.
func (a *AppServiceAdapter) InsertNode(ctx context.Context, tenantID string, in InsertNodeRequest) (ProcessNode, error) {
	if err := a.ready(); err != nil {
		return ProcessNode{}, err
	}
	if err := validateRequest(in); err != nil {
		return ProcessNode{}, err
	}
	node, err := a.service.InsertNode(ctx, tenantID, app.InsertNodeInput{
		ParentID:    in.ParentID,
		Position:    in.Position,
		Name:        in.Name,
		Description: in.Description,
		Status:      domain.NodeStatus(in.Status),
	})
	if err != nil {
		return ProcessNode{}, mapAppError("insert node", err)
	}
	return mapProcessNode(node), nil
}

// UpdateNode edits the descriptive fields of one node.
func (a *AppServiceAdapter) UpdateNode(ctx context.Context, tenantID, nodeID string, in UpdateNodeRequest) (ProcessNode, error) {
	if err := a.ready(); err != nil {
		return ProcessNode{}, err
	}
	if err := validateRequest(in); err != nil {
		return ProcessNode{}, err
	}
	node, err := a.service.UpdateNodeDetails(ctx, tenantID, app.UpdateNodeInput{
		NodeID:      nodeID,
		Name:        in.Name,
		Description: in.Description,
		Status:      domain.NodeStatus(in.Status),
	})
	if err != nil {
		return ProcessNode{}, mapAppError("update node", err)
	}
	return mapProcessNode(node), nil
}

// MoveNode reparents one node with its subtree.
func (a *AppServiceAdapter) MoveNode(ctx context.Context, tenantID, nodeID string, in MoveNodeRequest) (ProcessNode, error) {
	if err := a.ready(); err != nil {
		return ProcessNode{}, err
	}
	if err := validateRequest(in); err != nil {
		return ProcessNode{}, err
	}
	node, err := a.service.ReparentNode(ctx, tenantID, nodeID, in.ParentID, in.Position)
	if err != nil {
		return ProcessNode{}, mapAppError("move node", err)
	}
	return mapProcessNode(node), nil
}

// ArchiveNode archives one node with its subtree.
func (a *AppServiceAdapter) ArchiveNode(ctx context.Context, tenantID, nodeID string) (ArchiveResult, error) {
	if err := a.ready(); err != nil {
		return ArchiveResult{}, err
	}
	ids, err := a.service.ArchiveNode(ctx, tenantID, nodeID)
	if err != nil {
		return ArchiveResult{}, mapAppError("archive node", err)
	}
	return ArchiveResult{ArchivedIDs: ids}, nil
}

// GetNode returns one node.
func (a *AppServiceAdapter) GetNode(ctx context.Context, tenantID, nodeID string) (ProcessNode, error) {
	if err := a.ready(); err != nil {
		return ProcessNode{}, err
	}
	node, err := a.service.GetNode(ctx, tenantID, nodeID)
	if err != nil {
		return ProcessNode{}, mapAppError("get node", err)
	}
	return mapProcessNode(node), nil
}

// ListNodes returns the tenant tree in pre-order.
func (a *AppServiceAdapter) ListNodes(ctx context.Context, tenantID string, includeArchived bool) ([]ProcessNode, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	nodes, err := a.service.ListNodes(ctx, tenantID, includeArchived)
	if err != nil {
		return nil, mapAppError("list nodes", err)
	}
	out := make([]ProcessNode, 0, len(nodes))
	for _, node := range nodes {
		out = append(out, mapProcessNode(node))
	}
	return out, nil
}

// RegenerateCodes rewrites every code of the tenant tree.
func (a *AppServiceAdapter) RegenerateCodes(ctx context.Context, tenantID string) (CountResult, error) {
	if err := a.ready(); err != nil {
		return CountResult{}, err
	}
	count, err := a.service.RegenerateCodes(ctx, tenantID)
	if err != nil {
		return CountResult{}, mapAppError("regenerate codes", err)
	}
	return CountResult{Changed: count}, nil
}

// RecomputeRAG re-derives every persisted RAG state of the tenant.
func (a *AppServiceAdapter) RecomputeRAG(ctx context.Context, tenantID string) (CountResult, error) {
	if err := a.ready(); err != nil {
		return CountResult{}, err
	}
	count, err := a.service.RecomputeAllRAG(ctx, tenantID)
	if err != nil {
		return CountResult{}, mapAppError("recompute rag", err)
	}
	return CountResult{Changed: count}, nil
}

// SetExplicitRAG records a reviewer assessment of one dimension.
func (a *AppServiceAdapter) SetExplicitRAG(ctx context.Context, tenantID, nodeID string, in SetRAGRequest) (ProcessNode, error) {
	if err := a.ready(); err != nil {
		return ProcessNode{}, err
	}
	if err := validateRequest(in); err != nil {
		return ProcessNode{}, err
	}
	node, err := a.service.SetExplicitRAG(ctx, tenantID, nodeID, domain.Dimension(in.Dimension), domain.RAGStatus(in.Status))
	if err != nil {
		return ProcessNode{}, mapAppError("set explicit rag", err)
	}
	return mapProcessNode(node), nil
}

// CreateIssue raises one issue.
func (a *AppServiceAdapter) CreateIssue(ctx context.Context, tenantID string, in CreateIssueRequest) (Issue, error) {
	if err := a.ready(); err != nil {
		return Issue{}, err
	}
	if err := validateRequest(in); err != nil {
		return Issue{}, err
	}
	issue, err := a.service.CreateIssue(ctx, tenantID, app.CreateIssueInput{
		ProcessID:          in.ProcessID,
		Title:              in.Title,
		Description:        in.Description,
		Dimension:          domain.Dimension(in.Dimension),
		Criticality:        domain.Criticality(in.Criticality),
		AssigneeID:         in.AssigneeID,
		RaisedAt:           in.RaisedAt,
		TargetResolutionAt: in.TargetResolutionAt,
	})
	if err != nil {
		return Issue{}, mapAppError("create issue", err)
	}
	return a.mapIssue(issue), nil
}

// UpdateIssue applies partial edits to one issue.
func (a *AppServiceAdapter) UpdateIssue(ctx context.Context, tenantID, issueID string, in UpdateIssueRequest) (Issue, error) {
	if err := a.ready(); err != nil {
		return Issue{}, err
	}
	if err := validateRequest(in); err != nil {
		return Issue{}, err
	}
	update := app.UpdateIssueInput{
		IssueID:            issueID,
		Title:              in.Title,
		Description:        in.Description,
		AssigneeID:         in.AssigneeID,
		TargetResolutionAt: in.TargetResolutionAt,
	}
	if in.Dimension != nil {
		dim := domain.Dimension(*in.Dimension)
		update.Dimension = &dim
	}
	if in.Criticality != nil {
		crit := domain.Criticality(*in.Criticality)
		update.Criticality = &crit
	}
	issue, err := a.service.UpdateIssue(ctx, tenantID, update)
	if err != nil {
		return Issue{}, mapAppError("update issue", err)
	}
	return a.mapIssue(issue), nil
}

// TransitionIssue moves one issue through its lifecycle.
func (a *AppServiceAdapter) TransitionIssue(ctx context.Context, tenantID, issueID string, in TransitionIssueRequest) (Issue, error) {
	if err := a.ready(); err != nil {
		return Issue{}, err
	}
	if err := validateRequest(in); err != nil {
		return Issue{}, err
	}
	issue, err := a.service.TransitionIssue(ctx, tenantID, issueID, domain.IssueStatus(in.Status))
	if err != nil {
		return Issue{}, mapAppError("transition issue", err)
	}
	return a.mapIssue(issue), nil
}

// DeleteIssue removes one issue.
func (a *AppServiceAdapter) DeleteIssue(ctx context.Context, tenantID, issueID string) error {
	if err := a.ready(); err != nil {
		return err
	}
	return mapAppError("delete issue", a.service.DeleteIssue(ctx, tenantID, issueID))
}

// GetIssue returns one issue.
func (a *AppServiceAdapter) GetIssue(ctx context.Context, tenantID, issueID string) (Issue, error) {
	if err := a.ready(); err != nil {
		return Issue{}, err
	}
	issue, err := a.service.GetIssue(ctx, tenantID, issueID)
	if err != nil {
		return Issue{}, mapAppError("get issue", err)
	}
	return a.mapIssue(issue), nil
}

// ListIssues lists issues matching the request filters.
func (a *AppServiceAdapter) ListIssues(ctx context.Context, tenantID string, in ListIssuesRequest) ([]Issue, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	if err := validateRequest(in); err != nil {
		return nil, err
	}
	filter := app.IssueFilter{
		ProcessID: strings.TrimSpace(in.ProcessID),
		Dimension: domain.Dimension(in.Dimension),
	}
	for _, status := range in.Statuses {
		filter.Statuses = append(filter.Statuses, domain.IssueStatus(status))
	}
	issues, err := a.service.ListIssues(ctx, tenantID, filter)
	if err != nil {
		return nil, mapAppError("list issues", err)
	}
	out := make([]Issue, 0, len(issues))
	for _, issue := range issues {
		out = append(out, a.mapIssue(issue))
	}
	return out, nil
}

// ListIssueHistory returns the change ledger of one issue.
func (a *AppServiceAdapter) ListIssueHistory(ctx context.Context, tenantID, issueID string) ([]HistoryEntry, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	entries, err := a.service.ListIssueHistory(ctx, tenantID, issueID)
	if err != nil {
		return nil, mapAppError("list issue history", err)
	}
	out := make([]HistoryEntry, 0, len(entries))
	for _, entry := range entries {
		out = append(out, HistoryEntry{
			ID:        entry.ID,
			IssueID:   entry.IssueID,
			Field:     string(entry.Field),
			OldValue:  entry.OldValue,
			NewValue:  entry.NewValue,
			ChangedBy: entry.ChangedBy,
			ChangedAt: entry.ChangedAt,
		})
	}
	return out, nil
}

// GetHeatmap builds the requested heatmap view. An empty view selects direct.
func (a *AppServiceAdapter) GetHeatmap(ctx context.Context, tenantID, view string) (Heatmap, error) {
	if err := a.ready(); err != nil {
		return Heatmap{}, err
	}
	normalized := domain.HeatmapView(strings.ToLower(strings.TrimSpace(view)))
	if normalized == "" {
		normalized = domain.HeatmapViewDirect
	}
	if normalized != domain.HeatmapViewDirect && normalized != domain.HeatmapViewRollup {
		return Heatmap{}, fmt.Errorf("get heatmap: view %q: %w", view, errors.Join(ErrInvalidRequest, app.ErrInvalidView))
	}
	cells, err := a.service.GetHeatmap(ctx, tenantID, normalized == domain.HeatmapViewRollup)
	if err != nil {
		return Heatmap{}, mapAppError("get heatmap", err)
	}
	out := Heatmap{View: string(normalized), Cells: make([]HeatmapCell, 0, len(cells))}
	for _, cell := range cells {
		out.Cells = append(out.Cells, mapHeatmapCell(cell))
	}
	return out, nil
}

// ready reports whether the adapter has a backing service.
func (a *AppServiceAdapter) ready() error {
	if a == nil || a.service == nil {
		return fmt.Errorf("app service adapter is not configured: %w", ErrUnavailable)
	}
	return nil
}

// validateRequest runs struct-tag validation and tags failures as invalid requests.
func validateRequest(in any) error {
	if err := requestValidate.Struct(in); err != nil {
		return fmt.Errorf("validate request: %w", errors.Join(ErrInvalidRequest, err))
	}
	return nil
}

// mapIssue converts one domain issue using the configured display prefix.
func (a *AppServiceAdapter) mapIssue(issue domain.Issue) Issue {
	return Issue{
		ID:             issue.ID,
		DisplayID:      issue.DisplayID(a.service.IssuePrefix()),
		SequenceNumber: issue.SequenceNumber,
		Title:          issue.Title,
		Description:    issue.Description,
		Dimension:      string(issue.Dimension),
		Criticality:    string(issue.Criticality),
		Status:         string(issue.Status),
		ProcessID:      issue.ProcessID,
		Process: ProcessSnapshot{
			Code:       issue.Process.Code,
			Name:       issue.Process.Name,
			DepthLevel: issue.Process.DepthLevel,
		},
		AssigneeID:         issue.AssigneeID,
		RaisedBy:           issue.RaisedBy,
		RaisedAt:           issue.RaisedAt,
		TargetResolutionAt: issue.TargetResolutionAt,
		ResolvedAt:         issue.ResolvedAt,
		CreatedAt:          issue.CreatedAt,
		UpdatedAt:          issue.UpdatedAt,
	}
}

// mapProcessNode converts one domain node.
func mapProcessNode(node domain.ProcessNode) ProcessNode {
	return ProcessNode{
		ID:             node.ID,
		ParentID:       node.ParentID,
		Position:       node.Position,
		DepthLevel:     node.DepthLevel,
		Code:           node.Code,
		Name:           node.Name,
		Description:    node.Description,
		Status:         string(node.Status),
		RAG:            mapRAG(node.RAG),
		OverallRAG:     string(node.Overall()),
		LastReviewedAt: node.LastReviewedAt,
		ReviewedBy:     node.ReviewedBy,
		CreatedAt:      node.CreatedAt,
		UpdatedAt:      node.UpdatedAt,
		ArchivedAt:     node.ArchivedAt,
	}
}

// mapRAG converts one RAG state.
func mapRAG(state domain.RAGState) RAGView {
	return RAGView{
		People:  string(state.People),
		Process: string(state.Process),
		System:  string(state.System),
		Data:    string(state.Data),
	}
}

// mapHeatmapCell converts one heatmap cell.
func mapHeatmapCell(cell domain.HeatmapCell) HeatmapCell {
	counts := make(map[string]IssueCounts, len(domain.Dimensions))
	for _, dim := range domain.Dimensions {
		c := cell.Counts.For(dim)
		counts[string(dim)] = IssueCounts{Total: c.Total, High: c.High, Medium: c.Medium, Low: c.Low}
	}
	return HeatmapCell{
		ProcessID:  cell.ProcessID,
		ParentID:   cell.ParentID,
		Code:       cell.Code,
		Name:       cell.Name,
		DepthLevel: cell.DepthLevel,
		Counts:     counts,
		Colours: RAGView{
			People:  string(cell.PeopleColour),
			Process: string(cell.ProcessColour),
			System:  string(cell.SystemColour),
			Data:    string(cell.DataColour),
		},
		OverallColour: string(cell.OverallColour),
	}
}
