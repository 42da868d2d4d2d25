package app

import (
	"slices"

	"github.com/hylla/bomcat/internal/domain"
)

// BuildHeatmap projects open issues onto the active tree. Cells are returned in tree pre-order.
func BuildHeatmap(nodes []domain.ProcessNode, issues []domain.Issue, view domain.HeatmapView) ([]domain.HeatmapCell, error) {
	if view != domain.HeatmapViewDirect && view != domain.HeatmapViewRollup {
		return nil, ErrInvalidView
	}
	tree := domain.NewProcessTree(nodes)
	order := tree.Preorder()
	acc := make(map[string]*domain.DimensionCounts, len(order))
	for _, node := range order {
		acc[node.ID] = &domain.DimensionCounts{}
	}
	for _, issue := range issues {
		if !issue.IsOpen() {
			continue
		}
		counts, ok := acc[issue.ProcessID]
		if !ok {
			continue
		}
		counts.For(issue.Dimension).Add(issue.Criticality)
	}

	if view == domain.HeatmapViewRollup {
		// Reverse pre-order visits every node after all of its descendants.
		for _, node := range slices.Backward(order) {
			if parent, ok := acc[node.ParentID]; ok {
				parent.Merge(*acc[node.ID])
			}
		}
	}

	cells := make([]domain.HeatmapCell, 0, len(order))
	for _, node := range order {
		cells = append(cells, domain.NewHeatmapCell(*node, *acc[node.ID]))
	}
	return cells, nil
}
