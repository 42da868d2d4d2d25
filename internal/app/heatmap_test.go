package app

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/hylla/bomcat/internal/domain"
)

func heatNode(id, parent string, pos int) domain.ProcessNode {
	return domain.ProcessNode{ID: id, TenantID: "t1", ParentID: parent, Position: pos, Name: id, CreatedAt: time.Unix(int64(pos), 0)}
}

func heatIssue(id, process string, dim domain.Dimension, crit domain.Criticality, status domain.IssueStatus) domain.Issue {
	return domain.Issue{ID: id, TenantID: "t1", ProcessID: process, Dimension: dim, Criticality: crit, Status: status}
}

func TestBuildHeatmapDirectAndRollup(t *testing.T) {
	archived := heatNode("gone", "root", 2)
	now := time.Now()
	archived.ArchivedAt = &now
	nodes := []domain.ProcessNode{
		heatNode("root", "", 0),
		heatNode("a", "root", 0),
		heatNode("b", "root", 1),
		heatNode("a1", "a", 0),
		archived,
	}
	issues := []domain.Issue{
		heatIssue("i1", "a1", domain.DimensionPeople, domain.CriticalityHigh, domain.IssueStatusOpen),
		heatIssue("i2", "a", domain.DimensionPeople, domain.CriticalityLow, domain.IssueStatusInProgress),
		heatIssue("i3", "b", domain.DimensionData, domain.CriticalityMedium, domain.IssueStatusOpen),
		heatIssue("i4", "b", domain.DimensionData, domain.CriticalityHigh, domain.IssueStatusResolved),
		heatIssue("i5", "gone", domain.DimensionData, domain.CriticalityHigh, domain.IssueStatusOpen),
	}

	direct, err := BuildHeatmap(nodes, issues, domain.HeatmapViewDirect)
	if err != nil {
		t.Fatalf("BuildHeatmap(direct) error = %v", err)
	}
	order := []string{"root", "a", "a1", "b"}
	if len(direct) != len(order) {
		t.Fatalf("expected %d cells, got %d", len(order), len(direct))
	}
	for i, id := range order {
		if direct[i].ProcessID != id {
			t.Fatalf("cell[%d] = %q, want %q", i, direct[i].ProcessID, id)
		}
	}
	if direct[0].OverallColour != domain.RAGNeutral || direct[1].PeopleColour != domain.RAGAmber || direct[2].PeopleColour != domain.RAGRed {
		t.Fatalf("unexpected direct colours %#v", direct)
	}
	if direct[3].Counts.Data.Total != 1 || direct[3].DataColour != domain.RAGAmber {
		t.Fatalf("resolved issues must not count, got %#v", direct[3].Counts.Data)
	}

	rollup, err := BuildHeatmap(nodes, issues, domain.HeatmapViewRollup)
	if err != nil {
		t.Fatalf("BuildHeatmap(rollup) error = %v", err)
	}
	root := rollup[0]
	if root.Counts.People.Total != 2 || root.Counts.People.High != 1 || root.Counts.Data.Total != 1 {
		t.Fatalf("unexpected root rollup counts %#v", root.Counts)
	}
	if root.PeopleColour != domain.RAGRed || root.OverallColour != domain.RAGRed {
		t.Fatalf("unexpected root rollup colours %#v", root)
	}
	if rollup[1].Counts.People.Total != 2 || rollup[1].PeopleColour != domain.RAGRed {
		t.Fatalf("unexpected a rollup %#v", rollup[1])
	}

	if _, err := BuildHeatmap(nodes, issues, "sideways"); !errors.Is(err, ErrInvalidView) {
		t.Fatalf("expected ErrInvalidView, got %v", err)
	}
}

// TestBuildHeatmapRollupAdditivity compares the rollup against a brute-force descendant sum on random trees.
func TestBuildHeatmapRollupAdditivity(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	dims := domain.Dimensions
	crits := []domain.Criticality{domain.CriticalityHigh, domain.CriticalityMedium, domain.CriticalityLow}
	statuses := []domain.IssueStatus{domain.IssueStatusOpen, domain.IssueStatusInProgress, domain.IssueStatusClosed, domain.IssueStatusDeferred}

	for round := 0; round < 20; round++ {
		nodes := []domain.ProcessNode{heatNode("n0", "", 0)}
		for i := 1; i < 40; i++ {
			parent := nodes[rng.IntN(len(nodes))].ID
			nodes = append(nodes, heatNode(fmt.Sprintf("n%d", i), parent, i))
		}
		issues := make([]domain.Issue, 0, 80)
		for i := 0; i < 80; i++ {
			issues = append(issues, heatIssue(
				fmt.Sprintf("i%d", i),
				nodes[rng.IntN(len(nodes))].ID,
				dims[rng.IntN(len(dims))],
				crits[rng.IntN(len(crits))],
				statuses[rng.IntN(len(statuses))],
			))
		}

		direct, err := BuildHeatmap(nodes, issues, domain.HeatmapViewDirect)
		if err != nil {
			t.Fatalf("BuildHeatmap(direct) error = %v", err)
		}
		rollup, err := BuildHeatmap(nodes, issues, domain.HeatmapViewRollup)
		if err != nil {
			t.Fatalf("BuildHeatmap(rollup) error = %v", err)
		}
		directByID := map[string]domain.DimensionCounts{}
		for _, cell := range direct {
			directByID[cell.ProcessID] = cell.Counts
		}
		tree := domain.NewProcessTree(nodes)
		for _, cell := range rollup {
			want := directByID[cell.ProcessID]
			for _, desc := range tree.Descendants(cell.ProcessID) {
				want.Merge(directByID[desc.ID])
			}
			if cell.Counts != want {
				t.Fatalf("round %d node %s rollup = %#v, want %#v", round, cell.ProcessID, cell.Counts, want)
			}
		}
	}
}
