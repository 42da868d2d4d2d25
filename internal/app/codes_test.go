package app

import (
	"errors"
	"testing"
	"time"

	"github.com/hylla/bomcat/internal/domain"
)

func allocatorFixture(t *testing.T) (*CodeAllocator, *domain.ProcessTree) {
	t.Helper()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mk := func(id, parent string, pos, depth int, code string) domain.ProcessNode {
		n, err := domain.NewProcessNode(domain.ProcessNodeInput{ID: id, TenantID: "t1", ParentID: parent, Name: id}, base)
		if err != nil {
			t.Fatalf("NewProcessNode() error = %v", err)
		}
		base = base.Add(time.Second)
		n.Position, n.DepthLevel, n.Code = pos, depth, code
		return n
	}
	tree := domain.NewProcessTree([]domain.ProcessNode{
		mk("r", "", 0, 0, "1"),
		mk("c0", "r", 0, 1, "1.1"),
		mk("c2", "r", 2, 1, "1.3"),
		mk("c2a", "c2", 0, 2, "1.3.1"),
	})
	return NewCodeAllocator(tree, base), tree
}

func TestAssignCodeOnInsert(t *testing.T) {
	alloc, _ := allocatorFixture(t)
	code, err := alloc.AssignCodeOnInsert("", 3)
	if err != nil || code != "4" {
		t.Fatalf("AssignCodeOnInsert(root) = %q, %v", code, err)
	}
	code, err = alloc.AssignCodeOnInsert("c2", 1)
	if err != nil || code != "1.3.2" {
		t.Fatalf("AssignCodeOnInsert(child) = %q, %v", code, err)
	}
	if _, err := alloc.AssignCodeOnInsert("nope", 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAssignCodeOnInsertRequiresParentCode(t *testing.T) {
	tree := domain.NewProcessTree([]domain.ProcessNode{{ID: "p", TenantID: "t1", Name: "p"}})
	alloc := NewCodeAllocator(tree, time.Now())
	if _, err := alloc.AssignCodeOnInsert("p", 0); !errors.Is(err, domain.ErrParentWithoutCode) {
		t.Fatalf("expected ErrParentWithoutCode, got %v", err)
	}
}

func TestRenumberSiblingsClosesGapsAndCascades(t *testing.T) {
	alloc, tree := allocatorFixture(t)
	changed := alloc.RenumberSiblings("r")
	if len(changed) != 1 || changed[0] != "c2" {
		t.Fatalf("RenumberSiblings() changed = %v", changed)
	}
	c2, _ := tree.Node("c2")
	if c2.Position != 1 || c2.Code != "1.2" {
		t.Fatalf("unexpected c2 %#v", c2)
	}
	c2a, _ := tree.Node("c2a")
	if c2a.Code != "1.2.1" {
		t.Fatalf("c2a code = %q, want 1.2.1", c2a.Code)
	}
	dirty := alloc.Dirty()
	if len(dirty) != 2 || dirty[0].ID != "c2" || dirty[1].ID != "c2a" {
		t.Fatalf("unexpected dirty set %#v", dirty)
	}
	if again := alloc.RenumberSiblings("r"); len(again) != 0 {
		t.Fatalf("second RenumberSiblings() changed = %v", again)
	}
}

func TestCascadeSubtreeKeepsPositions(t *testing.T) {
	alloc, tree := allocatorFixture(t)
	root, _ := tree.Node("r")
	root.Code = "7"
	alloc.CascadeSubtree("r")
	want := map[string]string{"c0": "7.1", "c2": "7.3", "c2a": "7.3.1"}
	for id, code := range want {
		n, _ := tree.Node(id)
		if n.Code != code {
			t.Fatalf("%s code = %q, want %q", id, n.Code, code)
		}
	}
	c2, _ := tree.Node("c2")
	if c2.Position != 2 {
		t.Fatalf("cascade must not touch positions, got %d", c2.Position)
	}
}

func TestReparentIntoDescendantFails(t *testing.T) {
	alloc, tree := allocatorFixture(t)
	err := alloc.Reparent("r", "c2a", 0)
	var cycle *domain.CycleError
	if !errors.As(err, &cycle) || cycle.NodeID != "r" || cycle.NewParentID != "c2a" {
		t.Fatalf("expected CycleError, got %v", err)
	}
	if len(alloc.Dirty()) != 0 {
		t.Fatal("rejected reparent must not dirty any node")
	}
	r, _ := tree.Node("r")
	if r.ParentID != "" || r.Code != "1" {
		t.Fatalf("root changed after rejected reparent: %#v", r)
	}
}

func TestInsertSkipsArchivedSiblings(t *testing.T) {
	alloc, tree := allocatorFixture(t)
	c0, _ := tree.Node("c0")
	c0.Archive(time.Now())
	node, err := domain.NewProcessNode(domain.ProcessNodeInput{ID: "new", TenantID: "t1", ParentID: "r", Name: "new"}, time.Now())
	if err != nil {
		t.Fatalf("NewProcessNode() error = %v", err)
	}
	placed, err := alloc.Insert(node, nil)
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if placed.Position != 1 || placed.Code != "1.2" {
		t.Fatalf("unexpected placement %#v", placed)
	}
	c2, _ := tree.Node("c2")
	if c2.Position != 0 || c2.Code != "1.1" {
		t.Fatalf("unexpected c2 after insert %#v", c2)
	}
	for _, dirty := range alloc.Dirty() {
		if dirty.ID == "new" {
			t.Fatal("inserted node must not appear in the dirty set")
		}
	}
}
