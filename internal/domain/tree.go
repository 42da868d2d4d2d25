package domain

import (
	"cmp"
	"slices"
	"strings"
)

// ProcessTree is an arena over one tenant's process nodes with parent/child navigation.
type ProcessTree struct {
	nodes    []ProcessNode
	index    map[string]int
	children map[string][]int
}

// NewProcessTree builds a tree over the given nodes. Nodes whose parent is unknown are treated as roots.
func NewProcessTree(nodes []ProcessNode) *ProcessTree {
	t := &ProcessTree{
		nodes:    make([]ProcessNode, 0, len(nodes)),
		index:    make(map[string]int, len(nodes)),
		children: map[string][]int{},
	}
	for _, node := range nodes {
		t.nodes = append(t.nodes, node)
		t.index[node.ID] = len(t.nodes) - 1
	}
	for idx := range t.nodes {
		parentID := t.nodes[idx].ParentID
		if _, ok := t.index[parentID]; !ok {
			parentID = ""
		}
		t.children[parentID] = append(t.children[parentID], idx)
	}
	return t
}

// Len returns the number of nodes, archived included.
func (t *ProcessTree) Len() int {
	return len(t.nodes)
}

// Node returns a mutable pointer to the node with id.
func (t *ProcessTree) Node(id string) (*ProcessNode, bool) {
	idx, ok := t.index[strings.TrimSpace(id)]
	if !ok {
		return nil, false
	}
	return &t.nodes[idx], true
}

// Parent returns the parent of id, or false for roots and unknown ids.
func (t *ProcessTree) Parent(id string) (*ProcessNode, bool) {
	node, ok := t.Node(id)
	if !ok || node.ParentID == "" {
		return nil, false
	}
	return t.Node(node.ParentID)
}

// Add inserts a node into the arena.
func (t *ProcessTree) Add(node ProcessNode) {
	t.nodes = append(t.nodes, node)
	idx := len(t.nodes) - 1
	t.index[node.ID] = idx
	t.children[node.ParentID] = append(t.children[node.ParentID], idx)
}

// SetParent moves id under parentID in the navigation index without touching position or code.
func (t *ProcessTree) SetParent(id, parentID string) {
	idx, ok := t.index[id]
	if !ok {
		return
	}
	old := t.nodes[idx].ParentID
	if _, known := t.index[old]; !known {
		old = ""
	}
	t.children[old] = slices.DeleteFunc(t.children[old], func(candidate int) bool { return candidate == idx })
	t.nodes[idx].ParentID = parentID
	t.children[parentID] = append(t.children[parentID], idx)
}

// ActiveChildren returns the non-archived children of parentID ordered by position, then creation time, then id.
func (t *ProcessTree) ActiveChildren(parentID string) []*ProcessNode {
	idxs := t.children[strings.TrimSpace(parentID)]
	out := make([]*ProcessNode, 0, len(idxs))
	for _, idx := range idxs {
		if t.nodes[idx].IsArchived() {
			continue
		}
		out = append(out, &t.nodes[idx])
	}
	slices.SortStableFunc(out, compareSiblings)
	return out
}

// compareSiblings orders siblings by position with creation time and id as tie-breaks.
func compareSiblings(a, b *ProcessNode) int {
	if c := cmp.Compare(a.Position, b.Position); c != 0 {
		return c
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// IsDescendant reports whether id sits anywhere below ancestorID.
func (t *ProcessTree) IsDescendant(ancestorID, id string) bool {
	current, ok := t.Node(id)
	for steps := 0; ok && steps <= len(t.nodes); steps++ {
		if current.ParentID == "" {
			return false
		}
		if current.ParentID == ancestorID {
			return true
		}
		current, ok = t.Node(current.ParentID)
	}
	return false
}

// Descendants returns every active descendant of id in depth-first pre-order, id excluded.
func (t *ProcessTree) Descendants(id string) []*ProcessNode {
	out := make([]*ProcessNode, 0)
	t.walk(id, func(node *ProcessNode, _ int) {
		out = append(out, node)
	})
	return out
}

// SubtreeHeight returns the number of levels below id across its active descendants.
func (t *ProcessTree) SubtreeHeight(id string) int {
	height := 0
	t.walk(id, func(_ *ProcessNode, rel int) {
		height = max(height, rel)
	})
	return height
}

// Preorder returns every active node reachable from the active roots in tree order.
func (t *ProcessTree) Preorder() []*ProcessNode {
	out := make([]*ProcessNode, 0, len(t.nodes))
	for _, root := range t.ActiveChildren("") {
		out = append(out, root)
		t.walk(root.ID, func(node *ProcessNode, _ int) {
			out = append(out, node)
		})
	}
	return out
}

// walk visits active descendants of id depth-first with their depth relative to id. Each node is visited once.
func (t *ProcessTree) walk(id string, visit func(node *ProcessNode, rel int)) {
	type frame struct {
		node *ProcessNode
		rel  int
	}
	seen := map[string]struct{}{id: {}}
	children := t.ActiveChildren(id)
	stack := make([]frame, 0, len(children))
	for i := len(children) - 1; i >= 0; i-- {
		stack = append(stack, frame{node: children[i], rel: 1})
	}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[top.node.ID]; ok {
			continue
		}
		seen[top.node.ID] = struct{}{}
		visit(top.node, top.rel)
		kids := t.ActiveChildren(top.node.ID)
		for i := len(kids) - 1; i >= 0; i-- {
			stack = append(stack, frame{node: kids[i], rel: top.rel + 1})
		}
	}
}
