package app

import (
	"slices"
	"time"

	"github.com/hylla/bomcat/internal/domain"
)

// CodeAllocator keeps every node code consistent with its parent code and position inside one loaded tree.
type CodeAllocator struct {
	tree    *domain.ProcessTree
	now     time.Time
	dirty   []string
	seen    map[string]struct{}
	created map[string]struct{}
}

// NewCodeAllocator constructs an allocator over tree. Mutations are stamped with now.
func NewCodeAllocator(tree *domain.ProcessTree, now time.Time) *CodeAllocator {
	return &CodeAllocator{
		tree:    tree,
		now:     now.UTC(),
		seen:    map[string]struct{}{},
		created: map[string]struct{}{},
	}
}

// AssignCodeOnInsert returns the code for a node placed at position under parentID.
func (a *CodeAllocator) AssignCodeOnInsert(parentID string, position int) (string, error) {
	if position < 0 {
		return "", domain.ErrInvalidPosition
	}
	if parentID == "" {
		return domain.RootCode(position), nil
	}
	parent, err := a.activeParent(parentID)
	if err != nil {
		return "", err
	}
	return domain.ChildCode(parent.Code, position), nil
}

// Insert adds node under node.ParentID at position, appending when position is nil, and shifts later siblings.
func (a *CodeAllocator) Insert(node domain.ProcessNode, position *int) (domain.ProcessNode, error) {
	depth := 0
	if node.ParentID != "" {
		parent, err := a.activeParent(node.ParentID)
		if err != nil {
			return domain.ProcessNode{}, err
		}
		depth = parent.DepthLevel + 1
	}
	if depth > domain.MaxDepthLevel {
		return domain.ProcessNode{}, domain.ErrMaxDepthExceeded
	}
	count := len(a.tree.ActiveChildren(node.ParentID))
	pos := count
	if position != nil {
		pos = clampPosition(*position, count)
	}
	code, err := a.AssignCodeOnInsert(node.ParentID, pos)
	if err != nil {
		return domain.ProcessNode{}, err
	}
	node.Position = pos
	node.DepthLevel = depth
	node.Code = code
	a.tree.Add(node)
	a.created[node.ID] = struct{}{}
	a.place(node.ID, node.ParentID, pos)

	placed, _ := a.tree.Node(node.ID)
	return *placed, nil
}

// RenumberSiblings closes gaps among the active children of parentID and returns the ids whose placement changed.
func (a *CodeAllocator) RenumberSiblings(parentID string) []string {
	parentCode, depth := a.groupContext(parentID)
	changed := make([]string, 0)
	for idx, sibling := range a.tree.ActiveChildren(parentID) {
		if a.applyPlacement(sibling, idx, parentCode, depth) {
			changed = append(changed, sibling.ID)
		}
	}
	return changed
}

// CascadeSubtree re-derives the code and depth of every active descendant of nodeID from existing positions.
func (a *CodeAllocator) CascadeSubtree(nodeID string) {
	root, ok := a.tree.Node(nodeID)
	if !ok {
		return
	}
	seen := map[string]struct{}{root.ID: {}}
	stack := []*domain.ProcessNode{root}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, child := range a.tree.ActiveChildren(current.ID) {
			if _, ok := seen[child.ID]; ok {
				continue
			}
			seen[child.ID] = struct{}{}
			code := domain.ChildCode(current.Code, child.Position)
			depth := current.DepthLevel + 1
			if child.Code != code || child.DepthLevel != depth {
				child.Code = code
				child.DepthLevel = depth
				child.UpdatedAt = a.now
				a.markDirty(child.ID)
			}
			stack = append(stack, child)
		}
	}
}

// Reparent moves nodeID under newParentID at newPosition. Every check runs before the tree is touched.
func (a *CodeAllocator) Reparent(nodeID, newParentID string, newPosition int) error {
	node, ok := a.tree.Node(nodeID)
	if !ok {
		return ErrNotFound
	}
	if node.IsArchived() {
		return domain.ErrNodeArchived
	}
	if newParentID == nodeID || (newParentID != "" && a.tree.IsDescendant(nodeID, newParentID)) {
		return &domain.CycleError{NodeID: nodeID, NewParentID: newParentID}
	}
	depth := 0
	if newParentID != "" {
		parent, err := a.activeParent(newParentID)
		if err != nil {
			return err
		}
		depth = parent.DepthLevel + 1
	}
	if depth+a.tree.SubtreeHeight(nodeID) > domain.MaxDepthLevel {
		return domain.ErrMaxDepthExceeded
	}

	oldParentID := node.ParentID
	if oldParentID != newParentID {
		a.tree.SetParent(nodeID, newParentID)
		a.markDirty(nodeID)
	}
	a.place(nodeID, newParentID, newPosition)
	if oldParentID != newParentID {
		a.RenumberSiblings(oldParentID)
	}
	a.CascadeSubtree(nodeID)
	return nil
}

// Archive soft-deletes nodeID with its whole active subtree and closes the gap among the surviving siblings.
func (a *CodeAllocator) Archive(nodeID string) ([]string, error) {
	node, ok := a.tree.Node(nodeID)
	if !ok {
		return nil, ErrNotFound
	}
	if node.IsArchived() {
		return nil, domain.ErrNodeArchived
	}
	targets := append([]*domain.ProcessNode{node}, a.tree.Descendants(nodeID)...)
	ids := make([]string, 0, len(targets))
	for _, target := range targets {
		target.Archive(a.now)
		a.markDirty(target.ID)
		ids = append(ids, target.ID)
	}
	a.RenumberSiblings(node.ParentID)
	return ids, nil
}

// RegenerateAll rewrites dense 1-based codes for the whole tree, roots first, and returns how many nodes changed.
func (a *CodeAllocator) RegenerateAll() int {
	changed := map[string]struct{}{}
	type group struct {
		parentID string
		code     string
		depth    int
	}
	queue := []group{{parentID: "", code: "", depth: 0}}
	for len(queue) > 0 {
		current := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		kids := a.tree.ActiveChildren(current.parentID)
		for idx, kid := range kids {
			code := domain.ChildCode(current.code, idx)
			if kid.Position != idx || kid.Code != code || kid.DepthLevel != current.depth {
				kid.Position = idx
				kid.Code = code
				kid.DepthLevel = current.depth
				kid.UpdatedAt = a.now
				a.markDirty(kid.ID)
				changed[kid.ID] = struct{}{}
			}
		}
		for idx := len(kids) - 1; idx >= 0; idx-- {
			queue = append(queue, group{parentID: kids[idx].ID, code: kids[idx].Code, depth: current.depth + 1})
		}
	}
	return len(changed)
}

// Dirty returns the existing nodes whose stored state must be rewritten. Nodes added by Insert are excluded.
func (a *CodeAllocator) Dirty() []domain.ProcessNode {
	out := make([]domain.ProcessNode, 0, len(a.dirty))
	for _, id := range a.dirty {
		if _, ok := a.created[id]; ok {
			continue
		}
		if node, ok := a.tree.Node(id); ok {
			out = append(out, *node)
		}
	}
	return out
}

// place inserts nodeID at the clamped position among the active children of parentID and renumbers that group.
func (a *CodeAllocator) place(nodeID, parentID string, position int) {
	node, ok := a.tree.Node(nodeID)
	if !ok {
		return
	}
	siblings := slices.DeleteFunc(a.tree.ActiveChildren(parentID), func(candidate *domain.ProcessNode) bool {
		return candidate.ID == nodeID
	})
	ordered := slices.Insert(siblings, clampPosition(position, len(siblings)), node)
	parentCode, depth := a.groupContext(parentID)
	for idx, sibling := range ordered {
		a.applyPlacement(sibling, idx, parentCode, depth)
	}
}

// applyPlacement stores position, code and depth on node and cascades when its code changed.
func (a *CodeAllocator) applyPlacement(node *domain.ProcessNode, position int, parentCode string, depth int) bool {
	code := domain.ChildCode(parentCode, position)
	codeChanged := node.Code != code || node.DepthLevel != depth
	if node.Position == position && !codeChanged {
		return false
	}
	node.Position = position
	node.Code = code
	node.DepthLevel = depth
	node.UpdatedAt = a.now
	a.markDirty(node.ID)
	if codeChanged {
		a.CascadeSubtree(node.ID)
	}
	return true
}

// groupContext returns the code prefix and child depth for the sibling group under parentID.
func (a *CodeAllocator) groupContext(parentID string) (string, int) {
	if parentID == "" {
		return "", 0
	}
	parent, ok := a.tree.Node(parentID)
	if !ok {
		return "", 0
	}
	return parent.Code, parent.DepthLevel + 1
}

// activeParent resolves a parent that can accept children.
func (a *CodeAllocator) activeParent(parentID string) (*domain.ProcessNode, error) {
	parent, ok := a.tree.Node(parentID)
	if !ok {
		return nil, &ProcessNotFoundError{ProcessID: parentID}
	}
	if parent.IsArchived() {
		return nil, domain.ErrNodeArchived
	}
	if parent.Code == "" {
		return nil, domain.ErrParentWithoutCode
	}
	return parent, nil
}

// markDirty records id once in first-touched order.
func (a *CodeAllocator) markDirty(id string) {
	if _, ok := a.seen[id]; ok {
		return
	}
	a.seen[id] = struct{}{}
	a.dirty = append(a.dirty, id)
}

// clampPosition bounds position to [0, count].
func clampPosition(position, count int) int {
	return min(max(position, 0), count)
}
