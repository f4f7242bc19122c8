package types

// Tree is the rooted subtree rooted at a node, as advertised to or
// learned from a neighbour. Invariants (enforced by callers that mutate
// a Tree, not by the struct itself): subs contains no duplicate NodeID
// and never contains the tree's own NodeID; at most one node in any
// connected tree has Root = true; ContainsRoot is true iff some node in
// the tree has Root = true.
type Tree struct {
	NodeID           NodeID
	Root             bool
	ContainsRoot     bool
	HasTimeAuthority bool
	subs             []Tree
}

// NewTree returns a single-node tree (no children yet).
func NewTree(id NodeID) Tree {
	return Tree{NodeID: id}
}

// Subs returns the tree's direct children.
func (t Tree) Subs() []Tree {
	return t.subs
}

// SetSubs replaces the direct children, deduplicating by NodeID and
// dropping any entry matching t's own NodeID (the invariants of §3).
func (t *Tree) SetSubs(subs []Tree) {
	seen := make(map[NodeID]struct{}, len(subs))
	filtered := make([]Tree, 0, len(subs))
	for _, s := range subs {
		if s.NodeID == t.NodeID {
			continue
		}
		if _, dup := seen[s.NodeID]; dup {
			continue
		}
		seen[s.NodeID] = struct{}{}
		filtered = append(filtered, s)
	}
	t.subs = filtered
	t.recomputeContainsRoot()
}

// AddSub inserts or replaces a direct child by NodeID.
func (t *Tree) AddSub(sub Tree) {
	for i := range t.subs {
		if t.subs[i].NodeID == sub.NodeID {
			t.subs[i] = sub
			t.recomputeContainsRoot()
			return
		}
	}
	if sub.NodeID != t.NodeID {
		t.subs = append(t.subs, sub)
	}
	t.recomputeContainsRoot()
}

// RemoveSub drops a direct child by NodeID, reporting whether one was
// removed.
func (t *Tree) RemoveSub(id NodeID) bool {
	for i := range t.subs {
		if t.subs[i].NodeID == id {
			t.subs = append(t.subs[:i], t.subs[i+1:]...)
			t.recomputeContainsRoot()
			return true
		}
	}
	return false
}

func (t *Tree) recomputeContainsRoot() {
	if t.Root {
		t.ContainsRoot = true
		return
	}
	for _, s := range t.subs {
		if s.Root || s.ContainsRoot {
			t.ContainsRoot = true
			return
		}
	}
	t.ContainsRoot = false
}

// AsList flattens the tree into a pre-order list. When includeSelf is
// true the root node itself is the first element.
func AsList(t Tree, includeSelf bool) []NodeID {
	var out []NodeID
	if includeSelf {
		out = append(out, t.NodeID)
	}
	for _, sub := range t.subs {
		out = append(out, AsList(sub, true)...)
	}
	return out
}

// FindSubtree descends the tree looking for a node by id, returning the
// subtree rooted there and true, or the zero Tree and false.
func FindSubtree(t Tree, id NodeID) (Tree, bool) {
	if t.NodeID == id {
		return t, true
	}
	for _, sub := range t.subs {
		if found, ok := FindSubtree(sub, id); ok {
			return found, ok
		}
	}
	return Tree{}, false
}

// Contains reports whether id is t itself or reachable within t.
func Contains(t Tree, id NodeID) bool {
	_, ok := FindSubtree(t, id)
	return ok
}

// PathTo returns a breadth-first path from t's root to id, inclusive of
// both ends, with no zero entries. PathTo(self-id) == [self-id]. It
// returns nil if id is not reachable within t. The spec explicitly
// requires real BFS here rather than the hop-count placeholder the
// original implementation shipped.
func PathTo(t Tree, id NodeID) []NodeID {
	if t.NodeID == id {
		return []NodeID{id}
	}
	type frame struct {
		node Tree
		path []NodeID
	}
	queue := []frame{{node: t, path: []NodeID{t.NodeID}}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, sub := range cur.node.subs {
			path := append(append([]NodeID{}, cur.path...), sub.NodeID)
			if sub.NodeID == id {
				return path
			}
			queue = append(queue, frame{node: sub, path: path})
		}
	}
	return nil
}

// HopCount is len(PathTo(t, id)) - 1, or -1 if unreachable. self has
// hop count 0.
func HopCount(t Tree, id NodeID) int {
	path := PathTo(t, id)
	if path == nil {
		return -1
	}
	return len(path) - 1
}
