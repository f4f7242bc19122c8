package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func buildTestTree() Tree {
	// self(1) -> {2 -> {4}, 3}
	four := NewTree(4)
	two := NewTree(2)
	two.AddSub(four)
	three := NewTree(3)
	self := NewTree(1)
	self.AddSub(two)
	self.AddSub(three)
	return self
}

func TestAsList(t *testing.T) {
	tree := buildTestTree()
	require.ElementsMatch(t, []NodeID{1, 2, 3, 4}, AsList(tree, true))
	require.ElementsMatch(t, []NodeID{2, 3, 4}, AsList(tree, false))
}

func TestFindSubtreeAndContains(t *testing.T) {
	tree := buildTestTree()
	found, ok := FindSubtree(tree, 4)
	require.True(t, ok)
	require.Equal(t, NodeID(4), found.NodeID)

	_, ok = FindSubtree(tree, 99)
	require.False(t, ok)

	require.True(t, Contains(tree, 2))
	require.False(t, Contains(tree, 99))
}

func TestPathTo_Self(t *testing.T) {
	tree := buildTestTree()
	require.Equal(t, []NodeID{1}, PathTo(tree, 1))
}

func TestPathTo_Reachable_NoLeadingZero(t *testing.T) {
	tree := buildTestTree()
	path := PathTo(tree, 4)
	require.Equal(t, []NodeID{1, 2, 4}, path)
	for _, id := range path {
		require.NotEqual(t, NodeID(0), id)
	}
	require.Equal(t, NodeID(1), path[0])
	require.Equal(t, NodeID(4), path[len(path)-1])
}

func TestPathTo_Unreachable(t *testing.T) {
	tree := buildTestTree()
	require.Nil(t, PathTo(tree, 99))
}

func TestHopCount(t *testing.T) {
	tree := buildTestTree()
	require.Equal(t, 0, HopCount(tree, 1))
	require.Equal(t, 2, HopCount(tree, 4))
	require.Equal(t, -1, HopCount(tree, 99))
}

func TestSetSubsDedupesAndExcludesSelf(t *testing.T) {
	self := NewTree(1)
	self.SetSubs([]Tree{NewTree(2), NewTree(2), NewTree(1), NewTree(3)})
	require.ElementsMatch(t, []NodeID{2, 3}, AsList(self, false))
}

func TestContainsRootPropagation(t *testing.T) {
	root := NewTree(5)
	root.Root = true
	mid := NewTree(2)
	mid.AddSub(root)
	top := NewTree(1)
	top.AddSub(mid)
	require.True(t, top.ContainsRoot)
	require.True(t, mid.ContainsRoot)

	mid.RemoveSub(5)
	require.False(t, mid.ContainsRoot)
}
