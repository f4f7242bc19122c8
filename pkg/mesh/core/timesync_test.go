package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-mesh/mesh/pkg/mesh/types"
)

func TestClock_ThreeStepExchangeAdjustsOffset(t *testing.T) {
	var aTime, bTime int64
	aTime = 1000
	bTime = 5000 // B is 4000us ahead of A

	a := NewClock(func() int64 { return aTime }, false)
	b := NewClock(func() int64 { return bTime }, true)

	aNode := newTestNode(1)
	bNode := newTestNode(2)
	link(t, aNode, bNode)

	var adjusted int64
	var adjustedCalled bool
	a.OnAdjusted(func(offset int64) { adjusted = offset; adjustedCalled = true })

	aNode.router.RegisterHandler(types.TypeTimeSync, func(pkg types.Package, inbound *Connection, _ int64) bool {
		a.HandleTimeSync(aNode.router, aNode.conns[0], 1, pkg.(*types.TimeSync))
		return true
	})
	bNode.router.RegisterHandler(types.TypeTimeSync, func(pkg types.Package, inbound *Connection, _ int64) bool {
		b.HandleTimeSync(bNode.router, bNode.conns[0], 2, pkg.(*types.TimeSync))
		return true
	})

	a.StartExchange(aNode.router, aNode.conns[0], 1, 2)

	require.Eventually(t, func() bool {
		pump(aNode, bNode)
		return adjustedCalled
	}, time.Second, time.Millisecond)

	require.NotEqual(t, int64(0), adjusted)
}

func TestShouldAdoptFrom_PeerHasAuthority(t *testing.T) {
	require.True(t, ShouldAdoptFrom(types.Tree{}, types.Tree{}, false, true, false))
}

func TestShouldAdoptFrom_PeerOnPathToRoot(t *testing.T) {
	require.True(t, ShouldAdoptFrom(types.Tree{}, types.Tree{}, true, true, true))
}

func TestShouldAdoptFrom_NeitherCondition(t *testing.T) {
	require.False(t, ShouldAdoptFrom(types.Tree{}, types.Tree{}, true, false, false))
}
