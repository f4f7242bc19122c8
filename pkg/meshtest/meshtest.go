// Package meshtest is the shared test harness for building small
// in-memory mesh topologies, mirroring the teacher's test/testing.go.
// The slower fuzzy integration suite builds its clusters through here;
// the in-package tests of pkg/mesh keep their own linkCores/pumpUntil
// helpers.
package meshtest

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/go-mesh/mesh/pkg/mesh"
	"github.com/go-mesh/mesh/pkg/mesh/core"
	"github.com/go-mesh/mesh/pkg/mesh/transport"
	"github.com/go-mesh/mesh/pkg/mesh/types"
)

// NewCore builds and initializes a Core for id against its own
// Prometheus registry, so a cluster of them can run side by side in one
// test binary without metric name collisions.
func NewCore(id types.NodeID) *mesh.Core {
	co := mesh.NewCore(mesh.DefaultConfig(id), prometheus.NewRegistry())
	co.Init()
	return co
}

// LinkCores wires a and b together over an in-memory pipe on dialer,
// seeding each side's subtree/peer id directly so routing is usable
// without waiting out the real NodeSync round trip.
func LinkCores(t *testing.T, a, b *mesh.Core, dialer *transport.PipeDialer, address string) (aConn, bConn *core.Connection) {
	t.Helper()
	peer := dialer.Register(address)
	accepted := make(chan transport.Transport, 1)
	go func() {
		tr, _, _ := peer.Accept()
		accepted <- tr
	}()
	clientTr, err := dialer.Dial(address, time.Second)
	require.NoError(t, err)
	serverTr := <-accepted

	aConn = a.AddConnection(clientTr, core.RoleStation)
	aConn.SetPeerID(b.Self())
	aConn.SetSubtree(types.NewTree(b.Self()))

	bConn = b.AddConnection(serverTr, core.RoleAccessPoint)
	bConn.SetPeerID(a.Self())
	bConn.SetSubtree(types.NewTree(a.Self()))

	return aConn, bConn
}

// PumpUntil drives Update on every core in a round-robin loop until cond
// reports true or the default eventually-timeout elapses.
func PumpUntil(t *testing.T, cond func() bool, cores ...*mesh.Core) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, c := range cores {
			c.Update()
		}
		return cond()
	}, 2*time.Second, time.Millisecond)
}

// Chain links n cores pairwise into a line topology (0-1-2-...-n-1) over
// fresh pipe addresses and returns them in order, station-to-bridge. Each
// link's subtree is seeded with the full run of nodes beyond it (not
// just the immediate neighbour), so routing to a node more than one hop
// away resolves the same way it would after a real NodeSync exchange.
func Chain(t *testing.T, ids []types.NodeID) []*mesh.Core {
	t.Helper()
	cores := make([]*mesh.Core, len(ids))
	for i, id := range ids {
		cores[i] = NewCore(id)
	}
	dialer := transport.NewPipeDialer()
	for i := 0; i+1 < len(cores); i++ {
		fwd, back := LinkCores(t, cores[i], cores[i+1], dialer, addrFor(i))
		fwd.SetSubtree(suffixTree(ids, i+1))
		back.SetSubtree(prefixTree(ids, i))
	}
	return cores
}

// suffixTree builds the nested Tree rooted at ids[from] containing every
// node from ids[from] to the end of the chain.
func suffixTree(ids []types.NodeID, from int) types.Tree {
	t := types.NewTree(ids[from])
	if from+1 < len(ids) {
		t.AddSub(suffixTree(ids, from+1))
	}
	return t
}

// prefixTree builds the nested Tree rooted at ids[upto] containing every
// node from the start of the chain to ids[upto].
func prefixTree(ids []types.NodeID, upto int) types.Tree {
	t := types.NewTree(ids[upto])
	if upto > 0 {
		t.AddSub(prefixTree(ids, upto-1))
	}
	return t
}

func addrFor(hop int) string {
	return "hop-" + string(rune('a'+hop))
}

// StopAll closes every core in the cluster, tolerating a nil slice.
func StopAll(cores ...*mesh.Core) {
	var wg sync.WaitGroup
	for _, c := range cores {
		wg.Add(1)
		go func(c *mesh.Core) {
			defer wg.Done()
			c.Stop()
		}(c)
	}
	wg.Wait()
}
