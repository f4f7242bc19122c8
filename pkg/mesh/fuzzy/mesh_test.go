// Package fuzzy holds the slower, multi-node integration tests: whole
// chain topologies driven end-to-end rather than the two-node unit
// tests living alongside each package. Mirrors the teacher's fuzzy
// package, built on the shared meshtest harness instead of duplicating
// cluster wiring here.
package fuzzy

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/go-mesh/mesh/pkg/mesh"
	"github.com/go-mesh/mesh/pkg/mesh/types"
	"github.com/go-mesh/mesh/pkg/meshtest"
)

func Test_BroadcastReachesEveryNodeInAFiveNodeChain(t *testing.T) {
	defer goleak.VerifyNone(t,
		goleak.IgnoreTopFunction("github.com/go-mesh/mesh/pkg/mesh/transport.(*pipeEnd).pump"),
	)

	ids := []types.NodeID{1, 2, 3, 4, 5}
	cores := meshtest.Chain(t, ids)
	defer meshtest.StopAll(cores...)

	received := make([]int, len(cores))
	var mu sync.Mutex
	for i, c := range cores {
		i := i
		c.OnReceive(func(types.NodeID, json.RawMessage, bool) {
			mu.Lock()
			received[i]++
			mu.Unlock()
		})
	}

	require.True(t, cores[0].SendBroadcast(json.RawMessage(`"hello mesh"`), types.PriorityNormal, false))

	meshtest.PumpUntil(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for i := 1; i < len(received); i++ {
			if received[i] != 1 {
				return false
			}
		}
		return true
	}, cores...)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 0, received[0], "originator fires its own onReceive only with includeSelf=true")
	for i := 1; i < len(received); i++ {
		require.Equal(t, 1, received[i], "node %d should have received the broadcast exactly once", ids[i])
	}
}

func Test_SingleRoutesAcrossMultipleIntermediateHops(t *testing.T) {
	defer goleak.VerifyNone(t,
		goleak.IgnoreTopFunction("github.com/go-mesh/mesh/pkg/mesh/transport.(*pipeEnd).pump"),
	)

	ids := []types.NodeID{10, 20, 30, 40, 50}
	cores := meshtest.Chain(t, ids)
	defer meshtest.StopAll(cores...)

	relayReceived := 0
	for _, relay := range cores[1 : len(cores)-1] {
		relay.OnReceive(func(types.NodeID, json.RawMessage, bool) { relayReceived++ })
	}

	var farFrom types.NodeID
	var farMsg json.RawMessage
	far := cores[len(cores)-1]
	far.OnReceive(func(from types.NodeID, msg json.RawMessage, _ bool) {
		farFrom = from
		farMsg = msg
	})

	station := cores[0]
	require.True(t, station.SendSingle(ids[len(ids)-1], json.RawMessage(`"reach the far end"`), types.PriorityNormal))

	meshtest.PumpUntil(t, func() bool { return farMsg != nil }, cores...)

	require.Equal(t, ids[0], farFrom)
	require.JSONEq(t, `"reach the far end"`, string(farMsg))
	require.Equal(t, 0, relayReceived, "intermediate relays must forward, never locally deliver a Single not addressed to them")
}

func Test_ConcurrentBroadcastsFromEveryOriginAllDeliverExactlyOnce(t *testing.T) {
	defer goleak.VerifyNone(t,
		goleak.IgnoreTopFunction("github.com/go-mesh/mesh/pkg/mesh/transport.(*pipeEnd).pump"),
	)

	ids := []types.NodeID{1, 2, 3, 4}
	cores := meshtest.Chain(t, ids)
	defer meshtest.StopAll(cores...)

	counts := make([]map[types.NodeID]int, len(cores))
	var mu sync.Mutex
	for i, c := range cores {
		i := i
		counts[i] = make(map[types.NodeID]int)
		c.OnReceive(func(from types.NodeID, _ json.RawMessage, _ bool) {
			mu.Lock()
			counts[i][from]++
			mu.Unlock()
		})
	}

	var group sync.WaitGroup
	for i, c := range cores {
		group.Add(1)
		go func(i int, c *mesh.Core) {
			defer group.Done()
			payload, _ := json.Marshal(fmt.Sprintf("from-%d", i))
			c.SendBroadcast(payload, types.PriorityNormal, false)
		}(i, c)
	}
	group.Wait()

	meshtest.PumpUntil(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for i := range cores {
			for j := range cores {
				if i == j {
					continue
				}
				if counts[i][ids[j]] != 1 {
					return false
				}
			}
		}
		return true
	}, cores...)
}
