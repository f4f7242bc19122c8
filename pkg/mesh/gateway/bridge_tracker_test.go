package gateway

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-mesh/mesh/pkg/mesh/types"
)

func TestBridgeTracker_OverflowEvictsWorstRSSI(t *testing.T) {
	bt := NewBridgeTracker(3, 60000, func() bool { return true })
	now := uint32(1_000_000)

	bt.Update(BridgeInfo{NodeID: 10, InternetConnected: true, RouterRSSI: -50}, now)
	bt.Update(BridgeInfo{NodeID: 20, InternetConnected: true, RouterRSSI: -70}, now)
	bt.Update(BridgeInfo{NodeID: 30, InternetConnected: true, RouterRSSI: -60}, now)
	bt.Update(BridgeInfo{NodeID: 40, InternetConnected: true, RouterRSSI: -65}, now)

	ids := map[types.NodeID]bool{}
	for _, b := range bt.GetGateways() {
		ids[b.NodeID] = true
	}
	require.Equal(t, 3, bt.GetGatewayCount())
	require.True(t, ids[10])
	require.True(t, ids[30])
	require.True(t, ids[40])
	require.False(t, ids[20])
}

func TestBridgeTracker_GatewayChangeCallback(t *testing.T) {
	bt := NewBridgeTracker(10, 60000, func() bool { return true })
	now := uint32(1_000_000)

	var transitions [][2]types.NodeID
	bt.OnGatewayChanged(func(old, new types.NodeID) {
		transitions = append(transitions, [2]types.NodeID{old, new})
	})

	bt.Update(BridgeInfo{NodeID: 10, InternetConnected: true, RouterRSSI: -50}, now)
	require.Equal(t, types.NodeID(10), bt.GetPrimaryGateway())

	bt.Update(BridgeInfo{NodeID: 20, InternetConnected: true, RouterRSSI: -30}, now)
	require.Equal(t, types.NodeID(20), bt.GetPrimaryGateway())

	bt.Update(BridgeInfo{NodeID: 20, InternetConnected: false, RouterRSSI: -30}, now)
	require.Equal(t, types.NodeID(10), bt.GetPrimaryGateway())

	require.Len(t, transitions, 3)
	require.Equal(t, [2]types.NodeID{0, 10}, transitions[0])
	require.Equal(t, [2]types.NodeID{10, 20}, transitions[1])
	require.Equal(t, [2]types.NodeID{20, 10}, transitions[2])
}

func TestBridgeTracker_DisconnectedModeIgnoresStaleness(t *testing.T) {
	connected := false
	bt := NewBridgeTracker(10, 1000, func() bool { return connected })

	bt.Update(BridgeInfo{NodeID: 10, InternetConnected: true, RouterRSSI: -50}, 0)
	require.Equal(t, types.NodeID(10), bt.GetPrimaryGateway())

	// Time passes well beyond the staleness timeout, and mesh
	// connectivity is lost: disconnected mode must still pick the last
	// known good bridge rather than refusing to route.
	bt.Cleanup(100_000)
	require.Equal(t, types.NodeID(10), bt.GetPrimaryGateway())
}
