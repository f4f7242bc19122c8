package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, r *Registry, p Package) Package {
	body, err := Marshal(p)
	require.NoError(t, err)
	require.Equal(t, FrameSeparator, body[len(body)-1])

	parsed, err := r.Parse(body[:len(body)-1])
	require.NoError(t, err)
	return parsed
}

func TestRoundTrip_Single(t *testing.T) {
	r := NewRegistry()
	in := NewSingle(100, 200, json.RawMessage(`"hello"`))
	out := roundTrip(t, r, in).(*Single)
	require.Equal(t, in.Kind(), out.Kind())
	require.Equal(t, in.Origin(), out.Origin())
	require.Equal(t, in.Destination(), out.Destination())
	require.JSONEq(t, string(in.Msg), string(out.Msg))
}

func TestRoundTrip_Broadcast(t *testing.T) {
	r := NewRegistry()
	in := NewBroadcast(42, json.RawMessage(`{"k":1}`), 7)
	out := roundTrip(t, r, in).(*Broadcast)
	require.Equal(t, in.Origin(), out.Origin())
	require.Equal(t, UnknownNode, out.Destination())
	require.Equal(t, in.MsgID, out.MsgID)
	require.JSONEq(t, string(in.Msg), string(out.Msg))
}

func TestRoundTrip_TimeSyncSteps(t *testing.T) {
	r := NewRegistry()

	pull := NewTimeSyncPull(1, 2)
	out := roundTrip(t, r, pull).(*TimeSync)
	require.Equal(t, TimeSyncPull, out.Step)

	req := NewTimeSyncRequest(1, 2, 123)
	out = roundTrip(t, r, req).(*TimeSync)
	require.Equal(t, TimeSyncRequest, out.Step)
	require.Equal(t, int64(123), out.Msg[0])

	reply := NewTimeSyncReply(2, 1, 10, 20, 30)
	out = roundTrip(t, r, reply).(*TimeSync)
	require.Equal(t, TimeSyncReply, out.Step)
	require.Equal(t, [3]int64{10, 20, 30}, out.Msg)
}

func TestRoundTrip_TimeDelay(t *testing.T) {
	r := NewRegistry()
	in := NewTimeDelay(1, 2, 555)
	out := roundTrip(t, r, in).(*TimeDelay)
	require.Equal(t, int64(555), out.Time)
}

func TestRoundTrip_NodeSync(t *testing.T) {
	r := NewRegistry()
	tree := NewTree(9)
	tree.HasTimeAuthority = true
	tree.AddSub(NewTree(10))

	req := NewNodeSyncRequest(9, tree)
	out := roundTrip(t, r, req).(*NodeSyncRequest)
	require.Equal(t, NodeID(9), out.Subtree.NodeID)
	require.True(t, out.Subtree.HasTimeAuthority)
	require.ElementsMatch(t, []NodeID{10}, AsList(out.Subtree, false))

	reply := NewNodeSyncReply(9, tree)
	outReply := roundTrip(t, r, reply).(*NodeSyncReply)
	require.Equal(t, NodeID(9), outReply.Subtree.NodeID)
}

func TestRoundTrip_BridgeStatus(t *testing.T) {
	r := NewRegistry()
	in := NewBridgeStatus(5)
	in.InternetConnected = true
	in.RouterRSSI = -60
	in.GatewayIP = "192.168.1.1"
	out := roundTrip(t, r, in).(*BridgeStatus)
	require.Equal(t, in.InternetConnected, out.InternetConnected)
	require.Equal(t, in.RouterRSSI, out.RouterRSSI)
	require.Equal(t, in.GatewayIP, out.GatewayIP)
}

func TestRoundTrip_GatewayDataAck(t *testing.T) {
	r := NewRegistry()
	data := NewGatewayData(1, 2, 99, 1, PriorityHigh, "https://x", "payload")
	out := roundTrip(t, r, data).(*GatewayData)
	require.Equal(t, uint32(99), out.MessageID())
	require.Equal(t, PriorityHigh, out.RequestPrio)
	require.True(t, out.RequiresAck)

	ack := NewGatewayAck(2, 1, 99, true, 200, "")
	outAck := roundTrip(t, r, ack).(*GatewayAck)
	require.Equal(t, uint32(99), outAck.MessageID())
	require.True(t, outAck.Success)
	require.Equal(t, 200, outAck.HTTPStatus)
}

func TestRoundTrip_UserPackage(t *testing.T) {
	r := NewRegistry()
	r.Register(201, func() Package { return &UserPackage{} })
	extra := map[string]json.RawMessage{"temp": json.RawMessage(`21.5`)}
	in, err := NewUserPackage(201, 1, 2, extra)
	require.NoError(t, err)
	out := roundTrip(t, r, in).(*UserPackage)
	require.Equal(t, uint8(201), out.Kind())
	require.JSONEq(t, `21.5`, string(out.Extra["temp"]))
}

func TestNewUserPackage_RejectsReservedTag(t *testing.T) {
	_, err := NewUserPackage(5, 1, 2, nil)
	require.Error(t, err)
}

func TestParse_UnknownType(t *testing.T) {
	r := NewRegistry()
	_, err := r.Parse([]byte(`{"type":250,"from":1}`))
	require.ErrorIs(t, err, ErrUnknownPackageType)
}

func TestParse_MalformedJSON(t *testing.T) {
	r := NewRegistry()
	_, err := r.Parse([]byte(`not json`))
	require.Error(t, err)
}

func TestParseFrame_ZeroLengthFramesDiscarded(t *testing.T) {
	_, err := ParseFrame([]byte{})
	require.Error(t, err)
}
