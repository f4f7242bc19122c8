package types

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNodeIDFromHardwareAddr(t *testing.T) {
	hw := net.HardwareAddr{0xde, 0xad, 0x01, 0x02, 0x03, 0x04}
	id := NodeIDFromHardwareAddr(hw)
	require.Equal(t, NodeID(0x01020304), id)
}

func TestNodeIDFromHardwareAddr_TooShort(t *testing.T) {
	require.Equal(t, UnknownNode, NodeIDFromHardwareAddr(net.HardwareAddr{0x01, 0x02}))
}

func TestMeshIPRoundTrip(t *testing.T) {
	id := NodeID(0x1234)
	ip := id.MeshIP()
	require.Equal(t, "10.18.52.1", ip.String())

	decoded, err := DecodeMeshIP(ip)
	require.NoError(t, err)
	require.Equal(t, id, decoded)
}

func TestDecodeMeshIP_NotMeshAddress(t *testing.T) {
	_, err := DecodeMeshIP(net.ParseIP("192.168.1.1"))
	require.ErrorIs(t, err, ErrNotMeshAddress)

	_, err = DecodeMeshIP(net.ParseIP("10.0.1.2"))
	require.ErrorIs(t, err, ErrNotMeshAddress)
}

func TestNodeIDValid(t *testing.T) {
	require.False(t, UnknownNode.Valid())
	require.True(t, NodeID(1).Valid())
}
