package types

import (
	"fmt"
	"net"
)

// NodeID is a 32-bit identifier derived from the last four bytes of a
// device's hardware address. 0 is reserved for "unknown/any" and is
// never a valid peer.
type NodeID uint32

// UnknownNode is the reserved sentinel value meaning "no peer yet" or
// "not addressed to anyone in particular".
const UnknownNode NodeID = 0

// Valid reports whether id can identify a peer.
func (id NodeID) Valid() bool {
	return id != UnknownNode
}

func (id NodeID) String() string {
	return fmt.Sprintf("%d", uint32(id))
}

// NodeIDFromHardwareAddr derives a NodeID from the last four bytes of a
// hardware (MAC) address, matching the convention described in §3 of the
// data model: the NodeID is not globally unique across all possible MAC
// prefixes, only unique enough within one deployment's address space.
func NodeIDFromHardwareAddr(hw net.HardwareAddr) NodeID {
	if len(hw) < 4 {
		return UnknownNode
	}
	tail := hw[len(hw)-4:]
	return NodeID(uint32(tail[0])<<24 | uint32(tail[1])<<16 | uint32(tail[2])<<8 | uint32(tail[3]))
}

// MeshIP renders the AP address a node advertises on the mesh:
// 10.(nodeId >> 8 & 0xFF).(nodeId & 0xFF).1
func (id NodeID) MeshIP() net.IP {
	return net.IPv4(10, byte(id>>8&0xFF), byte(id&0xFF), 1)
}

// DecodeMeshIP recovers a NodeID from an advertised mesh AP address. It
// returns ErrNotMeshAddress if the address does not follow the
// 10.high.low.1 convention.
func DecodeMeshIP(ip net.IP) (NodeID, error) {
	v4 := ip.To4()
	if v4 == nil || v4[0] != 10 || v4[3] != 1 {
		return UnknownNode, ErrNotMeshAddress
	}
	return NodeID(uint32(v4[1])<<8 | uint32(v4[2])), nil
}
